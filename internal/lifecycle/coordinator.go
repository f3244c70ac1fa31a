package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wvh-ops/watchdogd/internal/otelx"
)

// Command represents an operator lifecycle command.
type Command string

const (
	CommandStart   Command = "start"
	CommandStop    Command = "stop"
	CommandRestart Command = "restart"
	CommandStatus  Command = "status"
)

// Reply is the outcome of a handled command. Every recognized command
// produces exactly one Reply, even on failure.
type Reply struct {
	Message string
	Err     error
}

// StatusView is a read-only snapshot of coordinator state.
type StatusView struct {
	WorkloadID     string       `json:"workload_id"`
	State          RunState     `json:"state"`
	Desired        DesiredState `json:"desired"`
	PendingRestart bool         `json:"pending_restart"`
	InFlight       string       `json:"in_flight,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Runtime is the workload runtime control surface the coordinator drives.
// Start and Stop return once the runtime acknowledges the request, not once
// the workload is fully online or offline; the poller observes that.
type Runtime interface {
	Start(ctx context.Context, workloadID string) error
	Stop(ctx context.Context, workloadID string) error
}

const (
	// DefaultRestartPatience is the number of consecutive non-offline
	// observations after which a pending restart is abandoned.
	DefaultRestartPatience = 60

	// DefaultStopDeadline bounds how long the coordinator will report
	// stopping before forcing the state to offline on observation.
	DefaultStopDeadline = 5 * time.Minute

	// DefaultEventBuffer is the capacity of the transition event channel.
	DefaultEventBuffer = 64
)

// CoordinatorConfig holds tunables for the coordinator.
type CoordinatorConfig struct {
	WorkloadID      string
	InitialState    RunState
	RestartPatience int
	StopDeadline    time.Duration
	EventBuffer     int
}

// Coordinator owns the single source of truth for desired vs observed state
// of one workload, serializes lifecycle commands against it, and emits one
// TransitionEvent per state change.
//
// Concurrency model: mu guards all mutable state and is held only briefly.
// opMu serializes runtime operations so at most one start/stop is in flight
// at any time; Status and Observe state updates never take opMu.
type Coordinator struct {
	workloadID      string
	restartPatience int
	stopDeadline    time.Duration

	runtime Runtime

	mu             sync.Mutex
	state          RunState
	desired        DesiredState
	pendingRestart bool
	restartMisses  int
	inFlight       string
	stopDeadlineAt time.Time
	updatedAt      time.Time

	opMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	events        chan TransitionEvent
	eventLog      *EventLog
	droppedEvents atomic.Int64
}

// NewCoordinator creates a Coordinator for a single workload. InitialState
// should come from probing the runtime at startup; it defaults to offline.
func NewCoordinator(runtime Runtime, cfg CoordinatorConfig) *Coordinator {
	if cfg.InitialState == "" {
		cfg.InitialState = RunStateOffline
	}
	if cfg.RestartPatience <= 0 {
		cfg.RestartPatience = DefaultRestartPatience
	}
	if cfg.StopDeadline <= 0 {
		cfg.StopDeadline = DefaultStopDeadline
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	desired := DesiredStopped
	if cfg.InitialState == RunStateOnline || cfg.InitialState == RunStateStarting {
		desired = DesiredRunning
	}
	return &Coordinator{
		workloadID:      cfg.WorkloadID,
		restartPatience: cfg.RestartPatience,
		stopDeadline:    cfg.StopDeadline,
		runtime:         runtime,
		state:           cfg.InitialState,
		desired:         desired,
		updatedAt:       time.Now(),
		ctx:             ctx,
		cancel:          cancel,
		events:          make(chan TransitionEvent, cfg.EventBuffer),
		eventLog:        NewEventLog(),
	}
}

// Shutdown cancels in-flight reconciliation work and closes the event stream.
func (c *Coordinator) Shutdown() {
	c.cancel()
	close(c.events)
}

// Events returns the transition event stream. The channel is bounded; when
// the consumer falls behind, events are dropped and counted, never blocking
// a lifecycle operation.
func (c *Coordinator) Events() <-chan TransitionEvent {
	return c.events
}

// EventLog returns the in-memory transition history.
func (c *Coordinator) EventLog() *EventLog {
	return c.eventLog
}

// DroppedEvents returns the number of events dropped due to a slow consumer.
func (c *Coordinator) DroppedEvents() int64 {
	return c.droppedEvents.Load()
}

// Status returns a snapshot without touching the runtime. It never blocks on
// the operation queue.
func (c *Coordinator) Status() StatusView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return StatusView{
		WorkloadID:     c.workloadID,
		State:          c.state,
		Desired:        c.desired,
		PendingRestart: c.pendingRestart,
		InFlight:       c.inFlight,
		UpdatedAt:      c.updatedAt,
	}
}

// Handle executes a lifecycle command. Start, Stop and Restart are serialized
// in arrival order against the single workload; Status answers immediately
// from the last observed state.
func (c *Coordinator) Handle(ctx context.Context, cmd Command) Reply {
	otelx.RecordCommand(ctx, string(cmd))

	switch cmd {
	case CommandStart:
		return c.handleStart(ctx)
	case CommandStop:
		return c.handleStop(ctx)
	case CommandRestart:
		return c.handleRestart(ctx)
	case CommandStatus:
		view := c.Status()
		return Reply{Message: formatStatus(view)}
	default:
		return Reply{Message: fmt.Sprintf("unknown command %q", cmd), Err: fmt.Errorf("unknown command %q", cmd)}
	}
}

func (c *Coordinator) handleStart(ctx context.Context) Reply {
	c.mu.Lock()
	if c.desired == DesiredRunning && (c.state == RunStateStarting || c.state == RunStateOnline) {
		state := c.state
		c.mu.Unlock()
		return Reply{Message: fmt.Sprintf("workload is already %s", state)}
	}
	c.desired = DesiredRunning
	state := c.state
	if state == RunStateStopping {
		// Queue the start behind the in-progress stop; the poller triggers
		// it once offline is observed.
		c.pendingRestart = true
		c.restartMisses = 0
		c.mu.Unlock()
		return Reply{Message: "workload is stopping; it will start once fully stopped"}
	}
	c.mu.Unlock()

	if state != RunStateOffline {
		return Reply{Message: fmt.Sprintf("workload is already %s", state)}
	}

	if err := c.issueStart(ctx); err != nil {
		return Reply{Message: "failed to start workload: " + userFacing(err), Err: err}
	}
	return Reply{Message: "starting workload"}
}

func (c *Coordinator) handleStop(ctx context.Context) Reply {
	c.mu.Lock()
	if c.state == RunStateOffline || c.state == RunStateStopping {
		state := c.state
		c.mu.Unlock()
		return Reply{Message: fmt.Sprintf("workload is already %s", state)}
	}
	c.desired = DesiredStopped
	c.pendingRestart = false
	c.mu.Unlock()

	if err := c.issueStop(ctx); err != nil {
		return Reply{Message: "failed to stop workload: " + userFacing(err), Err: err}
	}
	return Reply{Message: "stopping workload"}
}

func (c *Coordinator) handleRestart(ctx context.Context) Reply {
	c.mu.Lock()
	state := c.state
	c.desired = DesiredRunning
	if state == RunStateOffline {
		c.mu.Unlock()
		if err := c.issueStart(ctx); err != nil {
			return Reply{Message: "failed to start workload: " + userFacing(err), Err: err}
		}
		return Reply{Message: "workload was offline; starting"}
	}
	c.pendingRestart = true
	c.restartMisses = 0
	if state == RunStateStopping {
		c.mu.Unlock()
		return Reply{Message: "workload is already stopping; it will start once fully stopped"}
	}
	c.mu.Unlock()

	if err := c.issueStop(ctx); err != nil {
		c.mu.Lock()
		c.pendingRestart = false
		c.mu.Unlock()
		return Reply{Message: "failed to stop workload for restart: " + userFacing(err), Err: err}
	}
	return Reply{Message: "restarting workload; it will start once fully stopped"}
}

// Observe applies a freshly inspected runtime state. Called by the poller in
// poll-cycle order. Emits exactly one TransitionEvent when the observed state
// differs from the last known state, then reconciles any pending desire.
func (c *Coordinator) Observe(observed RunState) {
	c.mu.Lock()

	if observed != c.state {
		switch {
		case c.state == RunStateStopping && observed == RunStateOnline:
			// A stop was acknowledged but the workload is still up. Keep
			// reporting stopping until the deadline, then force offline so
			// the operator can retry from a known state.
			if !c.stopDeadlineAt.IsZero() && time.Now().After(c.stopDeadlineAt) {
				c.transitionLocked(RunStateOffline, ActorPoller, "stop deadline exceeded; state forced offline")
			}
		default:
			c.transitionLocked(observed, ActorPoller, "")
		}
	}

	var action Command
	switch {
	case c.pendingRestart && c.state == RunStateOffline:
		c.pendingRestart = false
		c.restartMisses = 0
		action = CommandStart
	case c.pendingRestart:
		c.restartMisses++
		if c.restartMisses >= c.restartPatience {
			c.pendingRestart = false
			slog.Warn("pending restart abandoned",
				"workload_id", c.workloadID,
				"observations", c.restartMisses,
				"state", c.state)
		}
	case c.desired == DesiredStopped && c.state == RunStateOnline && c.inFlight == "":
		action = CommandStop
	}
	c.mu.Unlock()

	switch action {
	case CommandStart:
		if err := c.issueStart(c.ctx); err != nil {
			log.Printf("[Coordinator] Deferred start after restart failed: %v", err)
		}
	case CommandStop:
		log.Printf("[Coordinator] Reconciling: desired stopped but workload online, issuing stop")
		if err := c.issueStop(c.ctx); err != nil {
			log.Printf("[Coordinator] Reconciliation stop failed: %v", err)
		}
	}
}

// issueStart performs the runtime start call under the operation lock. The
// state transition happens only after the runtime acknowledges; a failed
// call leaves RunState untouched and emits no event.
func (c *Coordinator) issueStart(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != RunStateOffline {
		// A queued command or observation got here first.
		c.mu.Unlock()
		return nil
	}
	c.inFlight = string(CommandStart)
	c.mu.Unlock()

	err := c.runtime.Start(ctx, c.workloadID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = ""
	if err != nil {
		otelx.RecordRuntimeError(ctx, "start")
		slog.Error("runtime start failed", "workload_id", c.workloadID, "error", err)
		return err
	}
	c.transitionLocked(RunStateStarting, ActorOperator, "start acknowledged")
	return nil
}

// issueStop mirrors issueStart for the stop operation.
func (c *Coordinator) issueStop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state == RunStateOffline || c.state == RunStateStopping {
		c.mu.Unlock()
		return nil
	}
	c.inFlight = string(CommandStop)
	c.mu.Unlock()

	err := c.runtime.Stop(ctx, c.workloadID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = ""
	if err != nil {
		otelx.RecordRuntimeError(ctx, "stop")
		slog.Error("runtime stop failed", "workload_id", c.workloadID, "error", err)
		return err
	}
	c.transitionLocked(RunStateStopping, ActorOperator, "stop acknowledged")
	return nil
}

// transitionLocked applies a state transition, appends it to the log and
// pushes it to the event channel. Illegal transitions are rejected with the
// state unchanged. Callers must hold mu.
func (c *Coordinator) transitionLocked(to RunState, actor Actor, detail string) {
	from := c.state
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		slog.Error("rejected state transition",
			"workload_id", c.workloadID,
			"error", NewInvalidTransitionError(from, to))
		return
	}

	c.state = to
	c.updatedAt = time.Now()
	if to == RunStateStopping {
		c.stopDeadlineAt = time.Now().Add(c.stopDeadline)
	} else {
		c.stopDeadlineAt = time.Time{}
	}
	otelx.RecordTransition(c.ctx, string(from), string(to))
	otelx.SetWorkloadState(string(to))

	event := TransitionEvent{
		WorkloadID: c.workloadID,
		Type:       EventTypeTransition,
		From:       from,
		To:         to,
		Actor:      actor,
		Timestamp:  c.updatedAt,
		Detail:     detail,
	}
	if err := c.eventLog.Append(event); err != nil {
		slog.Error("failed to append transition event", "error", err)
	}
	select {
	case c.events <- event:
	default:
		c.droppedEvents.Add(1)
		log.Printf("[Coordinator] Event channel full, dropped %s -> %s", from, to)
	}
}

func formatStatus(view StatusView) string {
	msg := fmt.Sprintf("workload %s is %s (desired: %s)", view.WorkloadID, view.State, view.Desired)
	if view.PendingRestart {
		msg += ", restart pending"
	}
	if view.InFlight != "" {
		msg += fmt.Sprintf(", %s in progress", view.InFlight)
	}
	return msg
}

// userFacing converts an error to a chat-safe message, preferring the
// runtime client's user-facing classification when available.
func userFacing(err error) string {
	if err == nil {
		return ""
	}
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	return err.Error()
}
