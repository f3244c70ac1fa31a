// Package poller periodically inspects the workload runtime and feeds
// observed state into the lifecycle coordinator.
package poller

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wvh-ops/watchdogd/internal/dockerapi"
	"github.com/wvh-ops/watchdogd/internal/lifecycle"
	"github.com/wvh-ops/watchdogd/internal/otelx"
)

const (
	// DefaultInterval is the default poll interval.
	DefaultInterval = 30 * time.Second
	// DefaultFailureThreshold is the number of consecutive poll failures
	// before degraded health is signaled.
	DefaultFailureThreshold = 5
)

// Inspector queries the runtime for the workload's current state.
type Inspector interface {
	Inspect(ctx context.Context, workloadID string) (lifecycle.RunState, error)
}

// Observer consumes freshly inspected workload state.
type Observer interface {
	Observe(state lifecycle.RunState)
}

// WarnFunc receives degraded-health and recovery notices. Delivery is
// best-effort; implementations must not block the poll loop for long.
type WarnFunc func(message string)

// Poller runs a fixed-interval inspect loop in a background goroutine.
// Overlapping polls are disallowed: a new tick is skipped while the previous
// inspect is still outstanding, so blocked calls never stack.
type Poller struct {
	inspector        Inspector
	observer         Observer
	workloadID       string
	interval         time.Duration
	failureThreshold int

	stopCh    chan struct{}
	stoppedCh chan struct{}
	mu        sync.Mutex
	running   bool

	inProgress atomic.Bool
	failures   int
	degraded   bool
	onWarn     WarnFunc
}

// New creates a Poller. If interval or failureThreshold are zero, defaults
// are used.
func New(inspector Inspector, observer Observer, workloadID string, interval time.Duration, failureThreshold int) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}

	return &Poller{
		inspector:        inspector,
		observer:         observer,
		workloadID:       workloadID,
		interval:         interval,
		failureThreshold: failureThreshold,
		stopCh:           make(chan struct{}),
		stoppedCh:        make(chan struct{}),
	}
}

// SetOnWarn sets the callback for degraded-health notices.
// Must be called before Start().
func (p *Poller) SetOnWarn(warn WarnFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onWarn = warn
}

// Start begins the poll loop in a background goroutine.
// It is safe to call Start multiple times; subsequent calls are no-ops.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.stoppedCh = make(chan struct{})
	p.mu.Unlock()

	go p.run()
}

// Stop stops the poll loop. It blocks until the goroutine has exited.
// It is safe to call Stop multiple times; subsequent calls are no-ops.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	stoppedCh := p.stoppedCh
	p.mu.Unlock()

	<-stoppedCh
}

// IsRunning returns true if the poller is currently running.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Interval returns the configured poll interval.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

func (p *Poller) run() {
	defer close(p.stoppedCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Poll once immediately so the coordinator starts from observed reality
	// instead of waiting a full interval.
	p.pollOnce()

	for {
		select {
		case <-ticker.C:
			p.pollOnce()
		case <-p.stopCh:
			return
		}
	}
}

// PollNow runs a single poll cycle synchronously. Exposed for tests and for
// command paths that want a fresh observation without waiting for the tick.
func (p *Poller) PollNow() {
	p.pollOnce()
}

func (p *Poller) pollOnce() {
	if !p.inProgress.CompareAndSwap(false, true) {
		log.Printf("[Poller] Previous inspect still outstanding, skipping cycle")
		return
	}
	defer p.inProgress.Store(false)

	start := time.Now()
	state, err := p.inspector.Inspect(context.Background(), p.workloadID)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0
	otelx.RecordPollLatency(context.Background(), latencyMs, err == nil)

	if err != nil {
		p.handleFailure(err)
		return
	}

	p.mu.Lock()
	p.failures = 0
	recovered := p.degraded
	p.degraded = false
	warn := p.onWarn
	p.mu.Unlock()

	if recovered && warn != nil {
		warn(fmt.Sprintf("runtime polling recovered for %s", p.workloadID))
	}

	p.observer.Observe(state)
}

func (p *Poller) handleFailure(err error) {
	// A missing container is operator misconfiguration, not a transient
	// fault; log it loudly but keep polling in case the container appears.
	if dockerapi.IsNotFound(err) {
		log.Printf("[Poller] Container %s not found; check configuration: %v", p.workloadID, err)
	} else {
		log.Printf("[Poller] Inspect failed, skipping cycle: %v", err)
	}

	p.mu.Lock()
	p.failures++
	crossed := p.failures == p.failureThreshold && !p.degraded
	if crossed {
		p.degraded = true
	}
	warn := p.onWarn
	p.mu.Unlock()

	if crossed && warn != nil {
		warn(fmt.Sprintf("runtime polling degraded for %s: %d consecutive failures (latest: %v)",
			p.workloadID, p.failureThreshold, err))
	}
}
