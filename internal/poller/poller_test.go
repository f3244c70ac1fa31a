package poller

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wvh-ops/watchdogd/internal/dockerapi"
	"github.com/wvh-ops/watchdogd/internal/lifecycle"
)

type fakeInspector struct {
	mu    sync.Mutex
	state lifecycle.RunState
	err   error
	calls int
	block chan struct{}
}

func (f *fakeInspector) Inspect(ctx context.Context, workloadID string) (lifecycle.RunState, error) {
	f.mu.Lock()
	f.calls++
	state, err, block := f.state, f.err, f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	return state, err
}

func (f *fakeInspector) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeInspector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingObserver struct {
	mu     sync.Mutex
	states []lifecycle.RunState
}

func (r *recordingObserver) Observe(state lifecycle.RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingObserver) observed() []lifecycle.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lifecycle.RunState(nil), r.states...)
}

func TestPollNowFeedsObserver(t *testing.T) {
	inspector := &fakeInspector{state: lifecycle.RunStateOnline}
	observer := &recordingObserver{}
	p := New(inspector, observer, "wvh", time.Hour, 0)

	p.PollNow()

	states := observer.observed()
	if len(states) != 1 || states[0] != lifecycle.RunStateOnline {
		t.Fatalf("Expected one online observation, got %v", states)
	}
}

func TestPollFailureSkipsObserver(t *testing.T) {
	inspector := &fakeInspector{err: dockerapi.NewUnavailableError("inspect", "wvh", context.DeadlineExceeded)}
	observer := &recordingObserver{}
	p := New(inspector, observer, "wvh", time.Hour, 0)

	p.PollNow()

	if len(observer.observed()) != 0 {
		t.Error("Failed poll must not feed the observer")
	}
}

func TestDegradedWarningAtThreshold(t *testing.T) {
	inspector := &fakeInspector{err: dockerapi.NewUnavailableError("inspect", "wvh", context.DeadlineExceeded)}
	observer := &recordingObserver{}
	p := New(inspector, observer, "wvh", time.Hour, 3)

	var mu sync.Mutex
	var warnings []string
	p.SetOnWarn(func(message string) {
		mu.Lock()
		defer mu.Unlock()
		warnings = append(warnings, message)
	})

	for i := 0; i < 5; i++ {
		p.PollNow()
	}

	mu.Lock()
	defer mu.Unlock()
	if len(warnings) != 1 {
		t.Fatalf("Expected exactly one degraded warning, got %d: %v", len(warnings), warnings)
	}
	if !strings.Contains(warnings[0], "degraded") {
		t.Errorf("Warning should mention degradation, got %q", warnings[0])
	}
}

func TestRecoveryWarningAfterDegraded(t *testing.T) {
	inspector := &fakeInspector{
		state: lifecycle.RunStateOnline,
		err:   dockerapi.NewUnavailableError("inspect", "wvh", context.DeadlineExceeded),
	}
	observer := &recordingObserver{}
	p := New(inspector, observer, "wvh", time.Hour, 2)

	var mu sync.Mutex
	var warnings []string
	p.SetOnWarn(func(message string) {
		mu.Lock()
		defer mu.Unlock()
		warnings = append(warnings, message)
	})

	p.PollNow()
	p.PollNow() // crosses the threshold
	inspector.setErr(nil)
	p.PollNow() // recovers

	mu.Lock()
	defer mu.Unlock()
	if len(warnings) != 2 {
		t.Fatalf("Expected degraded + recovered warnings, got %v", warnings)
	}
	if !strings.Contains(warnings[1], "recovered") {
		t.Errorf("Second warning should mention recovery, got %q", warnings[1])
	}
}

func TestFailureCountResetsOnSuccess(t *testing.T) {
	inspector := &fakeInspector{
		state: lifecycle.RunStateOnline,
		err:   dockerapi.NewUnavailableError("inspect", "wvh", context.DeadlineExceeded),
	}
	observer := &recordingObserver{}
	p := New(inspector, observer, "wvh", time.Hour, 3)

	var mu sync.Mutex
	warned := 0
	p.SetOnWarn(func(string) {
		mu.Lock()
		defer mu.Unlock()
		warned++
	})

	// Two failures, a success, two more failures: threshold never crossed.
	p.PollNow()
	p.PollNow()
	inspector.setErr(nil)
	p.PollNow()
	inspector.setErr(dockerapi.NewUnavailableError("inspect", "wvh", context.DeadlineExceeded))
	p.PollNow()
	p.PollNow()

	mu.Lock()
	defer mu.Unlock()
	if warned != 0 {
		t.Errorf("Threshold should not be crossed after a reset, got %d warnings", warned)
	}
}

func TestOverlappingPollSkipped(t *testing.T) {
	block := make(chan struct{})
	inspector := &fakeInspector{state: lifecycle.RunStateOnline, block: block}
	observer := &recordingObserver{}
	p := New(inspector, observer, "wvh", time.Hour, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.PollNow()
	}()

	// Wait until the first inspect is in flight, then try another cycle.
	deadline := time.After(time.Second)
	for inspector.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("First inspect never started")
		case <-time.After(time.Millisecond):
		}
	}

	p.PollNow()
	if inspector.callCount() != 1 {
		t.Errorf("Overlapping poll should be skipped, got %d inspects", inspector.callCount())
	}

	close(block)
	<-done
}

func TestStartStopLifecycle(t *testing.T) {
	inspector := &fakeInspector{state: lifecycle.RunStateOnline}
	observer := &recordingObserver{}
	p := New(inspector, observer, "wvh", 10*time.Millisecond, 0)

	p.Start()
	if !p.IsRunning() {
		t.Fatal("Poller should report running after Start")
	}
	p.Start() // no-op

	deadline := time.After(time.Second)
	for len(observer.observed()) < 2 {
		select {
		case <-deadline:
			t.Fatal("Poller never produced observations")
		case <-time.After(time.Millisecond):
		}
	}

	p.Stop()
	if p.IsRunning() {
		t.Error("Poller should not report running after Stop")
	}
	p.Stop() // no-op
}
