package lifecycle

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from RunState
		to   RunState
		want bool
	}{
		{"offline to starting", RunStateOffline, RunStateStarting, true},
		{"offline to online (external start)", RunStateOffline, RunStateOnline, true},
		{"offline to stopping", RunStateOffline, RunStateStopping, false},
		{"starting to online", RunStateStarting, RunStateOnline, true},
		{"starting to offline (start failure)", RunStateStarting, RunStateOffline, true},
		{"starting to stopping", RunStateStarting, RunStateStopping, true},
		{"online to stopping", RunStateOnline, RunStateStopping, true},
		{"online to offline (crash)", RunStateOnline, RunStateOffline, true},
		{"online to starting", RunStateOnline, RunStateStarting, false},
		{"stopping to offline", RunStateStopping, RunStateOffline, true},
		{"stopping to online", RunStateStopping, RunStateOnline, false},
		{"stopping to starting", RunStateStopping, RunStateStarting, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestCanTransitionUnknownState(t *testing.T) {
	if CanTransition(RunState("bogus"), RunStateOnline) {
		t.Error("Transition from unknown state should be rejected")
	}
	if CanTransition(RunStateOffline, RunState("bogus")) {
		t.Error("Transition to unknown state should be rejected")
	}
}

func TestSelfTransitionsRejected(t *testing.T) {
	states := []RunState{RunStateOffline, RunStateStarting, RunStateOnline, RunStateStopping}
	for _, s := range states {
		if CanTransition(s, s) {
			t.Errorf("Self transition %s -> %s should be rejected", s, s)
		}
	}
}
