package lifecycle

// RunState represents the observed lifecycle state of the workload.
type RunState string

const (
	RunStateOffline  RunState = "offline"
	RunStateStarting RunState = "starting"
	RunStateOnline   RunState = "online"
	RunStateStopping RunState = "stopping"
)

// DesiredState represents the operator's last-commanded intent.
type DesiredState string

const (
	DesiredRunning DesiredState = "running"
	DesiredStopped DesiredState = "stopped"
)

var allowedTransitions = map[RunState]map[RunState]struct{}{
	RunStateOffline: {
		RunStateStarting: {},
		// A container started outside the watchdog shows up as online directly.
		RunStateOnline: {},
	},
	RunStateStarting: {
		RunStateOnline: {},
		// Start failure, or a crash before the workload became ready.
		RunStateOffline:  {},
		RunStateStopping: {},
	},
	RunStateOnline: {
		RunStateStopping: {},
		// Crash observed by the poller.
		RunStateOffline: {},
	},
	RunStateStopping: {
		RunStateOffline: {},
	},
}

// CanTransition reports whether a state transition is valid.
func CanTransition(from, to RunState) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}
