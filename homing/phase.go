package homing

// Phase is a step of the per-axis homing state machine.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseClearSwitch
	PhaseSearch
	PhaseLatch
	PhaseZeroBackoff
	PhaseSetZero
	PhaseFinalize
	PhaseErrorExit
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseClearSwitch:
		return "clear-switch"
	case PhaseSearch:
		return "search"
	case PhaseLatch:
		return "latch"
	case PhaseZeroBackoff:
		return "zero-backoff"
	case PhaseSetZero:
		return "set-zero"
	case PhaseFinalize:
		return "finalize"
	case PhaseErrorExit:
		return "error-exit"
	}
	return "unknown"
}

// Result is what a call to Poll reports back to the tick loop.
type Result int

const (
	// NoOp means no homing cycle is running.
	NoOp Result = iota
	// Again means the cycle is still in progress; poll again next tick.
	Again
	// Complete means the cycle finished and every requested axis was homed.
	Complete
	// Failed means the cycle ended on an error; Poll returns it alongside.
	Failed
)

func (r Result) String() string {
	switch r {
	case NoOp:
		return "noop"
	case Again:
		return "again"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	}
	return "unknown"
}
