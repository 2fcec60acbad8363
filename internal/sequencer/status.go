package sequencer

// Status is the scheduling state of a Thread.
type Status int

const (
	// StatusRunning threads are stepped on every pass.
	StatusRunning Status = iota
	// StatusYield threads give up the rest of their step and run again on the
	// next pass.
	StatusYield
	// StatusYieldTick threads sleep until the first pass of the next tick.
	StatusYieldTick
	// StatusPromiseWait threads are parked until their Pending settles.
	StatusPromiseWait
	// StatusDone threads are compacted out of the runtime.
	StatusDone
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusYield:
		return "YIELD"
	case StatusYieldTick:
		return "YIELD_TICK"
	case StatusPromiseWait:
		return "PROMISE_WAIT"
	case StatusDone:
		return "DONE"
	}
	return "UNKNOWN"
}

// Runnable reports whether a pass may step a thread in this status.
func (s Status) Runnable() bool {
	return s == StatusRunning || s == StatusYield
}
