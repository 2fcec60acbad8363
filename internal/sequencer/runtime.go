package sequencer

import (
	"context"
	"sync"
	"time"

	"github.com/me/blocksched/internal/graph"
)

// Profiler is an optional instrumentation sink. It only observes; nothing it
// returns influences scheduling.
type Profiler interface {
	// FrameID returns the id of the named frame, creating it if needed.
	FrameID(name string) int
	// Start opens a timing bracket for frame id.
	Start(id int, arg any)
	// Stop closes the innermost open bracket.
	Stop()
	// Increment counts one occurrence of frame id without timing it.
	Increment(id int)
}

// Runtime is the scheduling context shared between the sequencer and the
// code that drives it. It is not safe for concurrent use: callers serialize
// access between ticks. Pending settlement is the one exception.
type Runtime struct {
	// Threads in scheduling priority order.
	Threads []*Thread

	// CurrentStepTime is the duration of one tick. The sequencer works for
	// at most three quarters of it.
	CurrentStepTime time.Duration

	TurboMode       bool
	RedrawRequested bool

	// SingleStepMode pins execution to CurrentThread and advances it one
	// block each time DoStep is set.
	SingleStepMode  bool
	DoStep          bool
	CurrentThread   *Thread
	NextThreadIndex int

	BreakpointsEnabled bool

	Profiler Profiler

	// ActiveThread is the thread being stepped, nil between steps.
	ActiveThread *Thread

	mu      sync.Mutex
	settled []*Pending
}

// NewRuntime creates an empty runtime ticking every stepTime.
func NewRuntime(stepTime time.Duration) *Runtime {
	return &Runtime{CurrentStepTime: stepTime}
}

// StartThread creates a thread for the script starting at top and appends
// it to the thread list.
func (rt *Runtime) StartThread(top graph.BlockID, target Target) *Thread {
	th := NewThread(top, target)
	rt.Threads = append(rt.Threads, th)
	return th
}

// KillThread stops th immediately. It stays in the thread list until the end
// of the current pass, where it is compacted out like any finished thread.
func (rt *Runtime) KillThread(th *Thread) {
	th.killed = true
	th.retire()
	if rt.CurrentThread == th {
		rt.CurrentThread = nil
	}
}

// StopAll kills every thread.
func (rt *Runtime) StopAll() {
	for _, th := range rt.Threads {
		rt.KillThread(th)
	}
}

// ThreadsFor returns the live threads running on target.
func (rt *Runtime) ThreadsFor(target Target) []*Thread {
	var out []*Thread
	for _, th := range rt.Threads {
		if th.Target == target && !th.Done() {
			out = append(out, th)
		}
	}
	return out
}

// Await parks th until the returned Pending settles.
func (rt *Runtime) Await(th *Thread) *Pending {
	if th.pending != nil {
		th.pending.Cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pending{rt: rt, th: th, ctx: ctx, cancel: cancel}
	th.pending = p
	th.Status = StatusPromiseWait
	return p
}

func (rt *Runtime) post(p *Pending) {
	rt.mu.Lock()
	rt.settled = append(rt.settled, p)
	rt.mu.Unlock()
}

// settle resumes threads whose Pending settled since the last call. It
// returns the number of threads resumed.
func (rt *Runtime) settle() int {
	rt.mu.Lock()
	queue := rt.settled
	rt.settled = nil
	rt.mu.Unlock()

	n := 0
	for _, p := range queue {
		th := p.th
		if th.pending != p || p.cancelled() {
			continue
		}
		th.pending = nil
		th.settled = p
		p.cancel()
		if th.Status == StatusPromiseWait {
			th.Status = StatusRunning
			n++
		}
	}
	return n
}
