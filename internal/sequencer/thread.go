package sequencer

import (
	"time"

	"github.com/google/uuid"
	"github.com/me/blocksched/internal/graph"
)

// StackEntry is one level of a thread's block stack: either a block id or
// the NoBlock marker left behind by an empty branch.
type StackEntry struct {
	id      graph.BlockID
	noBlock bool
}

// NoBlock marks a level with nothing to run.
var NoBlock = StackEntry{noBlock: true}

// BlockEntry returns the stack entry for id. An empty id yields NoBlock.
func BlockEntry(id graph.BlockID) StackEntry {
	if id == "" {
		return NoBlock
	}
	return StackEntry{id: id}
}

// IsNoBlock reports whether e is the NoBlock marker.
func (e StackEntry) IsNoBlock() bool { return e.noBlock }

// ID returns the block id, empty for NoBlock.
func (e StackEntry) ID() graph.BlockID { return e.id }

func (e StackEntry) String() string {
	if e.noBlock {
		return "<no block>"
	}
	return string(e.id)
}

// Frame is the per-level metadata kept alongside each stack entry.
type Frame struct {
	// IsLoop levels are re-entered instead of advanced when their child
	// branch finishes.
	IsLoop bool
	// WarpMode levels, and every level pushed above them, batch their yields.
	WarpMode bool
	// WaitingOnReporter levels received a value from a child level and must
	// not be advanced past when that child pops.
	WaitingOnReporter bool

	// Params holds procedure arguments for the level running a procedure body.
	Params map[string]any
	// ExecutionContext is scratch space owned by the primitive running at this
	// level (loop counters, timers).
	ExecutionContext any

	procedure string
}

// reuse prepares the frame for the next sibling block at the same level.
// Warp mode and procedure arguments belong to the level, not the block.
func (f *Frame) reuse() {
	f.IsLoop = false
	f.WaitingOnReporter = false
	f.ExecutionContext = nil
}

// Target is the execution subject a thread runs on behalf of.
type Target interface {
	Name() string
}

// Thread is a cooperative execution context for one script.
type Thread struct {
	ID       string
	TopBlock graph.BlockID
	Target   Target
	Status   Status

	// Glow is the block the UI was asked to highlight for this thread.
	Glow graph.BlockID

	stack  []StackEntry
	frames []*Frame

	warpTimer            *Timer
	killed               bool
	activeProcedureCalls map[string]int

	pending *Pending
	settled *Pending
}

// NewThread creates a running thread whose stack holds top.
func NewThread(top graph.BlockID, target Target) *Thread {
	th := &Thread{
		ID:                   "thread_" + uuid.New().String(),
		TopBlock:             top,
		Target:               target,
		Status:               StatusRunning,
		activeProcedureCalls: make(map[string]int),
	}
	th.PushStack(BlockEntry(top))
	return th
}

// PushStack pushes a new level. The new frame inherits the parent's warp
// mode.
func (th *Thread) PushStack(e StackEntry) {
	var warp bool
	if len(th.frames) > 0 {
		warp = th.frames[len(th.frames)-1].WarpMode
	}
	th.stack = append(th.stack, e)
	th.frames = append(th.frames, &Frame{WarpMode: warp})
}

// PopStack removes the top level. It returns NoBlock and false on an empty
// stack.
func (th *Thread) PopStack() (StackEntry, bool) {
	n := len(th.stack)
	if n == 0 {
		return NoBlock, false
	}
	e := th.stack[n-1]
	fr := th.frames[n-1]
	th.stack = th.stack[:n-1]
	th.frames[n-1] = nil
	th.frames = th.frames[:n-1]

	if fr.procedure != "" {
		if c := th.activeProcedureCalls[fr.procedure]; c <= 1 {
			delete(th.activeProcedureCalls, fr.procedure)
		} else {
			th.activeProcedureCalls[fr.procedure] = c - 1
		}
	}
	return e, true
}

// PeekStack returns the top entry.
func (th *Thread) PeekStack() (StackEntry, bool) {
	if len(th.stack) == 0 {
		return NoBlock, false
	}
	return th.stack[len(th.stack)-1], true
}

// PeekFrame returns the top frame, nil on an empty stack.
func (th *Thread) PeekFrame() *Frame {
	if len(th.frames) == 0 {
		return nil
	}
	return th.frames[len(th.frames)-1]
}

// ParentFrame returns the frame below the top, nil if there is none.
func (th *Thread) ParentFrame() *Frame {
	if len(th.frames) < 2 {
		return nil
	}
	return th.frames[len(th.frames)-2]
}

// ReuseStackForNextBlock replaces the top entry with e, keeping the level.
func (th *Thread) ReuseStackForNextBlock(e StackEntry) {
	n := len(th.stack)
	if n == 0 {
		return
	}
	th.stack[n-1] = e
	th.frames[n-1].reuse()
}

// StackLen returns the number of stack levels.
func (th *Thread) StackLen() int {
	return len(th.stack)
}

// Stack returns a copy of the block stack, outermost level first.
func (th *Thread) Stack() []StackEntry {
	return append([]StackEntry(nil), th.stack...)
}

// Params returns the arguments of the innermost procedure level, nil
// outside any procedure. Outer procedures' arguments are not visible.
func (th *Thread) Params() map[string]any {
	for i := len(th.frames) - 1; i >= 0; i-- {
		if p := th.frames[i].Params; p != nil {
			return p
		}
	}
	return nil
}

// Param looks up a procedure argument by name.
func (th *Thread) Param(name string) (any, bool) {
	v, ok := th.Params()[name]
	return v, ok
}

// IsRecursiveCall reports whether procCode is already running on this
// thread.
func (th *Thread) IsRecursiveCall(procCode string) bool {
	return th.activeProcedureCalls[procCode] > 0
}

// IsKilled reports whether the thread was stopped from outside.
func (th *Thread) IsKilled() bool {
	return th.killed
}

// Done reports whether the thread has nothing left to run.
func (th *Thread) Done() bool {
	return th.Status == StatusDone || len(th.stack) == 0
}

// TakeSettled returns the Pending that last resumed this thread, once.
func (th *Thread) TakeSettled() *Pending {
	p := th.settled
	th.settled = nil
	return p
}

// pushProcedure pushes a procedure level and records the call as active
// until that level pops.
func (th *Thread) pushProcedure(e StackEntry, procCode string) {
	th.PushStack(e)
	th.frames[len(th.frames)-1].procedure = procCode
	th.activeProcedureCalls[procCode]++
}

// retire empties the stack and drops any outstanding asynchronous work.
func (th *Thread) retire() {
	for i := range th.frames {
		th.frames[i] = nil
	}
	th.stack = th.stack[:0]
	th.frames = th.frames[:0]
	clear(th.activeProcedureCalls)
	th.warpTimer = nil
	th.Glow = ""
	if th.pending != nil {
		th.pending.Cancel()
		th.pending = nil
	}
	th.settled = nil
	th.Status = StatusDone
}

// Clock is the time source of the sequencer.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Timer measures time elapsed since it was started.
type Timer struct {
	clock Clock
	start time.Time
}

// NewTimer starts a timer on clock.
func NewTimer(clock Clock) *Timer {
	return &Timer{clock: clock, start: clock.Now()}
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return t.clock.Now().Sub(t.start)
}
