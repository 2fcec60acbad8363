package sequencer

import (
	"errors"
	"testing"
	"time"

	"github.com/me/blocksched/internal/graph"
	"github.com/me/blocksched/internal/logging"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testTarget struct{ name string }

func (t *testTarget) Name() string { return t.name }

// handler runs the block blk on th.
type handler func(s *Sequencer, th *Thread, blk *graph.Block)

// scriptExec dispatches on opcode and records every execution.
type scriptExec struct {
	handlers map[graph.Opcode]handler
	calls    []call
}

type call struct {
	thread *Thread
	block  graph.BlockID
}

func (e *scriptExec) Execute(s *Sequencer, th *Thread) {
	top, _ := th.PeekStack()
	blk, ok := s.Graph().Block(top.ID())
	if !ok {
		return
	}
	e.calls = append(e.calls, call{thread: th, block: blk.ID})
	if h := e.handlers[blk.Opcode]; h != nil {
		h(s, th, blk)
	}
}

func (e *scriptExec) count(th *Thread) int {
	n := 0
	for _, c := range e.calls {
		if c.thread == th {
			n++
		}
	}
	return n
}

func (e *scriptExec) countBlock(id graph.BlockID) int {
	n := 0
	for _, c := range e.calls {
		if c.block == id {
			n++
		}
	}
	return n
}

type fixture struct {
	prog  *graph.Program
	rt    *Runtime
	clock *fakeClock
	exec  *scriptExec
	seq   *Sequencer
	tgt   *testTarget
}

func newFixture(t *testing.T, stepTime time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		prog:  graph.NewProgram(t.Name()),
		rt:    NewRuntime(stepTime),
		clock: newFakeClock(),
		exec:  &scriptExec{handlers: map[graph.Opcode]handler{}},
		tgt:   &testTarget{name: "sprite"},
	}
	f.seq = New(f.rt, f.prog, f.exec, logging.Discard(), WithClock(f.clock))
	return f
}

func (f *fixture) add(id, opcode, next string, branches ...string) {
	b := &graph.Block{ID: graph.BlockID(id), Opcode: graph.Opcode(opcode), Next: graph.BlockID(next)}
	for _, br := range branches {
		b.Branches = append(b.Branches, graph.BlockID(br))
	}
	f.prog.Add(b)
}

func (f *fixture) on(opcode string, h handler) {
	f.exec.handlers[graph.Opcode(opcode)] = h
}

func (f *fixture) start(top string) *Thread {
	return f.rt.StartThread(graph.BlockID(top), f.tgt)
}

func contains(threads []*Thread, th *Thread) bool {
	for _, t := range threads {
		if t == th {
			return true
		}
	}
	return false
}

func TestStepThreads_DoneThreadIsRetired(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("hat", "event_whenflagclicked", "say")
	f.add("say", "looks_say", "")
	th := f.start("hat")

	retired := f.seq.StepThreads()

	if th.Status != StatusDone {
		t.Errorf("status = %s, want DONE", th.Status)
	}
	if th.StackLen() != 0 {
		t.Errorf("stack len = %d, want 0", th.StackLen())
	}
	if len(retired) != 1 || retired[0] != th {
		t.Errorf("retired = %v, want [th]", retired)
	}
	if len(f.rt.Threads) != 0 {
		t.Errorf("threads = %d, want 0", len(f.rt.Threads))
	}
	if got := f.exec.count(th); got != 2 {
		t.Errorf("executions = %d, want 2", got)
	}
}

func TestStepThread_WarpBatchesYields(t *testing.T) {
	f := newFixture(t, 10*time.Second)
	f.add("spin", "spin", "")
	f.add("other", "other", "")
	f.on("spin", func(s *Sequencer, th *Thread, _ *graph.Block) {
		f.clock.Advance(10 * time.Millisecond)
		th.Status = StatusYield
	})
	f.on("other", func(s *Sequencer, th *Thread, _ *graph.Block) {
		th.Status = StatusYield
	})

	warped := f.start("spin")
	warped.PeekFrame().WarpMode = true
	other := f.start("other")

	f.seq.StepThreads()

	// The warped thread re-enters itself until its timer passes 500ms:
	// 51 executions of 10ms each, before the other thread gets a turn.
	if len(f.exec.calls) < 52 {
		t.Fatalf("calls = %d, want at least 52", len(f.exec.calls))
	}
	for i := 0; i < 51; i++ {
		if f.exec.calls[i].thread != warped {
			t.Fatalf("call %d ran %s, want the warped thread", i, f.exec.calls[i].block)
		}
	}
	if f.exec.calls[51].thread != other {
		t.Errorf("call 51 ran %s, want the other thread once warp budget expired", f.exec.calls[51].block)
	}
	if warped.warpTimer != nil {
		t.Error("warp timer should be reset after each step")
	}
}

func TestStepThread_NonWarpYieldReturns(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("spin", "spin", "")
	f.on("spin", func(s *Sequencer, th *Thread, _ *graph.Block) {
		th.Status = StatusYield
	})
	th := f.start("spin")

	f.seq.StepThread(th)

	if got := f.exec.count(th); got != 1 {
		t.Errorf("executions = %d, want 1", got)
	}
	if th.Status != StatusRunning {
		t.Errorf("status = %s, want RUNNING after yield", th.Status)
	}
}

// recursionFixture builds "call rec" where rec calls itself until the depth
// argument reaches limit.
func recursionFixture(t *testing.T, warp bool, limit int) (*fixture, *Thread) {
	f := newFixture(t, time.Second)
	f.rt.TurboMode = true
	f.add("hat", "event_whenflagclicked", "c0")
	f.add("c0", "procedures_call", "")
	f.prog.Add(&graph.Block{ID: "def", Opcode: graph.OpProcedureDefinition, ProcCode: "rec", Next: "c1", Warp: warp})
	f.add("c1", "procedures_call", "")

	f.on("procedures_call", func(s *Sequencer, th *Thread, _ *graph.Block) {
		depth := 0
		if v, ok := th.Param("depth"); ok {
			depth = v.(int)
		}
		if depth >= limit {
			return
		}
		s.StepToProcedure(th, "rec")
		th.PeekFrame().Params = map[string]any{"depth": depth + 1}
	})
	return f, f.start("hat")
}

func TestStepToProcedure_RecursionYieldsPerLevel(t *testing.T) {
	const n = 5
	f, th := recursionFixture(t, false, n+1)

	yields := 0
	inner := f.exec
	f.seq.exec = ExecutorFunc(func(s *Sequencer, th *Thread) {
		inner.Execute(s, th)
		if th.Status == StatusYield {
			yields++
		}
	})

	maxDepth := 0
	for i := 0; i < 100 && !th.Done(); i++ {
		f.seq.StepThread(th)
		if d := th.StackLen(); d > maxDepth {
			maxDepth = d
		}
	}

	if !th.Done() {
		t.Fatal("thread did not finish")
	}
	if yields < n {
		t.Errorf("yields = %d, want at least %d", yields, n)
	}
	if maxDepth != n+2 {
		t.Errorf("max stack depth = %d, want %d", maxDepth, n+2)
	}
	if len(th.activeProcedureCalls) != 0 {
		t.Errorf("active calls = %v, want none after return", th.activeProcedureCalls)
	}
}

func TestStepToProcedure_WarpRecursionDoesNotYield(t *testing.T) {
	f, th := recursionFixture(t, true, 6)

	f.seq.StepThread(th)

	if !th.Done() {
		t.Errorf("warped recursion should finish in one step, stack = %v", th.Stack())
	}
}

func TestStepToProcedure_OverBudgetWarpYields(t *testing.T) {
	f := newFixture(t, time.Second)
	f.prog.Add(&graph.Block{ID: "def", Opcode: graph.OpProcedureDefinition, ProcCode: "p", Warp: true})
	f.add("call", "procedures_call", "")
	th := f.start("call")
	th.PeekFrame().WarpMode = true
	th.warpTimer = NewTimer(f.clock)
	f.clock.Advance(DefaultWarpBudget + time.Millisecond)

	f.seq.StepToProcedure(th, "p")

	if th.Status != StatusYield {
		t.Errorf("status = %s, want YIELD", th.Status)
	}
	if th.StackLen() != 2 {
		t.Errorf("stack len = %d, want definition pushed", th.StackLen())
	}
}

func TestStepToProcedure_Unknown(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("call", "procedures_call", "")
	th := f.start("call")

	f.seq.StepToProcedure(th, "missing")

	if th.StackLen() != 1 || th.Status != StatusRunning {
		t.Errorf("unknown procedure should be a no-op, stack=%v status=%s", th.Stack(), th.Status)
	}
}

func TestStepThread_LoopLevelRevisited(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("hat", "event_whenflagclicked", "loop")
	f.add("loop", "repeat", "", "body")
	f.add("body", "wait", "")

	f.on("repeat", func(s *Sequencer, th *Thread, _ *graph.Block) {
		frame := th.PeekFrame()
		n, _ := frame.ExecutionContext.(int)
		if n >= 3 {
			return
		}
		frame.ExecutionContext = n + 1
		s.StepToBranch(th, 1, true)
	})
	f.on("wait", func(s *Sequencer, th *Thread, _ *graph.Block) {
		frame := th.PeekFrame()
		if frame.ExecutionContext == nil {
			frame.ExecutionContext = true
			th.Status = StatusYield
		}
	})
	th := f.start("hat")

	for i := 0; i < 20 && !th.Done(); i++ {
		f.seq.StepThread(th)
		if th.Done() {
			break
		}
		if top, _ := th.PeekStack(); top.ID() != "loop" && top.ID() != "body" {
			t.Fatalf("step %d: top = %s, want loop or body", i, top)
		}
	}

	if !th.Done() {
		t.Fatal("thread did not finish")
	}
	if got := f.exec.countBlock("loop"); got != 4 {
		t.Errorf("loop executions = %d, want 4", got)
	}
	if got := f.exec.countBlock("body"); got != 6 {
		t.Errorf("body executions = %d, want 6", got)
	}
}

func TestStepToBranch_EmptyBranchPushesNoBlock(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("if", "if", "")
	th := f.start("if")

	f.seq.StepToBranch(th, 0, false)

	top, _ := th.PeekStack()
	if !top.IsNoBlock() {
		t.Errorf("top = %s, want NoBlock", top)
	}
	if th.StackLen() != 2 {
		t.Errorf("stack len = %d, want 2", th.StackLen())
	}
}

func TestStepThread_EmptyScriptCompletesWithoutExecuting(t *testing.T) {
	f := newFixture(t, time.Second)
	th := f.start("")

	retired := f.seq.StepThreads()

	if len(f.exec.calls) != 0 {
		t.Errorf("executions = %d, want 0", len(f.exec.calls))
	}
	if th.Status != StatusDone {
		t.Errorf("status = %s, want DONE", th.Status)
	}
	if !contains(retired, th) {
		t.Error("empty script should be retired in the same call")
	}
}

func TestStepThread_EmptyBranchOfHat(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("hat", "event_whenflagclicked", "")
	th := f.start("hat")
	th.ReuseStackForNextBlock(NoBlock)

	f.seq.StepThread(th)

	if th.Status != StatusDone || len(f.exec.calls) != 0 {
		t.Errorf("status=%s calls=%d, want DONE with no executions", th.Status, len(f.exec.calls))
	}
}

func TestStepThreads_TerminationCauses(t *testing.T) {
	t.Run("empty thread list", func(t *testing.T) {
		f := newFixture(t, time.Second)
		if retired := f.seq.StepThreads(); len(retired) != 0 {
			t.Errorf("retired = %d, want 0", len(retired))
		}
	})

	t.Run("nothing left running", func(t *testing.T) {
		f := newFixture(t, time.Second)
		f.add("tick", "tick", "")
		f.on("tick", func(s *Sequencer, th *Thread, _ *graph.Block) {
			th.Status = StatusYieldTick
		})
		th := f.start("tick")

		f.seq.StepThreads()

		if got := f.exec.count(th); got != 1 {
			t.Errorf("executions = %d, want 1", got)
		}
	})

	t.Run("work budget spent", func(t *testing.T) {
		f := newFixture(t, 100*time.Millisecond)
		f.add("spin", "spin", "")
		f.on("spin", func(s *Sequencer, th *Thread, _ *graph.Block) {
			f.clock.Advance(10 * time.Millisecond)
			th.Status = StatusYield
		})
		th := f.start("spin")

		f.seq.StepThreads()

		// Budget is 75ms, checked before each 10ms pass.
		if got := f.exec.count(th); got != 8 {
			t.Errorf("executions = %d, want 8", got)
		}
	})

	t.Run("redraw requested", func(t *testing.T) {
		f := newFixture(t, 100*time.Millisecond)
		f.add("move", "move", "")
		f.on("move", func(s *Sequencer, th *Thread, _ *graph.Block) {
			f.clock.Advance(10 * time.Millisecond)
			s.Runtime().RedrawRequested = true
			th.Status = StatusYield
		})
		th := f.start("move")

		f.seq.StepThreads()
		if got := f.exec.count(th); got != 1 {
			t.Errorf("executions = %d, want 1", got)
		}

		f.rt.TurboMode = true
		f.seq.StepThreads()
		if got := f.exec.count(th); got != 9 {
			t.Errorf("executions with turbo = %d, want 9", got)
		}
	})
}

func TestStepThreads_KilledThreadDoesNotShiftSiblings(t *testing.T) {
	f := newFixture(t, time.Second)
	const n = 4
	threads := make([]*Thread, n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		f.add(id, "op_"+id, "")
	}
	f.on("op_a", func(s *Sequencer, th *Thread, _ *graph.Block) {
		s.Runtime().KillThread(threads[1])
		th.Status = StatusYieldTick
	})
	for _, op := range []string{"op_b", "op_c", "op_d"} {
		f.on(op, func(s *Sequencer, th *Thread, _ *graph.Block) {
			th.Status = StatusYieldTick
		})
	}
	for i := 0; i < n; i++ {
		threads[i] = f.start(string(rune('a' + i)))
	}

	retired := f.seq.StepThreads()

	want := []int{1, 0, 1, 1}
	for i, th := range threads {
		if got := f.exec.count(th); got != want[i] {
			t.Errorf("thread %d executions = %d, want %d", i, got, want[i])
		}
	}
	if len(retired) != 1 || retired[0] != threads[1] {
		t.Errorf("retired = %v, want the killed thread", retired)
	}
	if !threads[1].IsKilled() {
		t.Error("killed thread should report IsKilled")
	}
	if len(f.rt.Threads) != n-1 {
		t.Errorf("threads = %d, want %d", len(f.rt.Threads), n-1)
	}
	if f.rt.Threads[0] != threads[0] || f.rt.Threads[1] != threads[2] || f.rt.Threads[2] != threads[3] {
		t.Error("survivors should keep their relative order")
	}
}

func TestStepThreads_KillEarlierThread(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("a", "op_a", "")
	f.add("b", "op_b", "")
	f.add("c", "op_c", "")
	var a *Thread
	f.on("op_a", func(s *Sequencer, th *Thread, _ *graph.Block) { th.Status = StatusYieldTick })
	f.on("op_b", func(s *Sequencer, th *Thread, _ *graph.Block) {
		s.Runtime().KillThread(a)
		th.Status = StatusYieldTick
	})
	f.on("op_c", func(s *Sequencer, th *Thread, _ *graph.Block) { th.Status = StatusYieldTick })
	a = f.start("a")
	b := f.start("b")
	c := f.start("c")

	f.seq.StepThreads()

	for _, th := range []*Thread{a, b, c} {
		if got := f.exec.count(th); got != 1 {
			t.Errorf("%s executions = %d, want 1", th.TopBlock, got)
		}
	}
}

func TestStepThreads_YieldTickResumesOnFirstPassOnly(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond)
	f.add("tick", "tick", "")
	f.add("spin", "spin", "")
	f.on("tick", func(s *Sequencer, th *Thread, _ *graph.Block) {
		th.Status = StatusYieldTick
	})
	f.on("spin", func(s *Sequencer, th *Thread, _ *graph.Block) {
		f.clock.Advance(10 * time.Millisecond)
		th.Status = StatusYield
	})
	ticker := f.start("tick")
	spinner := f.start("spin")

	f.seq.StepThreads()
	if got := f.exec.count(ticker); got != 1 {
		t.Errorf("tick 1: ticker executions = %d, want 1", got)
	}
	if got := f.exec.count(spinner); got < 2 {
		t.Errorf("tick 1: spinner executions = %d, want several passes", got)
	}

	f.seq.StepThreads()
	if got := f.exec.count(ticker); got != 2 {
		t.Errorf("tick 2: ticker executions = %d, want 2", got)
	}
}

func TestStepThreads_SingleStep(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("a1", "noop", "a2")
	f.add("a2", "noop", "a3")
	f.add("a3", "noop", "")
	f.add("b1", "noop", "b2")
	f.add("b2", "noop", "")
	a := f.start("a1")
	b := f.start("b1")
	f.rt.SingleStepMode = true

	f.seq.StepThreads()
	if len(f.exec.calls) != 0 {
		t.Fatalf("executions without DoStep = %d, want 0", len(f.exec.calls))
	}

	f.rt.DoStep = true
	f.seq.StepThreads()
	if len(f.exec.calls) != 1 || f.exec.calls[0].thread != a {
		t.Fatalf("calls = %d, want one execution on the first thread", len(f.exec.calls))
	}
	if f.rt.DoStep {
		t.Error("DoStep should be consumed")
	}
	if f.rt.CurrentThread != a {
		t.Error("current thread should stay pinned to the stepped thread")
	}

	f.rt.DoStep = true
	f.seq.StepThreads()
	if f.exec.calls[1].thread != a || f.exec.calls[1].block != "a2" {
		t.Errorf("second step ran %s, want a2", f.exec.calls[1].block)
	}

	f.rt.DoStep = true
	f.seq.StepThreads()
	if a.Status != StatusDone {
		t.Errorf("a status = %s, want DONE", a.Status)
	}
	if f.rt.CurrentThread != b {
		t.Error("finishing the current thread should hand the debugger to the next runnable thread")
	}
	if f.exec.count(b) != 0 {
		t.Error("b should not run in the step that finished a")
	}

	f.rt.DoStep = true
	f.seq.StepThreads()
	if last := f.exec.calls[len(f.exec.calls)-1]; last.block != "b1" {
		t.Errorf("next step ran %s, want b1", last.block)
	}
}

func TestStepThreads_SingleStepWrapsAround(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("a", "yield", "")
	f.add("b", "yield", "")
	f.on("yield", func(s *Sequencer, th *Thread, _ *graph.Block) {
		th.Status = StatusYield
	})
	a := f.start("a")
	b := f.start("b")
	f.rt.SingleStepMode = true
	f.rt.CurrentThread = b
	f.rt.NextThreadIndex = 1

	f.rt.DoStep = true
	f.seq.StepThreads()

	if f.exec.count(b) != 1 || f.exec.count(a) != 0 {
		t.Fatalf("a=%d b=%d, want only b stepped", f.exec.count(a), f.exec.count(b))
	}
	if f.rt.CurrentThread != a || f.rt.NextThreadIndex != 0 {
		t.Errorf("current = %v index = %d, want a at 0 after wrap", f.rt.CurrentThread, f.rt.NextThreadIndex)
	}
}

func TestStepThreads_SingleStepOverridesWarpYield(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("hat", "noop", "spin")
	f.add("spin", "spin", "")
	f.on("spin", func(s *Sequencer, th *Thread, _ *graph.Block) {
		f.clock.Advance(time.Millisecond)
		th.Status = StatusYield
	})
	th := f.start("hat")
	th.PeekFrame().WarpMode = true
	f.rt.SingleStepMode = true

	for step := 1; step <= 3; step++ {
		f.rt.DoStep = true
		f.seq.StepThreads()
		if got := f.exec.count(th); got != step {
			t.Fatalf("after step %d: executions = %d, want %d", step, got, step)
		}
	}
	if f.rt.CurrentThread != th {
		t.Error("yielding thread should stay the debugger's current thread")
	}
}

func TestStepThreads_SingleStepOverridesWarpLoop(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("loop", "loop", "", "body")
	f.add("body", "noop", "")
	f.on("loop", func(s *Sequencer, th *Thread, _ *graph.Block) {
		s.StepToBranch(th, 1, true)
	})
	th := f.start("loop")
	th.PeekFrame().WarpMode = true
	f.rt.SingleStepMode = true

	want := []graph.BlockID{"loop", "body", "loop", "body"}
	for i, id := range want {
		f.rt.DoStep = true
		f.seq.StepThreads()
		if len(f.exec.calls) != i+1 {
			t.Fatalf("after step %d: executions = %d, want %d", i+1, len(f.exec.calls), i+1)
		}
		if got := f.exec.calls[i].block; got != id {
			t.Errorf("step %d ran %s, want %s", i+1, got, id)
		}
	}
}

func TestStepThread_Breakpoint(t *testing.T) {
	f := newFixture(t, time.Second)
	f.rt.BreakpointsEnabled = true
	f.add("hat", "event_whenflagclicked", "bp")
	f.add("bp", string(graph.OpBreakpoint), "after")
	f.add("after", "noop", "")
	th := f.start("hat")

	f.seq.StepThreads()

	if !f.rt.SingleStepMode {
		t.Fatal("breakpoint should enable single-step mode")
	}
	if f.rt.CurrentThread != th {
		t.Error("breakpoint should pin the current thread")
	}
	if f.exec.countBlock("after") != 0 {
		t.Error("block after the breakpoint ran before a step was requested")
	}

	f.rt.DoStep = true
	f.seq.StepThreads()
	if f.exec.countBlock("after") != 1 {
		t.Error("DoStep should run the block after the breakpoint")
	}
}

func TestStepThread_BreakpointIgnoredWhenDisabled(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("bp", string(graph.OpBreakpoint), "after")
	f.add("after", "noop", "")
	th := f.start("bp")

	f.seq.StepThreads()

	if f.rt.SingleStepMode || !th.Done() {
		t.Errorf("single step = %v done = %v, want false/true", f.rt.SingleStepMode, th.Done())
	}
}

func TestStepThread_OrphanIsRetired(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("hat", "event_whenflagclicked", "")
	th := f.rt.StartThread("hat", nil)

	retired := f.seq.StepThreads()

	if len(f.exec.calls) != 0 {
		t.Errorf("executions = %d, want 0", len(f.exec.calls))
	}
	if th.Status != StatusDone || th.StackLen() != 0 {
		t.Errorf("status=%s stack=%d, want retired", th.Status, th.StackLen())
	}
	if !contains(retired, th) {
		t.Error("orphan should be retired")
	}
}

func TestStepThread_WaitingOnReporter(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("caller", "caller", "")
	f.add("rep", "noop", "")
	f.on("caller", func(s *Sequencer, th *Thread, _ *graph.Block) {
		frame := th.PeekFrame()
		if frame.ExecutionContext == nil {
			frame.ExecutionContext = "asked"
			frame.WaitingOnReporter = true
			th.PushStack(BlockEntry("rep"))
			return
		}
		frame.WaitingOnReporter = false
	})
	th := f.start("caller")

	f.seq.StepThread(th)
	if th.Done() {
		t.Fatal("caller should not be advanced past while waiting on its reporter")
	}
	if top, _ := th.PeekStack(); top.ID() != "caller" {
		t.Errorf("top = %s, want caller", top)
	}

	f.seq.StepThread(th)
	if !th.Done() {
		t.Error("caller should finish once it consumed the reported value")
	}
	if got := f.exec.countBlock("caller"); got != 2 {
		t.Errorf("caller executions = %d, want 2", got)
	}
}

func TestPending_ResolveResumesThread(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("fetch", "fetch", "")
	var pending *Pending
	var got any
	f.on("fetch", func(s *Sequencer, th *Thread, _ *graph.Block) {
		if p := th.TakeSettled(); p != nil {
			got, _ = p.Result()
			return
		}
		pending = s.Runtime().Await(th)
	})
	th := f.start("fetch")

	f.seq.StepThreads()
	if th.Status != StatusPromiseWait {
		t.Fatalf("status = %s, want PROMISE_WAIT", th.Status)
	}

	f.seq.StepThreads()
	if f.exec.count(th) != 1 {
		t.Error("parked thread should not run before resolution")
	}

	done := make(chan bool)
	go func() { done <- pending.Resolve(42) }()
	if !<-done {
		t.Fatal("Resolve reported false")
	}
	if pending.Resolve(7) {
		t.Error("second Resolve should report false")
	}
	select {
	case <-pending.Context().Done():
		t.Error("context should stay open until the resolution is applied")
	default:
	}

	retired := f.seq.StepThreads()
	if got != 42 {
		t.Errorf("resolved value = %v, want 42", got)
	}
	if !contains(retired, th) {
		t.Error("thread should finish after resuming")
	}
	if pending.Context().Err() == nil {
		t.Error("context should be cancelled once settled")
	}
}

func TestPending_Reject(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("fetch", "fetch", "")
	boom := errors.New("boom")
	var gotErr error
	var pending *Pending
	f.on("fetch", func(s *Sequencer, th *Thread, _ *graph.Block) {
		if p := th.TakeSettled(); p != nil {
			_, gotErr = p.Result()
			return
		}
		pending = s.Runtime().Await(th)
	})
	f.start("fetch")

	f.seq.StepThreads()
	pending.Reject(boom)
	f.seq.StepThreads()

	if !errors.Is(gotErr, boom) {
		t.Errorf("err = %v, want boom", gotErr)
	}
}

func TestPending_CancelledByRetire(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("fetch", "fetch", "")
	var pending *Pending
	f.on("fetch", func(s *Sequencer, th *Thread, _ *graph.Block) {
		pending = s.Runtime().Await(th)
	})
	th := f.start("fetch")

	f.seq.StepThreads()
	f.seq.RetireThread(th)

	if pending.Context().Err() == nil {
		t.Error("retiring should cancel the pending context")
	}
	if pending.Resolve(1) {
		t.Error("Resolve after cancel should report false")
	}
	if _, err := pending.Result(); !errors.Is(err, ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", err)
	}
	if th.Status != StatusDone || th.StackLen() != 0 {
		t.Errorf("status=%s stack=%d, want retired", th.Status, th.StackLen())
	}
}

type countingProfiler struct {
	names  map[string]int
	starts map[int]int
	incs   map[int]int
	open   int
}

func newCountingProfiler() *countingProfiler {
	return &countingProfiler{names: map[string]int{}, starts: map[int]int{}, incs: map[int]int{}}
}

func (p *countingProfiler) FrameID(name string) int {
	if id, ok := p.names[name]; ok {
		return id
	}
	id := len(p.names)
	p.names[name] = id
	return id
}
func (p *countingProfiler) Start(id int, _ any) { p.starts[id]++; p.open++ }
func (p *countingProfiler) Stop()               { p.open-- }
func (p *countingProfiler) Increment(id int)    { p.incs[id]++ }

func TestStepThreads_Profiler(t *testing.T) {
	f := newFixture(t, time.Second)
	f.add("a", "noop", "b")
	f.add("b", "noop", "")
	prof := newCountingProfiler()
	f.rt.Profiler = prof
	f.start("a")

	f.seq.StepThreads()

	if got := prof.starts[prof.FrameID("execute")]; got != 2 {
		t.Errorf("execute brackets = %d, want 2", got)
	}
	if got := prof.starts[prof.FrameID("Sequencer.stepThread")]; got != 1 {
		t.Errorf("stepThread brackets = %d, want 1", got)
	}
	if got := prof.incs[prof.FrameID("Sequencer.retired")]; got != 1 {
		t.Errorf("retired count = %d, want 1", got)
	}
	if prof.open != 0 {
		t.Errorf("unbalanced brackets: %d open", prof.open)
	}
}

func TestThread_StackFramesStayParallel(t *testing.T) {
	th := NewThread("a", &testTarget{})
	th.PeekFrame().WarpMode = true
	th.PushStack(BlockEntry("b"))
	if !th.PeekFrame().WarpMode {
		t.Error("pushed frame should inherit warp mode")
	}
	th.PushStack(NoBlock)
	if len(th.stack) != len(th.frames) {
		t.Fatalf("stack %d frames %d", len(th.stack), len(th.frames))
	}
	th.PopStack()
	th.PopStack()
	th.PopStack()
	if _, ok := th.PopStack(); ok {
		t.Error("pop on empty stack should report false")
	}
	if len(th.stack) != 0 || len(th.frames) != 0 {
		t.Errorf("stack %d frames %d, want 0/0", len(th.stack), len(th.frames))
	}
	if !th.Done() {
		t.Error("empty thread should be done")
	}
}

func TestThread_ParamScoping(t *testing.T) {
	th := NewThread("outer", &testTarget{})
	th.PeekFrame().Params = map[string]any{"x": 1, "y": 2}
	th.PushStack(BlockEntry("inner"))
	if v, ok := th.Param("x"); !ok || v != 1 {
		t.Errorf("Param(x) = %v %v, want 1", v, ok)
	}
	th.PeekFrame().Params = map[string]any{"x": 10}
	if _, ok := th.Param("y"); ok {
		t.Error("outer procedure arguments should not be visible")
	}
	th.ReuseStackForNextBlock(BlockEntry("next"))
	if v, _ := th.Param("x"); v != 10 {
		t.Errorf("Param(x) after reuse = %v, want 10", v)
	}
}

func TestStatus_String(t *testing.T) {
	for s, want := range map[Status]string{
		StatusRunning:     "RUNNING",
		StatusYield:       "YIELD",
		StatusYieldTick:   "YIELD_TICK",
		StatusPromiseWait: "PROMISE_WAIT",
		StatusDone:        "DONE",
		Status(99):        "UNKNOWN",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(s), got, want)
		}
	}
}
