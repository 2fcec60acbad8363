package primitives

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/me/blocksched/internal/graph"
	"github.com/me/blocksched/internal/sequencer"
)

// loopCounter is the per-frame state of a counted repeat.
type loopCounter struct {
	remaining int
}

// waitTimer is the per-frame state of a timed wait.
type waitTimer struct {
	timer    *sequencer.Timer
	duration time.Duration
}

// callExecuted marks a call frame whose procedure already ran. A call block
// seen again with this mark completes instead of calling again.
type callExecuted struct{}

func repeat(u *Util, b *graph.Block) {
	f := u.Frame()
	lc, ok := f.ExecutionContext.(*loopCounter)
	if !ok {
		lc = &loopCounter{remaining: int(math.Round(u.Number(b, "TIMES")))}
		f.ExecutionContext = lc
	}
	lc.remaining--
	if lc.remaining >= 0 {
		u.StartBranch(1, true)
	}
}

func forever(u *Util, _ *graph.Block) {
	u.StartBranch(1, true)
}

func repeatUntil(u *Util, b *graph.Block) {
	if !u.Bool(b, "CONDITION") {
		u.StartBranch(1, true)
	}
}

func ifThen(u *Util, b *graph.Block) {
	if u.Bool(b, "CONDITION") {
		u.StartBranch(1, false)
	}
}

func ifElse(u *Util, b *graph.Block) {
	if u.Bool(b, "CONDITION") {
		u.StartBranch(1, false)
	} else {
		u.StartBranch(2, false)
	}
}

func wait(u *Util, b *graph.Block) {
	f := u.Frame()
	wt, ok := f.ExecutionContext.(*waitTimer)
	if !ok {
		secs := math.Max(0, u.Number(b, "DURATION"))
		f.ExecutionContext = &waitTimer{
			timer:    sequencer.NewTimer(u.seq.Clock()),
			duration: time.Duration(secs * float64(time.Second)),
		}
		u.RequestRedraw()
		u.Yield()
		return
	}
	if wt.timer.Elapsed() < wt.duration {
		u.Yield()
	}
}

func waitUntil(u *Util, b *graph.Block) {
	if !u.Bool(b, "CONDITION") {
		u.YieldTick()
	}
}

// yielded marks a yield block that already gave up its turn.
type yielded struct{}

func yield(u *Util, _ *graph.Block) {
	f := u.Frame()
	if _, ok := f.ExecutionContext.(yielded); ok {
		f.ExecutionContext = nil
		return
	}
	f.ExecutionContext = yielded{}
	u.Yield()
}

// sleepAsync parks the thread on a Pending resolved by a wall-clock timer.
// When the thread resumes the block runs again and completes.
func sleepAsync(u *Util, b *graph.Block) {
	if p := u.th.TakeSettled(); p != nil {
		if _, err := p.Result(); err != nil {
			u.exec.logger.Warn("sleep interrupted", "thread_id", u.th.ID, "error", err)
		}
		return
	}
	d := time.Duration(math.Max(0, u.Number(b, "DURATION")) * float64(time.Second))
	p := u.Runtime().Await(u.th)
	t := time.AfterFunc(d, func() { p.Resolve(nil) })
	context.AfterFunc(p.Context(), func() { t.Stop() })
}

func stop(u *Util, b *graph.Block) {
	rt := u.Runtime()
	switch strings.ToLower(b.Field("STOP_OPTION")) {
	case "all":
		rt.StopAll()
	case "other scripts in sprite":
		for _, th := range rt.ThreadsFor(u.th.Target) {
			if th != u.th {
				rt.KillThread(th)
			}
		}
	default:
		stopThisScript(u)
	}
}

// stopThisScript unwinds to the innermost procedure call, or ends the
// thread when there is none.
func stopThisScript(u *Util) {
	th := u.th
	g := u.seq.Graph()
	for {
		top, ok := th.PeekStack()
		if !ok {
			break
		}
		if !top.IsNoBlock() {
			if blk, ok := g.Block(top.ID()); ok && blk.Opcode == graph.OpProcedureCall {
				return
			}
		}
		th.PopStack()
	}
	u.seq.RetireThread(th)
}

func procedureCall(u *Util, b *graph.Block) {
	f := u.Frame()
	if _, ok := f.ExecutionContext.(callExecuted); ok {
		f.ExecutionContext = nil
		return
	}

	code := b.Field("PROCCODE")
	g := u.seq.Graph()
	defID, ok := g.ProcedureDefinition(code)
	if !ok {
		u.StartProcedure(code)
		return
	}
	def, _ := g.Block(defID)

	// Arguments are evaluated in the caller's scope, before the push.
	args := make(map[string]any, len(def.ArgNames))
	for _, name := range def.ArgNames {
		args[name] = u.Input(b, name)
	}

	f.ExecutionContext = callExecuted{}
	depth := u.th.StackLen()
	u.StartProcedure(code)
	if u.th.StackLen() > depth {
		u.th.PeekFrame().Params = args
	}
}
