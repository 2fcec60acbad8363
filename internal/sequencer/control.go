package sequencer

import "github.com/me/blocksched/internal/graph"

// StepToBranch enters branch branchNum (1-based; lower values mean 1) of
// the block on top of th's stack. isLoop marks the current level to be
// re-entered once the branch finishes. An empty or missing branch pushes
// NoBlock.
func (s *Sequencer) StepToBranch(th *Thread, branchNum int, isLoop bool) {
	if branchNum < 1 {
		branchNum = 1
	}
	top, ok := th.PeekStack()
	if !ok || top.IsNoBlock() {
		return
	}
	entry, found := s.graph.Branch(top.ID(), branchNum)
	th.PeekFrame().IsLoop = isLoop
	if !found {
		th.PushStack(NoBlock)
		return
	}
	th.PushStack(BlockEntry(entry))
}

// StepToProcedure pushes the definition of procCode. Calls to unknown
// procedures are skipped.
//
// Warp is decided in order: a caller already warped past its budget yields;
// otherwise a procedure declared warp runs warped; otherwise a recursive
// call yields, so recursion grows by at most one level per step.
func (s *Sequencer) StepToProcedure(th *Thread, procCode string) {
	def, ok := s.graph.ProcedureDefinition(procCode)
	if !ok {
		s.trace("unknown procedure", "thread_id", th.ID, "proccode", procCode)
		return
	}

	recursive := th.IsRecursiveCall(procCode)
	th.pushProcedure(BlockEntry(def), procCode)
	frame := th.PeekFrame()

	switch {
	case frame.WarpMode && th.warpTimer != nil && th.warpTimer.Elapsed() > s.warpBudget:
		th.Status = StatusYield
	case s.declaresWarp(def):
		frame.WarpMode = true
	case recursive:
		th.Status = StatusYield
	}
	s.trace("procedure entered", "thread_id", th.ID, "proccode", procCode,
		"recursive", recursive, "warp", frame.WarpMode, "status", th.Status)
}

func (s *Sequencer) declaresWarp(def graph.BlockID) bool {
	blk, ok := s.graph.Block(def)
	return ok && blk.Warp
}

// RetireThread ends th without running it further: its stack is cleared,
// any highlight request and awaited operation are dropped, and it is marked
// done. It is used when the thread's target no longer exists.
func (s *Sequencer) RetireThread(th *Thread) {
	th.retire()
	if s.rt.CurrentThread == th {
		s.rt.CurrentThread = nil
	}
}
