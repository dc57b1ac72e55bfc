package compiler

import (
	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
)

// resolveJumps turns jumps with literal targets into direct branches, wires
// the not-taken side of every JUMPI and closes blocks that run off their end.
// Jumps left on the dispatch table are the dynamic ones. It returns the
// number of rewritten branches; running it again returns 0.
func (l *lowerer) resolveJumps() int {
	rewrites := 0
	var dynamic []*JumpSite
	for _, s := range l.sites {
		c, ok := s.Target.(*kir.Const)
		if !ok {
			dynamic = append(dynamic, s)
			continue
		}
		dest := l.abort
		if c.IsUint64() {
			if to := l.dispatch.CaseDest(c.Uint64()); to != nil {
				dest = to
			}
		}
		if s.Br.SetSuccessor(0, dest) {
			rewrites++
		}
		s.Store.EraseFromParent()
	}

	for _, s := range l.sites {
		if !s.Cond {
			continue
		}
		if s.Br.SetSuccessor(1, l.fallthroughOf(s.Block)) {
			rewrites++
		}
	}
	l.sites = dynamic

	b := kir.NewBuilder()
	for _, bb := range l.cfg.Blocks() {
		tail := bb.irParts[len(bb.irParts)-1]
		if tail.Terminator() != nil {
			continue
		}
		b.SetInsertPointAtEnd(tail)
		b.CreateBr(l.fallthroughOf(bb))
		rewrites++
	}
	KirDebugInfo("jumps resolved", "rewrites", rewrites, "dynamic", len(dynamic))
	return rewrites
}

// fallthroughOf returns the IR block execution continues in after bb.
func (l *lowerer) fallthroughOf(bb *BasicBlock) *kir.Block {
	if next := l.cfg.Next(bb); next != nil {
		return next.ir
	}
	return l.exit
}
