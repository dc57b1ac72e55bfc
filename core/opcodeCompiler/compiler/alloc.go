package compiler

import (
	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
)

// modeOf picks the allocation mode of a block reached by discovery. Values
// can stay in registers only when the block has one way in and that way is
// the parent whose exit values are handed over.
func (l *lowerer) modeOf(bb *BasicBlock) AllocMode {
	if bb.stackIn == 0 {
		return ModeRegister
	}
	switch {
	case bb == l.cfg.Entry(),
		len(bb.parents) != 1,
		l.cfg.enteredByFallthrough(bb),
		l.dynamic && bb.IsJumpDest():
		return ModeConfluence
	}
	// An undiscovered block running into bb would bypass the parent.
	if p := l.cfg.fallsInto(bb); p != nil && !l.cfg.Reachable(p) {
		return ModeConfluence
	}
	return ModeRegister
}

// allocate lowers every block. Discovered blocks are visited breadth-first
// from the entry so that each register-mode block is lowered right after its
// parent handed over the live values. Blocks discovery never reached keep
// their whole stack in memory.
func (l *lowerer) allocate() {
	type item struct {
		bb   *BasicBlock
		live []kir.Value
	}
	if entry := l.cfg.Entry(); entry != nil {
		queue := []item{{bb: entry}}
		l.reached[entry] = true
		for len(queue) > 0 {
			it := queue[0]
			queue = queue[1:]
			out := l.lowerBlock(it.bb, it.live, l.modeOf(it.bb))
			for _, c := range it.bb.children {
				if l.reached[c] {
					continue
				}
				l.reached[c] = true
				queue = append(queue, item{bb: c, live: append([]kir.Value(nil), out...)})
			}
		}
	}
	for _, bb := range l.cfg.Blocks() {
		if !l.reached[bb] {
			l.lowerBlock(bb, nil, ModeMemory)
		}
	}
}

// closed reports whether every jump of a discovered block is a literal that
// either misses all JUMPDESTs or lands on a discovered child. Only then can
// each jump become a direct branch and the register hand-over stay sound.
func (l *lowerer) closed() bool {
	for _, s := range l.sites {
		if !l.reached[s.Block] {
			continue
		}
		c, ok := s.Target.(*kir.Const)
		if !ok {
			return false
		}
		if !c.IsUint64() {
			continue
		}
		to := l.cfg.BlockAt(uint(c.Uint64()))
		if to != nil && to.IsJumpDest() && !s.Block.hasChild(to) {
			return false
		}
	}
	return true
}

// lowerProgram lowers the discovered program into contract(). The first
// attempt assumes a closed jump set; if a jump escapes it the function is
// discarded and rebuilt with every JUMPDEST entered through memory.
func lowerProgram(ctx *Context, cfg *CFG, runtimeOffset uint) *lowerer {
	l := newLowerer(ctx, cfg, runtimeOffset, false)
	l.newEntryFunction()
	l.allocate()
	if l.closed() {
		return l
	}
	KirDebugInfo("jump set is open, lowering with dynamic entries", "sites", len(l.sites))
	ctx.Module.RemoveFunction(l.fn)
	ctx.Tags.Reset()
	dynamicKernelCounter.Inc(1)

	l = newLowerer(ctx, cfg, runtimeOffset, true)
	l.newEntryFunction()
	l.allocate()
	return l
}
