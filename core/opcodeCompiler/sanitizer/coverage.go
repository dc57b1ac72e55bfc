package sanitizer

import (
	"math/rand"

	"github.com/ethereum/go-ethereum/log"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
	"github.com/cassc/mau-ityfuzz/params"
)

// CoverageStats summarizes what the coverage pass inserted.
type CoverageStats struct {
	Edges  int // instrumented block heads
	Stores int // storage writes recording their key hash
	Loads  int // storage reads probing the recorded hashes
}

// Coverage instruments fn with edge coverage and storage dataflow feedback,
// written to the bitmap passed as parameter bitmapArg.
//
// Each lowered block head gets a random label cur; entering it marks
// bitmap[(prev ^ cur) % MapSize] and sets prev = cur >> 1. Every storage
// write records the hash of its key in a slot of its own; every storage read
// sets bitmap[i % MapSize] for the i-th read to whether its key hash equals
// one of the recorded ones.
func Coverage(mod *kir.Module, fn *kir.Function, bitmapArg int, rng *rand.Rand) CoverageStats {
	var st CoverageStats
	b := kir.NewBuilder()
	bitmap := fn.Arg(bitmapArg)
	entry := fn.EntryBlock()
	i32 := func(v uint64) *kir.Const { return kir.ConstInt(kir.I32, v) }

	prevLoc := kir.EntryAlloca(fn, kir.I32, "prev_loc")
	b.SetInsertPointBefore(entry.Terminator())
	b.CreateStore(i32(0), prevLoc)

	for _, blk := range fn.Blocks {
		if !blk.IsEVM() || len(blk.Insts) == 0 {
			continue
		}
		cur := uint64(rng.Intn(params.MapSize))
		b.SetInsertPointBefore(blk.Insts[0])
		prev := b.CreateLoad(kir.I32, prevLoc)
		idx := b.CreateAnd(b.CreateXor(prev, i32(cur)), i32(params.MapSize-1))
		slot := b.CreateGEP(bitmap, b.CreateZExt(idx, kir.I64))
		b.CreateStore(kir.ConstInt(kir.I8, 1), slot)
		b.CreateStore(i32(cur>>1), prevLoc)
		st.Edges++
	}

	// Collect first: the instrumentation below adds calls of its own.
	var stores, loads []*kir.Inst
	fn.Walk(func(inst *kir.Inst) bool {
		switch {
		case inst.Calls(SStoreFunc):
			stores = append(stores, inst)
		case inst.Calls(SLoadFunc):
			loads = append(loads, inst)
		}
		return true
	})
	if len(stores) == 0 && len(loads) == 0 {
		log.Debug("Coverage instrumented", "edges", st.Edges)
		return st
	}
	hash := mod.Declare(HashWordFunc, kir.I32, kir.Ptr)

	states := make([]*kir.Inst, len(stores))
	for i, call := range stores {
		states[i] = kir.EntryAlloca(fn, kir.I32, "state")
		b.SetInsertPointBefore(entry.Terminator())
		b.CreateStore(i32(0), states[i])

		b.SetInsertPointAfter(call)
		b.CreateStore(b.CreateCall(hash, call.Operand(0)), states[i])
		st.Stores++
	}
	for i, call := range loads {
		b.SetInsertPointAfter(call)
		h := b.CreateCall(hash, call.Operand(0))
		var hit kir.Value = kir.False()
		for _, s := range states {
			hit = b.CreateOr(hit, b.CreateICmp(kir.EQ, h, b.CreateLoad(kir.I32, s)))
		}
		slot := b.CreateGEP(bitmap, kir.ConstInt(kir.I64, uint64(i%params.MapSize)))
		b.CreateStore(b.CreateZExt(hit, kir.I8), slot)
		st.Loads++
	}
	log.Debug("Coverage instrumented", "edges", st.Edges, "stores", st.Stores, "loads", st.Loads)
	return st
}
