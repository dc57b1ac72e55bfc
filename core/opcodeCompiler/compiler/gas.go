package compiler

import (
	"fmt"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
)

// injectGas charges every lowered block on entry. The cost is perInst times
// the number of instructions lowered for the block; a context that cannot pay
// aborts before running any of them. It returns the number of metered blocks.
func (l *lowerer) injectGas(limit, perInst uint64) int {
	b := kir.NewBuilder()
	gas := kir.EntryAlloca(l.fn, kir.I64, "gas")
	b.SetInsertPointBefore(l.entry.Terminator())
	b.CreateStore(i64c(limit), gas)

	metered := 0
	for _, bb := range l.cfg.Blocks() {
		head := bb.ir
		n := 0
		for _, part := range bb.irParts {
			n += len(part.Insts)
		}
		used := i64c(perInst * uint64(n))

		b.SetInsertPointBefore(head.Insts[0])
		left := b.CreateLoad(kir.I64, gas)
		short := b.CreateICmp(kir.UGT, used, left)
		b.CreateStore(b.CreateSub(left, used), gas)

		body := l.fn.SplitBlock(head, 4, fmt.Sprintf("bb%d.gas", bb.begin))
		head.Terminator().EraseFromParent()
		b.SetInsertPointAtEnd(head)
		b.CreateCondBr(short, l.abort, body)

		bb.irParts = append([]*kir.Block{head, body}, bb.irParts[1:]...)
		metered++
	}
	return metered
}
