package sanitizer

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
	"github.com/cassc/mau-ityfuzz/params"
)

// integerBug checks add, sub and mul results for wrap-around.
type integerBug struct{}

func (integerBug) Name() string           { return "ibsan" }
func (integerBug) Tag() kir.TagKind       { return kir.TagIntegerBug }
func (integerBug) Signal() params.SigByte { return params.SigIntegerBug }

func (o integerBug) Instrument(p *Pass) int {
	n := 0
	b := p.b
	for _, t := range p.Tags.Tagged(o.Tag()) {
		res := t.Inst
		b.SetInsertPointAfter(res)
		var cond kir.Value
		switch t.Op {
		case "add":
			cond = b.CreateICmp(kir.ULT, res, res.Operand(0))
		case "sub":
			cond = b.CreateICmp(kir.ULT, res.Operand(0), res.Operand(1))
		case "mul":
			if len(t.Args) != 2 {
				continue
			}
			lhs, rhs := t.Args[0], t.Args[1]
			// res / lhs != rhs, unless lhs is zero.
			b.CreateStore(res, p.word(0))
			b.CreateStore(lhs, p.word(1))
			b.CreateCall(p.Helpers.UDivRem(), p.word(0), p.word(1), p.word(2), p.word(3))
			q := b.CreateLoad(kir.I256, p.word(2))
			cond = b.CreateAnd(
				b.CreateICmp(kir.NE, lhs, kir.Word(0)),
				b.CreateICmp(kir.NE, q, rhs),
			)
		default:
			continue
		}
		sig := b.CreateSelect(cond, SigConst(o.Signal()), SigConst(params.SigExecNone))
		p.signal(sig, t.PC)
		n++
	}
	return n
}

// reentrancy flags external calls that can reach a storage write. Calls
// forwarding no more than the stipend cannot re-enter.
type reentrancy struct{}

func (reentrancy) Name() string           { return "resan" }
func (reentrancy) Tag() kir.TagKind       { return kir.TagReentrancy }
func (reentrancy) Signal() params.SigByte { return params.SigReentrancy }

func (o reentrancy) Instrument(p *Pass) int {
	n := 0
	for _, t := range p.Tags.Tagged(o.Tag()) {
		if len(t.Args) > 0 {
			if gas, ok := t.Args[0].(*kir.Const); ok && gas.IsUint64() && gas.Uint64() <= params.CallGasStipend {
				continue
			}
		}
		if !reachesStore(t.Inst) {
			continue
		}
		p.b.SetInsertPointBefore(t.Inst)
		p.signal(SigConst(o.Signal()), t.PC)
		n++
	}
	return n
}

// reachesStore searches forward from call for a storage write: first the
// rest of its block, then successor blocks breadth-first. Dispatch switches
// are not expanded.
func reachesStore(call *kir.Inst) bool {
	start := call.Parent()
	for _, inst := range start.Insts[start.Index(call)+1:] {
		if inst.Calls(SStoreFunc) {
			return true
		}
	}
	seen := mapset.NewThreadUnsafeSet(start)
	queue := succsOf(start)
	for len(queue) > 0 {
		blk := queue[0]
		queue = queue[1:]
		if !seen.Add(blk) {
			continue
		}
		for _, inst := range blk.Insts {
			if inst.Calls(SStoreFunc) {
				return true
			}
		}
		queue = append(queue, succsOf(blk)...)
	}
	return false
}

func succsOf(b *kir.Block) []*kir.Block {
	t := b.Terminator()
	if t == nil || t.Op == kir.OpSwitch {
		return nil
	}
	return t.Succs
}

// marker reports every tagged site unconditionally.
type marker struct {
	name string
	tag  kir.TagKind
	sig  params.SigByte
}

func (m marker) Name() string           { return m.name }
func (m marker) Tag() kir.TagKind       { return m.tag }
func (m marker) Signal() params.SigByte { return m.sig }

func (m marker) Instrument(p *Pass) int {
	n := 0
	for _, t := range p.Tags.Tagged(m.tag) {
		p.b.SetInsertPointBefore(t.Inst)
		p.signal(SigConst(m.sig), t.PC)
		n++
	}
	return n
}

// unusedReturn flags call results that are dropped without being read.
type unusedReturn struct{}

func (unusedReturn) Name() string           { return "mesan" }
func (unusedReturn) Tag() kir.TagKind       { return kir.TagUnusedReturn }
func (unusedReturn) Signal() params.SigByte { return params.SigUnusedReturn }

func (o unusedReturn) Instrument(p *Pass) int {
	n := 0
	for _, t := range p.Tags.Tagged(o.Tag()) {
		if p.Func.HasUses(t.Inst) {
			continue
		}
		p.b.SetInsertPointAfter(t.Inst)
		p.signal(SigConst(o.Signal()), t.PC)
		n++
	}
	return n
}
