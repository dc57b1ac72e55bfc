package kir

import "fmt"

// Builder appends instructions at an insertion point: the end of a block, or
// right before a given instruction.
type Builder struct {
	block  *Block
	before *Inst
}

// NewBuilder returns a builder without an insertion point.
func NewBuilder() *Builder { return &Builder{} }

// SetInsertPointAtEnd positions the builder after the last instruction of b.
func (b *Builder) SetInsertPointAtEnd(blk *Block) {
	b.block, b.before = blk, nil
}

// SetInsertPointBefore positions the builder right before inst.
func (b *Builder) SetInsertPointBefore(inst *Inst) {
	b.block, b.before = inst.parent, inst
}

// SetInsertPointAfter positions the builder right after inst.
func (b *Builder) SetInsertPointAfter(inst *Inst) {
	blk := inst.parent
	pos := blk.Index(inst)
	if pos+1 < len(blk.Insts) {
		b.block, b.before = blk, blk.Insts[pos+1]
		return
	}
	b.block, b.before = blk, nil
}

// Block returns the current insertion block.
func (b *Builder) Block() *Block { return b.block }

// Function returns the function of the current insertion block.
func (b *Builder) Function() *Function { return b.block.parent }

func (b *Builder) insert(inst *Inst, hint string) *Inst {
	if b.before != nil {
		b.block = b.before.parent
	}
	if b.block == nil {
		panic("kir: builder has no insertion point")
	}
	if inst.typ == nil {
		inst.typ = Void
	}
	if inst.HasResult() {
		inst.name = b.block.parent.unique(hint)
	}
	pos := len(b.block.Insts)
	if b.before != nil {
		pos = b.block.Index(b.before)
	}
	b.block.insertAt(pos, inst)
	return inst
}

func (b *Builder) binary(op Opcode, x, y Value) *Inst {
	if !x.Type().Equal(y.Type()) {
		panic(fmt.Sprintf("kir: %s operand types differ: %s vs %s", op, x.Type(), y.Type()))
	}
	return b.insert(&Inst{Op: op, typ: x.Type(), Operands: []Value{x, y}}, "")
}

func (b *Builder) CreateAdd(x, y Value) *Inst  { return b.binary(OpAdd, x, y) }
func (b *Builder) CreateSub(x, y Value) *Inst  { return b.binary(OpSub, x, y) }
func (b *Builder) CreateMul(x, y Value) *Inst  { return b.binary(OpMul, x, y) }
func (b *Builder) CreateUDiv(x, y Value) *Inst { return b.binary(OpUDiv, x, y) }
func (b *Builder) CreateSDiv(x, y Value) *Inst { return b.binary(OpSDiv, x, y) }
func (b *Builder) CreateURem(x, y Value) *Inst { return b.binary(OpURem, x, y) }
func (b *Builder) CreateSRem(x, y Value) *Inst { return b.binary(OpSRem, x, y) }
func (b *Builder) CreateAnd(x, y Value) *Inst  { return b.binary(OpAnd, x, y) }
func (b *Builder) CreateOr(x, y Value) *Inst   { return b.binary(OpOr, x, y) }
func (b *Builder) CreateXor(x, y Value) *Inst  { return b.binary(OpXor, x, y) }
func (b *Builder) CreateShl(x, y Value) *Inst  { return b.binary(OpShl, x, y) }
func (b *Builder) CreateLShr(x, y Value) *Inst { return b.binary(OpLShr, x, y) }
func (b *Builder) CreateAShr(x, y Value) *Inst { return b.binary(OpAShr, x, y) }

// CreateNot returns x ^ all-ones.
func (b *Builder) CreateNot(x Value) *Inst {
	ones := ConstUint256(x.Type(), allOnes())
	return b.CreateXor(x, ones)
}

// CreateNeg returns 0 - x.
func (b *Builder) CreateNeg(x Value) *Inst {
	return b.CreateSub(ConstInt(x.Type(), 0), x)
}

// CreateICmp compares two integers and yields an i1.
func (b *Builder) CreateICmp(p Predicate, x, y Value) *Inst {
	if !x.Type().Equal(y.Type()) {
		panic(fmt.Sprintf("kir: icmp operand types differ: %s vs %s", x.Type(), y.Type()))
	}
	return b.insert(&Inst{Op: OpICmp, Pred: p, typ: I1, Operands: []Value{x, y}}, "")
}

// CreateSelect yields x when cond is true, y otherwise.
func (b *Builder) CreateSelect(cond, x, y Value) *Inst {
	return b.insert(&Inst{Op: OpSelect, typ: x.Type(), Operands: []Value{cond, x, y}}, "")
}

func (b *Builder) cast(op Opcode, v Value, to *Type) *Inst {
	return b.insert(&Inst{Op: op, typ: to, Operands: []Value{v}}, "")
}

func (b *Builder) CreateZExt(v Value, to *Type) *Inst  { return b.cast(OpZExt, v, to) }
func (b *Builder) CreateSExt(v Value, to *Type) *Inst  { return b.cast(OpSExt, v, to) }
func (b *Builder) CreateTrunc(v Value, to *Type) *Inst { return b.cast(OpTrunc, v, to) }

func (b *Builder) CreateAddrSpaceCast(v Value, to *Type) *Inst {
	return b.cast(OpAddrSpaceCast, v, to)
}

// CreateZExtOrTrunc converts v to the integer type to, returning v when the
// widths already match.
func (b *Builder) CreateZExtOrTrunc(v Value, to *Type) Value {
	from := v.Type().Bits
	switch {
	case from < to.Bits:
		return b.CreateZExt(v, to)
	case from > to.Bits:
		return b.CreateTrunc(v, to)
	}
	return v
}

// CreateAlloca reserves a stack slot of type t at the insertion point.
func (b *Builder) CreateAlloca(t *Type, name string) *Inst {
	return b.insert(&Inst{Op: OpAlloca, typ: Ptr, Alloc: t}, name)
}

// EntryAlloca reserves a slot in the entry block of f, after any leading
// allocas, regardless of the current insertion point.
func EntryAlloca(f *Function, t *Type, name string) *Inst {
	entry := f.EntryBlock()
	pos := 0
	for pos < len(entry.Insts) && entry.Insts[pos].Op == OpAlloca {
		pos++
	}
	inst := &Inst{Op: OpAlloca, typ: Ptr, Alloc: t, name: f.unique(name)}
	entry.insertAt(pos, inst)
	return inst
}

func (b *Builder) CreateLoad(t *Type, p Value) *Inst {
	return b.insert(&Inst{Op: OpLoad, typ: t, Operands: []Value{p}}, "")
}

func (b *Builder) CreateStore(v, p Value) *Inst {
	return b.insert(&Inst{Op: OpStore, Operands: []Value{v, p}}, "")
}

// CreateGEP offsets pointer p by off bytes.
func (b *Builder) CreateGEP(p, off Value) *Inst {
	return b.insert(&Inst{Op: OpGEP, typ: p.Type(), Operands: []Value{p, off}}, "")
}

// CreateCall calls fn with args.
func (b *Builder) CreateCall(fn *Function, args ...Value) *Inst {
	if len(args) != len(fn.Params) {
		panic(fmt.Sprintf("kir: call to %s with %d args, want %d", fn.Name, len(args), len(fn.Params)))
	}
	return b.insert(&Inst{Op: OpCall, typ: fn.Ret, Callee: fn, Operands: args}, "")
}

func (b *Builder) CreateBr(dest *Block) *Inst {
	return b.insert(&Inst{Op: OpBr, Succs: []*Block{dest}}, "")
}

func (b *Builder) CreateCondBr(cond Value, then, els *Block) *Inst {
	return b.insert(&Inst{Op: OpCondBr, Operands: []Value{cond}, Succs: []*Block{then, els}}, "")
}

// CreateSwitch dispatches on v with def as the fallback target.
func (b *Builder) CreateSwitch(v Value, def *Block) *Inst {
	return b.insert(&Inst{Op: OpSwitch, Operands: []Value{v}, Succs: []*Block{def}}, "")
}

func (b *Builder) CreateRet(v Value) *Inst {
	return b.insert(&Inst{Op: OpRet, Operands: []Value{v}}, "")
}

func (b *Builder) CreateRetVoid() *Inst {
	return b.insert(&Inst{Op: OpRet}, "")
}

func (b *Builder) CreateUnreachable() *Inst {
	return b.insert(&Inst{Op: OpUnreachable}, "")
}
