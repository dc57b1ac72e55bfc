package kir

import (
	"github.com/holiman/uint256"
)

// signExtend widens a bits-wide two's complement value to 256 bits.
func signExtend(v *uint256.Int, bits int) *uint256.Int {
	r := new(uint256.Int).Set(v)
	if bits >= 256 || bits <= 0 {
		return r
	}
	sign := new(uint256.Int).Rsh(r, uint(bits-1))
	if sign.Uint64()&1 == 0 {
		return r
	}
	mask := new(uint256.Int).Lsh(allOnes(), uint(bits))
	return r.Or(r, mask)
}

func execBinary(m *Machine, f *frame, inst *Inst) (Val, error) {
	ops, err := m.operands(f, inst)
	if err != nil {
		return Val{}, err
	}
	bits := inst.typ.Bits
	x, y := &ops[0].W, &ops[1].W
	r := new(uint256.Int)
	switch inst.Op {
	case OpAdd:
		r.Add(x, y)
	case OpSub:
		r.Sub(x, y)
	case OpMul:
		r.Mul(x, y)
	case OpUDiv:
		r.Div(x, y)
	case OpURem:
		r.Mod(x, y)
	case OpSDiv:
		r.SDiv(signExtend(x, bits), signExtend(y, bits))
	case OpSRem:
		r.SMod(signExtend(x, bits), signExtend(y, bits))
	case OpAnd:
		r.And(x, y)
	case OpOr:
		r.Or(x, y)
	case OpXor:
		r.Xor(x, y)
	case OpShl:
		if y.LtUint64(uint64(bits)) {
			r.Lsh(x, uint(y.Uint64()))
		}
	case OpLShr:
		if y.LtUint64(uint64(bits)) {
			r.Rsh(x, uint(y.Uint64()))
		}
	case OpAShr:
		n := uint64(bits - 1)
		if y.LtUint64(uint64(bits)) {
			n = y.Uint64()
		}
		r.SRsh(signExtend(x, bits), uint(n))
	}
	truncate(r, bits)
	return WordVal(r), nil
}

func execICmp(m *Machine, f *frame, inst *Inst) (Val, error) {
	ops, err := m.operands(f, inst)
	if err != nil {
		return Val{}, err
	}
	bits := inst.Operands[0].Type().Bits
	x, y := &ops[0].W, &ops[1].W
	var res bool
	switch inst.Pred {
	case EQ:
		res = x.Eq(y)
	case NE:
		res = !x.Eq(y)
	case ULT:
		res = x.Lt(y)
	case ULE:
		res = !x.Gt(y)
	case UGT:
		res = x.Gt(y)
	case UGE:
		res = !x.Lt(y)
	default:
		sx, sy := signExtend(x, bits), signExtend(y, bits)
		switch inst.Pred {
		case SLT:
			res = sx.Slt(sy)
		case SLE:
			res = !sx.Sgt(sy)
		case SGT:
			res = sx.Sgt(sy)
		case SGE:
			res = !sx.Slt(sy)
		}
	}
	if res {
		return IntVal(1), nil
	}
	return IntVal(0), nil
}

func execSelect(m *Machine, f *frame, inst *Inst) (Val, error) {
	ops, err := m.operands(f, inst)
	if err != nil {
		return Val{}, err
	}
	if ops[0].W.IsZero() {
		return ops[2], nil
	}
	return ops[1], nil
}

func execCast(m *Machine, f *frame, inst *Inst) (Val, error) {
	v, err := m.eval(f, inst.Operands[0])
	if err != nil {
		return Val{}, err
	}
	switch inst.Op {
	case OpSExt:
		r := signExtend(&v.W, inst.Operands[0].Type().Bits)
		truncate(r, inst.typ.Bits)
		return WordVal(r), nil
	case OpTrunc:
		r := new(uint256.Int).Set(&v.W)
		truncate(r, inst.typ.Bits)
		return WordVal(r), nil
	}
	// zext and addrspacecast keep the payload.
	return v, nil
}

func execAlloca(m *Machine, f *frame, inst *Inst) (Val, error) {
	return PtrVal(NewObject(inst.name, inst.Alloc.Size()), 0), nil
}

func execLoad(m *Machine, f *frame, inst *Inst) (Val, error) {
	p, err := m.eval(f, inst.Operands[0])
	if err != nil {
		return Val{}, err
	}
	b, err := m.span(p, inst.typ.Size())
	if err != nil {
		return Val{}, err
	}
	w := leWord(b)
	truncate(w, inst.typ.Bits)
	return WordVal(w), nil
}

func execStore(m *Machine, f *frame, inst *Inst) (Val, error) {
	ops, err := m.operands(f, inst)
	if err != nil {
		return Val{}, err
	}
	if ops[0].IsPtr() {
		return Val{}, ErrNotPointer
	}
	b, err := m.span(ops[1], inst.Operands[0].Type().Size())
	if err != nil {
		return Val{}, err
	}
	putLE(b, &ops[0].W)
	return Val{}, nil
}

func execGEP(m *Machine, f *frame, inst *Inst) (Val, error) {
	ops, err := m.operands(f, inst)
	if err != nil {
		return Val{}, err
	}
	if !ops[0].IsPtr() {
		return Val{}, ErrNotPointer
	}
	off := signExtend(&ops[1].W, inst.Operands[1].Type().Bits)
	return PtrVal(ops[0].Obj, ops[0].Off+int64(off.Uint64())), nil
}

func execCall(m *Machine, f *frame, inst *Inst) (Val, error) {
	args, err := m.operands(f, inst)
	if err != nil {
		return Val{}, err
	}
	return m.Call(inst.Callee, args...)
}
