package compiler

import (
	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
)

// Names of the shared wide-arithmetic routines.
const (
	UDivRemFunc = "evm.udivrem.i256"
	SDivRemFunc = "evm.sdivrem.i256"
	MulFunc     = "evm.mul.i256"
	ctlzFunc    = "llvm.ctlz.i256"
)

// UDivRem returns evm.udivrem.i256(x_ptr, y_ptr, q_ptr, r_ptr), built on first use.
func (c *Context) UDivRem() *kir.Function { return c.helper(UDivRemFunc, buildUDivRem) }

// SDivRem returns evm.sdivrem.i256(x_ptr, y_ptr, q_ptr, r_ptr), built on first use.
func (c *Context) SDivRem() *kir.Function { return c.helper(SDivRemFunc, buildSDivRem) }

// Mul returns evm.mul.i256(ret_ptr, lhs_ptr, rhs_ptr), built on first use.
func (c *Context) Mul() *kir.Function { return c.helper(MulFunc, buildMul) }

func newHelper(c *Context, name string, params []*kir.Type, names ...string) *kir.Function {
	f := c.Module.NewFunction(name, kir.Void, params...)
	f.Private = true
	f.NameParams(names...)
	return f
}

// buildUDivRem emits a shift-and-subtract divider. The divisor is first
// aligned with the dividend by the difference of their leading zero counts;
// one compare/subtract step then runs per alignment bit. A zero divisor
// yields zero quotient and zero remainder.
func buildUDivRem(c *Context) *kir.Function {
	ctlz := c.declare(ctlzFunc, kir.I256, kir.I256, kir.I1)
	f := newHelper(c, UDivRemFunc, []*kir.Type{kir.Ptr, kir.Ptr, kir.Ptr, kir.Ptr}, "x_ptr", "y_ptr", "q_ptr", "r_ptr")
	xp, yp, qp, rp := f.Arg(0), f.Arg(1), f.Arg(2), f.Arg(3)

	entry := f.NewBlock("Entry")
	zeroDiv := f.NewBlock("ZeroDiv")
	check := f.NewBlock("Check")
	small := f.NewBlock("Small")
	mainBlk := f.NewBlock("Main")
	loop := f.NewBlock("Loop")
	cont := f.NewBlock("Continue")
	done := f.NewBlock("Return")

	zero, one := kir.Word(0), kir.Word(1)
	b := kir.NewBuilder()

	b.SetInsertPointAtEnd(entry)
	yv := b.CreateAlloca(kir.I256, "y.cur")
	rv := b.CreateAlloca(kir.I256, "r.cur")
	iv := b.CreateAlloca(kir.I256, "i.cur")
	qv := b.CreateAlloca(kir.I256, "q.cur")
	x := b.CreateLoad(kir.I256, xp)
	y := b.CreateLoad(kir.I256, yp)
	b.CreateCondBr(b.CreateICmp(kir.EQ, y, zero), zeroDiv, check)

	b.SetInsertPointAtEnd(zeroDiv)
	b.CreateStore(zero, qp)
	b.CreateStore(zero, rp)
	b.CreateRetVoid()

	b.SetInsertPointAtEnd(check)
	b.CreateCondBr(b.CreateICmp(kir.ULE, y, x), mainBlk, small)

	b.SetInsertPointAtEnd(small)
	b.CreateStore(zero, qp)
	b.CreateStore(x, rp)
	b.CreateRetVoid()

	// y <= x and y != 0, so the shift below is in [0, 255].
	b.SetInsertPointAtEnd(mainBlk)
	yLz := b.CreateCall(ctlz, y, kir.False())
	rLz := b.CreateCall(ctlz, x, kir.False())
	i0 := b.CreateSub(yLz, rLz)
	b.CreateStore(b.CreateShl(y, i0), yv)
	b.CreateStore(x, rv)
	b.CreateStore(i0, iv)
	b.CreateStore(zero, qv)
	b.CreateBr(loop)

	b.SetInsertPointAtEnd(loop)
	yc := b.CreateLoad(kir.I256, yv)
	rc := b.CreateLoad(kir.I256, rv)
	ic := b.CreateLoad(kir.I256, iv)
	qc := b.CreateLoad(kir.I256, qv)
	rGEy := b.CreateICmp(kir.UGE, rc, yc)
	r1 := b.CreateSelect(rGEy, b.CreateSub(rc, yc), rc)
	q1 := b.CreateSelect(rGEy, b.CreateOr(qc, one), qc)
	b.CreateStore(r1, rv)
	b.CreateStore(q1, qv)
	b.CreateCondBr(b.CreateICmp(kir.EQ, ic, zero), done, cont)

	b.SetInsertPointAtEnd(cont)
	b.CreateStore(b.CreateSub(ic, one), iv)
	b.CreateStore(b.CreateShl(q1, one), qv)
	b.CreateStore(b.CreateLShr(yc, one), yv)
	b.CreateBr(loop)

	b.SetInsertPointAtEnd(done)
	b.CreateStore(b.CreateLoad(kir.I256, qv), qp)
	b.CreateStore(b.CreateLoad(kir.I256, rv), rp)
	b.CreateRetVoid()
	return f
}

// buildSDivRem divides magnitudes and reapplies the signs. The remainder
// takes the sign of the dividend.
func buildSDivRem(c *Context) *kir.Function {
	udivrem := c.UDivRem()
	f := newHelper(c, SDivRemFunc, []*kir.Type{kir.Ptr, kir.Ptr, kir.Ptr, kir.Ptr}, "x_ptr", "y_ptr", "q_ptr", "r_ptr")
	xp, yp, qp, rp := f.Arg(0), f.Arg(1), f.Arg(2), f.Arg(3)

	b := kir.NewBuilder()
	b.SetInsertPointAtEnd(f.NewBlock("Entry"))
	pxabs := b.CreateAlloca(kir.I256, "x.abs")
	pyabs := b.CreateAlloca(kir.I256, "y.abs")
	pq := b.CreateAlloca(kir.I256, "q.abs")
	pr := b.CreateAlloca(kir.I256, "r.abs")

	zero := kir.Word(0)
	x := b.CreateLoad(kir.I256, xp)
	y := b.CreateLoad(kir.I256, yp)
	xNeg := b.CreateICmp(kir.SLT, x, zero)
	yNeg := b.CreateICmp(kir.SLT, y, zero)
	b.CreateStore(b.CreateSelect(xNeg, b.CreateNeg(x), x), pxabs)
	b.CreateStore(b.CreateSelect(yNeg, b.CreateNeg(y), y), pyabs)
	b.CreateCall(udivrem, pxabs, pyabs, pq, pr)
	qAbs := b.CreateLoad(kir.I256, pq)
	rAbs := b.CreateLoad(kir.I256, pr)

	r := b.CreateSelect(xNeg, b.CreateNeg(rAbs), rAbs)
	qNeg := b.CreateXor(xNeg, yNeg)
	q := b.CreateSelect(qNeg, b.CreateNeg(qAbs), qAbs)
	b.CreateStore(q, qp)
	b.CreateStore(r, rp)
	b.CreateRetVoid()
	return f
}

// buildMul multiplies two words from four half-width partial products of
// the low halves plus the two cross products feeding the high half.
func buildMul(c *Context) *kir.Function {
	f := newHelper(c, MulFunc, []*kir.Type{kir.Ptr, kir.Ptr, kir.Ptr}, "ret_ptr", "lhs_ptr", "rhs_ptr")
	retp, lhsp, rhsp := f.Arg(0), f.Arg(1), f.Arg(2)

	const (
		shift     = 128
		halfShift = 64
	)
	lo := kir.I128
	halfMask := kir.ConstInt(lo, ^uint64(0))
	sh := func(n uint64) *kir.Const { return kir.ConstInt(lo, n) }

	b := kir.NewBuilder()
	b.SetInsertPointAtEnd(f.NewBlock("mul.Entry"))
	lhs := b.CreateLoad(kir.I256, lhsp)
	rhs := b.CreateLoad(kir.I256, rhsp)

	lhsL := b.CreateTrunc(lhs, lo)
	lhsH := b.CreateTrunc(b.CreateLShr(lhs, kir.Word(shift)), lo)
	rhsL := b.CreateTrunc(rhs, lo)
	rhsH := b.CreateTrunc(b.CreateLShr(rhs, kir.Word(shift)), lo)

	lhsLL := b.CreateAnd(lhsL, halfMask)
	rhsLL := b.CreateAnd(rhsL, halfMask)
	t := b.CreateMul(lhsLL, rhsLL)
	tL := b.CreateAnd(t, halfMask)
	tH := b.CreateLShr(t, sh(halfShift))

	lhsLH := b.CreateLShr(lhsL, sh(halfShift))
	rhsLH := b.CreateLShr(rhsL, sh(halfShift))

	u := b.CreateAdd(b.CreateMul(lhsLH, rhsLL), tH)
	uL := b.CreateAnd(u, halfMask)
	uH := b.CreateLShr(u, sh(halfShift))

	v := b.CreateAdd(b.CreateMul(lhsLL, rhsLH), uL)
	vH := b.CreateLShr(v, sh(halfShift))

	w := b.CreateAdd(b.CreateMul(lhsLH, rhsLH), b.CreateAdd(uH, vH))

	oL := b.CreateZExt(b.CreateAdd(tL, b.CreateShl(v, sh(halfShift))), kir.I256)
	cross := b.CreateAdd(b.CreateMul(rhsH, lhsL), b.CreateMul(rhsL, lhsH))
	oH := b.CreateZExt(b.CreateAdd(w, cross), kir.I256)

	b.CreateStore(b.CreateAdd(oL, b.CreateShl(oH, kir.Word(shift))), retp)
	b.CreateRetVoid()
	return f
}
