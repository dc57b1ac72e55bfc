package kir

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

// buildSum returns i64 sum(0..n-1) using an alloca-carried loop.
func buildSum(t *testing.T) (*Module, *Function) {
	mod := NewModule("sum")
	fn := mod.NewFunction("sum", I64, I64)
	fn.NameParams("n")
	entry := fn.NewBlock("entry")
	loop := fn.NewBlock("loop")
	body := fn.NewBlock("body")
	done := fn.NewBlock("done")

	b := NewBuilder()
	b.SetInsertPointAtEnd(entry)
	i := b.CreateAlloca(I64, "i")
	acc := b.CreateAlloca(I64, "acc")
	b.CreateStore(ConstInt(I64, 0), i)
	b.CreateStore(ConstInt(I64, 0), acc)
	b.CreateBr(loop)

	b.SetInsertPointAtEnd(loop)
	iv := b.CreateLoad(I64, i)
	b.CreateCondBr(b.CreateICmp(ULT, iv, fn.Arg(0)), body, done)

	b.SetInsertPointAtEnd(body)
	iv2 := b.CreateLoad(I64, i)
	sum := b.CreateAdd(b.CreateLoad(I64, acc), iv2)
	b.CreateStore(sum, acc)
	b.CreateStore(b.CreateAdd(iv2, ConstInt(I64, 1)), i)
	b.CreateBr(loop)

	b.SetInsertPointAtEnd(done)
	b.CreateRet(b.CreateLoad(I64, acc))
	return mod, fn
}

func TestMachineLoop(t *testing.T) {
	mod, fn := buildSum(t)
	m := NewEnv(mod).NewMachine(nil)
	res, err := m.Call(fn, IntVal(10))
	require.NoError(t, err)
	require.Equal(t, uint64(45), res.Uint64())
}

func TestMachineStepLimit(t *testing.T) {
	mod, fn := buildSum(t)
	m := NewEnv(mod).NewMachine(nil)
	m.MaxSteps = 20
	_, err := m.Call(fn, IntVal(1000))
	require.True(t, errors.Is(err, ErrStepLimit))
}

func TestMachineSignedOps(t *testing.T) {
	mod := NewModule("signed")
	fn := mod.NewFunction("f", I8, I8, I8)
	b := NewBuilder()
	b.SetInsertPointAtEnd(fn.NewBlock("entry"))
	b.CreateRet(b.CreateSRem(fn.Arg(0), fn.Arg(1)))

	m := NewEnv(mod).NewMachine(nil)
	// -7 srem 3 == -1 in two's complement i8.
	res, err := m.Call(fn, IntVal(0xf9), IntVal(3))
	require.NoError(t, err)
	require.Equal(t, uint64(0xff), res.Uint64())
}

func TestMachineWideShiftAndCompare(t *testing.T) {
	mod := NewModule("wide")
	fn := mod.NewFunction("f", I1, I256)
	b := NewBuilder()
	b.SetInsertPointAtEnd(fn.NewBlock("entry"))
	shifted := b.CreateAShr(fn.Arg(0), Word(300))
	b.CreateRet(b.CreateICmp(SLT, shifted, Word(0)))

	m := NewEnv(mod).NewMachine(nil)
	neg := new(uint256.Int).Neg(uint256.NewInt(5))
	res, err := m.Call(fn, WordVal(neg))
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Uint64())

	res, err = m.Call(fn, IntVal(5))
	require.NoError(t, err)
	require.Equal(t, uint64(0), res.Uint64())
}

func TestMachineCtlzAndExtern(t *testing.T) {
	mod := NewModule("ext")
	ctlz := mod.Declare("llvm.ctlz.i256", I256, I256, I1)
	host := mod.Declare("host_double", I64, I64)
	fn := mod.NewFunction("f", I64, I256)
	b := NewBuilder()
	b.SetInsertPointAtEnd(fn.NewBlock("entry"))
	lz := b.CreateCall(ctlz, fn.Arg(0), False())
	b.CreateRet(b.CreateCall(host, b.CreateTrunc(lz, I64)))

	env := NewEnv(mod)
	env.Bind("host_double", func(m *Machine, args []Val) (Val, error) {
		return IntVal(args[0].Uint64() * 2), nil
	})
	res, err := env.NewMachine(nil).Call(fn, IntVal(1))
	require.NoError(t, err)
	require.Equal(t, uint64(510), res.Uint64())
}

func TestMachineUnboundExtern(t *testing.T) {
	mod := NewModule("ext")
	missing := mod.Declare("missing", Void)
	fn := mod.NewFunction("f", Void)
	b := NewBuilder()
	b.SetInsertPointAtEnd(fn.NewBlock("entry"))
	b.CreateCall(missing)
	b.CreateRetVoid()

	_, err := NewEnv(mod).NewMachine(nil).Call(fn)
	require.ErrorIs(t, err, ErrUnknownExtern)
}

func TestMachineOutOfBounds(t *testing.T) {
	mod := NewModule("oob")
	g := mod.NewGlobal("buf", ArrayOf(I8, 16), Global)
	fn := mod.NewFunction("f", I256)
	b := NewBuilder()
	b.SetInsertPointAtEnd(fn.NewBlock("entry"))
	b.CreateRet(b.CreateLoad(I256, g))

	_, err := NewEnv(mod).NewMachine(nil).Call(fn)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestMachineLittleEndianMemory(t *testing.T) {
	mod := NewModule("mem")
	g := mod.NewGlobal("buf", ArrayOf(I8, 64), Global)
	fn := mod.NewFunction("f", I8)
	b := NewBuilder()
	b.SetInsertPointAtEnd(fn.NewBlock("entry"))
	b.CreateStore(Word(0x1122), b.CreateGEP(g, ConstInt(I64, 8)))
	b.CreateRet(b.CreateLoad(I8, b.CreateGEP(g, ConstInt(I64, 9))))

	env := NewEnv(mod)
	res, err := env.NewMachine(nil).Call(fn)
	require.NoError(t, err)
	require.Equal(t, uint64(0x11), res.Uint64())
	require.Equal(t, byte(0x22), env.Object("buf").Data[8])
}
