package compiler

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
)

type arithHarness struct {
	t     *testing.T
	ctx   *Context
	m     *kir.Machine
	words [4]kir.Val
}

func newArithHarness(t *testing.T) *arithHarness {
	h := &arithHarness{t: t, ctx: NewContext("arith", DefaultConfig())}
	// Build every helper before the environment snapshots the module.
	h.ctx.UDivRem()
	h.ctx.SDivRem()
	h.ctx.Mul()
	h.m = kir.NewEnv(h.ctx.Module).NewMachine(nil)
	for i := range h.words {
		h.words[i] = kir.PtrVal(kir.NewObject("w", 32), 0)
	}
	return h
}

func (h *arithHarness) set(i int, v *uint256.Int) {
	require.NoError(h.t, h.m.WriteWord(h.words[i], v))
}

func (h *arithHarness) get(i int) *uint256.Int {
	v, err := h.m.ReadWord(h.words[i])
	require.NoError(h.t, err)
	return v
}

func (h *arithHarness) divrem(fn *kir.Function, x, y *uint256.Int) (q, r *uint256.Int) {
	h.set(0, x)
	h.set(1, y)
	_, err := h.m.Call(fn, h.words[0], h.words[1], h.words[2], h.words[3])
	require.NoError(h.t, err)
	return h.get(2), h.get(3)
}

func (h *arithHarness) mul(x, y *uint256.Int) *uint256.Int {
	h.set(1, x)
	h.set(2, y)
	_, err := h.m.Call(h.ctx.Mul(), h.words[0], h.words[1], h.words[2])
	require.NoError(h.t, err)
	return h.get(0)
}

func arithOperands() [][2]*uint256.Int {
	ones := new(uint256.Int).SetAllOne()
	minInt := new(uint256.Int).Lsh(uint256.NewInt(1), 255)
	minusOne := new(uint256.Int).Set(ones)
	out := [][2]*uint256.Int{
		{uint256.NewInt(0), uint256.NewInt(0)},
		{uint256.NewInt(7), uint256.NewInt(0)},
		{uint256.NewInt(3), uint256.NewInt(7)},
		{uint256.NewInt(7), uint256.NewInt(7)},
		{ones, uint256.NewInt(1)},
		{ones, ones},
		{ones, uint256.NewInt(2)},
		{minInt, minusOne},
		{minInt, uint256.NewInt(3)},
		{uint256.NewInt(100), new(uint256.Int).Neg(uint256.NewInt(7))},
		{new(uint256.Int).Neg(uint256.NewInt(100)), uint256.NewInt(7)},
	}
	f := fuzz.NewWithSeed(7).NilChance(0)
	for i := 0; i < 64; i++ {
		var a, b [4]uint64
		f.Fuzz(&a)
		f.Fuzz(&b)
		// Shorten some divisors so the quotient has more than one bit.
		for j := 0; j < i%4; j++ {
			b[3-j] = 0
		}
		out = append(out, [2]*uint256.Int{(*uint256.Int)(&a), (*uint256.Int)(&b)})
	}
	return out
}

func TestUDivRemMatchesUint256(t *testing.T) {
	h := newArithHarness(t)
	for _, ops := range arithOperands() {
		x, y := ops[0], ops[1]
		q, r := h.divrem(h.ctx.UDivRem(), x, y)
		require.Equal(t, new(uint256.Int).Div(x, y), q, "%s / %s", x.Hex(), y.Hex())
		require.Equal(t, new(uint256.Int).Mod(x, y), r, "%s %% %s", x.Hex(), y.Hex())
	}
}

func TestSDivRemMatchesUint256(t *testing.T) {
	h := newArithHarness(t)
	for _, ops := range arithOperands() {
		x, y := ops[0], ops[1]
		q, r := h.divrem(h.ctx.SDivRem(), x, y)
		require.Equal(t, new(uint256.Int).SDiv(x, y), q, "%s sdiv %s", x.Hex(), y.Hex())
		require.Equal(t, new(uint256.Int).SMod(x, y), r, "%s smod %s", x.Hex(), y.Hex())
	}
}

func TestMulMatchesUint256(t *testing.T) {
	h := newArithHarness(t)
	for _, ops := range arithOperands() {
		x, y := ops[0], ops[1]
		require.Equal(t, new(uint256.Int).Mul(x, y), h.mul(x, y), "%s * %s", x.Hex(), y.Hex())
	}
}

func TestHelpersBuiltOnce(t *testing.T) {
	ctx := NewContext("arith", DefaultConfig())
	require.Same(t, ctx.UDivRem(), ctx.UDivRem())
	ctx.SDivRem()
	n := 0
	for _, f := range ctx.Module.Funcs {
		if f.Name == UDivRemFunc {
			n++
		}
	}
	require.Equal(t, 1, n)
	require.True(t, ctx.UDivRem().Private)
}
