package sanitizer

import (
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
	"github.com/cassc/mau-ityfuzz/params"
)

type report struct {
	tid int
	sig params.SigByte
	pc  uint32
}

// bindSignals binds the signal externs and returns the non-zero reports.
func bindSignals(env *kir.Env, tid uint64) *[]report {
	var got []report
	env.Bind(ThreadIDFunc, func(*kir.Machine, []kir.Val) (kir.Val, error) {
		return kir.IntVal(tid), nil
	})
	env.Bind(BugSetFunc, func(_ *kir.Machine, args []kir.Val) (kir.Val, error) {
		if sig := params.SigByte(args[1].Uint64()); sig != params.SigExecNone {
			got = append(got, report{int(args[0].Uint64()), sig, uint32(args[2].Uint64())})
		}
		return kir.Val{}, nil
	})
	return &got
}

func countSignals(fn *kir.Function) int {
	n := 0
	fn.Walk(func(inst *kir.Inst) bool {
		if IsSignal(inst) {
			n++
		}
		return true
	})
	return n
}

func mustLookup(t *testing.T, names ...string) []Oracle {
	t.Helper()
	oracles, err := Lookup(names)
	require.NoError(t, err)
	return oracles
}

func TestNames(t *testing.T) {
	require.Equal(t, []string{"ibsan", "resan", "tosan", "scsan", "bdsan", "mesan", "ucsan"}, Names())
}

func TestLookup(t *testing.T) {
	oracles := mustLookup(t, "ucsan", " IBSAN", "ibsan", "")
	require.Len(t, oracles, 2)
	assert.Equal(t, "ibsan", oracles[0].Name())
	assert.Equal(t, "ucsan", oracles[1].Name())

	require.Empty(t, mustLookup(t))

	_, err := Lookup([]string{"ibsan", "asan"})
	require.ErrorIs(t, err, ErrUnknownSanitizer)
	require.Contains(t, err.Error(), `"asan"`)
}

// arithFunc builds f(x, y) computing x op y, tagged as an overflow candidate.
func arithFunc(op string) (*kir.Module, *kir.Function, *kir.TagMap) {
	mod := kir.NewModule("arith")
	fn := mod.NewFunction("f", kir.Void, kir.I256, kir.I256)
	b := kir.NewBuilder()
	b.SetInsertPointAtEnd(fn.NewBlock("entry"))
	var res *kir.Inst
	switch op {
	case "add":
		res = b.CreateAdd(fn.Arg(0), fn.Arg(1))
	case "sub":
		res = b.CreateSub(fn.Arg(0), fn.Arg(1))
	}
	b.CreateRetVoid()
	tags := kir.NewTagMap()
	tags.Attach(res, kir.TagIntegerBug, 5, op)
	return mod, fn, tags
}

func TestIntegerBug(t *testing.T) {
	ones := new(uint256.Int).SetAllOne()
	tests := []struct {
		op   string
		x, y *uint256.Int
		bug  bool
	}{
		{"add", ones, uint256.NewInt(1), true},
		{"add", uint256.NewInt(1), uint256.NewInt(2), false},
		{"sub", uint256.NewInt(1), uint256.NewInt(2), true},
		{"sub", uint256.NewInt(2), uint256.NewInt(2), false},
	}
	for _, tt := range tests {
		mod, fn, tags := arithFunc(tt.op)
		counts := Run(NewPass(mod, fn, tags, nil), mustLookup(t, "ibsan"))
		require.Equal(t, map[string]int{"ibsan": 1}, counts)

		env := kir.NewEnv(mod)
		got := bindSignals(env, 3)
		_, err := env.NewMachine(nil).Call(fn, kir.WordVal(tt.x), kir.WordVal(tt.y))
		require.NoError(t, err)
		if tt.bug {
			require.Equal(t, []report{{3, params.SigIntegerBug, 5}}, *got, tt.op)
		} else {
			require.Empty(t, *got, tt.op)
		}
	}
}

func TestRunStripsTags(t *testing.T) {
	mod, fn, tags := arithFunc("add")
	tags.Attach(fn.EntryBlock().Insts[0], kir.TagTxOrigin, 1, "origin")
	p := NewPass(mod, fn, tags, nil)

	require.Equal(t, 1, Run(p, mustLookup(t, "ibsan"))["ibsan"])
	require.Zero(t, tags.Len())
	// Nothing left to consume.
	require.Equal(t, 0, Run(p, mustLookup(t, "ibsan", "tosan"))["ibsan"])
	require.Equal(t, 1, countSignals(fn))
}

// callFunc builds an external call followed by a block that may write storage.
func callFunc(gas uint64, store bool) (*kir.Module, *kir.Function, *kir.TagMap) {
	mod := kir.NewModule("call")
	fn := mod.NewFunction("f", kir.Void)
	entry := fn.NewBlock("entry")
	next := fn.NewBlock("next")
	b := kir.NewBuilder()
	b.SetInsertPointAtEnd(entry)
	call := b.CreateCall(mod.Declare("ext_call", kir.I1))
	b.CreateBr(next)

	b.SetInsertPointAtEnd(next)
	if store {
		slot := b.CreateAlloca(kir.I256, "slot")
		b.CreateCall(mod.Declare(SStoreFunc, kir.Void, kir.Ptr, kir.Ptr), slot, slot)
	}
	b.CreateRetVoid()

	tags := kir.NewTagMap()
	tags.Attach(call, kir.TagReentrancy, 9, "call", kir.Word(gas))
	return mod, fn, tags
}

func TestReentrancy(t *testing.T) {
	tests := []struct {
		name  string
		gas   uint64
		store bool
		want  int
	}{
		{"store after call", 0xffff, true, 1},
		{"stipend only", params.CallGasStipend, true, 0},
		{"no store", 0xffff, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mod, fn, tags := callFunc(tt.gas, tt.store)
			counts := Run(NewPass(mod, fn, tags, nil), mustLookup(t, "resan"))
			require.Equal(t, tt.want, counts["resan"])
			require.Equal(t, tt.want, countSignals(fn))
			if tt.want > 0 {
				// The report precedes the call.
				insts := fn.EntryBlock().Insts
				require.True(t, IsSignal(insts[len(insts)-3]))
			}
		})
	}
}

func TestReachesStoreSameBlock(t *testing.T) {
	mod := kir.NewModule("same")
	fn := mod.NewFunction("f", kir.Void)
	b := kir.NewBuilder()
	b.SetInsertPointAtEnd(fn.NewBlock("entry"))
	slot := b.CreateAlloca(kir.I256, "slot")
	call := b.CreateCall(mod.Declare("ext_call", kir.I1))
	b.CreateCall(mod.Declare(SStoreFunc, kir.Void, kir.Ptr, kir.Ptr), slot, slot)
	b.CreateRetVoid()
	require.True(t, reachesStore(call))
}

func TestUnusedReturn(t *testing.T) {
	for _, used := range []bool{false, true} {
		mod := kir.NewModule("ret")
		fn := mod.NewFunction("f", kir.I256)
		b := kir.NewBuilder()
		b.SetInsertPointAtEnd(fn.NewBlock("entry"))
		res := b.CreateZExt(b.CreateCall(mod.Declare("ext_call", kir.I1)), kir.I256)
		if used {
			b.CreateRet(res)
		} else {
			b.CreateRet(kir.Word(0))
		}
		tags := kir.NewTagMap()
		tags.Attach(res, kir.TagUnusedReturn, 12, "call")

		counts := Run(NewPass(mod, fn, tags, nil), mustLookup(t, "mesan"))
		if used {
			require.Zero(t, counts["mesan"])
			continue
		}
		require.Equal(t, 1, counts["mesan"])
		env := kir.NewEnv(mod)
		got := bindSignals(env, 0)
		env.Bind("ext_call", func(*kir.Machine, []kir.Val) (kir.Val, error) { return kir.IntVal(1), nil })
		_, err := env.NewMachine(nil).Call(fn)
		require.NoError(t, err)
		require.Equal(t, []report{{0, params.SigUnusedReturn, 12}}, *got)
	}
}

func TestMarkers(t *testing.T) {
	tests := []struct {
		name string
		kind kir.TagKind
		sig  params.SigByte
	}{
		{"tosan", kir.TagTxOrigin, params.SigTxOrigin},
		{"scsan", kir.TagSelfDestruct, params.SigSelfDestruct},
		{"bdsan", kir.TagBlockState, params.SigBlockState},
		{"ucsan", kir.TagUncheckedCall, params.SigUncheckedCall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mod := kir.NewModule(tt.name)
			fn := mod.NewFunction("f", kir.Void)
			b := kir.NewBuilder()
			b.SetInsertPointAtEnd(fn.NewBlock("entry"))
			site := b.CreateRetVoid()
			tags := kir.NewTagMap()
			tags.Attach(site, tt.kind, 40, tt.name)

			// Oracles for other tags leave the site alone.
			require.Equal(t, 1, Run(NewPass(mod, fn, tags, nil), mustLookup(t, tt.name, "ibsan"))[tt.name])

			env := kir.NewEnv(mod)
			got := bindSignals(env, 1)
			_, err := env.NewMachine(nil).Call(fn)
			require.NoError(t, err)
			require.Equal(t, []report{{1, tt.sig, 40}}, *got)
		})
	}
}

func TestCoverage(t *testing.T) {
	mod := kir.NewModule("cov")
	fn := mod.NewFunction("f", kir.Void, kir.Ptr)
	entry := fn.NewBlock("entry")
	head := fn.NewBlock("bb0")
	head.EVMOffset = 0
	tail := fn.NewBlock("bb5")
	tail.EVMOffset = 5

	sstore := mod.Declare(SStoreFunc, kir.Void, kir.Ptr, kir.Ptr)
	sload := mod.Declare(SLoadFunc, kir.Void, kir.Ptr, kir.Ptr)
	b := kir.NewBuilder()
	b.SetInsertPointAtEnd(entry)
	slot := b.CreateAlloca(kir.I256, "slot")
	b.CreateBr(head)
	b.SetInsertPointAtEnd(head)
	b.CreateCall(sstore, slot, slot)
	b.CreateBr(tail)
	b.SetInsertPointAtEnd(tail)
	b.CreateCall(sload, slot, slot)
	b.CreateRetVoid()

	st := Coverage(mod, fn, 0, rand.New(rand.NewSource(1)))
	require.Equal(t, CoverageStats{Edges: 2, Stores: 1, Loads: 1}, st)

	env := kir.NewEnv(mod)
	nop := func(*kir.Machine, []kir.Val) (kir.Val, error) { return kir.Val{}, nil }
	env.Bind(SStoreFunc, nop)
	env.Bind(SLoadFunc, nop)
	env.Bind(HashWordFunc, func(*kir.Machine, []kir.Val) (kir.Val, error) { return kir.IntVal(7), nil })
	bitmap := kir.NewObject("bitmap", params.MapSize)
	_, err := env.NewMachine(nil).Call(fn, kir.PtrVal(bitmap, 0))
	require.NoError(t, err)

	// The load saw the key of the store.
	require.Equal(t, byte(1), bitmap.Data[0])
	hits := 0
	for _, v := range bitmap.Data {
		if v != 0 {
			hits++
		}
	}
	require.GreaterOrEqual(t, hits, 1)
	require.LessOrEqual(t, hits, 3)
}

func TestCoverageWithoutStorage(t *testing.T) {
	mod := kir.NewModule("cov")
	fn := mod.NewFunction("f", kir.Void, kir.Ptr)
	entry := fn.NewBlock("entry")
	blk := fn.NewBlock("bb0")
	blk.EVMOffset = 0
	b := kir.NewBuilder()
	b.SetInsertPointAtEnd(entry)
	b.CreateBr(blk)
	b.SetInsertPointAtEnd(blk)
	b.CreateRetVoid()

	st := Coverage(mod, fn, 0, rand.New(rand.NewSource(1)))
	require.Equal(t, CoverageStats{Edges: 1}, st)
	require.Nil(t, mod.Function(HashWordFunc))
}
