package compiler

import (
	"github.com/holiman/uint256"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/sanitizer"
	"github.com/cassc/mau-ityfuzz/params"
)

// Symbols shared with the runtime and the host driver.
const (
	EntryFunc  = "contract"
	KernelFunc = "main_contract"
	UpdateFunc = "updateBits"

	EVMCodeGlobal     = "__evmCode"
	EVMCodeSizeGlobal = "__evmCodeSize"
	CovBitsGlobal     = "__cov_bits"
	VirginBitsGlobal  = "__virgin_bits"
	BitmapsGlobal     = "__bitmaps"

	SelfAddressGlobal = "__self_address"
	OriginGlobal      = "__tx_origin"
	TimestampGlobal   = "__timestamp"
	NumberGlobal      = "__block_number"
	SelfBalanceGlobal = "__self_balance"
)

// Special registers read by get_thread_id.
const (
	TidXFunc   = "llvm.nvvm.read.ptx.sreg.tid.x"
	CtaidXFunc = "llvm.nvvm.read.ptx.sreg.ctaid.x"
	NtidXFunc  = "llvm.nvvm.read.ptx.sreg.ntid.x"
)

// Offsets inside one transaction record.
const (
	txCallerOff    = 0
	txCallValueOff = params.WordSize
	txSizeOff      = 2 * params.WordSize
	txDataOff      = params.TxHeaderSize
)

// leBytes returns w as 32 little-endian bytes.
func leBytes(w *uint256.Int) []byte {
	be := w.Bytes32()
	out := make([]byte, 32)
	for i := range out {
		out[i] = be[31-i]
	}
	return out
}

// addGlobals defines the code blob, the coverage maps and the environment
// words. code is the whole input, constructor included.
func (c *Context) addGlobals(code []byte) {
	m := c.Module
	blob := m.NewGlobal(EVMCodeGlobal, kir.ArrayOf(kir.I8, params.EVMCodeSize), kir.Global)
	blob.Init = append([]byte(nil), code...)

	size := m.NewGlobal(EVMCodeSizeGlobal, kir.I32, kir.Global)
	size.Init = leBytes(uint256.NewInt(uint64(len(code))))[:4]

	m.NewGlobal(CovBitsGlobal, kir.ArrayOf(kir.I8, params.MapSize), kir.Global)
	m.NewGlobal(VirginBitsGlobal, kir.ArrayOf(kir.I8, params.MapSize), kir.Global)
	m.NewGlobal(BitmapsGlobal, kir.ArrayOf(kir.I8, c.Config.Threads*params.MapSize), kir.Global)

	env := c.Config.Env
	words := []struct {
		name string
		val  *uint256.Int
	}{
		{SelfAddressGlobal, new(uint256.Int).SetBytes(env.Address.Bytes())},
		{OriginGlobal, new(uint256.Int).SetBytes(env.Origin.Bytes())},
		{TimestampGlobal, uint256.NewInt(env.Timestamp)},
		{NumberGlobal, uint256.NewInt(env.Number)},
		{SelfBalanceGlobal, uint256.NewInt(env.SelfBalance)},
	}
	for _, w := range words {
		g := m.NewGlobal(w.name, kir.I256, kir.Generic)
		g.Private = true
		g.Init = leBytes(w.val)
	}
}

// ThreadID returns get_thread_id() = tid.x + ctaid.x * ntid.x.
func (c *Context) ThreadID() *kir.Function {
	return c.helper(sanitizer.ThreadIDFunc, func(c *Context) *kir.Function {
		tid := c.declare(TidXFunc, kir.I32)
		ctaid := c.declare(CtaidXFunc, kir.I32)
		ntid := c.declare(NtidXFunc, kir.I32)
		f := c.Module.NewFunction(sanitizer.ThreadIDFunc, kir.I32)
		b := kir.NewBuilder()
		b.SetInsertPointAtEnd(f.NewBlock("Entry"))
		block := b.CreateMul(b.CreateCall(ctaid), b.CreateCall(ntid))
		b.CreateRet(b.CreateAdd(b.CreateCall(tid), block))
		return f
	})
}

// solidityCall stands in for every external call. It always succeeds.
func (c *Context) solidityCall() *kir.Function {
	return c.helper(SolidityCallFunc, func(c *Context) *kir.Function {
		f := c.Module.NewFunction(SolidityCallFunc, kir.I1)
		f.Private = true
		b := kir.NewBuilder()
		b.SetInsertPointAtEnd(f.NewBlock("Entry"))
		b.CreateRet(kir.True())
		return f
	})
}

// buildKernel wraps entry as the grid entry point. Each thread below count
// reads the transaction record at txs + tid*SeedSize and runs entry against
// its own coverage map. The status returned by entry is dropped.
func (c *Context) buildKernel(entry *kir.Function) *kir.Function {
	tidFn := c.ThreadID()
	bitmaps := c.Module.Global(BitmapsGlobal)
	// The reducer is launched by the host after each batch.
	c.declare(UpdateFunc, kir.Void, kir.GlobalPtr)

	k := c.Module.NewFunction(KernelFunc, kir.Void, kir.GlobalPtr, kir.I32)
	k.Kernel = true
	k.NameParams("txs", "count")
	i64 := func(v uint64) *kir.Const { return kir.ConstInt(kir.I64, v) }

	head := k.NewBlock("Entry")
	body := k.NewBlock("Run")
	done := k.NewBlock("Done")

	b := kir.NewBuilder()
	b.SetInsertPointAtEnd(head)
	tid32 := b.CreateCall(tidFn)
	b.CreateCondBr(b.CreateICmp(kir.UGE, tid32, k.Arg(1)), done, body)

	b.SetInsertPointAtEnd(body)
	tid := b.CreateZExt(tid32, kir.I64)
	tx := b.CreateGEP(k.Arg(0), b.CreateMul(tid, i64(params.SeedSize)))
	rec := b.CreateAddrSpaceCast(tx, kir.Ptr)
	caller := b.CreateGEP(rec, i64(txCallerOff))
	callvalue := b.CreateGEP(rec, i64(txCallValueOff))
	size := b.CreateLoad(kir.I32, b.CreateGEP(rec, i64(txSizeOff)))
	calldata := b.CreateGEP(rec, i64(txDataOff))
	bitmap := b.CreateGEP(bitmaps, b.CreateMul(tid, i64(params.MapSize)))
	b.CreateCall(entry, caller, callvalue, calldata, size, bitmap)
	b.CreateBr(done)

	b.SetInsertPointAtEnd(done)
	b.CreateRetVoid()
	return k
}
