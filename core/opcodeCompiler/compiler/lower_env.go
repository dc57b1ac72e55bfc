package compiler

import (
	"github.com/holiman/uint256"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/sanitizer"
	"github.com/cassc/mau-ityfuzz/params"
)

// Runtime primitives called by lowered code.
const (
	MLoadFunc        = "__device_mload"
	MStoreFunc       = "__device_mstore"
	SHA3Func         = "__device_sha3"
	CalldataLoadFunc = "__device_calldataload"
	CalldataCopyFunc = "__device_calldatacpy"
	AddModFunc       = "__addmod_word"
	MulModFunc       = "__mulmod_word"
	PowerFunc        = "__power_word"
	SolidityCallFunc = "solidity_call"
)

// Fixed results of opcodes whose inputs are not modelled.
var (
	balanceStandIn     = new(uint256.Int).Lsh(uint256.NewInt(1), 255)
	extCodeSizeStandIn = uint256.NewInt(1)
	extCodeHashStandIn = uint256.NewInt(0xabcd1234)
	blockHashStandIn   = uint256.NewInt(0x12345abcd)
	createStandIn      = uint256.NewInt(0xff)
	create2StandIn     = uint256.NewInt(0xfe)
	gasStandIn         = uint256.NewInt(2300000)
)

// Opcodes that count as inspecting a call result.
var checksCallResult = map[ByteCode]bool{
	ISZERO: true, EQ: true, LT: true, GT: true, SLT: true, SGT: true, JUMPI: true,
}

func (l *lowerer) envWord(name string) *kir.Inst {
	return l.load(l.ctx.Module.Global(name))
}

// lowerEnv handles environment, memory, storage, hashing and call opcodes.
func (l *lowerer) lowerEnv(op ByteCode) bool {
	b := l.b
	env := &l.ctx.Config.Env
	switch op {
	case ADDRESS:
		l.push(l.envWord(SelfAddressGlobal))
	case ORIGIN:
		v := l.envWord(OriginGlobal)
		l.tag(v, kir.TagTxOrigin, op)
		l.push(v)
	case TIMESTAMP, NUMBER:
		name := TimestampGlobal
		if op == NUMBER {
			name = NumberGlobal
		}
		v := l.envWord(name)
		l.tag(v, kir.TagBlockState, op)
		l.push(v)
	case SELFBALANCE:
		l.push(l.envWord(SelfBalanceGlobal))
	case CALLER:
		l.push(l.load(l.fn.Arg(0)))
	case CALLVALUE:
		l.push(l.load(l.fn.Arg(1)))
	case BALANCE:
		l.pop()
		l.push(kir.WordOf(balanceStandIn))
	case CALLDATALOAD:
		off := l.toI64(l.pop())
		fn := l.ctx.declare(CalldataLoadFunc, kir.Void, kir.Ptr, kir.Ptr, kir.I64)
		b.CreateCall(fn, l.scratch[0], l.fn.Arg(2), off)
		l.push(l.load(l.scratch[0]))
	case CALLDATASIZE:
		l.push(b.CreateZExt(l.fn.Arg(3), kir.I256))
	case CALLDATACOPY:
		dst, off, size := l.pop(), l.pop(), l.pop()
		fn := l.ctx.declare(CalldataCopyFunc, kir.Void, kir.Ptr, kir.I64, kir.Ptr, kir.I64, kir.I64)
		b.CreateCall(fn, l.mem, l.toI64(dst), l.fn.Arg(2), l.toI64(off), l.toI64(size))
	case CODESIZE:
		l.push(kir.Word(uint64(len(l.cfg.Code()))))
	case CODECOPY:
		l.lowerCodeCopy()
	case GASPRICE:
		l.push(kir.Word(env.GasPrice))
	case CHAINID:
		l.push(kir.Word(env.ChainID))
	case BASEFEE:
		l.push(kir.Word(env.BaseFee))
	case DIFFICULTY:
		l.push(kir.Word(env.Difficulty))
	case GASLIMIT:
		l.push(kir.Word(env.GasLimit))
	case EXTCODESIZE:
		l.pop()
		l.push(kir.WordOf(extCodeSizeStandIn))
	case EXTCODECOPY:
		l.popN(4)
	case RETURNDATASIZE:
		l.push(kir.Word(0))
	case RETURNDATACOPY:
		l.popN(3)
	case EXTCODEHASH:
		l.pop()
		l.push(kir.WordOf(extCodeHashStandIn))
	case BLOCKHASH:
		l.pop()
		l.push(kir.WordOf(blockHashStandIn))
	case COINBASE:
		l.push(kir.Word(0))
	case PC:
		l.push(kir.Word(uint64(l.pc)))
	case MSIZE:
		l.push(kir.Word(params.EVMMemSize))
	case GAS:
		l.push(kir.WordOf(gasStandIn))
	case KECCAK256:
		l.lowerSHA3()
	case MLOAD:
		off := l.toI64(l.pop())
		fn := l.ctx.declare(MLoadFunc, kir.Void, kir.Ptr, kir.I64, kir.Ptr)
		b.CreateCall(fn, l.mem, off, l.scratch[0])
		l.push(l.load(l.scratch[0]))
	case MSTORE, MSTORE8:
		off, val := l.pop(), l.pop()
		size := uint64(params.WordSize)
		if op == MSTORE8 {
			size = 1
		}
		fn := l.ctx.declare(MStoreFunc, kir.Void, kir.Ptr, kir.I64, kir.Ptr, kir.I64)
		b.CreateCall(fn, l.mem, l.toI64(off), l.word(0, val), i64c(size))
	case SLOAD:
		key := l.pop()
		fn := l.ctx.declare(sanitizer.SLoadFunc, kir.Void, kir.Ptr, kir.Ptr)
		b.CreateCall(fn, l.word(0, key), l.scratch[1])
		l.push(l.load(l.scratch[1]))
	case SSTORE:
		key, val := l.pop(), l.pop()
		fn := l.ctx.declare(sanitizer.SStoreFunc, kir.Void, kir.Ptr, kir.Ptr)
		b.CreateCall(fn, l.word(0, key), l.word(1, val))
	case CREATE:
		l.popN(3)
		l.push(kir.WordOf(createStandIn))
	case CREATE2:
		l.popN(4)
		l.push(kir.WordOf(create2StandIn))
	case CALL, CALLCODE, DELEGATECALL, STATICCALL:
		l.lowerCall(op)
	default:
		return false
	}
	return true
}

// lowerSHA3 hashes a memory range. Ranges outside memory hash the empty input.
func (l *lowerer) lowerSHA3() {
	b := l.b
	off, size := l.toI64(l.pop()), l.toI64(l.pop())
	limit := i64c(params.EVMMemSize)
	inb := b.CreateAnd(
		b.CreateICmp(kir.ULE, off, limit),
		b.CreateICmp(kir.ULE, size, b.CreateSub(limit, off)),
	)
	off = b.CreateSelect(inb, off, i64c(0))
	n := b.CreateTrunc(b.CreateSelect(inb, size, i64c(0)), kir.I32)
	fn := l.ctx.declare(SHA3Func, kir.Void, kir.Ptr, kir.I32, kir.Ptr)
	b.CreateCall(fn, b.CreateGEP(l.mem, off), n, l.scratch[0])
	l.push(l.load(l.scratch[0]))
}

// lowerCodeCopy copies from the runtime part of __evmCode. Offsets wrap into
// range and a copy that would overrun either side is dropped.
func (l *lowerer) lowerCodeCopy() {
	b := l.b
	dst, src, req := l.toI64(l.pop()), l.toI64(l.pop()), l.toI64(l.pop())
	codeSize := uint64(len(l.cfg.Code()))
	dst = b.CreateURem(dst, i64c(params.EVMMemSize))
	src = b.CreateURem(src, i64c(codeSize))
	fits := b.CreateAnd(
		b.CreateICmp(kir.ULE, req, b.CreateSub(i64c(codeSize), src)),
		b.CreateICmp(kir.ULE, req, b.CreateSub(i64c(params.EVMMemSize), dst)),
	)
	req = b.CreateSelect(fits, req, i64c(0))
	code := l.ctx.Module.Global(EVMCodeGlobal)
	from := b.CreateGEP(code, b.CreateAdd(src, i64c(uint64(l.runtimeOffset))))
	memcpy := l.ctx.declare("llvm.memcpy.p0.p1.i64", kir.Void, kir.Ptr, kir.GlobalPtr, kir.I64, kir.I1)
	b.CreateCall(memcpy, b.CreateGEP(l.mem, dst), from, req, kir.False())
}

// lowerLog drops the log payload. A LOG1 whose topic is the bug marker
// reports an interesting input.
func (l *lowerer) lowerLog(topics int) {
	l.popN(2)
	vals := l.popN(topics)
	if topics != 1 {
		return
	}
	b := l.b
	hit := b.CreateICmp(kir.EQ, vals[0], kir.Word(params.BugTargetMagic))
	sig := b.CreateSelect(hit, sanitizer.SigConst(params.SigInteresting), sanitizer.SigConst(params.SigExecNone))
	sanitizer.EmitSignal(b, l.ctx.Module, sig, uint32(l.pc))
}

// lowerCall stubs every external call as a successful one. The forwarded gas
// is kept on the reentrancy tag.
func (l *lowerer) lowerCall(op ByteCode) {
	n := 7
	if op == DELEGATECALL || op == STATICCALL {
		n = 6
	}
	args := l.popN(n)
	gas := args[0]
	r := l.b.CreateCall(l.ctx.solidityCall())
	z := l.boolWord(r)
	l.tag(r, kir.TagReentrancy, op, gas)
	l.tag(z, kir.TagUnusedReturn, op)
	l.push(z)
	l.pending = &callCheck{call: r, result: z, pc: l.pc, op: op}
}

// checkPendingCall decides whether the instruction about to be lowered
// consumes the last call result, and whether it inspects it.
func (l *lowerer) checkPendingCall(op ByteCode) {
	c := l.pending
	if c == nil || op.IsDup() || op.IsSwap() {
		return
	}
	in := min(l.ctx.Table.Info(op).In, l.vs.size())
	consumed := false
	for _, v := range l.vs.top(in) {
		if v == c.result {
			consumed = true
			break
		}
	}
	if !consumed {
		return
	}
	l.pending = nil
	if !checksCallResult[op] {
		l.ctx.Tags.Attach(c.call, kir.TagUncheckedCall, uint32(c.pc), c.op.mnemonic())
	}
}

// settlePendingCall forgets a call result that outlives its block; it may
// still be checked by a successor.
func (l *lowerer) settlePendingCall() { l.pending = nil }
