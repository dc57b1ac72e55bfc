package compiler

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
	"github.com/cassc/mau-ityfuzz/params"
)

// AllocMode is how a block receives its input words.
type AllocMode uint8

const (
	// ModeRegister reuses the values left by the single predecessor.
	ModeRegister AllocMode = iota
	// ModeConfluence reads every input back through the memory stack.
	ModeConfluence
	// ModeMemory is used for blocks never reached by discovery.
	ModeMemory
)

func (m AllocMode) String() string {
	switch m {
	case ModeRegister:
		return "register"
	case ModeConfluence:
		return "confluence"
	case ModeMemory:
		return "memory"
	}
	return "?"
}

// BlockStats records how one block was allocated.
type BlockStats struct {
	Mode      AllocMode
	RegIn     int // inputs taken from registers
	MemPops   int // inputs loaded from the memory stack
	MemPushes int // words stored to the memory stack before leaving
}

// JumpSite is a lowered JUMP or JUMPI. Target is the destination word; the
// site is dispatched through the jump table until the resolver rewrites it.
type JumpSite struct {
	Br     *kir.Inst
	Store  *kir.Inst
	Target kir.Value
	PC     uint
	Block  *BasicBlock
	Cond   bool
}

// entryFunc holds the fixed parts of the lowered entry function.
type entryFunc struct {
	fn        *kir.Function
	entry     *kir.Block
	jumpTable *kir.Block
	abort     *kir.Block
	exit      *kir.Block
	dispatch  *kir.Inst

	mem       *kir.Inst
	stack     *kir.Inst
	sp        *kir.Inst
	jmpTarget *kir.Inst
	scratch   [4]*kir.Inst
}

// callCheck tracks the result of an external call until something consumes it.
type callCheck struct {
	call   *kir.Inst
	result kir.Value
	pc     uint
	op     ByteCode
}

type lowerer struct {
	ctx           *Context
	cfg           *CFG
	runtimeOffset uint
	dynamic       bool

	*entryFunc
	b       *kir.Builder
	sites   []*JumpSite
	stats   map[*BasicBlock]*BlockStats
	reached map[*BasicBlock]bool

	// per block
	blk      *BasicBlock
	vs       *ValueStack
	st       *BlockStats
	pc       uint
	pending  *callCheck
	exitVals []kir.Value
}

func newLowerer(ctx *Context, cfg *CFG, runtimeOffset uint, dynamic bool) *lowerer {
	return &lowerer{
		ctx:           ctx,
		cfg:           cfg,
		runtimeOffset: runtimeOffset,
		dynamic:       dynamic,
		b:             kir.NewBuilder(),
		stats:         make(map[*BasicBlock]*BlockStats),
		reached:       make(map[*BasicBlock]bool),
	}
}

// bitmapParam is the index of the coverage map parameter of contract().
const bitmapParam = 4

// newEntryFunction creates contract() with one IR block per bytecode block
// plus the Entry, JumpTable, Abort and Exit blocks.
func (l *lowerer) newEntryFunction() {
	m := l.ctx.Module
	fn := m.NewFunction(EntryFunc, kir.I32, kir.Ptr, kir.Ptr, kir.Ptr, kir.I32, kir.GlobalPtr)
	fn.NameParams("caller", "callvalue", "calldata", "calldatasize", "bitmap")
	e := &entryFunc{fn: fn, entry: fn.NewBlock("Entry")}
	for _, bb := range l.cfg.Blocks() {
		bb.ir = fn.NewBlock(fmt.Sprintf("bb%d", bb.begin))
		bb.ir.EVMOffset = int(bb.begin)
		bb.irParts = []*kir.Block{bb.ir}
	}
	e.jumpTable = fn.NewBlock("JumpTable")
	e.abort = fn.NewBlock("Abort")
	e.exit = fn.NewBlock("Exit")

	b := l.b
	b.SetInsertPointAtEnd(e.entry)
	e.mem = b.CreateAlloca(kir.ArrayOf(kir.I8, params.EVMMemSize), "mem")
	e.stack = b.CreateAlloca(kir.ArrayOf(kir.I256, params.EVMStackDepth), "stack")
	e.sp = b.CreateAlloca(kir.I64, "sp")
	e.jmpTarget = b.CreateAlloca(kir.I64, "jmp.target")
	for i := range e.scratch {
		e.scratch[i] = b.CreateAlloca(kir.I256, fmt.Sprintf("w%d", i))
	}
	memset := l.ctx.declare("llvm.memset.p0.i64", kir.Void, kir.Ptr, kir.I8, kir.I64, kir.I1)
	b.CreateCall(memset, e.mem, kir.ConstInt(kir.I8, 0), kir.ConstInt(kir.I64, params.EVMMemSize), kir.False())
	b.CreateStore(kir.ConstInt(kir.I64, 0), e.sp)
	if first := l.cfg.Entry(); first != nil {
		b.CreateBr(first.ir)
	} else {
		b.CreateBr(e.exit)
	}

	b.SetInsertPointAtEnd(e.jumpTable)
	e.dispatch = b.CreateSwitch(b.CreateLoad(kir.I64, e.jmpTarget), e.abort)

	b.SetInsertPointAtEnd(e.abort)
	b.CreateRet(kir.ConstInt(kir.I32, 0))
	b.SetInsertPointAtEnd(e.exit)
	b.CreateRet(kir.ConstInt(kir.I32, 1))
	l.entryFunc = e
}

func i64c(v uint64) *kir.Const { return kir.ConstInt(kir.I64, v) }

// toI64 narrows a word to an offset, saturating at MaxUint64.
func (l *lowerer) toI64(v kir.Value) kir.Value {
	if c, ok := v.(*kir.Const); ok {
		if c.IsUint64() {
			return i64c(c.Uint64())
		}
		return i64c(math.MaxUint64)
	}
	b := l.b
	wide := b.CreateICmp(kir.UGT, v, kir.Word(math.MaxUint64))
	return b.CreateSelect(wide, i64c(math.MaxUint64), b.CreateTrunc(v, kir.I64))
}

// slot returns the address of memory-stack word idx.
func (l *lowerer) slot(idx kir.Value) kir.Value {
	return l.b.CreateGEP(l.stack, l.b.CreateMul(idx, i64c(params.WordSize)))
}

// ensure makes at least n values register-resident by popping the deficit
// from the memory stack.
func (l *lowerer) ensure(n int) {
	b := l.b
	for l.vs.size() < n {
		sp := b.CreateLoad(kir.I64, l.sp)
		top := b.CreateSub(sp, i64c(1))
		b.CreateStore(top, l.sp)
		l.vs.pushBottom(b.CreateLoad(kir.I256, l.slot(top)))
		l.st.MemPops++
	}
}

func (l *lowerer) pop() kir.Value {
	l.ensure(1)
	return l.vs.pop()
}

func (l *lowerer) popN(n int) []kir.Value {
	out := make([]kir.Value, n)
	for i := range out {
		out[i] = l.pop()
	}
	return out
}

func (l *lowerer) push(v kir.Value) { l.vs.push(v) }

// guard branches to Abort when cond holds and continues lowering in a fresh
// block otherwise.
func (l *lowerer) guard(cond kir.Value, name string) {
	cur := l.b.Block()
	cont := l.fn.NewBlockAfter(cur, fmt.Sprintf("bb%d.%s", l.blk.begin, name))
	l.b.CreateCondBr(cond, l.abort, cont)
	l.blk.irParts = append(l.blk.irParts, cont)
	l.b.SetInsertPointAtEnd(cont)
}

// flush stores the register-resident values to the memory stack, bottom
// first, and bumps the stack pointer past them. The values flushed are kept
// in exitVals for register-mode successors.
func (l *lowerer) flush() {
	l.exitVals = l.vs.values()
	n := l.vs.size()
	if n == 0 {
		return
	}
	b := l.b
	sp := b.CreateLoad(kir.I64, l.sp)
	l.guard(b.CreateICmp(kir.UGT, sp, i64c(uint64(params.EVMStackDepth-n))), "overflow")
	for i, v := range l.vs.values() {
		var idx kir.Value = sp
		if i > 0 {
			idx = b.CreateAdd(sp, i64c(uint64(i)))
		}
		b.CreateStore(v, l.slot(idx))
	}
	b.CreateStore(b.CreateAdd(sp, i64c(uint64(n))), l.sp)
	l.st.MemPushes += n
}

// dropFromMemory discards the top k words of the memory stack.
func (l *lowerer) dropFromMemory(k int) {
	b := l.b
	sp := b.CreateLoad(kir.I64, l.sp)
	b.CreateStore(b.CreateSub(sp, i64c(uint64(k))), l.sp)
}

// word stores v into scratch slot i and returns the slot.
func (l *lowerer) word(i int, v kir.Value) *kir.Inst {
	l.b.CreateStore(v, l.scratch[i])
	return l.scratch[i]
}

func (l *lowerer) load(p kir.Value) *kir.Inst { return l.b.CreateLoad(kir.I256, p) }

func (l *lowerer) boolWord(c kir.Value) *kir.Inst { return l.b.CreateZExt(c, kir.I256) }

func (l *lowerer) tag(inst *kir.Inst, kind kir.TagKind, op ByteCode, args ...kir.Value) {
	l.ctx.Tags.Attach(inst, kind, uint32(l.pc), op.mnemonic(), args...)
}

// lowerBlock emits the code of bb given the values live on entry and returns
// the values live on exit.
func (l *lowerer) lowerBlock(bb *BasicBlock, live []kir.Value, mode AllocMode) []kir.Value {
	l.blk = bb
	l.st = &BlockStats{Mode: mode}
	l.stats[bb] = l.st
	l.pending = nil
	l.exitVals = nil
	l.b.SetInsertPointAtEnd(bb.ir)

	k := 0
	if mode == ModeRegister {
		k = min(len(live), bb.stackIn)
		l.vs = newValueStack(live[len(live)-k:])
		if k > 0 {
			l.dropFromMemory(k)
		}
		l.st.RegIn = k
	} else {
		l.vs = newValueStack(nil)
	}
	// Every memory pop of the block is covered by this single check.
	if need := bb.stackIn - k; need > 0 {
		sp := l.b.CreateLoad(kir.I64, l.sp)
		l.guard(l.b.CreateICmp(kir.ULT, sp, i64c(uint64(need))), "underflow")
	}

	done := false
	for _, ins := range bb.instrs {
		l.pc = ins.PC
		l.checkPendingCall(ins.Op)
		if !l.lowerInstr(ins) {
			done = true
			break
		}
	}
	if !done {
		l.settlePendingCall()
		l.flush()
	}
	KirDebugInfo("lowered block", "pc", bb.begin, "mode", mode, "regIn", l.st.RegIn, "pops", l.st.MemPops, "pushes", l.st.MemPushes)
	return l.exitVals
}

// terminate flushes the live values and branches to dest.
func (l *lowerer) terminate(dest *kir.Block) *kir.Inst {
	l.settlePendingCall()
	l.flush()
	l.vs.reset()
	return l.b.CreateBr(dest)
}

// lowerInstr emits one instruction and reports whether the block continues.
func (l *lowerer) lowerInstr(ins Instr) bool {
	op := ins.Op
	switch {
	case op == PUSH0:
		l.push(kir.Word(0))
		return true
	case op.IsPush():
		l.push(kir.WordOf(new(uint256.Int).SetBytes(ins.Imm)))
		return true
	case op.IsDup():
		n := int(op-DUP1) + 1
		l.ensure(n)
		l.push(l.vs.peek(n - 1))
		return true
	case op.IsSwap():
		n := int(op-SWAP1) + 1
		l.ensure(n + 1)
		l.vs.swap(0, n)
		return true
	case op.IsLog():
		l.lowerLog(int(op - LOG0))
		return true
	}
	if l.lowerArith(op) || l.lowerEnv(op) {
		return true
	}
	switch op {
	case POP:
		l.pop()
	case JUMPDEST:
		l.dispatch.AddCase(i64c(uint64(l.pc)), l.blk.ir)
	case JUMP:
		target := l.pop()
		l.settlePendingCall()
		l.flush()
		l.vs.reset()
		store := l.b.CreateStore(l.toI64(target), l.jmpTarget)
		br := l.b.CreateBr(l.jumpTable)
		l.sites = append(l.sites, &JumpSite{Br: br, Store: store, Target: target, PC: l.pc, Block: l.blk})
		return false
	case JUMPI:
		target := l.pop()
		cond := l.pop()
		l.settlePendingCall()
		l.flush()
		l.vs.reset()
		store := l.b.CreateStore(l.toI64(target), l.jmpTarget)
		taken := l.b.CreateICmp(kir.NE, cond, kir.Word(0))
		// The not-taken edge is wired by the jump resolver.
		br := l.b.CreateCondBr(taken, l.jumpTable, l.abort)
		l.sites = append(l.sites, &JumpSite{Br: br, Store: store, Target: target, PC: l.pc, Block: l.blk, Cond: true})
		return false
	case STOP:
		l.terminate(l.exit)
		return false
	case RETURN:
		l.popN(2)
		l.terminate(l.exit)
		return false
	case REVERT:
		l.popN(2)
		l.terminate(l.abort)
		return false
	case SELFDESTRUCT:
		l.pop()
		br := l.terminate(l.exit)
		l.tag(br, kir.TagSelfDestruct, op)
		return false
	case INVALID:
		l.terminate(l.abort)
		return false
	default:
		// Unsupported opcodes fail closed at run time.
		KirDebugWarn("unsupported opcode", "pc", l.pc, "op", op)
		l.terminate(l.abort)
		return false
	}
	return true
}

// lowerArith handles the arithmetic, comparison and bitwise opcodes.
func (l *lowerer) lowerArith(op ByteCode) bool {
	b := l.b
	switch op {
	case ADD:
		x, y := l.pop(), l.pop()
		r := b.CreateAdd(x, y)
		l.tag(r, kir.TagIntegerBug, op)
		l.push(r)
	case SUB:
		x, y := l.pop(), l.pop()
		r := b.CreateSub(x, y)
		l.tag(r, kir.TagIntegerBug, op)
		l.push(r)
	case MUL:
		x, y := l.pop(), l.pop()
		b.CreateCall(l.ctx.Mul(), l.scratch[2], l.word(0, x), l.word(1, y))
		r := l.load(l.scratch[2])
		l.tag(r, kir.TagIntegerBug, op, x, y)
		l.push(r)
	case DIV, SDIV, MOD, SMOD:
		x, y := l.pop(), l.pop()
		helper := l.ctx.UDivRem()
		if op == SDIV || op == SMOD {
			helper = l.ctx.SDivRem()
		}
		b.CreateCall(helper, l.word(0, x), l.word(1, y), l.scratch[2], l.scratch[3])
		res := l.scratch[2]
		if op == MOD || op == SMOD {
			res = l.scratch[3]
		}
		r := l.load(res)
		l.tag(r, kir.TagIntegerBug, op, x, y)
		l.push(r)
	case ADDMOD, MULMOD:
		x, y, n := l.pop(), l.pop(), l.pop()
		name := AddModFunc
		if op == MULMOD {
			name = MulModFunc
		}
		fn := l.ctx.declare(name, kir.Void, kir.Ptr, kir.Ptr, kir.Ptr, kir.Ptr)
		b.CreateCall(fn, l.word(0, x), l.word(1, y), l.word(2, n), l.scratch[3])
		l.push(l.load(l.scratch[3]))
	case EXP:
		base, exp := l.pop(), l.pop()
		if bc, ok := base.(*kir.Const); ok {
			if ec, ok := exp.(*kir.Const); ok {
				l.push(kir.WordOf(new(uint256.Int).Exp(bc.Uint256(), ec.Uint256())))
				return true
			}
		}
		fn := l.ctx.declare(PowerFunc, kir.Void, kir.Ptr, kir.Ptr, kir.Ptr)
		b.CreateCall(fn, l.word(0, base), l.word(1, exp), l.scratch[2])
		r := l.load(l.scratch[2])
		l.tag(r, kir.TagIntegerBug, op, base, exp)
		l.push(r)
	case SIGNEXTEND:
		k, x := l.pop(), l.pop()
		narrow := b.CreateICmp(kir.ULT, k, kir.Word(31))
		// Clamped so the shifts below stay in range when k is ignored.
		kc := b.CreateSelect(narrow, k, kir.Word(30))
		signPos := b.CreateAdd(b.CreateMul(kc, kir.Word(8)), kir.Word(7))
		sign := b.CreateAnd(b.CreateLShr(x, signPos), kir.Word(1))
		mask := b.CreateSub(b.CreateShl(kir.Word(1), b.CreateAdd(signPos, kir.Word(1))), kir.Word(1))
		neg := b.CreateICmp(kir.NE, sign, kir.Word(0))
		ext := b.CreateSelect(neg, b.CreateOr(x, b.CreateNot(mask)), b.CreateAnd(x, mask))
		l.push(b.CreateSelect(narrow, ext, x))
	case LT, GT, SLT, SGT, EQ:
		x, y := l.pop(), l.pop()
		pred := map[ByteCode]kir.Predicate{LT: kir.ULT, GT: kir.UGT, SLT: kir.SLT, SGT: kir.SGT, EQ: kir.EQ}[op]
		l.push(l.boolWord(b.CreateICmp(pred, x, y)))
	case ISZERO:
		l.push(l.boolWord(b.CreateICmp(kir.EQ, l.pop(), kir.Word(0))))
	case AND:
		l.push(b.CreateAnd(l.pop(), l.pop()))
	case OR:
		l.push(b.CreateOr(l.pop(), l.pop()))
	case XOR:
		l.push(b.CreateXor(l.pop(), l.pop()))
	case NOT:
		l.push(b.CreateNot(l.pop()))
	case BYTE:
		idx, x := l.pop(), l.pop()
		in := b.CreateICmp(kir.ULT, idx, kir.Word(32))
		shift := b.CreateMul(b.CreateSub(kir.Word(31), idx), kir.Word(8))
		v := b.CreateAnd(b.CreateLShr(x, shift), kir.Word(0xff))
		l.push(b.CreateSelect(in, v, kir.Word(0)))
	case SHL, SHR:
		shift, x := l.pop(), l.pop()
		over := b.CreateICmp(kir.UGT, shift, kir.Word(255))
		var v kir.Value
		if op == SHL {
			v = b.CreateShl(x, shift)
		} else {
			v = b.CreateLShr(x, shift)
		}
		l.push(b.CreateSelect(over, kir.Word(0), v))
	case SAR:
		shift, x := l.pop(), l.pop()
		over := b.CreateICmp(kir.UGT, shift, kir.Word(255))
		neg := b.CreateICmp(kir.SLT, x, kir.Word(0))
		fill := b.CreateSelect(neg, kir.WordOf(new(uint256.Int).SetAllOne()), kir.Word(0))
		l.push(b.CreateSelect(over, fill, b.CreateAShr(x, shift)))
	default:
		return false
	}
	return true
}
