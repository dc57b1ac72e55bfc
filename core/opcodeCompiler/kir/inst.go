package kir

import "fmt"

// Opcode identifies an instruction.
type Opcode uint8

const (
	OpAdd Opcode = iota
	OpSub
	OpMul
	OpUDiv
	OpSDiv
	OpURem
	OpSRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLShr
	OpAShr
	OpICmp
	OpSelect
	OpZExt
	OpSExt
	OpTrunc
	OpAddrSpaceCast
	OpAlloca
	OpLoad
	OpStore
	OpGEP
	OpCall
	OpBr
	OpCondBr
	OpSwitch
	OpRet
	OpUnreachable
	opCount
)

var opNames = [opCount]string{
	OpAdd:           "add",
	OpSub:           "sub",
	OpMul:           "mul",
	OpUDiv:          "udiv",
	OpSDiv:          "sdiv",
	OpURem:          "urem",
	OpSRem:          "srem",
	OpAnd:           "and",
	OpOr:            "or",
	OpXor:           "xor",
	OpShl:           "shl",
	OpLShr:          "lshr",
	OpAShr:          "ashr",
	OpICmp:          "icmp",
	OpSelect:        "select",
	OpZExt:          "zext",
	OpSExt:          "sext",
	OpTrunc:         "trunc",
	OpAddrSpaceCast: "addrspacecast",
	OpAlloca:        "alloca",
	OpLoad:          "load",
	OpStore:         "store",
	OpGEP:           "getelementptr",
	OpCall:          "call",
	OpBr:            "br",
	OpCondBr:        "br",
	OpSwitch:        "switch",
	OpRet:           "ret",
	OpUnreachable:   "unreachable",
}

func (op Opcode) String() string {
	if op < opCount {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", op)
}

// IsBinary reports whether op is a two-operand integer operation.
func (op Opcode) IsBinary() bool { return op <= OpAShr }

// IsTerminator reports whether op ends a block.
func (op Opcode) IsTerminator() bool { return op >= OpBr && op <= OpUnreachable }

// Predicate is an integer comparison predicate.
type Predicate uint8

const (
	EQ Predicate = iota
	NE
	ULT
	ULE
	UGT
	UGE
	SLT
	SLE
	SGT
	SGE
)

var predNames = [...]string{"eq", "ne", "ult", "ule", "ugt", "uge", "slt", "sle", "sgt", "sge"}

func (p Predicate) String() string { return predNames[p] }

// Inst is a single instruction. Instructions producing a value are Values.
type Inst struct {
	Op       Opcode
	Operands []Value
	// Succs holds branch targets. For switches Succs[0] is the default and
	// Succs[i+1] is the target of Cases[i].
	Succs  []*Block
	Cases  []*Const
	Pred   Predicate
	Callee *Function
	// Alloc is the allocated type of an alloca.
	Alloc *Type

	typ    *Type
	name   string
	parent *Block
}

func (i *Inst) Type() *Type { return i.typ }

func (i *Inst) Ident() string { return "%" + i.name }

// Name returns the local name, unique inside the parent function.
func (i *Inst) Name() string { return i.name }

// Parent returns the owning block, nil once the instruction is erased.
func (i *Inst) Parent() *Block { return i.parent }

func (i *Inst) IsTerminator() bool { return i.Op.IsTerminator() }

// HasResult reports whether the instruction defines a value.
func (i *Inst) HasResult() bool { return !i.typ.Equal(Void) }

// Operand returns the n-th operand.
func (i *Inst) Operand(n int) Value { return i.Operands[n] }

// SetSuccessor rewrites the n-th branch target and reports whether it changed.
func (i *Inst) SetSuccessor(n int, b *Block) bool {
	if i.Succs[n] == b {
		return false
	}
	i.Succs[n] = b
	return true
}

// AddCase appends a switch case.
func (i *Inst) AddCase(v *Const, dest *Block) {
	i.Cases = append(i.Cases, v)
	i.Succs = append(i.Succs, dest)
}

// CaseDest returns the switch target for v, or nil when v has no case.
func (i *Inst) CaseDest(v uint64) *Block {
	for n, c := range i.Cases {
		if c.IsUint64() && c.Uint64() == v {
			return i.Succs[n+1]
		}
	}
	return nil
}

// Calls reports whether the instruction is a call to the named function.
func (i *Inst) Calls(name string) bool {
	return i.Op == OpCall && i.Callee != nil && i.Callee.Name == name
}

// EraseFromParent unlinks the instruction from its block.
func (i *Inst) EraseFromParent() {
	if i.parent == nil {
		return
	}
	i.parent.remove(i)
	i.parent = nil
}
