package compiler

import (
	"fmt"
	"strings"
)

// OpInfo describes the stack behaviour of one opcode.
type OpInfo struct {
	Name  string
	In    int // words consumed
	Out   int // words produced
	Known bool
}

// OpcodeTable maps every byte to its descriptor. Unknown bytes carry a
// descriptor with Known unset and a zero stack effect.
type OpcodeTable struct {
	ops [256]OpInfo
}

type opDef struct {
	op      ByteCode
	name    string
	in, out int
}

var baseOps = []opDef{
	{STOP, "STOP", 0, 0},
	{ADD, "ADD", 2, 1},
	{MUL, "MUL", 2, 1},
	{SUB, "SUB", 2, 1},
	{DIV, "DIV", 2, 1},
	{SDIV, "SDIV", 2, 1},
	{MOD, "MOD", 2, 1},
	{SMOD, "SMOD", 2, 1},
	{ADDMOD, "ADDMOD", 3, 1},
	{MULMOD, "MULMOD", 3, 1},
	{EXP, "EXP", 2, 1},
	{SIGNEXTEND, "SIGNEXTEND", 2, 1},

	{LT, "LT", 2, 1},
	{GT, "GT", 2, 1},
	{SLT, "SLT", 2, 1},
	{SGT, "SGT", 2, 1},
	{EQ, "EQ", 2, 1},
	{ISZERO, "ISZERO", 1, 1},
	{AND, "AND", 2, 1},
	{OR, "OR", 2, 1},
	{XOR, "XOR", 2, 1},
	{NOT, "NOT", 1, 1},
	{BYTE, "BYTE", 2, 1},
	{SHL, "SHL", 2, 1},
	{SHR, "SHR", 2, 1},
	{SAR, "SAR", 2, 1},

	{KECCAK256, "KECCAK256", 2, 1},

	{ADDRESS, "ADDRESS", 0, 1},
	{BALANCE, "BALANCE", 1, 1},
	{ORIGIN, "ORIGIN", 0, 1},
	{CALLER, "CALLER", 0, 1},
	{CALLVALUE, "CALLVALUE", 0, 1},
	{CALLDATALOAD, "CALLDATALOAD", 1, 1},
	{CALLDATASIZE, "CALLDATASIZE", 0, 1},
	{CALLDATACOPY, "CALLDATACOPY", 3, 0},
	{CODESIZE, "CODESIZE", 0, 1},
	{CODECOPY, "CODECOPY", 3, 0},
	{GASPRICE, "GASPRICE", 0, 1},
	{EXTCODESIZE, "EXTCODESIZE", 1, 1},
	{EXTCODECOPY, "EXTCODECOPY", 4, 0},
	{RETURNDATASIZE, "RETURNDATASIZE", 0, 1},
	{RETURNDATACOPY, "RETURNDATACOPY", 3, 0},
	{EXTCODEHASH, "EXTCODEHASH", 1, 1},

	{BLOCKHASH, "BLOCKHASH", 1, 1},
	{COINBASE, "COINBASE", 0, 1},
	{TIMESTAMP, "TIMESTAMP", 0, 1},
	{NUMBER, "NUMBER", 0, 1},
	{DIFFICULTY, "DIFFICULTY", 0, 1},
	{GASLIMIT, "GASLIMIT", 0, 1},
	{CHAINID, "CHAINID", 0, 1},
	{SELFBALANCE, "SELFBALANCE", 0, 1},
	{BASEFEE, "BASEFEE", 0, 1},

	{POP, "POP", 1, 0},
	{MLOAD, "MLOAD", 1, 1},
	{MSTORE, "MSTORE", 2, 0},
	{MSTORE8, "MSTORE8", 2, 0},
	{SLOAD, "SLOAD", 1, 1},
	{SSTORE, "SSTORE", 2, 0},
	{JUMP, "JUMP", 1, 0},
	{JUMPI, "JUMPI", 2, 0},
	{PC, "PC", 0, 1},
	{MSIZE, "MSIZE", 0, 1},
	{GAS, "GAS", 0, 1},
	{JUMPDEST, "JUMPDEST", 0, 0},
	{TLOAD, "TLOAD", 1, 1},
	{TSTORE, "TSTORE", 2, 0},
	{MCOPY, "MCOPY", 3, 0},
	{PUSH0, "PUSH0", 0, 1},

	{CREATE, "CREATE", 3, 1},
	{CALL, "CALL", 7, 1},
	{CALLCODE, "CALLCODE", 7, 1},
	{RETURN, "RETURN", 2, 0},
	{DELEGATECALL, "DELEGATECALL", 6, 1},
	{CREATE2, "CREATE2", 4, 1},
	{STATICCALL, "STATICCALL", 6, 1},
	{REVERT, "REVERT", 2, 0},
	{INVALID, "INVALID", 0, 0},
	{SELFDESTRUCT, "SELFDESTRUCT", 1, 0},
}

// NewOpcodeTable builds the descriptor table.
func NewOpcodeTable() *OpcodeTable {
	t := new(OpcodeTable)
	for i := range t.ops {
		t.ops[i] = OpInfo{Name: fmt.Sprintf("0x%02x", i)}
	}
	for _, d := range baseOps {
		t.ops[d.op] = OpInfo{Name: d.name, In: d.in, Out: d.out, Known: true}
	}
	for n := 1; n <= 32; n++ {
		t.ops[int(PUSH1)+n-1] = OpInfo{Name: fmt.Sprintf("PUSH%d", n), Out: 1, Known: true}
	}
	for n := 1; n <= 16; n++ {
		t.ops[int(DUP1)+n-1] = OpInfo{Name: fmt.Sprintf("DUP%d", n), In: n, Out: n + 1, Known: true}
		t.ops[int(SWAP1)+n-1] = OpInfo{Name: fmt.Sprintf("SWAP%d", n), In: n + 1, Out: n + 1, Known: true}
	}
	for n := 0; n <= 4; n++ {
		t.ops[int(LOG0)+n] = OpInfo{Name: fmt.Sprintf("LOG%d", n), In: n + 2, Known: true}
	}
	return t
}

// Info returns the descriptor of op.
func (t *OpcodeTable) Info(op ByteCode) OpInfo { return t.ops[op] }

// Name returns the mnemonic of op.
func (t *OpcodeTable) Name(op ByteCode) string { return t.ops[op].Name }

var defaultTable = NewOpcodeTable()

func (op ByteCode) String() string { return defaultTable.Name(op) }

// mnemonic is the lower-case spelling used in provenance tags.
func (op ByteCode) mnemonic() string { return strings.ToLower(defaultTable.Name(op)) }

// IsPush reports whether op carries an immediate operand.
func (op ByteCode) IsPush() bool { return op >= PUSH1 && op <= PUSH32 }

// PushSize returns the immediate width of op, 0 for anything but PUSH1..PUSH32.
func (op ByteCode) PushSize() int {
	if op.IsPush() {
		return int(op-PUSH1) + 1
	}
	return 0
}

// IsDup reports whether op is one of DUP1..DUP16.
func (op ByteCode) IsDup() bool { return op >= DUP1 && op <= DUP16 }

// IsSwap reports whether op is one of SWAP1..SWAP16.
func (op ByteCode) IsSwap() bool { return op >= SWAP1 && op <= SWAP16 }

// IsLog reports whether op is one of LOG0..LOG4.
func (op ByteCode) IsLog() bool { return op >= LOG0 && op <= LOG4 }

// endsPath reports whether op stops execution or transfers control
// unconditionally, making the bytes after it dead until the next JUMPDEST.
func (op ByteCode) endsPath() bool {
	switch op {
	case JUMP, RETURN, REVERT, STOP, SELFDESTRUCT:
		return true
	}
	return false
}

// unsupported reports whether op is recognised but has no lowering. Such
// instructions abort at run time.
func (op ByteCode) unsupported() bool {
	return op == TLOAD || op == TSTORE || op == MCOPY
}
