package params

// Bit-exact constants shared by the kernel compiler and its runtime. Changing
// any of these requires recompiling every kernel and rebuilding the runtime.
const (
	MapSizePow2 = 12
	MapSize     = 1 << MapSizePow2 // Coverage bitmap size in bytes.

	EVMMemSize    = 728                   // Bytes of linear memory per execution context.
	EVMStackDepth = 1024                  // Words in the memory-resident value stack.
	EVMCodeSize   = 32 * 1024             // The bytecode blob is zero-padded to this size.
	WordSize      = 32                    // Bytes in one machine word.
	CalldataSize  = 2048                  // Calldata ceiling of a single transaction.
	TxSize        = CalldataSize          // Stride of one transaction record.
	TxHeaderSize  = 2*WordSize + 4        // caller | callvalue | u32 calldata size.
	TxDataMax     = TxSize - TxHeaderSize // Calldata bytes a record can carry.
	TxsMaxLength  = 1                     // Transactions per seed.
	SeedSize      = TxSize * TxsMaxLength

	GasLimitMax    = 210000 // Gas budget of one execution context.
	GasPerInst     = 8      // Gas charged per lowered block instruction.
	CallGasStipend = 2300   // Calls forwarding at most this much gas cannot re-enter.

	SnapSlotSize = 64  // 32-byte key followed by a 32-byte value.
	SnapLen      = 128 // Slots per storage snapshot.

	BlockX = 64
	GridX  = 16
	NJobs  = BlockX * GridX // Execution contexts per launch.

	HashConst = 0xa5b35705

	BugTargetMagic = 0x133337 // LOG1 topic reporting a reached target.
)

// SigByte is the bug tag carried by a runtime signal.
type SigByte uint8

const (
	SigExecNone SigByte = iota
	SigInteresting
	SigExecFail
	SigReentrancy
	SigIntegerBug
	SigTxOrigin
	SigSelfDestruct
	SigBlockState
	SigUnusedReturn
	SigEtherLeak
	SigArbitraryWrite
	SigUncheckedCall
)

var sigNames = map[SigByte]string{
	SigExecNone:       "none",
	SigInteresting:    "interesting",
	SigExecFail:       "exec-fail",
	SigReentrancy:     "reentrancy",
	SigIntegerBug:     "integer-bug",
	SigTxOrigin:       "tx-origin",
	SigSelfDestruct:   "self-destruct",
	SigBlockState:     "block-state-dependence",
	SigUnusedReturn:   "unused-call-return",
	SigEtherLeak:      "ether-leak",
	SigArbitraryWrite: "arbitrary-write",
	SigUncheckedCall:  "unchecked-call",
}

func (s SigByte) String() string {
	if name, ok := sigNames[s]; ok {
		return name
	}
	return "unknown"
}

// ExecStatus is the per-context outcome recorded by the coverage reducer.
type ExecStatus uint8

const (
	ExecNone ExecStatus = iota
	ExecReverted
	ExecInteresting
	ExecBuggy
)

func (s ExecStatus) String() string {
	switch s {
	case ExecNone:
		return "none"
	case ExecReverted:
		return "reverted"
	case ExecInteresting:
		return "interesting"
	case ExecBuggy:
		return "buggy"
	}
	return "unknown"
}
