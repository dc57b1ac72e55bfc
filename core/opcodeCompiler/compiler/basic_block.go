package compiler

import (
	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
)

// bitmap is a bit map which maps basicblock in to a bit
type bitmap []byte

func (bits *bitmap) ensure(pos uint64) {
	need := int(pos/8) + 1
	if need <= len(*bits) {
		return
	}
	*bits = append(*bits, make([]byte, need-len(*bits))...)
}

func (bits *bitmap) set1(pos uint64) {
	bits.ensure(pos)
	(*bits)[pos/8] |= 1 << (pos % 8)
}

func (bits *bitmap) isBitSet(pos uint64) bool {
	idx := int(pos / 8)
	if idx >= len(*bits) {
		return false
	}
	return (((*bits)[idx] >> (pos % 8)) & 1) == 1
}

// Instr is one decoded instruction. Imm is zero-padded to the push width
// when the code ends inside the immediate.
type Instr struct {
	PC  uint
	Op  ByteCode
	Imm []byte
}

// BasicBlock is a maximal straight-line range [begin, end) of the input code.
type BasicBlock struct {
	blockNum       uint
	begin          uint
	end            uint
	first          ByteCode
	stackIn        int
	stackOut       int
	instrs         []Instr
	parentsBitmap  *bitmap
	childrenBitmap *bitmap
	parents        []*BasicBlock
	children       []*BasicBlock
	ir             *kir.Block
	// irParts holds ir followed by the continuations split off by stack guards.
	irParts []*kir.Block
}

func newBasicBlock(num uint, begin uint) *BasicBlock {
	return &BasicBlock{
		blockNum:       num,
		begin:          begin,
		parentsBitmap:  &bitmap{0},
		childrenBitmap: &bitmap{0},
	}
}

func (b *BasicBlock) Num() uint { return b.blockNum }

// Begin returns the offset of the first instruction.
func (b *BasicBlock) Begin() uint { return b.begin }

// End returns the offset just past the last instruction.
func (b *BasicBlock) End() uint { return b.end }

// StackIn is the number of words the block reads from its predecessors.
func (b *BasicBlock) StackIn() int { return b.stackIn }

// StackOut is the number of words the block leaves for its successors.
func (b *BasicBlock) StackOut() int { return b.stackOut }

func (b *BasicBlock) Instrs() []Instr { return b.instrs }

// Last returns the final instruction.
func (b *BasicBlock) Last() Instr { return b.instrs[len(b.instrs)-1] }

// StartsWith reports whether the first instruction is op.
func (b *BasicBlock) StartsWith(op ByteCode) bool { return b.first == op }

// IsJumpDest reports whether the block may be entered by a jump.
func (b *BasicBlock) IsJumpDest() bool { return b.first == JUMPDEST }

func (b *BasicBlock) Parents() []*BasicBlock { return b.parents }

func (b *BasicBlock) Children() []*BasicBlock { return b.children }

// IR returns the lowered block, nil before lowering.
func (b *BasicBlock) IR() *kir.Block { return b.ir }

// IRParts returns the lowered block and its guard continuations in order.
func (b *BasicBlock) IRParts() []*kir.Block { return b.irParts }

func (b *BasicBlock) addParent(p *BasicBlock) {
	if !b.parentsBitmap.isBitSet(uint64(p.blockNum)) {
		b.parentsBitmap.set1(uint64(p.blockNum))
		b.parents = append(b.parents, p)
	}
}

func (b *BasicBlock) addChild(c *BasicBlock) {
	if !b.childrenBitmap.isBitSet(uint64(c.blockNum)) {
		b.childrenBitmap.set1(uint64(c.blockNum))
		b.children = append(b.children, c)
	}
}

// hasChild reports whether an edge b -> c was discovered.
func (b *BasicBlock) hasChild(c *BasicBlock) bool {
	return b.childrenBitmap.isBitSet(uint64(c.blockNum))
}
