package compiler

// decodeInstr decodes the instruction at pc and returns it with the offset
// of the next instruction.
func decodeInstr(code []byte, pc uint) (Instr, uint) {
	op := ByteCode(code[pc])
	ins := Instr{PC: pc, Op: op}
	next := pc + 1
	if n := op.PushSize(); n > 0 {
		ins.Imm = make([]byte, n)
		if next < uint(len(code)) {
			copy(ins.Imm, code[next:])
		}
		next += uint(n)
	}
	return ins, next
}

// blockEffect composes the stack effects of ins. Demand not met by earlier
// instructions of the block is forwarded as additional block input.
func blockEffect(table *OpcodeTable, ins []Instr) (in, out int) {
	cur := 0
	for _, i := range ins {
		info := table.Info(i.Op)
		if cur >= info.In {
			cur -= info.In
		} else {
			in += info.In - cur
			cur = 0
		}
		cur += info.Out
	}
	return in, cur
}

// Decode splits code into basic blocks ordered by offset. Code following an
// unconditional transfer is skipped up to the next JUMPDEST.
func Decode(code []byte, table *OpcodeTable) []*BasicBlock {
	var (
		blocks []*BasicBlock
		cur    *BasicBlock
		dead   bool
		size   = uint(len(code))
	)
	closeBlock := func(end uint) {
		cur.end = min(end, size)
		cur.stackIn, cur.stackOut = blockEffect(table, cur.instrs)
		blocks = append(blocks, cur)
		cur = nil
	}
	for pc := uint(0); pc < size; {
		ins, next := decodeInstr(code, pc)
		if dead && ins.Op != JUMPDEST {
			pc = next
			continue
		}
		dead = false
		if cur == nil {
			cur = newBasicBlock(uint(len(blocks)), pc)
			cur.first = ins.Op
		}
		cur.instrs = append(cur.instrs, ins)
		switch {
		case ins.Op.endsPath():
			closeBlock(next)
			dead = true
		case ins.Op == JUMPI:
			closeBlock(next)
		case next >= size || ByteCode(code[next]) == JUMPDEST:
			closeBlock(next)
		}
		pc = next
	}
	blocksDecodedCounter.Inc(int64(len(blocks)))
	return blocks
}
