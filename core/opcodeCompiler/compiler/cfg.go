package compiler

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// EdgeKind classifies a control-flow edge.
type EdgeKind uint8

const (
	EdgeJump        EdgeKind = iota // JUMP, or the taken side of JUMPI
	EdgeFallthrough                 // not-taken side of JUMPI
	EdgeSequential                  // block ending without a transfer
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeJump:
		return "jump"
	case EdgeFallthrough:
		return "fallthrough"
	case EdgeSequential:
		return "next"
	}
	return "?"
}

// Edge is a discovered control transfer. A nil To marks an invalid jump.
type Edge struct {
	From *BasicBlock
	To   *BasicBlock
	Kind EdgeKind
	PC   uint
}

// CFG is the control-flow graph of one program, discovered by re-executing
// block stack effects over literal values.
type CFG struct {
	code    []byte
	table   *OpcodeTable
	blocks  []*BasicBlock
	byPC    map[uint]*BasicBlock
	edges   []Edge
	visited mapset.Set[*BasicBlock]
}

// NewCFG decodes code into blocks. Edges are found by Discover.
func NewCFG(code []byte, table *OpcodeTable) *CFG {
	c := &CFG{
		code:    code,
		table:   table,
		blocks:  Decode(code, table),
		byPC:    make(map[uint]*BasicBlock),
		visited: mapset.NewThreadUnsafeSet[*BasicBlock](),
	}
	for _, b := range c.blocks {
		c.byPC[b.begin] = b
	}
	return c
}

// Code returns the program the graph was built from.
func (c *CFG) Code() []byte { return c.code }

// Blocks returns all blocks ordered by offset.
func (c *CFG) Blocks() []*BasicBlock { return c.blocks }

// Edges returns the discovered edges in discovery order.
func (c *CFG) Edges() []Edge { return c.edges }

// Entry returns the block at offset 0, or nil for an empty program.
func (c *CFG) Entry() *BasicBlock { return c.byPC[0] }

// BlockAt returns the block starting at pc.
func (c *CFG) BlockAt(pc uint) *BasicBlock { return c.byPC[pc] }

// Next returns the block physically following b.
func (c *CFG) Next(b *BasicBlock) *BasicBlock { return c.byPC[b.end] }

// Reachable reports whether discovery reached b.
func (c *CFG) Reachable(b *BasicBlock) bool { return c.visited.Contains(b) }

// InvalidEdges counts the edges to unknown or non-JUMPDEST targets.
func (c *CFG) InvalidEdges() int {
	n := 0
	for _, e := range c.edges {
		if e.To == nil {
			n++
		}
	}
	return n
}

// enteredByFallthrough reports whether b is the not-taken successor of a JUMPI.
func (c *CFG) enteredByFallthrough(b *BasicBlock) bool {
	for _, e := range c.edges {
		if e.To == b && e.Kind == EdgeFallthrough {
			return true
		}
	}
	return false
}

// fallsInto returns the block physically before b when execution can run
// off its end into b, or nil.
func (c *CFG) fallsInto(b *BasicBlock) *BasicBlock {
	if b.blockNum == 0 {
		return nil
	}
	p := c.blocks[b.blockNum-1]
	if p.end != b.begin || p.Last().Op.endsPath() {
		return nil
	}
	return p
}

// jumpTarget maps a jump operand to its destination block, or nil when the
// operand is unknown or does not name a JUMPDEST.
func (c *CFG) jumpTarget(v absValue) *BasicBlock {
	if !v.known {
		return nil
	}
	if b := c.byPC[uint(v.v)]; b != nil && uint64(b.begin) == v.v && b.IsJumpDest() {
		return b
	}
	return nil
}

func (c *CFG) addEdge(from, to *BasicBlock, kind EdgeKind, pc uint) {
	c.edges = append(c.edges, Edge{From: from, To: to, Kind: kind, PC: pc})
	if to == nil {
		invalidJumpCounter.Inc(1)
		return
	}
	from.addChild(to)
	to.addParent(from)
}

type pending struct {
	block *BasicBlock
	stack absStack
}

// Discover walks the program depth-first from the entry block. Each block is
// simulated once, with the abstract stack of the first path that reaches it.
func (c *CFG) Discover() {
	entry := c.Entry()
	if entry == nil {
		return
	}
	work := []pending{{block: entry}}
	for len(work) > 0 {
		item := work[len(work)-1]
		work = work[:len(work)-1]
		if c.visited.Contains(item.block) {
			continue
		}
		c.visited.Add(item.block)
		for _, succ := range c.step(item.block, item.stack) {
			work = append(work, succ)
		}
	}
	KirDebugInfo("CFG discovered", "blocks", len(c.blocks), "reachable", c.visited.Cardinality(), "edges", len(c.edges), "invalid", c.InvalidEdges())
}

// step simulates b over s, records its outgoing edges and returns the
// successors to explore.
func (c *CFG) step(b *BasicBlock, s absStack) []pending {
	for _, ins := range b.instrs {
		op := ins.Op
		switch {
		case op == PUSH0:
			s.push(absValue{known: true})
		case op.IsPush():
			s.push(literal(ins.Imm))
		case op.IsDup():
			s.dup(int(op-DUP1) + 1)
		case op.IsSwap():
			s.swap(int(op-SWAP1) + 1)
		case op == JUMP:
			to := c.jumpTarget(s.pop())
			c.addEdge(b, to, EdgeJump, ins.PC)
			if to == nil {
				return nil
			}
			return []pending{{block: to, stack: s.clone()}}
		case op == JUMPI:
			target := s.pop()
			s.pop()
			var out []pending
			if next := c.Next(b); next != nil {
				if next.StartsWith(INVALID) {
					c.addEdge(b, nil, EdgeFallthrough, ins.PC)
				} else {
					c.addEdge(b, next, EdgeFallthrough, ins.PC)
					out = append(out, pending{block: next, stack: s.clone()})
				}
			}
			to := c.jumpTarget(target)
			c.addEdge(b, to, EdgeJump, ins.PC)
			if to != nil {
				out = append(out, pending{block: to, stack: s.clone()})
			}
			return out
		case op == STOP, op == RETURN, op == REVERT, op == SELFDESTRUCT, op == INVALID:
			return nil
		case !c.table.Info(op).Known, op.unsupported():
			return nil
		default:
			info := c.table.Info(op)
			for i := 0; i < info.In; i++ {
				s.pop()
			}
			for i := 0; i < info.Out; i++ {
				s.push(absValue{})
			}
		}
	}
	if next := c.Next(b); next != nil {
		c.addEdge(b, next, EdgeSequential, b.Last().PC)
		return []pending{{block: next, stack: s}}
	}
	return nil
}
