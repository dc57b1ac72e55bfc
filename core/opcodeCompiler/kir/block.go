package kir

import (
	"fmt"
	"slices"
)

// Block is a basic block. Only the last instruction may be a terminator.
type Block struct {
	Name  string
	Insts []*Inst
	// EVMOffset is the bytecode offset of the source block, -1 for blocks
	// introduced by the compiler itself.
	EVMOffset int

	parent *Function
}

// Parent returns the owning function.
func (b *Block) Parent() *Function { return b.parent }

// IsEVM reports whether the block was lowered from bytecode.
func (b *Block) IsEVM() bool { return b.EVMOffset >= 0 }

// Terminator returns the closing instruction, or nil for an open block.
func (b *Block) Terminator() *Inst {
	if n := len(b.Insts); n > 0 && b.Insts[n-1].IsTerminator() {
		return b.Insts[n-1]
	}
	return nil
}

// Successors returns the branch targets of the terminator.
func (b *Block) Successors() []*Block {
	if t := b.Terminator(); t != nil {
		return t.Succs
	}
	return nil
}

// Index returns the position of inst in the block, or -1.
func (b *Block) Index(inst *Inst) int {
	return slices.Index(b.Insts, inst)
}

func (b *Block) insertAt(pos int, inst *Inst) {
	b.Insts = slices.Insert(b.Insts, pos, inst)
	inst.parent = b
}

func (b *Block) remove(inst *Inst) {
	if pos := b.Index(inst); pos >= 0 {
		b.Insts = slices.Delete(b.Insts, pos, pos+1)
	}
}

// Function is a defined or declared function. A function without blocks is
// a declaration resolved at link time.
type Function struct {
	Name    string
	Ret     *Type
	Params  []*Param
	Blocks  []*Block
	Kernel  bool
	Private bool

	used map[string]int
}

func newFunction(name string, ret *Type, params []*Type) *Function {
	f := &Function{Name: name, Ret: ret, used: make(map[string]int)}
	for i, t := range params {
		f.Params = append(f.Params, &Param{Name: fmt.Sprintf("arg%d", i), Index: i, typ: t})
	}
	return f
}

func (f *Function) Type() *Type { return Ptr }

func (f *Function) Ident() string { return "@" + f.Name }

func (f *Function) IsDeclaration() bool { return len(f.Blocks) == 0 }

// Arg returns the i-th parameter.
func (f *Function) Arg(i int) *Param { return f.Params[i] }

// NameParams assigns readable parameter names.
func (f *Function) NameParams(names ...string) {
	for i, n := range names {
		if i < len(f.Params) {
			f.Params[i].Name = f.unique(n)
		}
	}
}

// EntryBlock returns the first block.
func (f *Function) EntryBlock() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// NewBlock appends a fresh block.
func (f *Function) NewBlock(name string) *Block {
	b := &Block{Name: f.unique(name), EVMOffset: -1, parent: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// NewBlockAfter inserts a fresh block right after the given one.
func (f *Function) NewBlockAfter(after *Block, name string) *Block {
	b := &Block{Name: f.unique(name), EVMOffset: -1, parent: f}
	pos := slices.Index(f.Blocks, after)
	f.Blocks = slices.Insert(f.Blocks, pos+1, b)
	return b
}

// SplitBlock moves b.Insts[pos:] into a new block placed after b and closes b
// with a branch to it. The new block is returned.
func (f *Function) SplitBlock(b *Block, pos int, name string) *Block {
	tail := f.NewBlockAfter(b, name)
	moved := slices.Clone(b.Insts[pos:])
	b.Insts = b.Insts[:pos]
	for _, inst := range moved {
		tail.insertAt(len(tail.Insts), inst)
	}
	br := &Inst{Op: OpBr, typ: Void, Succs: []*Block{tail}}
	b.insertAt(len(b.Insts), br)
	return tail
}

// Walk visits every instruction in block order until fn returns false.
func (f *Function) Walk(fn func(*Inst) bool) {
	for _, b := range f.Blocks {
		for _, inst := range slices.Clone(b.Insts) {
			if !fn(inst) {
				return
			}
		}
	}
}

// Users returns the instructions that take v as an operand.
func (f *Function) Users(v Value) []*Inst {
	var users []*Inst
	f.Walk(func(inst *Inst) bool {
		for _, op := range inst.Operands {
			if op == v {
				users = append(users, inst)
				break
			}
		}
		return true
	})
	return users
}

// HasUses reports whether any instruction reads v.
func (f *Function) HasUses(v Value) bool {
	found := false
	f.Walk(func(inst *Inst) bool {
		for _, op := range inst.Operands {
			if op == v {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// Predecessors returns the distinct blocks branching to b.
func (f *Function) Predecessors(b *Block) []*Block {
	var preds []*Block
	for _, p := range f.Blocks {
		if slices.Contains(p.Successors(), b) {
			preds = append(preds, p)
		}
	}
	return preds
}

// Block returns the block with the given name.
func (f *Function) Block(name string) *Block {
	for _, b := range f.Blocks {
		if b.Name == name {
			return b
		}
	}
	return nil
}

func (f *Function) unique(base string) string {
	if base == "" {
		base = "t"
	}
	n, ok := f.used[base]
	f.used[base] = n + 1
	if !ok {
		return base
	}
	return fmt.Sprintf("%s.%d", base, n)
}
