package compiler

import (
	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
)

// absValue is a stack slot during CFG discovery: a literal that fits in 64
// bits, or an opaque placeholder.
type absValue struct {
	known bool
	v     uint64
}

func literal(imm []byte) absValue {
	for i := 0; i+8 < len(imm); i++ {
		if imm[i] != 0 {
			return absValue{}
		}
	}
	var v uint64
	for _, b := range imm {
		v = v<<8 | uint64(b)
	}
	return absValue{known: true, v: v}
}

// absStack grows from left to right. Reads below the bottom yield opaque
// values, so blocks with unmet input can be simulated in isolation.
type absStack []absValue

func (s *absStack) push(v absValue) { *s = append(*s, v) }

func (s *absStack) pop() absValue {
	if len(*s) == 0 {
		return absValue{}
	}
	v := (*s)[len(*s)-1]
	*s = (*s)[:len(*s)-1]
	return v
}

// reserve pads the bottom with opaque values until n items exist.
func (s *absStack) reserve(n int) {
	if len(*s) >= n {
		return
	}
	pad := make(absStack, n-len(*s), n)
	*s = append(pad, *s...)
}

func (s *absStack) dup(n int) {
	s.reserve(n)
	s.push((*s)[len(*s)-n])
}

func (s *absStack) swap(n int) {
	s.reserve(n + 1)
	top := len(*s) - 1
	(*s)[top], (*s)[top-n] = (*s)[top-n], (*s)[top]
}

func (s absStack) clone() absStack {
	return append(absStack(nil), s...)
}

// ValueStack is the register-resident part of the EVM stack while one block
// is lowered. The top of stack is the last element.
type ValueStack struct {
	data []kir.Value
}

func newValueStack(vals []kir.Value) *ValueStack {
	return &ValueStack{data: append([]kir.Value(nil), vals...)}
}

func (s *ValueStack) push(v kir.Value) {
	s.data = append(s.data, v)
}

func (s *ValueStack) pop() kir.Value {
	v := s.data[len(s.data)-1]
	s.data = s.data[:len(s.data)-1]
	return v
}

// pushBottom inserts v below every value held.
func (s *ValueStack) pushBottom(v kir.Value) {
	s.data = append([]kir.Value{v}, s.data...)
}

func (s *ValueStack) size() int {
	return len(s.data)
}

// peek returns the nth item from the top of the stack (0-indexed)
func (s *ValueStack) peek(n int) kir.Value {
	return s.data[len(s.data)-1-n]
}

// swap exchanges the items at positions i and j from the top of the stack (0-indexed)
func (s *ValueStack) swap(i, j int) {
	indexI := len(s.data) - 1 - i
	indexJ := len(s.data) - 1 - j
	s.data[indexI], s.data[indexJ] = s.data[indexJ], s.data[indexI]
}

// top returns the n topmost values, bottom first.
func (s *ValueStack) top(n int) []kir.Value {
	return s.data[len(s.data)-n:]
}

func (s *ValueStack) values() []kir.Value {
	return append([]kir.Value(nil), s.data...)
}

func (s *ValueStack) reset() { s.data = s.data[:0] }
