package kir

import (
	"fmt"
)

// TypeKind classifies a Type.
type TypeKind uint8

const (
	VoidKind TypeKind = iota
	IntKind
	PtrKind
	ArrayKind
)

// Address spaces understood by the nvptx backend.
const (
	Generic = 0
	Global  = 1
)

// Type is an IR type. Types are compared structurally with Equal.
type Type struct {
	Kind  TypeKind
	Bits  int   // IntKind
	Space int   // PtrKind
	Elem  *Type // ArrayKind
	Len   int   // ArrayKind
}

var (
	Void      = &Type{Kind: VoidKind}
	I1        = IntType(1)
	I8        = IntType(8)
	I32       = IntType(32)
	I64       = IntType(64)
	I128      = IntType(128)
	I256      = IntType(256)
	Ptr       = PtrType(Generic)
	GlobalPtr = PtrType(Global)
)

// MaxIntBits is the widest integer the interpreter can evaluate.
const MaxIntBits = 256

// IntType returns the integer type of the given width.
func IntType(bits int) *Type {
	if bits <= 0 || bits > MaxIntBits {
		panic(fmt.Sprintf("kir: unsupported integer width %d", bits))
	}
	return &Type{Kind: IntKind, Bits: bits}
}

// PtrType returns the opaque pointer type in the given address space.
func PtrType(space int) *Type {
	return &Type{Kind: PtrKind, Space: space}
}

// ArrayOf returns the array type [n x elem].
func ArrayOf(elem *Type, n int) *Type {
	return &Type{Kind: ArrayKind, Elem: elem, Len: n}
}

func (t *Type) IsInt() bool { return t.Kind == IntKind }

func (t *Type) IsPtr() bool { return t.Kind == PtrKind }

// Size returns the allocation size in bytes.
func (t *Type) Size() int {
	switch t.Kind {
	case IntKind:
		return (t.Bits + 7) / 8
	case PtrKind:
		return 8
	case ArrayKind:
		return t.Elem.Size() * t.Len
	}
	return 0
}

// Equal reports whether two types are structurally identical.
func (t *Type) Equal(o *Type) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil || t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case IntKind:
		return t.Bits == o.Bits
	case PtrKind:
		return t.Space == o.Space
	case ArrayKind:
		return t.Len == o.Len && t.Elem.Equal(o.Elem)
	}
	return true
}

func (t *Type) String() string {
	switch t.Kind {
	case VoidKind:
		return "void"
	case IntKind:
		return fmt.Sprintf("i%d", t.Bits)
	case PtrKind:
		if t.Space == Generic {
			return "ptr"
		}
		return fmt.Sprintf("ptr addrspace(%d)", t.Space)
	case ArrayKind:
		return fmt.Sprintf("[%d x %s]", t.Len, t.Elem)
	}
	return "?"
}
