package kir

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

// Value is anything that can appear as an instruction operand.
type Value interface {
	Type() *Type
	// Ident is the operand spelling used by the printer.
	Ident() string
}

// Const is an integer constant. The payload is always masked to the type width.
type Const struct {
	typ *Type
	val uint256.Int
}

// ConstInt returns a constant of integer type t holding v truncated to t.
func ConstInt(t *Type, v uint64) *Const {
	c := &Const{typ: t}
	c.val.SetUint64(v)
	truncate(&c.val, t.Bits)
	return c
}

// ConstUint256 returns a constant of integer type t holding v truncated to t.
func ConstUint256(t *Type, v *uint256.Int) *Const {
	c := &Const{typ: t}
	c.val.Set(v)
	truncate(&c.val, t.Bits)
	return c
}

// Word returns an i256 constant.
func Word(v uint64) *Const { return ConstInt(I256, v) }

// WordOf returns an i256 constant holding v.
func WordOf(v *uint256.Int) *Const { return ConstUint256(I256, v) }

func True() *Const  { return ConstInt(I1, 1) }
func False() *Const { return ConstInt(I1, 0) }

func (c *Const) Type() *Type { return c.typ }

// Uint256 returns a copy of the constant payload.
func (c *Const) Uint256() *uint256.Int { return new(uint256.Int).Set(&c.val) }

func (c *Const) IsUint64() bool { return c.val.IsUint64() }

func (c *Const) Uint64() uint64 { return c.val.Uint64() }

func (c *Const) IsZero() bool { return c.val.IsZero() }

func (c *Const) Ident() string {
	if c.typ.Bits == 1 {
		if c.val.IsZero() {
			return "false"
		}
		return "true"
	}
	if c.val.IsUint64() && c.val.Uint64() <= math.MaxInt64 {
		return fmt.Sprintf("%d", c.val.Uint64())
	}
	// Unsigned hex spelling keeps wide constants unambiguous.
	return "u" + c.val.Hex()
}

// GlobalVar is a module-level variable. As an operand it is a pointer.
type GlobalVar struct {
	Name     string
	Elem     *Type
	Init     []byte // nil means zeroinitializer
	Space    int
	Private  bool
	Constant bool
	External bool // defined by the runtime, no initializer emitted
}

func (g *GlobalVar) Type() *Type { return PtrType(g.Space) }

func (g *GlobalVar) Ident() string { return "@" + g.Name }

// Param is a formal parameter of a function.
type Param struct {
	Name  string
	Index int
	typ   *Type
}

func (p *Param) Type() *Type { return p.typ }

func (p *Param) Ident() string { return "%" + p.Name }

// truncate masks v to its low bits.
func truncate(v *uint256.Int, bits int) {
	if bits >= 256 {
		return
	}
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bits))
	mask.SubUint64(mask, 1)
	v.And(v, mask)
}

func allOnes() *uint256.Int {
	return new(uint256.Int).Not(new(uint256.Int))
}
