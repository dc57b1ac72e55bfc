package kir

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

var (
	ErrOutOfBounds   = errors.New("kir: memory access out of bounds")
	ErrNotPointer    = errors.New("kir: memory access through a non-pointer value")
	ErrUnknownExtern = errors.New("kir: call to an unbound external function")
	ErrStepLimit     = errors.New("kir: step limit exceeded")
	ErrUnreachable   = errors.New("kir: reached unreachable")
	ErrNoTerminator  = errors.New("kir: fell off the end of a block")
)

// Object is a contiguous byte region: a global, an alloca or a host buffer.
type Object struct {
	Name string
	Data []byte
}

// NewObject allocates a zeroed object of the given size.
func NewObject(name string, size int) *Object {
	return &Object{Name: name, Data: make([]byte, size)}
}

// Val is a runtime value: an integer, or a pointer when Obj is set.
type Val struct {
	W   uint256.Int
	Obj *Object
	Off int64
}

// IntVal returns an integer value.
func IntVal(v uint64) Val {
	var r Val
	r.W.SetUint64(v)
	return r
}

// WordVal returns an integer value holding w.
func WordVal(w *uint256.Int) Val {
	var r Val
	r.W.Set(w)
	return r
}

// PtrVal returns a pointer to byte off of o.
func PtrVal(o *Object, off int64) Val {
	return Val{Obj: o, Off: off}
}

func (v Val) IsPtr() bool { return v.Obj != nil }

func (v Val) Uint64() uint64 { return v.W.Uint64() }

// Extern implements a declared function on the host.
type Extern func(m *Machine, args []Val) (Val, error)

// Env holds the state shared by every Machine running one module: the
// global objects and the bound externs.
type Env struct {
	mod     *Module
	globals map[*GlobalVar]*Object
	externs map[string]Extern
}

// NewEnv materializes the globals of mod.
func NewEnv(mod *Module) *Env {
	e := &Env{
		mod:     mod,
		globals: make(map[*GlobalVar]*Object, len(mod.Globals)),
		externs: make(map[string]Extern),
	}
	for _, g := range mod.Globals {
		obj := NewObject(g.Name, g.Elem.Size())
		copy(obj.Data, g.Init)
		e.globals[g] = obj
	}
	return e
}

// Module returns the module the environment executes.
func (e *Env) Module() *Module { return e.mod }

// Bind installs the host implementation of a declared function.
func (e *Env) Bind(name string, fn Extern) {
	e.externs[name] = fn
}

// Object returns the storage of the named global, or nil.
func (e *Env) Object(name string) *Object {
	if g := e.mod.Global(name); g != nil {
		return e.globals[g]
	}
	return nil
}

// NewMachine returns an executor carrying ctx for the bound externs.
func (e *Env) NewMachine(ctx interface{}) *Machine {
	return &Machine{env: e, Ctx: ctx}
}

// Machine executes functions of an Env. A Machine is not safe for concurrent
// use; run one per execution context.
type Machine struct {
	env *Env
	// Ctx is opaque state for the bound externs.
	Ctx interface{}
	// MaxSteps bounds the number of executed instructions, 0 means unbounded.
	MaxSteps int

	steps  int
	tracer func(*Inst)
}

type frame struct {
	fn   *Function
	args []Val
	vals map[*Inst]Val
}

var handlers [opCount]func(*Machine, *frame, *Inst) (Val, error)

func init() {
	for op := OpAdd; op <= OpAShr; op++ {
		handlers[op] = execBinary
	}
	handlers[OpICmp] = execICmp
	handlers[OpSelect] = execSelect
	handlers[OpZExt] = execCast
	handlers[OpSExt] = execCast
	handlers[OpTrunc] = execCast
	handlers[OpAddrSpaceCast] = execCast
	handlers[OpAlloca] = execAlloca
	handlers[OpLoad] = execLoad
	handlers[OpStore] = execStore
	handlers[OpGEP] = execGEP
	handlers[OpCall] = execCall
}

// Env returns the shared environment.
func (m *Machine) Env() *Env { return m.env }

// Steps returns the number of instructions executed so far.
func (m *Machine) Steps() int { return m.steps }

// SetTracer installs a callback invoked before each instruction. It is not thread-safe.
func (m *Machine) SetTracer(cb func(*Inst)) { m.tracer = cb }

// Call runs fn with the given arguments and returns its result.
func (m *Machine) Call(fn *Function, args ...Val) (Val, error) {
	if fn.IsDeclaration() {
		return m.callExtern(fn, args)
	}
	if len(args) != len(fn.Params) {
		return Val{}, fmt.Errorf("kir: %s called with %d args, want %d", fn.Name, len(args), len(fn.Params))
	}
	f := &frame{fn: fn, args: args, vals: make(map[*Inst]Val)}
	return m.run(f)
}

func (m *Machine) run(f *frame) (Val, error) {
	blk := f.fn.EntryBlock()
	for {
		var next *Block
		for _, inst := range blk.Insts {
			m.steps++
			if m.MaxSteps > 0 && m.steps > m.MaxSteps {
				return Val{}, ErrStepLimit
			}
			if m.tracer != nil {
				m.tracer(inst)
			}
			if !inst.IsTerminator() {
				res, err := handlers[inst.Op](m, f, inst)
				if err != nil {
					return Val{}, fmt.Errorf("%s: %s: %w", f.fn.Name, blk.Name, err)
				}
				if inst.HasResult() {
					f.vals[inst] = res
				}
				continue
			}
			switch inst.Op {
			case OpBr:
				next = inst.Succs[0]
			case OpCondBr:
				c, err := m.eval(f, inst.Operands[0])
				if err != nil {
					return Val{}, err
				}
				if c.W.IsZero() {
					next = inst.Succs[1]
				} else {
					next = inst.Succs[0]
				}
			case OpSwitch:
				v, err := m.eval(f, inst.Operands[0])
				if err != nil {
					return Val{}, err
				}
				next = inst.Succs[0]
				for n, c := range inst.Cases {
					if v.W.Eq(&c.val) {
						next = inst.Succs[n+1]
						break
					}
				}
			case OpRet:
				if len(inst.Operands) == 0 {
					return Val{}, nil
				}
				return m.eval(f, inst.Operands[0])
			case OpUnreachable:
				return Val{}, fmt.Errorf("%s: %s: %w", f.fn.Name, blk.Name, ErrUnreachable)
			}
			break
		}
		if next == nil {
			return Val{}, fmt.Errorf("%s: %s: %w", f.fn.Name, blk.Name, ErrNoTerminator)
		}
		blk = next
	}
}

func (m *Machine) eval(f *frame, v Value) (Val, error) {
	switch t := v.(type) {
	case *Const:
		return WordVal(&t.val), nil
	case *GlobalVar:
		return PtrVal(m.env.globals[t], 0), nil
	case *Param:
		return f.args[t.Index], nil
	case *Inst:
		r, ok := f.vals[t]
		if !ok {
			return Val{}, fmt.Errorf("kir: use of %s before definition", t.Ident())
		}
		return r, nil
	}
	return Val{}, fmt.Errorf("kir: cannot evaluate %s", v.Ident())
}

func (m *Machine) operands(f *frame, inst *Inst) ([]Val, error) {
	vals := make([]Val, len(inst.Operands))
	for i, op := range inst.Operands {
		v, err := m.eval(f, op)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func (m *Machine) callExtern(fn *Function, args []Val) (Val, error) {
	if ext, ok := m.env.externs[fn.Name]; ok {
		return ext(m, args)
	}
	switch {
	case strings.HasPrefix(fn.Name, "llvm.ctlz."):
		bits := fn.Ret.Bits
		return IntVal(uint64(bits - args[0].W.BitLen())), nil
	case strings.HasPrefix(fn.Name, "llvm.memcpy."):
		n := int(args[2].Uint64())
		data, err := m.Read(args[1], n)
		if err != nil {
			return Val{}, err
		}
		return Val{}, m.Write(args[0], data)
	case strings.HasPrefix(fn.Name, "llvm.memset."):
		data := make([]byte, int(args[2].Uint64()))
		for i := range data {
			data[i] = byte(args[1].Uint64())
		}
		return Val{}, m.Write(args[0], data)
	}
	return Val{}, fmt.Errorf("%w: %s", ErrUnknownExtern, fn.Name)
}

func (m *Machine) span(p Val, n int) ([]byte, error) {
	if !p.IsPtr() {
		return nil, ErrNotPointer
	}
	if p.Off < 0 || n < 0 || p.Off+int64(n) > int64(len(p.Obj.Data)) {
		return nil, fmt.Errorf("%w: %s[%d:%d] of %d", ErrOutOfBounds, p.Obj.Name, p.Off, p.Off+int64(n), len(p.Obj.Data))
	}
	return p.Obj.Data[p.Off : p.Off+int64(n)], nil
}

// Read copies n bytes starting at p.
func (m *Machine) Read(p Val, n int) ([]byte, error) {
	b, err := m.span(p, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Write copies data to p.
func (m *Machine) Write(p Val, data []byte) error {
	b, err := m.span(p, len(data))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

// ReadWord loads a little-endian 256-bit word from p.
func (m *Machine) ReadWord(p Val) (*uint256.Int, error) {
	b, err := m.span(p, 32)
	if err != nil {
		return nil, err
	}
	return leWord(b), nil
}

// WriteWord stores w at p as a little-endian 256-bit word.
func (m *Machine) WriteWord(p Val, w *uint256.Int) error {
	b, err := m.span(p, 32)
	if err != nil {
		return err
	}
	putLE(b, w)
	return nil
}

// putLE writes the low len(dst) bytes of w in little-endian order.
func putLE(dst []byte, w *uint256.Int) {
	be := w.Bytes32()
	for i := range dst {
		dst[i] = be[31-i]
	}
}
