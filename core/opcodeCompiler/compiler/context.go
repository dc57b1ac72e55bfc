package compiler

import (
	"math/rand"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
)

// Context is the state of one compilation: the opcode table, the module under
// construction, the provenance tags and the shared helper routines.
// Nothing in the compiler keeps state outside a Context.
type Context struct {
	Config *Config
	Table  *OpcodeTable
	Module *kir.Module
	Tags   *kir.TagMap

	helpers map[string]*kir.Function
	rng     *rand.Rand
}

// NewContext returns a context for compiling one program into a module named name.
func NewContext(name string, cfg *Config) *Context {
	return &Context{
		Config:  cfg,
		Table:   NewOpcodeTable(),
		Module:  kir.NewModule(name),
		Tags:    kir.NewTagMap(),
		helpers: make(map[string]*kir.Function),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Rand returns the deterministic random source of the compilation.
func (c *Context) Rand() *rand.Rand { return c.rng }

// helper returns the named routine, building it with build on first use.
func (c *Context) helper(name string, build func(*Context) *kir.Function) *kir.Function {
	if f, ok := c.helpers[name]; ok {
		return f
	}
	f := build(c)
	c.helpers[name] = f
	return f
}

// declare returns the named external function, declaring it on first use.
func (c *Context) declare(name string, ret *kir.Type, params ...*kir.Type) *kir.Function {
	return c.Module.Declare(name, ret, params...)
}
