package kir

// Target description of the nvptx backend.
const (
	TargetTriple = "nvptx64-nvidia-cuda"
	DataLayout   = "e-i64:64-i128:128-v16:16-v32:32-n16:32:64"
)

// Module is a compilation unit holding globals and functions in insertion order.
type Module struct {
	Name    string
	Globals []*GlobalVar
	Funcs   []*Function
}

// NewModule returns an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name}
}

// NewGlobal adds a global variable. An existing global of the same name is returned as is.
func (m *Module) NewGlobal(name string, elem *Type, space int) *GlobalVar {
	if g := m.Global(name); g != nil {
		return g
	}
	g := &GlobalVar{Name: name, Elem: elem, Space: space}
	m.Globals = append(m.Globals, g)
	return g
}

// Global looks up a global variable by name.
func (m *Module) Global(name string) *GlobalVar {
	for _, g := range m.Globals {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// NewFunction adds a function definition or declaration.
func (m *Module) NewFunction(name string, ret *Type, params ...*Type) *Function {
	f := newFunction(name, ret, params)
	m.Funcs = append(m.Funcs, f)
	return f
}

// Declare returns the named function, declaring it when absent.
func (m *Module) Declare(name string, ret *Type, params ...*Type) *Function {
	if f := m.Function(name); f != nil {
		return f
	}
	return m.NewFunction(name, ret, params...)
}

// Function looks up a function by name.
func (m *Module) Function(name string) *Function {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// RemoveFunction drops f from the module.
func (m *Module) RemoveFunction(f *Function) {
	for i, g := range m.Funcs {
		if g == f {
			m.Funcs = append(m.Funcs[:i], m.Funcs[i+1:]...)
			return
		}
	}
}

// Kernels returns the functions annotated as device entry points.
func (m *Module) Kernels() []*Function {
	var ks []*Function
	for _, f := range m.Funcs {
		if f.Kernel {
			ks = append(ks, f)
		}
	}
	return ks
}
