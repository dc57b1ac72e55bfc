package kir

import (
	"fmt"
	"io"
	"strings"

	"github.com/holiman/uint256"
)

// String renders the module as LLVM textual IR.
func (m *Module) String() string {
	var sb strings.Builder
	m.WriteTo(&sb)
	return sb.String()
}

// WriteTo renders the module as LLVM textual IR.
func (m *Module) WriteTo(w io.Writer) (int64, error) {
	p := &printer{}
	p.printf("; ModuleID = '%s'\n", m.Name)
	p.printf("target datalayout = \"%s\"\n", DataLayout)
	p.printf("target triple = \"%s\"\n\n", TargetTriple)
	for _, g := range m.Globals {
		p.global(g)
	}
	if len(m.Globals) > 0 {
		p.printf("\n")
	}
	for _, f := range m.Funcs {
		if f.IsDeclaration() {
			p.declare(f)
		}
	}
	for _, f := range m.Funcs {
		if !f.IsDeclaration() {
			p.printf("\n")
			p.define(f)
		}
	}
	if ks := m.Kernels(); len(ks) > 0 {
		p.printf("\n!nvvm.annotations = !{")
		for i := range ks {
			if i > 0 {
				p.printf(", ")
			}
			p.printf("!%d", i)
		}
		p.printf("}\n")
		for i, k := range ks {
			p.printf("!%d = !{ptr %s, !\"kernel\", i32 1}\n", i, k.Ident())
		}
	}
	n, err := io.WriteString(w, p.sb.String())
	return int64(n), err
}

type printer struct {
	sb strings.Builder
}

func (p *printer) printf(format string, args ...interface{}) {
	fmt.Fprintf(&p.sb, format, args...)
}

func (p *printer) global(g *GlobalVar) {
	p.printf("%s = ", g.Ident())
	if g.Private {
		p.printf("private ")
	}
	if g.External {
		p.printf("external ")
	}
	if g.Space != Generic {
		p.printf("addrspace(%d) ", g.Space)
	}
	if g.Constant {
		p.printf("constant %s", g.Elem)
	} else {
		p.printf("global %s", g.Elem)
	}
	if !g.External {
		p.printf(" %s", initializer(g))
	}
	p.printf("\n")
}

func initializer(g *GlobalVar) string {
	if allZero(g.Init) {
		if g.Elem.IsInt() {
			return "0"
		}
		return "zeroinitializer"
	}
	if g.Elem.IsInt() {
		return ConstUint256(g.Elem, leWord(g.Init)).Ident()
	}
	var sb strings.Builder
	sb.WriteString("c\"")
	for i := 0; i < g.Elem.Size(); i++ {
		var c byte
		if i < len(g.Init) {
			c = g.Init[i]
		}
		if c >= 0x20 && c < 0x7f && c != '"' && c != '\\' {
			sb.WriteByte(c)
		} else {
			fmt.Fprintf(&sb, "\\%02X", c)
		}
	}
	sb.WriteString("\"")
	return sb.String()
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// leWord decodes up to 32 little-endian bytes.
func leWord(b []byte) *uint256.Int {
	var be [32]byte
	for i := 0; i < len(b) && i < 32; i++ {
		be[31-i] = b[i]
	}
	return new(uint256.Int).SetBytes32(be[:])
}

func signature(f *Function, named bool) string {
	parts := make([]string, len(f.Params))
	for i, prm := range f.Params {
		if named {
			parts[i] = prm.typ.String() + " " + prm.Ident()
		} else {
			parts[i] = prm.typ.String()
		}
	}
	return fmt.Sprintf("%s %s(%s)", f.Ret, f.Ident(), strings.Join(parts, ", "))
}

func (p *printer) declare(f *Function) {
	p.printf("declare %s\n", signature(f, false))
}

func (p *printer) define(f *Function) {
	linkage := ""
	if f.Private {
		linkage = "private "
	}
	p.printf("define %s%s {\n", linkage, signature(f, true))
	for i, b := range f.Blocks {
		if i > 0 {
			p.printf("\n")
		}
		if b.IsEVM() {
			p.printf("%s:  ; evm offset %d\n", b.Name, b.EVMOffset)
		} else {
			p.printf("%s:\n", b.Name)
		}
		for _, inst := range b.Insts {
			p.printf("  %s\n", inst)
		}
	}
	p.printf("}\n")
}

func typed(v Value) string {
	return v.Type().String() + " " + v.Ident()
}

func label(b *Block) string {
	return "label %" + b.Name
}

// String renders the instruction as one line of LLVM IR.
func (i *Inst) String() string {
	var body string
	switch {
	case i.Op.IsBinary():
		body = fmt.Sprintf("%s %s, %s", i.Op, typed(i.Operands[0]), i.Operands[1].Ident())
	case i.Op == OpICmp:
		body = fmt.Sprintf("icmp %s %s, %s", i.Pred, typed(i.Operands[0]), i.Operands[1].Ident())
	case i.Op == OpSelect:
		body = fmt.Sprintf("select %s, %s, %s", typed(i.Operands[0]), typed(i.Operands[1]), typed(i.Operands[2]))
	case i.Op == OpZExt || i.Op == OpSExt || i.Op == OpTrunc || i.Op == OpAddrSpaceCast:
		body = fmt.Sprintf("%s %s to %s", i.Op, typed(i.Operands[0]), i.typ)
	case i.Op == OpAlloca:
		body = fmt.Sprintf("alloca %s", i.Alloc)
	case i.Op == OpLoad:
		body = fmt.Sprintf("load %s, %s", i.typ, typed(i.Operands[0]))
	case i.Op == OpStore:
		return fmt.Sprintf("store %s, %s", typed(i.Operands[0]), typed(i.Operands[1]))
	case i.Op == OpGEP:
		body = fmt.Sprintf("getelementptr i8, %s, %s", typed(i.Operands[0]), typed(i.Operands[1]))
	case i.Op == OpCall:
		args := make([]string, len(i.Operands))
		for n, a := range i.Operands {
			args[n] = typed(a)
		}
		body = fmt.Sprintf("call %s %s(%s)", i.typ, i.Callee.Ident(), strings.Join(args, ", "))
	case i.Op == OpBr:
		return "br " + label(i.Succs[0])
	case i.Op == OpCondBr:
		return fmt.Sprintf("br %s, %s, %s", typed(i.Operands[0]), label(i.Succs[0]), label(i.Succs[1]))
	case i.Op == OpSwitch:
		var sb strings.Builder
		fmt.Fprintf(&sb, "switch %s, %s [", typed(i.Operands[0]), label(i.Succs[0]))
		for n, c := range i.Cases {
			fmt.Fprintf(&sb, "\n    %s, %s", typed(c), label(i.Succs[n+1]))
		}
		sb.WriteString("\n  ]")
		return sb.String()
	case i.Op == OpRet:
		if len(i.Operands) == 0 {
			return "ret void"
		}
		return "ret " + typed(i.Operands[0])
	case i.Op == OpUnreachable:
		return "unreachable"
	}
	if i.HasResult() {
		return i.Ident() + " = " + body
	}
	return body
}
