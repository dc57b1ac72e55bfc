package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/compiler"
)

var (
	runtimeCodeFlag = &cli.BoolFlag{
		Name:  "runtime",
		Usage: "Input is runtime bytecode rather than a deployment blob",
	}
	outputFlag = &cli.StringFlag{
		Name:    "out",
		Aliases: []string{"o"},
		Usage:   "Output file, stdout when empty",
	}
	rawFlag = &cli.BoolFlag{
		Name:  "raw",
		Usage: "Code file holds raw bytecode rather than hex text",
	}
	blocksFlag = &cli.BoolFlag{
		Name:  "blocks",
		Usage: "Print a table of the lowered blocks to stderr",
	}
	titleFlag = &cli.StringFlag{
		Name:  "title",
		Usage: "Graph title",
	}

	compileCommand = &cli.Command{
		Action:    compileCmd,
		Name:      "compile",
		Usage:     "Compile EVM bytecode into a kernel module",
		ArgsUsage: "<code file | hex>",
		Flags:     append(slices.Clone(configFlags), []cli.Flag{runtimeCodeFlag, rawFlag, outputFlag, blocksFlag}...),
		Description: `
The compile command splits a deployment blob into its constructor and runtime
parts, compiles the runtime part and writes the kernel as textual IR.`,
	}
	cfgCommand = &cli.Command{
		Action:    cfgCmd,
		Name:      "cfg",
		Usage:     "Print the discovered control-flow graph as DOT",
		ArgsUsage: "<code file | hex>",
		Flags:     []cli.Flag{runtimeCodeFlag, rawFlag, outputFlag, titleFlag},
	}
)

// readCode returns the bytecode named by the first argument: a file holding
// hex text, or raw bytes with --raw, or the hex text itself.
func readCode(ctx *cli.Context) ([]byte, error) {
	if ctx.NArg() != 1 {
		return nil, fmt.Errorf("required arguments: %v", ctx.Command.ArgsUsage)
	}
	arg := ctx.Args().First()
	if fi, err := os.Stat(arg); err == nil && fi.Mode().IsRegular() {
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, err
		}
		if ctx.Bool(rawFlag.Name) {
			return data, nil
		}
		code, err := compiler.DecodeHex(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w (use --%s for binary files)", arg, err, rawFlag.Name)
		}
		return code, nil
	}
	if ctx.Bool(rawFlag.Name) {
		return nil, fmt.Errorf("--%s needs a code file, %q is not one", rawFlag.Name, arg)
	}
	code, err := compiler.DecodeHex([]byte(arg))
	if err != nil {
		return nil, fmt.Errorf("%q is neither a file nor hex bytecode", arg)
	}
	return code, nil
}

func compileKernel(ctx *cli.Context) (*compiler.Kernel, *ptxConfig, error) {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	code, err := readCode(ctx)
	if err != nil {
		return nil, nil, err
	}
	var k *compiler.Kernel
	if ctx.Bool(runtimeCodeFlag.Name) {
		k, err = compiler.CompileRuntime(code, &cfg.Compiler)
	} else {
		k, err = compiler.CompileCached(code, &cfg.Compiler, compiler.DefaultKernelCache)
	}
	if err != nil {
		return nil, nil, err
	}
	return k, cfg, nil
}

// openOutput returns the writer named by --out and a function closing it.
func openOutput(ctx *cli.Context) (io.Writer, func() error, error) {
	name := ctx.String(outputFlag.Name)
	if name == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(name)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func compileCmd(ctx *cli.Context) error {
	k, _, err := compileKernel(ctx)
	if err != nil {
		return err
	}
	log.Info("Kernel compiled", "hash", k.Hash, "runtime", k.Program.RuntimeOffset,
		"blocks", len(k.CFG.Blocks()), "dynamic", k.Dynamic, "rewrites", k.Rewrites,
		"metered", k.Metered, "edges", k.Coverage.Edges)
	for name, n := range k.Checks {
		if n > 0 {
			log.Info("Oracle instrumented", "oracle", name, "sites", n)
		}
	}
	if ctx.Bool(blocksFlag.Name) {
		writeBlockTable(os.Stderr, k)
	}
	w, closer, err := openOutput(ctx)
	if err != nil {
		return err
	}
	if _, err := k.Module.WriteTo(w); err != nil {
		closer()
		return err
	}
	return closer()
}

// writeBlockTable renders one row per decoded block.
func writeBlockTable(w io.Writer, k *compiler.Kernel) {
	var data [][]string
	for _, bb := range k.CFG.Blocks() {
		mode, regIn, memPops, memPushes := "-", "-", "-", "-"
		if st := k.Stats[bb]; st != nil {
			mode = st.Mode.String()
			regIn = fmt.Sprint(st.RegIn)
			memPops = fmt.Sprint(st.MemPops)
			memPushes = fmt.Sprint(st.MemPushes)
		}
		data = append(data, []string{
			fmt.Sprintf("bb%d", bb.Begin()),
			fmt.Sprintf("[%d,%d)", bb.Begin(), bb.End()),
			fmt.Sprint(bb.StackIn()),
			fmt.Sprint(bb.StackOut()),
			fmt.Sprint(len(bb.Parents())),
			fmt.Sprint(k.CFG.Reachable(bb)),
			mode, regIn, memPops, memPushes,
		})
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Block", "Range", "In", "Out", "Parents", "Reached", "Mode", "RegIn", "MemPops", "MemPushes"})
	table.AppendBulk(data)
	table.Render()
}

func cfgCmd(ctx *cli.Context) error {
	code, err := readCode(ctx)
	if err != nil {
		return err
	}
	prog := &compiler.Program{Code: code}
	if !ctx.Bool(runtimeCodeFlag.Name) {
		if prog, err = compiler.Split(code); err != nil {
			return err
		}
	}
	graph := compiler.NewCFG(prog.Runtime(), compiler.NewOpcodeTable())
	graph.Discover()
	log.Info("Control flow discovered", "blocks", len(graph.Blocks()), "edges", len(graph.Edges()),
		"invalid", graph.InvalidEdges())

	w, closer, err := openOutput(ctx)
	if err != nil {
		return err
	}
	if _, err := w.Write(buildDOT(graph, ctx.String(titleFlag.Name))); err != nil {
		closer()
		return err
	}
	return closer()
}

// buildDOT renders graph in Graphviz syntax. Blocks discovery never reached
// are dashed; jumps without a valid destination point at a shared invalid node.
func buildDOT(graph *compiler.CFG, title string) []byte {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	fmt.Fprintln(w, "digraph CFG {")
	fmt.Fprintln(w, "  rankdir=LR;")
	fmt.Fprintln(w, "  node [shape=box, fontname=\"monospace\"];")
	if title != "" {
		fmt.Fprintf(w, "  labelloc=\"t\";\n  label=\"%s\";\n", escapeDOT(title))
	}
	for _, bb := range graph.Blocks() {
		instrs := bb.Instrs()
		label := fmt.Sprintf("bb%d\\n[%d,%d) in=%d out=%d\\nfirst:%s\\nlast:%s",
			bb.Begin(), bb.Begin(), bb.End(), bb.StackIn(), bb.StackOut(),
			instrs[0].Op, instrs[len(instrs)-1].Op)
		style := ""
		if !graph.Reachable(bb) {
			style = ", style=dashed"
		}
		fmt.Fprintf(w, "  n%d [label=\"%s\"%s];\n", bb.Begin(), escapeDOT(label), style)
	}
	invalid := false
	for _, e := range graph.Edges() {
		if e.To == nil {
			invalid = true
			fmt.Fprintf(w, "  n%d -> invalid [label=\"%s@%d\", color=red];\n", e.From.Begin(), e.Kind, e.PC)
			continue
		}
		fmt.Fprintf(w, "  n%d -> n%d [label=\"%s\"];\n", e.From.Begin(), e.To.Begin(), e.Kind)
	}
	if invalid {
		fmt.Fprintln(w, "  invalid [shape=octagon, color=red];")
	}
	fmt.Fprintln(w, "}")
	w.Flush()
	return buf.Bytes()
}

func escapeDOT(s string) string {
	// Keep \n sequences for Graphviz; only quotes and real newlines need escaping.
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
