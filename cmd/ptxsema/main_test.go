package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/compiler"
	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/runtime"
	"github.com/cassc/mau-ityfuzz/params"
)

func TestEscapeDOT(t *testing.T) {
	require.Equal(t, `a \"b\"\nc\n`, escapeDOT("a \"b\"\nc\\n"))
}

func TestBuildDOT(t *testing.T) {
	// PUSH1 3 JUMP STOP JUMPDEST STOP: the jump lands on STOP, which is not a JUMPDEST.
	graph := compiler.NewCFG(common.FromHex("600356005b00"), compiler.NewOpcodeTable())
	graph.Discover()
	dot := string(buildDOT(graph, `say "hi"`))

	require.True(t, strings.HasPrefix(dot, "digraph CFG {"))
	require.Contains(t, dot, `label="say \"hi\"";`)
	require.Contains(t, dot, "n0 -> invalid")
	require.Contains(t, dot, "invalid [shape=octagon")
	// The JUMPDEST block is never reached.
	require.Contains(t, dot, "style=dashed")
	require.True(t, strings.HasSuffix(dot, "}\n"))
}

func TestReadTxs(t *testing.T) {
	input := `
# comment
0102
0x00000000000000000000000000000000000000aa:0x10:
`
	txs, err := readTxs(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, []byte{1, 2}, txs[0].Data)
	require.Equal(t, common.HexToAddress("0xaa"), txs[1].Caller)
	require.Equal(t, uint64(16), txs[1].CallValue.Uint64())

	_, err = readTxs(strings.NewReader("zz\n"))
	require.ErrorContains(t, err, "line 1")
}

func TestHexOrEmpty(t *testing.T) {
	require.Equal(t, "-", hexOrEmpty(nil))
	require.Equal(t, "0aff", hexOrEmpty([]byte{0x0a, 0xff}))
}

func TestDumpConfigRoundTrip(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, app.Run([]string{"ptxsema", "--verbosity", "0", "dumpconfig",
		"--threads", "8", "--sanitizers", "none", "--maxsteps", "1000", file}))

	cfg := defaultConfig()
	require.NoError(t, loadConfig(file, &cfg))
	want := defaultConfig()
	want.Compiler.Threads = 8
	want.Compiler.Sanitizers = ""
	want.Runtime.MaxSteps = 1000
	require.Equal(t, want, cfg)
}

func TestLoadConfigUnknownField(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(file, []byte("[Compiler]\nThreadz = 4\n"), 0644))
	cfg := defaultConfig()
	err := loadConfig(file, &cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Threadz")
}

func TestCompileCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "kernel.ll")
	require.NoError(t, app.Run([]string{"ptxsema", "--verbosity", "0", "compile",
		"--runtime", "--threads", "4", "--out", out, "602a60005500"}))
	ir, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Contains(t, string(ir), "@main_contract(")
	require.Contains(t, string(ir), "nvvm.annotations")
}

func TestCompileCommandFromFile(t *testing.T) {
	dir := t.TempDir()
	code := filepath.Join(dir, "code.hex")
	// Deployment blob: constructor copying and returning the runtime part.
	require.NoError(t, os.WriteFile(code, []byte("0x600a600c600039600a6000f3602a60005500\n"), 0644))
	out := filepath.Join(dir, "kernel.ll")
	require.NoError(t, app.Run([]string{"ptxsema", "--verbosity", "0", "compile",
		"--threads", "4", "--out", out, code}))
	ir, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Contains(t, string(ir), "@contract(")
}

func TestCompileCommandBadInput(t *testing.T) {
	err := app.Run([]string{"ptxsema", "--verbosity", "0", "compile", "--runtime", "not-code"})
	require.ErrorContains(t, err, "neither a file nor hex")
}

func TestWriteBlockTable(t *testing.T) {
	cfg := compiler.DefaultConfig()
	cfg.Threads = 4
	k, err := compiler.CompileRuntime(common.FromHex("6005366009576001015b60005500"), cfg)
	require.NoError(t, err)

	var buf bytes.Buffer
	writeBlockTable(&buf, k)
	table := buf.String()
	require.Contains(t, table, "MEMPOPS")
	require.Contains(t, table, "confluence")
	require.Contains(t, table, "bb9")
}

func TestCompileCommandRawFile(t *testing.T) {
	dir := t.TempDir()
	code := filepath.Join(dir, "code.bin")
	require.NoError(t, os.WriteFile(code, common.FromHex("602a60005500"), 0644))
	out := filepath.Join(dir, "kernel.ll")

	err := app.Run([]string{"ptxsema", "--verbosity", "0", "compile", "--runtime", "--threads", "4", "--out", out, code})
	require.ErrorContains(t, err, "--raw")
	require.ErrorIs(t, err, compiler.ErrNotHex)

	require.NoError(t, app.Run([]string{"ptxsema", "--verbosity", "0", "compile",
		"--runtime", "--raw", "--threads", "4", "--out", out, code}))

	// Raw code whose bytes all happen to be hex digits stays raw.
	require.NoError(t, os.WriteFile(code, []byte("0000"), 0644))
	require.NoError(t, app.Run([]string{"ptxsema", "--verbosity", "0", "compile",
		"--runtime", "--raw", "--threads", "4", "--out", out, code}))

	err = app.Run([]string{"ptxsema", "--verbosity", "0", "compile", "--runtime", "--raw", "602a60005500"})
	require.ErrorContains(t, err, "needs a code file")
}

func TestExecuteBatches(t *testing.T) {
	cfg := compiler.DefaultConfig()
	cfg.Threads = 2
	// ORIGIN POP STOP
	k, err := compiler.CompileRuntime(common.FromHex("325000"), cfg)
	require.NoError(t, err)
	rt, err := runtime.New(k, &runtime.Config{})
	require.NoError(t, err)
	defer rt.Release()
	require.Equal(t, 2, rt.Contexts())

	var txs []*runtime.Tx
	for i := 0; i < 5; i++ {
		tx, err := runtime.ParseTx(common.Bytes2Hex([]byte{byte(i + 1)}))
		require.NoError(t, err)
		txs = append(txs, tx)
	}
	ex, err := execute(rt, txs)
	require.NoError(t, err)
	require.Equal(t, 3, ex.launches)
	require.Len(t, ex.outcomes, 5)
	for i, o := range ex.outcomes {
		require.Same(t, txs[i], o.tx)
	}

	var tids []int
	for _, s := range ex.signals {
		if s.Sig == params.SigTxOrigin {
			tids = append(tids, s.Tid)
		}
	}
	require.ElementsMatch(t, []int{0, 1, 2, 3, 4}, tids)
	require.Equal(t, []runtime.Bug{{Sig: params.SigTxOrigin, PC: 0}}, runtime.Bugs(ex.signals))
}

func TestRunCommand(t *testing.T) {
	var buf bytes.Buffer
	app.Writer = &buf
	t.Cleanup(func() { app.Writer = os.Stdout })

	require.NoError(t, app.Run([]string{"ptxsema", "--verbosity", "0", "run", "--runtime", "--threads", "2",
		"--tx", "01", "--tx", "02", "--tx", "0x00000000000000000000000000000000000000aa:0x10:03", "325000"}))
	out := buf.String()
	require.Contains(t, out, "NEW COVERAGE")
	require.Contains(t, strings.ToLower(out), "0x00000000000000000000000000000000000000aa")
	require.Contains(t, out, "tx-origin")
	// One row per transaction, numbered across launches.
	for _, row := range []string{"| 0 ", "| 1 ", "| 2 "} {
		require.Contains(t, out, row)
	}
}
