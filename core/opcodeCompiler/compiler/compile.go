package compiler

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	pkgerrors "github.com/pkg/errors"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/sanitizer"
	"github.com/cassc/mau-ityfuzz/params"
)

// ErrCodeTooLarge is returned for programs that do not fit __evmCode.
var ErrCodeTooLarge = errors.New("bytecode exceeds the code blob")

// Kernel is a compiled fuzz target together with what the compiler learned
// about the program on the way.
type Kernel struct {
	Module  *kir.Module
	Program *Program
	CFG     *CFG
	Hash    common.Hash // Keccak-256 of the whole input

	// Dynamic is set when some jump could not be resolved statically and
	// JUMPDEST blocks are entered through the dispatch table.
	Dynamic  bool
	Stats    map[*BasicBlock]*BlockStats
	Rewrites int // branches rewritten by the jump resolver
	Metered  int // blocks charged by the gas meter

	// Checks holds the number of checks inserted per oracle.
	Checks   map[string]int
	Coverage sanitizer.CoverageStats
}

// Entry returns the lowered program function.
func (k *Kernel) Entry() *kir.Function { return k.Module.Function(EntryFunc) }

// Main returns the grid entry point.
func (k *Kernel) Main() *kir.Function { return k.Module.Function(KernelFunc) }

// Compile builds a kernel from a deployment blob. Input may be hex text or raw
// bytes, as told apart by ParseCode; the runtime part is located after the
// constructor.
func Compile(input []byte, cfg *Config) (*Kernel, error) {
	return CompileCode(ParseCode(input), cfg)
}

// CompileCode is Compile for raw deployment bytecode.
func CompileCode(code []byte, cfg *Config) (*Kernel, error) {
	prog, err := Split(code)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "split constructor")
	}
	return compileProgram(prog, cfg)
}

// CompileRuntime builds a kernel from runtime bytecode without a constructor.
func CompileRuntime(code []byte, cfg *Config) (*Kernel, error) {
	if len(code) == 0 {
		return nil, ErrEmptyCode
	}
	return compileProgram(&Program{Code: code}, cfg)
}

// CompileCached is CompileCode backed by cache. A nil cfg selects the
// defaults, under the same key as an explicit DefaultConfig.
func CompileCached(code []byte, cfg *Config, cache *KernelCache) (*Kernel, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if k := cache.Load(code, cfg); k != nil {
		return k, nil
	}
	k, err := CompileCode(code, cfg)
	if err != nil {
		return nil, err
	}
	cache.Store(code, cfg, k)
	return k, nil
}

func compileProgram(prog *Program, cfg *Config) (*Kernel, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, pkgerrors.Wrap(err, "invalid config")
	}
	if len(prog.Code) > params.EVMCodeSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrCodeTooLarge, len(prog.Code), params.EVMCodeSize)
	}
	if len(prog.Runtime()) == 0 {
		return nil, ErrNoRuntimeCode
	}
	oracles, err := sanitizer.Lookup(cfg.SanitizerList())
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer compileTimer.UpdateSince(start)

	hash := crypto.Keccak256Hash(prog.Code)
	ctx := NewContext(fmt.Sprintf("kernel_%x", hash[:4]), cfg)
	ctx.addGlobals(prog.Code)
	ctx.ThreadID()

	graph := NewCFG(prog.Runtime(), ctx.Table)
	graph.Discover()

	l := lowerProgram(ctx, graph, uint(prog.RuntimeOffset))
	k := &Kernel{
		Module:  ctx.Module,
		Program: prog,
		CFG:     graph,
		Hash:    hash,
		Dynamic: l.dynamic,
		Stats:   l.stats,
	}
	k.Rewrites = l.resolveJumps()
	k.Metered = l.injectGas(cfg.GasLimit, cfg.GasPerInst)

	pass := sanitizer.NewPass(ctx.Module, l.fn, ctx.Tags, ctx)
	k.Checks = sanitizer.Run(pass, oracles)
	if cfg.Coverage {
		k.Coverage = sanitizer.Coverage(ctx.Module, l.fn, bitmapParam, ctx.Rand())
	}
	ctx.buildKernel(l.fn)

	kernelsCompiledCounter.Inc(1)
	log.Debug("Kernel compiled", "hash", hash, "blocks", len(graph.Blocks()), "dynamic", k.Dynamic,
		"rewrites", k.Rewrites, "checks", k.Checks, "elapsed", common.PrettyDuration(time.Since(start)))
	return k, nil
}
