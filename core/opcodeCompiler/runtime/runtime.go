// Package runtime executes compiled kernels on the host. It binds the device
// library the kernels call into, launches one interpreter per execution
// context and reduces their coverage maps the way the GPU harness does.
package runtime

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/panjf2000/ants/v2"
	pkgerrors "github.com/pkg/errors"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/compiler"
	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/sanitizer"
	"github.com/cassc/mau-ityfuzz/params"
)

var (
	ErrCalldataTooLarge = errors.New("calldata exceeds the transaction record")
	ErrTooManyTxs       = errors.New("more transactions than execution contexts")
	ErrReleased         = errors.New("runtime released")

	errShortSnapshot = errors.New("truncated snapshot")
)

// DefaultMaxSteps bounds one context. It stands in for the watchdog that
// kills runaway kernels on the device.
const DefaultMaxSteps = 1 << 22

// Config tunes a Runtime.
type Config struct {
	Contexts int // execution contexts per launch, every context the kernel has maps for when zero
	Workers  int // goroutines running contexts, Contexts when zero
	MaxSteps int // interpreter steps per context, DefaultMaxSteps when zero
}

// sanitize fills in defaults. threads is the number of coverage maps the
// kernel was compiled with.
func (c *Config) sanitize(threads int) Config {
	cfg := Config{}
	if c != nil {
		cfg = *c
	}
	if cfg.Contexts <= 0 || cfg.Contexts > threads {
		cfg.Contexts = threads
	}
	if cfg.Workers <= 0 || cfg.Workers > cfg.Contexts {
		cfg.Workers = cfg.Contexts
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	return cfg
}

// execContext is the per-thread state the externs see through Machine.Ctx.
type execContext struct {
	tid     int
	storage Snapshot // first storage layer, private to the context
	status  params.ExecStatus
}

// Runtime runs one compiled kernel.
type Runtime struct {
	kernel *compiler.Kernel
	env    *kir.Env
	cfg    Config
	pool   *ants.Pool

	// shared is the second storage layer. It is read-only during a launch.
	shared *Snapshot
	cov    *Coverage
	log    signalLog

	mu       sync.Mutex // serializes launches
	released bool
}

// New prepares k for execution.
func New(k *compiler.Kernel, c *Config) (*Runtime, error) {
	if k.Main() == nil || k.Entry() == nil {
		return nil, fmt.Errorf("kernel has no %s/%s", compiler.KernelFunc, compiler.EntryFunc)
	}
	env := kir.NewEnv(k.Module)
	threads := len(env.Object(compiler.BitmapsGlobal).Data) / params.MapSize
	if threads == 0 {
		return nil, fmt.Errorf("kernel has no coverage maps")
	}
	cfg := c.sanitize(threads)
	pool, err := ants.NewPool(cfg.Workers, ants.WithExpiryDuration(10*time.Second))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "worker pool")
	}
	rt := &Runtime{
		kernel: k,
		env:    env,
		cfg:    cfg,
		pool:   pool,
		shared: new(Snapshot),
		cov:    NewCoverage(),
	}
	rt.bind()
	return rt, nil
}

func (rt *Runtime) bind() {
	e := rt.env
	e.Bind(compiler.MLoadFunc, mload)
	e.Bind(compiler.MStoreFunc, mstore)
	e.Bind(compiler.SHA3Func, sha3)
	e.Bind(compiler.CalldataLoadFunc, calldataload)
	e.Bind(compiler.CalldataCopyFunc, calldatacpy)
	e.Bind(compiler.AddModFunc, modOp(addMod))
	e.Bind(compiler.MulModFunc, modOp(mulMod))
	e.Bind(compiler.PowerFunc, power)
	e.Bind(sanitizer.HashWordFunc, hashword)
	e.Bind(sanitizer.SLoadFunc, rt.sload)
	e.Bind(sanitizer.SStoreFunc, rt.sstore)
	e.Bind(sanitizer.BugSetFunc, rt.addBugSet)

	tid := func(m *kir.Machine) uint64 { return uint64(m.Ctx.(*execContext).tid) }
	e.Bind(compiler.TidXFunc, func(m *kir.Machine, _ []kir.Val) (kir.Val, error) {
		return kir.IntVal(tid(m) % params.BlockX), nil
	})
	e.Bind(compiler.CtaidXFunc, func(m *kir.Machine, _ []kir.Val) (kir.Val, error) {
		return kir.IntVal(tid(m) / params.BlockX), nil
	})
	e.Bind(compiler.NtidXFunc, func(*kir.Machine, []kir.Val) (kir.Val, error) {
		return kir.IntVal(params.BlockX), nil
	})
}

// sload reads the private layer first, then the shared one. Missing keys
// read as zero.
func (rt *Runtime) sload(m *kir.Machine, args []kir.Val) (kir.Val, error) {
	ctx := m.Ctx.(*execContext)
	key, err := m.ReadWord(args[0])
	if err != nil {
		return kir.Val{}, err
	}
	if v, ok := ctx.storage.Get(key); ok {
		return kir.Val{}, m.WriteWord(args[1], v)
	}
	if v, ok := rt.shared.Get(key); ok {
		return kir.Val{}, m.WriteWord(args[1], v)
	}
	return kir.Val{}, m.Write(args[1], make([]byte, params.WordSize))
}

func (rt *Runtime) sstore(m *kir.Machine, args []kir.Val) (kir.Val, error) {
	ctx := m.Ctx.(*execContext)
	key, err := m.ReadWord(args[0])
	if err != nil {
		return kir.Val{}, err
	}
	val, err := m.ReadWord(args[1])
	if err != nil {
		return kir.Val{}, err
	}
	if !ctx.storage.Set(key, val) {
		log.Trace("Storage snapshot full, store dropped", "tid", ctx.tid, "key", key.Hex())
	}
	return kir.Val{}, nil
}

// addBugSet(tid, sig, pc). A zero sig is a check that did not fire.
func (rt *Runtime) addBugSet(m *kir.Machine, args []kir.Val) (kir.Val, error) {
	sig := params.SigByte(args[1].Uint64())
	if sig == params.SigExecNone {
		return kir.Val{}, nil
	}
	ctx := m.Ctx.(*execContext)
	ctx.status = statusOf(ctx.status, sig)
	rt.log.add(Signal{Tid: int(args[0].Uint64()), Sig: sig, PC: uint32(args[2].Uint64())})
	return kir.Val{}, nil
}

// SetStorage replaces the shared storage layer.
func (rt *Runtime) SetStorage(s *Snapshot) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if s == nil {
		s = new(Snapshot)
	}
	rt.shared = s.Clone()
}

// Storage returns a copy of the shared storage layer.
func (rt *Runtime) Storage() *Snapshot {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.shared.Clone()
}

// Coverage returns the cumulative coverage state.
func (rt *Runtime) Coverage() *Coverage { return rt.cov }

// Contexts returns the number of execution contexts one launch can run.
func (rt *Runtime) Contexts() int { return rt.cfg.Contexts }

// Env exposes the interpreter environment, mostly for inspecting globals.
func (rt *Runtime) Env() *kir.Env { return rt.env }

// Result is the outcome of running contract directly.
type Result struct {
	Status  params.ExecStatus
	Ok      bool // contract returned normally
	Signals []Signal
	Storage *Snapshot
	Bitmap  []byte
	Steps   int
}

// Exec runs contract for a single transaction as context tid, bypassing the
// grid wrapper, and reports how it ended.
func (rt *Runtime) Exec(tid int, tx *Tx) (*Result, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.released {
		return nil, ErrReleased
	}
	rec := kir.NewObject("tx", params.TxSize)
	if err := tx.Encode(rec.Data); err != nil {
		return nil, err
	}
	bitmap := kir.NewObject("bitmap", params.MapSize)
	ctx := &execContext{tid: tid}
	m := rt.env.NewMachine(ctx)
	m.MaxSteps = rt.cfg.MaxSteps
	ret, err := m.Call(rt.kernel.Entry(),
		kir.PtrVal(rec, recCaller),
		kir.PtrVal(rec, recCallValue),
		kir.PtrVal(rec, recData),
		kir.IntVal(uint64(len(tx.Data))),
		kir.PtrVal(bitmap, 0),
	)
	res := &Result{Signals: rt.log.drain(), Storage: ctx.storage.Clone(), Bitmap: bitmap.Data, Steps: m.Steps()}
	switch {
	case errors.Is(err, kir.ErrStepLimit):
		res.Status = params.ExecReverted
		return res, nil
	case err != nil:
		compiler.KirDebugError("Context trapped", "tid", tid, "steps", m.Steps(), "err", err)
		return nil, pkgerrors.Wrapf(err, "context %d", tid)
	}
	res.Ok = ret.Uint64() == 1
	res.Status = ctx.status
	if !res.Ok && res.Status == params.ExecNone {
		res.Status = params.ExecReverted
	}
	return res, nil
}

// Report is the outcome of one launch.
type Report struct {
	Statuses []params.ExecStatus
	Signals  []Signal
	Bugs     []Bug
	Fresh    []int       // contexts that found new coverage
	Storage  []*Snapshot // private storage layer of every context
	Covered  int         // cumulative covered map bytes
	Elapsed  time.Duration
}

// Launch runs main_contract over txs, one context per transaction, then
// folds the per-context coverage maps into the cumulative state.
func (rt *Runtime) Launch(txs []*Tx) (*Report, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.released {
		return nil, ErrReleased
	}
	n := len(txs)
	if n > rt.cfg.Contexts {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyTxs, n, rt.cfg.Contexts)
	}
	start := time.Now()

	seeds := kir.NewObject("txs", n*params.SeedSize)
	for i, tx := range txs {
		if err := tx.Encode(seeds.Data[i*params.SeedSize:]); err != nil {
			return nil, pkgerrors.Wrapf(err, "transaction %d", i)
		}
	}
	bitmaps := rt.env.Object(compiler.BitmapsGlobal)
	clear(bitmaps.Data)

	var (
		main = rt.kernel.Main()
		ctxs = make([]*execContext, n)
		errs = make([]error, n)
		wg   sync.WaitGroup
	)
	for tid := range ctxs {
		ctx := &execContext{tid: tid}
		ctxs[tid] = ctx
		wg.Add(1)
		err := rt.pool.Submit(func() {
			defer wg.Done()
			m := rt.env.NewMachine(ctx)
			m.MaxSteps = rt.cfg.MaxSteps
			_, errs[ctx.tid] = m.Call(main, kir.PtrVal(seeds, 0), kir.IntVal(uint64(n)))
		})
		if err != nil {
			wg.Done()
			errs[tid] = err
		}
	}
	wg.Wait()

	rep := &Report{
		Statuses: make([]params.ExecStatus, n),
		Storage:  make([]*Snapshot, n),
	}
	for tid, ctx := range ctxs {
		switch err := errs[tid]; {
		case errors.Is(err, kir.ErrStepLimit):
			log.Debug("Context exceeded the step budget", "tid", tid, "steps", rt.cfg.MaxSteps)
			ctx.status = max(ctx.status, params.ExecReverted)
		case err != nil:
			compiler.KirDebugError("Context trapped", "tid", tid, "err", err)
			return nil, pkgerrors.Wrapf(err, "context %d", tid)
		}
		rep.Storage[tid] = ctx.storage.Clone()
	}

	maps := make([][]byte, n)
	for tid := range maps {
		maps[tid] = bitmaps.Data[tid*params.MapSize : (tid+1)*params.MapSize]
	}
	rep.Fresh = rt.cov.Update(maps)
	for _, tid := range rep.Fresh {
		ctxs[tid].status = max(ctxs[tid].status, params.ExecInteresting)
	}
	copy(rt.env.Object(compiler.VirginBitsGlobal).Data, rt.cov.Virgin[:])
	copy(rt.env.Object(compiler.CovBitsGlobal).Data, rt.cov.Bits[:])

	for tid, ctx := range ctxs {
		rep.Statuses[tid] = ctx.status
	}
	rep.Signals = rt.log.drain()
	rep.Bugs = Bugs(rep.Signals)
	rep.Covered = rt.cov.Covered()
	rep.Elapsed = time.Since(start)

	log.Debug("Launched kernel", "hash", rt.kernel.Hash, "contexts", n, "fresh", len(rep.Fresh),
		"bugs", len(rep.Bugs), "covered", rep.Covered, "elapsed", common.PrettyDuration(rep.Elapsed))
	return rep, nil
}

// Release stops the worker pool. The runtime cannot launch afterwards.
func (rt *Runtime) Release() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.released {
		rt.released = true
		rt.pool.Release()
	}
}
