package runtime

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/compiler"
	"github.com/cassc/mau-ityfuzz/params"
)

func newTestRuntime(t *testing.T, code string, tweak func(*compiler.Config)) *Runtime {
	t.Helper()
	cfg := compiler.DefaultConfig()
	cfg.Threads = 4
	if tweak != nil {
		tweak(cfg)
	}
	k, err := compiler.CompileRuntime(common.FromHex(code), cfg)
	require.NoError(t, err)
	rt, err := New(k, &Config{MaxSteps: 1 << 16})
	require.NoError(t, err)
	t.Cleanup(rt.Release)
	return rt
}

func TestExecReturn(t *testing.T) {
	// PUSH1 1 PUSH1 1 ADD PUSH1 0 MSTORE PUSH1 32 PUSH1 0 RETURN
	rt := newTestRuntime(t, "600160010160005260206000f3", nil)
	res, err := rt.Exec(0, &Tx{})
	require.NoError(t, err)
	require.True(t, res.Ok)
	require.Equal(t, params.ExecNone, res.Status)
	require.Empty(t, res.Signals)
	require.NotZero(t, CountBytes(res.Bitmap))
}

func TestExecIntegerOverflow(t *testing.T) {
	// PUSH32 max DUP1 ADD POP STOP
	rt := newTestRuntime(t, "7f"+strings.Repeat("ff", 32)+"80015000", nil)
	res, err := rt.Exec(0, &Tx{})
	require.NoError(t, err)
	require.True(t, res.Ok)
	require.Equal(t, params.ExecBuggy, res.Status)
	require.Equal(t, []Signal{{Tid: 0, Sig: params.SigIntegerBug, PC: 34}}, res.Signals)
}

func TestExecSanitizersDisabled(t *testing.T) {
	rt := newTestRuntime(t, "7f"+strings.Repeat("ff", 32)+"80015000", func(c *compiler.Config) {
		c.Sanitizers = ""
	})
	res, err := rt.Exec(0, &Tx{})
	require.NoError(t, err)
	require.Empty(t, res.Signals)
	require.Equal(t, params.ExecNone, res.Status)
}

func TestExecRevert(t *testing.T) {
	// PUSH1 0 PUSH1 0 REVERT
	rt := newTestRuntime(t, "60006000fd", nil)
	res, err := rt.Exec(0, &Tx{})
	require.NoError(t, err)
	require.False(t, res.Ok)
	require.Equal(t, params.ExecReverted, res.Status)
}

func TestExecStackUnderflow(t *testing.T) {
	// ADD with an empty stack aborts.
	rt := newTestRuntime(t, "0100", nil)
	res, err := rt.Exec(0, &Tx{})
	require.NoError(t, err)
	require.False(t, res.Ok)
}

func TestExecOutOfGas(t *testing.T) {
	// JUMPDEST PUSH1 0 JUMP loops until the meter runs dry.
	rt := newTestRuntime(t, "5b600056", func(c *compiler.Config) {
		c.GasLimit = 1000
	})
	res, err := rt.Exec(0, &Tx{})
	require.NoError(t, err)
	require.False(t, res.Ok)
	require.Equal(t, params.ExecReverted, res.Status)
}

func TestExecStorage(t *testing.T) {
	// PUSH1 42 PUSH1 1 SSTORE PUSH1 1 SLOAD PUSH1 2 SSTORE STOP
	rt := newTestRuntime(t, "602a60015560015460025500", nil)
	res, err := rt.Exec(0, &Tx{})
	require.NoError(t, err)
	require.True(t, res.Ok)
	v, ok := res.Storage.Get(uint256.NewInt(2))
	require.True(t, ok)
	require.Equal(t, uint64(42), v.Uint64())
	// The load matched the key of the earlier store.
	require.Equal(t, byte(1), res.Bitmap[0])
}

func TestExecSharedStorage(t *testing.T) {
	// PUSH1 1 SLOAD PUSH1 2 SSTORE STOP
	rt := newTestRuntime(t, "60015460025500", nil)
	shared := new(Snapshot)
	shared.Set(uint256.NewInt(1), uint256.NewInt(7))
	rt.SetStorage(shared)

	res, err := rt.Exec(0, &Tx{})
	require.NoError(t, err)
	v, ok := res.Storage.Get(uint256.NewInt(2))
	require.True(t, ok)
	require.Equal(t, uint64(7), v.Uint64())
	// The shared layer is untouched.
	_, ok = rt.Storage().Get(uint256.NewInt(2))
	require.False(t, ok)
}

func TestExecCalldata(t *testing.T) {
	// PUSH1 0 CALLDATALOAD PUSH1 0 SSTORE CALLER PUSH1 1 SSTORE CALLVALUE PUSH1 2 SSTORE STOP
	rt := newTestRuntime(t, "600035600055336001553460025500", nil)
	tx, err := ParseTx("0x00000000000000000000000000000000000000aa:0x05:0102")
	require.NoError(t, err)
	res, err := rt.Exec(0, tx)
	require.NoError(t, err)

	want := map[uint64]*uint256.Int{
		0: new(uint256.Int).Lsh(uint256.NewInt(0x0102), 240),
		1: uint256.NewInt(0xaa),
		2: uint256.NewInt(5),
	}
	for key, val := range want {
		got, ok := res.Storage.Get(uint256.NewInt(key))
		require.True(t, ok, key)
		require.Equal(t, val, got, key)
	}
}

func TestExecTxOrigin(t *testing.T) {
	// ORIGIN POP STOP
	rt := newTestRuntime(t, "325000", nil)
	res, err := rt.Exec(0, &Tx{})
	require.NoError(t, err)
	require.Equal(t, []Signal{{Sig: params.SigTxOrigin, PC: 0}}, res.Signals)
}

func TestExecBugTargetLog(t *testing.T) {
	// PUSH3 0x133337 PUSH1 0 PUSH1 0 LOG1 STOP
	rt := newTestRuntime(t, "6213333760006000a100", nil)
	res, err := rt.Exec(0, &Tx{})
	require.NoError(t, err)
	require.Equal(t, params.ExecInteresting, res.Status)
	require.Equal(t, []Signal{{Sig: params.SigInteresting, PC: 8}}, res.Signals)
}

func TestLaunch(t *testing.T) {
	// CALLDATASIZE ISZERO PUSH1 8 JUMPI PUSH1 1 STOP JUMPDEST STOP
	rt := newTestRuntime(t, "36156008576001005b00", nil)
	require.Equal(t, 4, rt.Contexts())

	txs := []*Tx{{}, {Data: []byte{1}}}
	rep, err := rt.Launch(txs)
	require.NoError(t, err)
	require.Len(t, rep.Statuses, 2)
	require.Contains(t, rep.Fresh, 0)
	require.Equal(t, params.ExecInteresting, rep.Statuses[0])
	require.GreaterOrEqual(t, rep.Covered, 2)
	require.Empty(t, rep.Bugs)

	// The reducer state is mirrored into the kernel globals.
	virgin := rt.Env().Object(compiler.VirginBitsGlobal).Data
	require.Equal(t, rt.Coverage().Virgin[:], virgin)

	// Nothing new the second time round.
	rep, err = rt.Launch(txs)
	require.NoError(t, err)
	require.Empty(t, rep.Fresh)
	require.Equal(t, []params.ExecStatus{params.ExecNone, params.ExecNone}, rep.Statuses)
}

func TestLaunchLimits(t *testing.T) {
	rt := newTestRuntime(t, "00", nil)
	_, err := rt.Launch(make([]*Tx, 5))
	require.ErrorIs(t, err, ErrTooManyTxs)

	rt.Release()
	_, err = rt.Launch([]*Tx{{}})
	require.ErrorIs(t, err, ErrReleased)
}

func storedAt(t *testing.T, res *Result, key uint64) uint64 {
	t.Helper()
	v, ok := res.Storage.Get(uint256.NewInt(key))
	require.True(t, ok, "slot %d unset", key)
	return v.Uint64()
}

func TestExecConfluence(t *testing.T) {
	// PUSH1 5 CALLDATASIZE PUSH1 9 JUMPI PUSH1 1 ADD JUMPDEST PUSH1 0 SSTORE STOP
	rt := newTestRuntime(t, "6005366009576001015b60005500", nil)

	res, err := rt.Exec(0, &Tx{})
	require.NoError(t, err)
	require.True(t, res.Ok)
	require.Equal(t, uint64(6), storedAt(t, res, 0))

	res, err = rt.Exec(1, &Tx{Data: []byte{0xff}})
	require.NoError(t, err)
	require.True(t, res.Ok)
	require.Equal(t, uint64(5), storedAt(t, res, 0))
}

func TestExecRegisterHandOver(t *testing.T) {
	// PUSH1 1 PUSH1 2 PUSH1 7 JUMP JUMPDEST ADD PUSH1 0 SSTORE STOP
	rt := newTestRuntime(t, "600160026007565b0160005500", nil)
	res, err := rt.Exec(0, &Tx{})
	require.NoError(t, err)
	require.True(t, res.Ok)
	require.Equal(t, uint64(3), storedAt(t, res, 0))
}

func TestExecDynamicJump(t *testing.T) {
	// PUSH1 0 CALLDATALOAD PUSH1 248 SHR JUMP JUMPDEST PUSH1 1 PUSH1 0 SSTORE STOP
	rt := newTestRuntime(t, "60003560f81c565b600160005500", nil)

	res, err := rt.Exec(0, &Tx{Data: []byte{0x07}})
	require.NoError(t, err)
	require.True(t, res.Ok)
	require.Equal(t, uint64(1), storedAt(t, res, 0))

	// Offset 8 is push data, not a JUMPDEST.
	res, err = rt.Exec(0, &Tx{Data: []byte{0x08}})
	require.NoError(t, err)
	require.False(t, res.Ok)
	_, ok := res.Storage.Get(uint256.NewInt(0))
	require.False(t, ok)
}
