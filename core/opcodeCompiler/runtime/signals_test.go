package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cassc/mau-ityfuzz/params"
)

func TestBugsDedup(t *testing.T) {
	sigs := []Signal{
		{Tid: 0, Sig: params.SigIntegerBug, PC: 9},
		{Tid: 1, Sig: params.SigIntegerBug, PC: 9},
		{Tid: 1, Sig: params.SigInteresting, PC: 2},
		{Tid: 2, Sig: params.SigTxOrigin, PC: 4},
		{Tid: 3, Sig: params.SigReentrancy, PC: 9},
	}
	require.Equal(t, []Bug{
		{Sig: params.SigTxOrigin, PC: 4},
		{Sig: params.SigReentrancy, PC: 9},
		{Sig: params.SigIntegerBug, PC: 9},
	}, Bugs(sigs))
}

func TestStatusOf(t *testing.T) {
	require.Equal(t, params.ExecNone, statusOf(params.ExecNone, params.SigExecNone))
	require.Equal(t, params.ExecInteresting, statusOf(params.ExecNone, params.SigInteresting))
	require.Equal(t, params.ExecBuggy, statusOf(params.ExecInteresting, params.SigUnusedReturn))
	require.Equal(t, params.ExecBuggy, statusOf(params.ExecBuggy, params.SigInteresting))
}

func TestSignalLogDrain(t *testing.T) {
	var l signalLog
	l.add(Signal{Sig: params.SigTxOrigin})
	require.Len(t, l.drain(), 1)
	require.Empty(t, l.drain())
}
