package runtime

import (
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cassc/mau-ityfuzz/params"
)

// Signal is one record reported through addBugSet.
type Signal struct {
	Tid int
	Sig params.SigByte
	PC  uint32
}

// Bug identifies a finding independent of the context that hit it.
type Bug struct {
	Sig params.SigByte
	PC  uint32
}

// signalLog collects signals from concurrently running contexts.
type signalLog struct {
	mu      sync.Mutex
	signals []Signal
}

func (l *signalLog) add(s Signal) {
	l.mu.Lock()
	l.signals = append(l.signals, s)
	l.mu.Unlock()
}

func (l *signalLog) drain() []Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.signals
	l.signals = nil
	return out
}

// Bugs deduplicates signals by (sig, pc). Plain coverage reports are left out.
func Bugs(signals []Signal) []Bug {
	set := mapset.NewThreadUnsafeSet[Bug]()
	for _, s := range signals {
		if s.Sig > params.SigInteresting {
			set.Add(Bug{Sig: s.Sig, PC: s.PC})
		}
	}
	bugs := set.ToSlice()
	sort.Slice(bugs, func(i, j int) bool {
		if bugs[i].PC != bugs[j].PC {
			return bugs[i].PC < bugs[j].PC
		}
		return bugs[i].Sig < bugs[j].Sig
	})
	return bugs
}

// statusOf folds a signal into the status of its context.
func statusOf(cur params.ExecStatus, sig params.SigByte) params.ExecStatus {
	switch {
	case sig == params.SigExecNone:
		return cur
	case sig == params.SigInteresting:
		return max(cur, params.ExecInteresting)
	default:
		return params.ExecBuggy
	}
}
