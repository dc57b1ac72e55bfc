// Package sanitizer instruments a lowered kernel with bug oracles and
// coverage feedback. Oracles consume the provenance tags attached during
// lowering and report through addBugSet.
package sanitizer

import (
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/pkg/errors"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
	"github.com/cassc/mau-ityfuzz/params"
)

var checksInsertedCounter = metrics.NewRegisteredCounter("sanitizer/checks", nil)

// ErrUnknownSanitizer is returned for an oracle name outside the known set.
var ErrUnknownSanitizer = errors.New("unknown sanitizer")

// Helpers gives the oracles access to shared routines of the module.
type Helpers interface {
	UDivRem() *kir.Function
}

// Pass is the state shared by the oracles instrumenting one function.
type Pass struct {
	Module  *kir.Module
	Func    *kir.Function
	Tags    *kir.TagMap
	Helpers Helpers

	b       *kir.Builder
	scratch []*kir.Inst
}

// NewPass prepares instrumentation of fn.
func NewPass(mod *kir.Module, fn *kir.Function, tags *kir.TagMap, h Helpers) *Pass {
	return &Pass{Module: mod, Func: fn, Tags: tags, Helpers: h, b: kir.NewBuilder()}
}

// word returns the i-th scratch word of the function, allocating on demand.
func (p *Pass) word(i int) *kir.Inst {
	for len(p.scratch) <= i {
		p.scratch = append(p.scratch, kir.EntryAlloca(p.Func, kir.I256, "san.w"))
	}
	return p.scratch[i]
}

func (p *Pass) signal(sig kir.Value, pc uint32) *kir.Inst {
	return EmitSignal(p.b, p.Module, sig, pc)
}

// Oracle instruments the sites of one bug class.
type Oracle interface {
	Name() string
	Tag() kir.TagKind
	Signal() params.SigByte
	// Instrument inserts the checks and returns how many were inserted.
	Instrument(p *Pass) int
}

var registry = []Oracle{
	integerBug{},
	reentrancy{},
	marker{"tosan", kir.TagTxOrigin, params.SigTxOrigin},
	marker{"scsan", kir.TagSelfDestruct, params.SigSelfDestruct},
	marker{"bdsan", kir.TagBlockState, params.SigBlockState},
	unusedReturn{},
	marker{"ucsan", kir.TagUncheckedCall, params.SigUncheckedCall},
}

// Names returns the known oracle names in pipeline order.
func Names() []string {
	names := make([]string, len(registry))
	for i, o := range registry {
		names[i] = o.Name()
	}
	return names
}

// Lookup returns the oracles for names, in pipeline order and without
// duplicates.
func Lookup(names []string) ([]Oracle, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		found := false
		for _, o := range registry {
			if o.Name() == n {
				found = true
				break
			}
		}
		if !found {
			return nil, errors.Wrapf(ErrUnknownSanitizer, "%q (known: %s)", n, strings.Join(Names(), ","))
		}
		want[n] = true
	}
	var out []Oracle
	for _, o := range registry {
		if want[o.Name()] {
			out = append(out, o)
		}
	}
	return out, nil
}

// Run applies the oracles in order. The tags an oracle consumed are dropped
// once it finishes, so running the same oracle again inserts nothing. Tags
// of oracles not run are dropped as well. It returns the number of checks
// inserted per oracle.
func Run(p *Pass, oracles []Oracle) map[string]int {
	counts := make(map[string]int, len(oracles))
	for _, o := range oracles {
		n := o.Instrument(p)
		p.Tags.Strip(o.Tag())
		counts[o.Name()] = n
		checksInsertedCounter.Inc(int64(n))
		log.Debug("Sanitizer applied", "oracle", o.Name(), "sites", n)
	}
	for k := kir.TagKind(0); k < kir.NumTagKinds; k++ {
		p.Tags.Strip(k)
	}
	return counts
}
