package runtime

import (
	"github.com/cassc/mau-ityfuzz/params"
)

// countClassLookup8 buckets hit counts the AFL way so that small changes in
// loop iteration counts do not look like new behaviour.
var countClassLookup8 = func() [256]byte {
	var t [256]byte
	t[1] = 1
	t[2] = 2
	t[3] = 4
	for i := 4; i < 256; i++ {
		switch {
		case i < 8:
			t[i] = 8
		case i < 16:
			t[i] = 16
		case i < 32:
			t[i] = 32
		case i < 128:
			t[i] = 64
		default:
			t[i] = 128
		}
	}
	return t
}()

// ClassifyCounts rewrites every byte of bitmap to its count class.
func ClassifyCounts(bitmap []byte) {
	for i, b := range bitmap {
		bitmap[i] = countClassLookup8[b]
	}
}

// CountBytes returns the number of non-zero bytes of bitmap.
func CountBytes(bitmap []byte) int {
	n := 0
	for _, b := range bitmap {
		if b != 0 {
			n++
		}
	}
	return n
}

// hasNewBits folds trace into virgin and reports whether trace covered a bit
// virgin still had set. Virgin bits start at 0xff and are cleared as they are
// seen.
func hasNewBits(trace, virgin []byte) bool {
	found := false
	for i, cur := range trace {
		if cur != 0 && cur&virgin[i] != 0 {
			found = true
			virgin[i] &^= cur
		}
	}
	return found
}

// Coverage is the cumulative coverage state of a fuzzing campaign.
type Coverage struct {
	Virgin [params.MapSize]byte // bits never observed yet
	Bits   [params.MapSize]byte // union of every classified trace
}

// NewCoverage returns a state in which no bit has been observed.
func NewCoverage() *Coverage {
	c := new(Coverage)
	for i := range c.Virgin {
		c.Virgin[i] = 0xff
	}
	return c
}

// Update classifies each per-context map, folds it into the cumulative state
// and returns the indexes of the contexts that found new bits.
func (c *Coverage) Update(maps [][]byte) []int {
	var fresh []int
	for tid, trace := range maps {
		ClassifyCounts(trace)
		if hasNewBits(trace, c.Virgin[:]) {
			fresh = append(fresh, tid)
		}
		for i, b := range trace {
			c.Bits[i] |= b
		}
	}
	return fresh
}

// Covered returns the number of map bytes ever hit.
func (c *Coverage) Covered() int { return CountBytes(c.Bits[:]) }
