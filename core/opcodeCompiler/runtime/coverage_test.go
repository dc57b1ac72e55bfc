package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cassc/mau-ityfuzz/params"
)

func TestClassifyCounts(t *testing.T) {
	in := []byte{0, 1, 2, 3, 4, 7, 8, 15, 16, 31, 32, 127, 128, 255}
	want := []byte{0, 1, 2, 4, 8, 8, 16, 16, 32, 32, 64, 64, 128, 128}
	ClassifyCounts(in)
	require.Equal(t, want, in)
}

func TestCoverageUpdate(t *testing.T) {
	c := NewCoverage()
	a := make([]byte, params.MapSize)
	b := make([]byte, params.MapSize)
	a[3], b[3] = 1, 1
	b[9] = 5

	fresh := c.Update([][]byte{a, b})
	require.Equal(t, []int{0, 1}, fresh)
	require.Equal(t, 2, c.Covered())
	require.Equal(t, byte(0xfe), c.Virgin[3])
	require.Equal(t, byte(0xff&^8), c.Virgin[9])

	// Same traces again: nothing new.
	a2 := make([]byte, params.MapSize)
	a2[3] = 1
	require.Empty(t, c.Update([][]byte{a2}))

	// A new hit-count class at a known edge is new.
	a3 := make([]byte, params.MapSize)
	a3[3] = 2
	require.Equal(t, []int{0}, c.Update([][]byte{a3}))
}
