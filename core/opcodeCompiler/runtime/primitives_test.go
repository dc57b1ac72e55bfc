package runtime

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
	"github.com/cassc/mau-ityfuzz/params"
)

func newTestMachine() *kir.Machine {
	return kir.NewEnv(kir.NewModule("primitives")).NewMachine(nil)
}

func TestMemoryStoreLoad(t *testing.T) {
	m := newTestMachine()
	mem := kir.NewObject("mem", params.EVMMemSize)
	w := kir.NewObject("w", params.WordSize)
	val := uint256.MustFromHex("0x102030405060708090a0b0c0d0e0f")
	require.NoError(t, m.WriteWord(kir.PtrVal(w, 0), val))

	_, err := mstore(m, []kir.Val{kir.PtrVal(mem, 0), kir.IntVal(64), kir.PtrVal(w, 0), kir.IntVal(32)})
	require.NoError(t, err)
	// Memory is big-endian.
	require.Equal(t, byte(0x0f), mem.Data[64+31])
	require.Equal(t, byte(0x01), mem.Data[64+17])

	out := kir.NewObject("out", params.WordSize)
	_, err = mload(m, []kir.Val{kir.PtrVal(mem, 0), kir.IntVal(64), kir.PtrVal(out, 0)})
	require.NoError(t, err)
	got, err := m.ReadWord(kir.PtrVal(out, 0))
	require.NoError(t, err)
	require.Equal(t, val, got)

	_, err = mstore(m, []kir.Val{kir.PtrVal(mem, 0), kir.IntVal(0), kir.PtrVal(w, 0), kir.IntVal(1)})
	require.NoError(t, err)
	require.Equal(t, byte(0x0f), mem.Data[0])
	require.Equal(t, byte(0), mem.Data[1])
}

func TestMemoryOutOfRange(t *testing.T) {
	m := newTestMachine()
	mem := kir.NewObject("mem", params.EVMMemSize)
	w := kir.NewObject("w", params.WordSize)
	require.NoError(t, m.WriteWord(kir.PtrVal(w, 0), new(uint256.Int).SetAllOne()))

	_, err := mstore(m, []kir.Val{kir.PtrVal(mem, 0), kir.IntVal(params.EVMMemSize - 31), kir.PtrVal(w, 0), kir.IntVal(32)})
	require.NoError(t, err)
	require.Zero(t, CountBytes(mem.Data))

	_, err = mstore(m, []kir.Val{kir.PtrVal(mem, 0), kir.IntVal(params.EVMMemSize - 32), kir.PtrVal(w, 0), kir.IntVal(32)})
	require.NoError(t, err)
	require.Equal(t, 32, CountBytes(mem.Data))

	_, err = mload(m, []kir.Val{kir.PtrVal(mem, 0), kir.IntVal(params.EVMMemSize - 31), kir.PtrVal(w, 0)})
	require.NoError(t, err)
	got, _ := m.ReadWord(kir.PtrVal(w, 0))
	require.True(t, got.IsZero())
}

func TestCalldataLoad(t *testing.T) {
	m := newTestMachine()
	rec := kir.NewObject("tx", params.TxSize)
	tx := &Tx{Data: []byte{0xaa, 0xbb}}
	require.NoError(t, tx.Encode(rec.Data))
	rec.Data[recData+params.TxDataMax-1] = 0xcc

	out := kir.NewObject("out", params.WordSize)
	calldata := kir.PtrVal(rec, recData)
	_, err := calldataload(m, []kir.Val{kir.PtrVal(out, 0), calldata, kir.IntVal(0)})
	require.NoError(t, err)
	got, _ := m.ReadWord(kir.PtrVal(out, 0))
	require.Equal(t, new(uint256.Int).Lsh(uint256.NewInt(0xaabb), 240), got)

	_, err = calldataload(m, []kir.Val{kir.PtrVal(out, 0), calldata, kir.IntVal(params.TxDataMax - 1)})
	require.NoError(t, err)
	got, _ = m.ReadWord(kir.PtrVal(out, 0))
	require.Equal(t, new(uint256.Int).Lsh(uint256.NewInt(0xcc), 248), got)

	_, err = calldataload(m, []kir.Val{kir.PtrVal(out, 0), calldata, kir.IntVal(1 << 40)})
	require.NoError(t, err)
	got, _ = m.ReadWord(kir.PtrVal(out, 0))
	require.True(t, got.IsZero())
}

func TestCalldataCopy(t *testing.T) {
	m := newTestMachine()
	rec := kir.NewObject("tx", params.TxSize)
	require.NoError(t, (&Tx{Data: []byte{1, 2, 3}}).Encode(rec.Data))
	mem := kir.NewObject("mem", params.EVMMemSize)

	_, err := calldatacpy(m, []kir.Val{kir.PtrVal(mem, 0), kir.IntVal(10), kir.PtrVal(rec, recData), kir.IntVal(1), kir.IntVal(4)})
	require.NoError(t, err)
	require.Equal(t, []byte{2, 3, 0, 0}, mem.Data[10:14])
}

func TestSha3(t *testing.T) {
	m := newTestMachine()
	mem := kir.NewObject("mem", params.EVMMemSize)
	copy(mem.Data, "abc")
	out := kir.NewObject("out", params.WordSize)

	_, err := sha3(m, []kir.Val{kir.PtrVal(mem, 0), kir.IntVal(3), kir.PtrVal(out, 0)})
	require.NoError(t, err)
	got, _ := m.ReadWord(kir.PtrVal(out, 0))
	require.Equal(t, new(uint256.Int).SetBytes(crypto.Keccak256([]byte("abc"))), got)
}

func TestWordArithmetic(t *testing.T) {
	m := newTestMachine()
	ws := make([]kir.Val, 4)
	for i := range ws {
		ws[i] = kir.PtrVal(kir.NewObject("w", params.WordSize), 0)
	}
	set := func(i int, v uint64) { require.NoError(t, m.WriteWord(ws[i], uint256.NewInt(v))) }
	get := func(i int) uint64 {
		w, err := m.ReadWord(ws[i])
		require.NoError(t, err)
		return w.Uint64()
	}

	set(0, 3)
	set(1, 5)
	_, err := power(m, ws[:3])
	require.NoError(t, err)
	require.Equal(t, uint64(243), get(2))

	set(0, 10)
	set(1, 9)
	set(2, 7)
	_, err = modOp(addMod)(m, ws)
	require.NoError(t, err)
	require.Equal(t, uint64(5), get(3))
	_, err = modOp(mulMod)(m, ws)
	require.NoError(t, err)
	require.Equal(t, uint64(6), get(3))

	set(2, 0)
	_, err = modOp(mulMod)(m, ws)
	require.NoError(t, err)
	require.Equal(t, uint64(0), get(3))
}

func TestHashWord(t *testing.T) {
	a, b := uint256.NewInt(1), uint256.NewInt(2)
	require.Equal(t, HashWord(a), HashWord(uint256.NewInt(1)))
	require.NotEqual(t, HashWord(a), HashWord(b))
}
