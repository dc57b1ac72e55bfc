package runtime

import (
	"encoding/binary"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/cassc/mau-ityfuzz/params"
)

func TestParseTx(t *testing.T) {
	tx, err := ParseTx("0xa9059cbb")
	require.NoError(t, err)
	require.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, tx.Data)
	require.True(t, tx.CallValue.IsZero())

	tx, err = ParseTx("0x00000000000000000000000000000000000000aa:0x01:ff00")
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xaa"), tx.Caller)
	require.Equal(t, uint64(1), tx.CallValue.Uint64())
	require.Equal(t, []byte{0xff, 0x00}, tx.Data)

	tx, err = ParseTx("::")
	require.NoError(t, err)
	require.Empty(t, tx.Data)

	for _, bad := range []string{"a:b", "0x12:zz:", "nothex:0:", "::0x123"} {
		_, err := ParseTx(bad)
		require.Error(t, err, bad)
	}
}

func TestTxEncode(t *testing.T) {
	tx, err := ParseTx("0x00000000000000000000000000000000000000aa:0x0102:c0ffee")
	require.NoError(t, err)
	rec := make([]byte, params.TxSize)
	for i := range rec {
		rec[i] = 0x55
	}
	require.NoError(t, tx.Encode(rec))

	require.Equal(t, byte(0xaa), rec[recCaller])
	require.Equal(t, byte(0x02), rec[recCallValue])
	require.Equal(t, byte(0x01), rec[recCallValue+1])
	require.Equal(t, uint32(3), binary.LittleEndian.Uint32(rec[recSize:]))
	require.Equal(t, []byte{0xc0, 0xff, 0xee, 0}, rec[recData:recData+4])
	require.Equal(t, byte(0), rec[params.TxSize-1])
}

func TestTxEncodeLimits(t *testing.T) {
	rec := make([]byte, params.TxSize)
	require.NoError(t, (&Tx{Data: make([]byte, params.TxDataMax)}).Encode(rec))
	err := (&Tx{Data: make([]byte, params.TxDataMax+1)}).Encode(rec)
	require.ErrorIs(t, err, ErrCalldataTooLarge)
	require.Error(t, (&Tx{}).Encode(rec[:10]))
}
