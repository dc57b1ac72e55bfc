package runtime

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/cassc/mau-ityfuzz/params"
)

// Tx is the input of one execution context.
type Tx struct {
	Caller    common.Address
	CallValue *uint256.Int
	Data      []byte
}

// Record layout: caller word | callvalue word | u32 calldata size | calldata.
// Words are stored little-endian.
const (
	recCaller    = 0
	recCallValue = params.WordSize
	recSize      = 2 * params.WordSize
	recData      = params.TxHeaderSize
)

// putWord writes w at dst as a little-endian word.
func putWord(dst []byte, w *uint256.Int) {
	be := w.Bytes32()
	for i := 0; i < params.WordSize; i++ {
		dst[i] = be[params.WordSize-1-i]
	}
}

// Encode writes tx as one transaction record of params.TxSize bytes.
func (tx *Tx) Encode(rec []byte) error {
	if len(rec) < params.TxSize {
		return fmt.Errorf("record of %d bytes, want %d", len(rec), params.TxSize)
	}
	if len(tx.Data) > params.TxDataMax {
		return fmt.Errorf("%w: %d > %d", ErrCalldataTooLarge, len(tx.Data), params.TxDataMax)
	}
	clear(rec[:params.TxSize])
	putWord(rec[recCaller:], new(uint256.Int).SetBytes(tx.Caller.Bytes()))
	value := tx.CallValue
	if value == nil {
		value = new(uint256.Int)
	}
	putWord(rec[recCallValue:], value)
	binary.LittleEndian.PutUint32(rec[recSize:], uint32(len(tx.Data)))
	copy(rec[recData:], tx.Data)
	return nil
}

// ParseTx reads "caller:value:calldata" where every part is hex and the
// first two may be empty. A bare hex string is calldata alone.
func ParseTx(s string) (*Tx, error) {
	tx := &Tx{CallValue: new(uint256.Int)}
	parts := strings.Split(strings.TrimSpace(s), ":")
	switch len(parts) {
	case 1:
		parts = []string{"", "", parts[0]}
	case 3:
	default:
		return nil, errors.Errorf("malformed transaction %q", s)
	}
	if parts[0] != "" {
		if !common.IsHexAddress(parts[0]) {
			return nil, errors.Errorf("bad caller %q", parts[0])
		}
		tx.Caller = common.HexToAddress(parts[0])
	}
	if parts[1] != "" {
		b, ok := new(big.Int).SetString(strings.TrimPrefix(parts[1], "0x"), 16)
		if !ok || b.Sign() < 0 {
			return nil, errors.Errorf("bad call value %q", parts[1])
		}
		v, overflow := uint256.FromBig(b)
		if overflow {
			return nil, errors.Errorf("call value %q exceeds 256 bits", parts[1])
		}
		tx.CallValue = v
	}
	if data := parts[2]; data != "" {
		if !strings.HasPrefix(data, "0x") {
			data = "0x" + data
		}
		b, err := hexutil.Decode(data)
		if err != nil {
			return nil, errors.Wrap(err, "bad calldata")
		}
		tx.Data = b
	}
	return tx, nil
}
