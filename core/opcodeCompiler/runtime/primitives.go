package runtime

import (
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
	"github.com/cassc/mau-ityfuzz/params"
)

// Linear memory and calldata hold EVM (big-endian) byte order; words passed
// by pointer are little-endian.

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// mload: __device_mload(mem, off, out). Reads past the end of memory yield zero.
func mload(m *kir.Machine, args []kir.Val) (kir.Val, error) {
	mem, off, out := args[0], args[1].Uint64(), args[2]
	word := make([]byte, params.WordSize)
	if off <= params.EVMMemSize-params.WordSize {
		b, err := m.Read(offset(mem, off), params.WordSize)
		if err != nil {
			return kir.Val{}, err
		}
		copy(word, b)
		reverse(word)
	}
	return kir.Val{}, m.Write(out, word)
}

// mstore: __device_mstore(mem, off, val, size). size is 32 for MSTORE and 1
// for MSTORE8; out-of-range stores are dropped.
func mstore(m *kir.Machine, args []kir.Val) (kir.Val, error) {
	mem, off, val, size := args[0], args[1].Uint64(), args[2], args[3].Uint64()
	if size == 0 || size > params.WordSize || off > params.EVMMemSize-size {
		return kir.Val{}, nil
	}
	le, err := m.Read(val, params.WordSize)
	if err != nil {
		return kir.Val{}, err
	}
	reverse(le)
	return kir.Val{}, m.Write(offset(mem, off), le[params.WordSize-int(size):])
}

// calldataBytes copies calldata[off:off+n], zero-filled past the record.
func calldataBytes(m *kir.Machine, calldata kir.Val, off, n uint64) ([]byte, error) {
	out := make([]byte, n)
	if off >= params.TxDataMax {
		return out, nil
	}
	avail := min(n, params.TxDataMax-off)
	b, err := m.Read(offset(calldata, off), int(avail))
	if err != nil {
		return nil, err
	}
	copy(out, b)
	return out, nil
}

// calldataload: __device_calldataload(out, calldata, off).
func calldataload(m *kir.Machine, args []kir.Val) (kir.Val, error) {
	out, calldata, off := args[0], args[1], args[2].Uint64()
	word := make([]byte, params.WordSize)
	if off+params.WordSize > off {
		b, err := calldataBytes(m, calldata, off, params.WordSize)
		if err != nil {
			return kir.Val{}, err
		}
		copy(word, b)
		reverse(word)
	}
	return kir.Val{}, m.Write(out, word)
}

// calldatacpy: __device_calldatacpy(mem, dst, calldata, off, size).
func calldatacpy(m *kir.Machine, args []kir.Val) (kir.Val, error) {
	mem, dst, calldata, off, size := args[0], args[1].Uint64(), args[2], args[3].Uint64(), args[4].Uint64()
	if size == 0 || size > params.EVMMemSize || dst > params.EVMMemSize-size {
		return kir.Val{}, nil
	}
	b, err := calldataBytes(m, calldata, off, size)
	if err != nil {
		return kir.Val{}, err
	}
	return kir.Val{}, m.Write(offset(mem, dst), b)
}

// sha3: __device_sha3(data, len, out).
func sha3(m *kir.Machine, args []kir.Val) (kir.Val, error) {
	data, n, out := args[0], int(args[1].Uint64()), args[2]
	b, err := m.Read(data, n)
	if err != nil {
		return kir.Val{}, err
	}
	return kir.Val{}, m.WriteWord(out, new(uint256.Int).SetBytes(crypto.Keccak256(b)))
}

// simpleHash is the splitmix64 finalizer.
func simpleHash(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// HashWord folds a word to 32 bits. It is the hash the coverage pass compares
// storage keys with.
func HashWord(w *uint256.Int) uint32 {
	var h uint64
	for _, limb := range w {
		h ^= simpleHash(limb)
	}
	return uint32(h>>32) ^ uint32(h)
}

// hashword: __hashword(ptr) -> i32.
func hashword(m *kir.Machine, args []kir.Val) (kir.Val, error) {
	w, err := m.ReadWord(args[0])
	if err != nil {
		return kir.Val{}, err
	}
	return kir.IntVal(uint64(HashWord(w))), nil
}

// power: __power_word(base, exp, out).
func power(m *kir.Machine, args []kir.Val) (kir.Val, error) {
	base, err := m.ReadWord(args[0])
	if err != nil {
		return kir.Val{}, err
	}
	exp, err := m.ReadWord(args[1])
	if err != nil {
		return kir.Val{}, err
	}
	return kir.Val{}, m.WriteWord(args[2], new(uint256.Int).Exp(base, exp))
}

// modOp builds __addmod_word and __mulmod_word: (a, b, n, out). A zero
// modulus yields zero.
func modOp(op func(z, x, y, n *uint256.Int) *uint256.Int) kir.Extern {
	return func(m *kir.Machine, args []kir.Val) (kir.Val, error) {
		var w [3]*uint256.Int
		for i := range w {
			v, err := m.ReadWord(args[i])
			if err != nil {
				return kir.Val{}, err
			}
			w[i] = v
		}
		return kir.Val{}, m.WriteWord(args[3], op(new(uint256.Int), w[0], w[1], w[2]))
	}
}

func addMod(z, x, y, n *uint256.Int) *uint256.Int { return z.AddMod(x, y, n) }
func mulMod(z, x, y, n *uint256.Int) *uint256.Int { return z.MulMod(x, y, n) }

func offset(p kir.Val, off uint64) kir.Val {
	p.Off += int64(off)
	return p
}
