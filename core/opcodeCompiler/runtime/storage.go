package runtime

import (
	"encoding/binary"

	"github.com/holiman/uint256"

	"github.com/cassc/mau-ityfuzz/params"
)

// Slot is one storage entry of a snapshot.
type Slot struct {
	Key   uint256.Int
	Value uint256.Int
}

// Snapshot is a bounded storage image of params.SnapLen slots. Writes beyond
// capacity are dropped.
type Snapshot struct {
	slots [params.SnapLen]Slot
	n     int
}

// Len returns the number of occupied slots.
func (s *Snapshot) Len() int { return s.n }

// Slots returns the occupied slots in insertion order.
func (s *Snapshot) Slots() []Slot { return s.slots[:s.n] }

// Get returns the value stored under key.
func (s *Snapshot) Get(key *uint256.Int) (*uint256.Int, bool) {
	for i := 0; i < s.n; i++ {
		if s.slots[i].Key.Eq(key) {
			return &s.slots[i].Value, true
		}
	}
	return nil, false
}

// Set stores val under key and reports whether it was kept.
func (s *Snapshot) Set(key, val *uint256.Int) bool {
	for i := 0; i < s.n; i++ {
		if s.slots[i].Key.Eq(key) {
			s.slots[i].Value.Set(val)
			return true
		}
	}
	if s.n == params.SnapLen {
		return false
	}
	s.slots[s.n].Key.Set(key)
	s.slots[s.n].Value.Set(val)
	s.n++
	return true
}

// Reset empties the snapshot.
func (s *Snapshot) Reset() { s.n = 0 }

// Clone returns an independent copy.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	return &c
}

// MarshalBinary encodes the occupied slots as 64-byte key|value records of
// big-endian words, preceded by a u32 slot count.
func (s *Snapshot) MarshalBinary() ([]byte, error) {
	out := make([]byte, 4, 4+s.n*params.SnapSlotSize)
	binary.LittleEndian.PutUint32(out, uint32(s.n))
	for _, sl := range s.Slots() {
		k, v := sl.Key.Bytes32(), sl.Value.Bytes32()
		out = append(out, k[:]...)
		out = append(out, v[:]...)
	}
	return out, nil
}

// UnmarshalBinary restores a snapshot written by MarshalBinary.
func (s *Snapshot) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return errShortSnapshot
	}
	n := int(binary.LittleEndian.Uint32(data))
	data = data[4:]
	if n > params.SnapLen || len(data) < n*params.SnapSlotSize {
		return errShortSnapshot
	}
	s.Reset()
	for i := 0; i < n; i++ {
		rec := data[i*params.SnapSlotSize:]
		s.slots[i].Key.SetBytes(rec[:params.WordSize])
		s.slots[i].Value.SetBytes(rec[params.WordSize:params.SnapSlotSize])
	}
	s.n = n
	return nil
}
