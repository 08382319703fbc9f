// Package bloom implements the per-block membership filter embedded in sorted tables.
//
// Serialized form (big-endian):
//
//	bitSize:int32 | numHash:int32 | bits[ceil(bitSize/8)]
//
// Bit i lives in byte i/8 under mask 1<<(i%8).
package bloom

import (
	"DKV/internal/domain"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/spaolacci/murmur3"
)

const (
	headerSize = 8

	// MaxSerializedSize bounds a filter read from disk. Anything larger is treated as corrupt.
	MaxSerializedSize = 1 << 20

	DefaultBitsPerKey = 10
	minBitSize        = 64
)

var ErrCorruptedFilter = fmt.Errorf("%w: bloom filter", domain.ErrCorruption)

type Filter struct {
	bits    *bitset.BitSet
	bitSize uint32
	numHash uint32
}

func New(bitSize, numHash int) *Filter {
	if bitSize < 1 {
		bitSize = 1
	}
	if numHash < 1 {
		numHash = 1
	}
	return &Filter{
		bits:    bitset.New(uint(bitSize)),
		bitSize: uint32(bitSize),
		numHash: uint32(numHash),
	}
}

func (f *Filter) BitSize() int { return int(f.bitSize) }

func (f *Filter) NumHash() int { return int(f.numHash) }

func (f *Filter) Add(key []byte) {
	h1, h2 := murmur3.Sum128(key)
	for i := uint64(0); i < uint64(f.numHash); i++ {
		f.bits.Set(f.location(h1, h2, i))
	}
}

// MightContain never returns false for a key that was added.
func (f *Filter) MightContain(key []byte) bool {
	h1, h2 := murmur3.Sum128(key)
	for i := uint64(0); i < uint64(f.numHash); i++ {
		if !f.bits.Test(f.location(h1, h2, i)) {
			return false
		}
	}
	return true
}

func (f *Filter) location(h1, h2, i uint64) uint {
	return uint((h1 + i*h2) % uint64(f.bitSize))
}

func (f *Filter) SerializedSize() int {
	return headerSize + byteLen(f.bitSize)
}

func (f *Filter) MarshalBinary() ([]byte, error) {
	buf := make([]byte, f.SerializedSize())
	binary.BigEndian.PutUint32(buf[0:4], f.bitSize)
	binary.BigEndian.PutUint32(buf[4:8], f.numHash)
	data := buf[headerSize:]
	for i, ok := f.bits.NextSet(0); ok && i < uint(f.bitSize); i, ok = f.bits.NextSet(i + 1) {
		data[i/8] |= 1 << (i % 8)
	}
	return buf, nil
}

// Unmarshal decodes a filter produced by MarshalBinary.
func Unmarshal(data []byte) (*Filter, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: short header (%d bytes)", ErrCorruptedFilter, len(data))
	}
	if len(data) > MaxSerializedSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit", ErrCorruptedFilter, len(data))
	}
	bitSize := int32(binary.BigEndian.Uint32(data[0:4]))
	numHash := int32(binary.BigEndian.Uint32(data[4:8]))
	if bitSize <= 0 || numHash <= 0 {
		return nil, fmt.Errorf("%w: bitSize=%d numHash=%d", ErrCorruptedFilter, bitSize, numHash)
	}
	want := byteLen(uint32(bitSize))
	if len(data)-headerSize < want {
		return nil, fmt.Errorf("%w: want %d bit bytes, have %d", ErrCorruptedFilter, want, len(data)-headerSize)
	}

	f := New(int(bitSize), int(numHash))
	for i, b := range data[headerSize : headerSize+want] {
		for j := 0; j < 8 && b != 0; j++ {
			if b&(1<<j) != 0 {
				f.bits.Set(uint(i*8 + j))
			}
			b &^= 1 << j
		}
	}
	return f, nil
}

func byteLen(bitSize uint32) int {
	return int((bitSize + 7) / 8)
}

// Policy sizes filters from a bits-per-key budget.
type Policy struct {
	BitsPerKey int
}

func NewPolicy(bitsPerKey int) (Policy, error) {
	if bitsPerKey <= 0 {
		return Policy{}, errors.New("bloom: bits per key must be positive")
	}
	return Policy{BitsPerKey: bitsPerKey}, nil
}

func DefaultPolicy() Policy {
	return Policy{BitsPerKey: DefaultBitsPerKey}
}

// NumHash is round(bitsPerKey * ln2), at least 1.
func (p Policy) NumHash() int {
	return max(1, int(math.Round(float64(p.BitsPerKey)*0.693)))
}

// NewFilter returns an empty filter sized for keyCount keys.
func (p Policy) NewFilter(keyCount int) *Filter {
	bits := max(minBitSize, keyCount*p.BitsPerKey)
	return New(bits, p.NumHash())
}
