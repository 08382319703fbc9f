package bloom

import (
	"DKV/internal/domain"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_NoFalseNegatives(t *testing.T) {
	f := DefaultPolicy().NewFilter(1000)
	for i := 0; i < 1000; i++ {
		f.Add([]byte(fmt.Sprintf("key-%d", i)))
	}
	for i := 0; i < 1000; i++ {
		assert.True(t, f.MightContain([]byte(fmt.Sprintf("key-%d", i))), "key-%d", i)
	}
}

func falsePositiveRate(bitsPerKey int) float64 {
	p := Policy{BitsPerKey: bitsPerKey}
	f := p.NewFilter(500)
	for i := 0; i < 500; i++ {
		f.Add([]byte(fmt.Sprintf("present-%d", i)))
	}
	hits := 0
	const trials = 2000
	for i := 0; i < trials; i++ {
		if f.MightContain([]byte(fmt.Sprintf("absent-%d", i))) {
			hits++
		}
	}
	return float64(hits) / trials
}

func TestFilter_FalsePositiveRate(t *testing.T) {
	assert.Less(t, falsePositiveRate(DefaultBitsPerKey), 0.05)
	assert.Less(t, falsePositiveRate(4), 0.5)
	assert.LessOrEqual(t, falsePositiveRate(20), falsePositiveRate(4))
}

func TestFilter_MarshalRoundTrip(t *testing.T) {
	f := New(100, 3)
	keys := [][]byte{[]byte("a"), []byte("b"), {0x00, 0xFF}}
	for _, k := range keys {
		f.Add(k)
	}

	data, err := f.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, 8+13)
	assert.Equal(t, uint32(100), binary.BigEndian.Uint32(data[0:4]))
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(data[4:8]))

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, 100, got.BitSize())
	assert.Equal(t, 3, got.NumHash())
	for _, k := range keys {
		assert.True(t, got.MightContain(k))
	}
	again, err := got.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestFilter_BitLayout(t *testing.T) {
	f := New(16, 1)
	f.bits.Set(0)
	f.bits.Set(9)

	data, err := f.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), data[8])
	assert.Equal(t, byte(0x02), data[9])
}

func TestUnmarshal_Corrupt(t *testing.T) {
	_, err := Unmarshal([]byte{0, 0, 0})
	assert.ErrorIs(t, err, ErrCorruptedFilter)

	bad := make([]byte, 8)
	binary.BigEndian.PutUint32(bad[0:4], 0)
	binary.BigEndian.PutUint32(bad[4:8], 3)
	_, err = Unmarshal(bad)
	assert.ErrorIs(t, err, domain.ErrCorruption)

	short := make([]byte, 8+2)
	binary.BigEndian.PutUint32(short[0:4], 64)
	binary.BigEndian.PutUint32(short[4:8], 3)
	_, err = Unmarshal(short)
	assert.ErrorIs(t, err, ErrCorruptedFilter)
}

func TestPolicy(t *testing.T) {
	assert.Equal(t, 7, DefaultPolicy().NumHash())
	assert.Equal(t, 1, Policy{BitsPerKey: 1}.NumHash())
	assert.Equal(t, minBitSize, DefaultPolicy().NewFilter(1).BitSize())
	assert.Equal(t, 1000, DefaultPolicy().NewFilter(100).BitSize())

	_, err := NewPolicy(0)
	assert.Error(t, err)
}
