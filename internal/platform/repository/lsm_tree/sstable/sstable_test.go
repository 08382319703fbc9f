package sstable

import (
	"DKV/internal/domain"
	"DKV/internal/platform/repository/lsm_tree/bloom"
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kv struct {
	key, value []byte
}

func sortedEntries(n int, seed int64) []kv {
	rnd := rand.New(rand.NewSource(seed))
	seen := map[string]bool{}
	var entries []kv
	for len(entries) < n {
		key := make([]byte, 1+rnd.Intn(24))
		rnd.Read(key)
		if seen[string(key)] {
			continue
		}
		seen[string(key)] = true
		value := make([]byte, rnd.Intn(64))
		rnd.Read(value)
		entries = append(entries, kv{key: key, value: value})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})
	return entries
}

func buildTable(t *testing.T, entries []kv, opts ...BuilderOption) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sst_1.sst")
	b, err := NewBuilder(path, 1, opts...)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, b.Add(e.key, e.value))
	}
	got, err := b.Finish()
	require.NoError(t, err)
	require.Equal(t, path, got)
	require.NoError(t, b.Close())
	return path
}

func openTable(t *testing.T, path string) *Reader {
	t.Helper()
	r, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRoundTrip(t *testing.T) {
	entries := sortedEntries(3000, 7)
	r := openTable(t, buildTable(t, entries))

	meta := r.Metadata()
	require.Equal(t, int64(len(entries)), meta.RecordCount, spew.Sdump(meta))
	assert.Equal(t, entries[0].key, meta.SmallestKey)
	assert.Equal(t, entries[len(entries)-1].key, meta.LargestKey)
	assert.Equal(t, int64(1), r.ID())
	assert.Greater(t, r.BlockCount(), binarySearchThreshold, "expected the binary search path to be exercised")

	for _, e := range entries {
		v, ok, err := r.Get(e.key)
		require.NoError(t, err)
		require.True(t, ok, "missing key %x", e.key)
		require.True(t, bytes.Equal(e.value, v), "value mismatch for %x", e.key)
		require.True(t, r.MayContain(e.key))
	}

	it := r.Iterator()
	i := 0
	var prev []byte
	for it.Next() {
		require.Less(t, i, len(entries))
		assert.Equal(t, entries[i].key, it.Key())
		assert.True(t, bytes.Equal(entries[i].value, it.Value()))
		if prev != nil {
			require.Equal(t, -1, bytes.Compare(prev, it.Key()), "keys must be strictly ascending")
		}
		prev = it.Key()
		i++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, len(entries), i)
	assert.False(t, it.Next(), "iterator is single pass")
}

func TestReader_GetAbsent(t *testing.T) {
	entries := []kv{
		{[]byte("b"), []byte("2")},
		{[]byte("d"), []byte("4")},
		{[]byte("f"), []byte("6")},
	}
	r := openTable(t, buildTable(t, entries))

	for _, key := range []string{"a", "c", "e", "g", "dd"} {
		_, ok, err := r.Get([]byte(key))
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
	assert.False(t, r.MayContain([]byte("a")), "key below the first block has no candidate")
}

func TestBuilder_AnyOrderWithinBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sst_2.sst")
	b, err := NewBuilder(path, 2)
	require.NoError(t, err)
	for _, k := range []string{"m", "c", "x", "a", "c"} {
		require.NoError(t, b.Add([]byte(k), []byte("v-"+k)))
	}
	require.NoError(t, b.Close())

	r := openTable(t, path)
	assert.Equal(t, int64(4), r.Metadata().RecordCount)
	assert.Equal(t, []byte("a"), r.Metadata().SmallestKey)
	assert.Equal(t, []byte("x"), r.Metadata().LargestKey)

	var keys []string
	it := r.Iterator()
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	assert.Equal(t, []string{"a", "c", "m", "x"}, keys)
}

func TestBuilder_RejectsKeyBeforeFlushedBlock(t *testing.T) {
	b, err := NewBuilder(filepath.Join(t.TempDir(), "sst.sst"), 1, WithBlockSize(16))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Add([]byte("key-b"), []byte("value-b")))
	err = b.Add([]byte("key-a"), []byte("value-a"))
	assert.ErrorIs(t, err, ErrKeyOrder)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	assert.ErrorIs(t, b.Add(nil, []byte("v")), domain.ErrInvalidArgument)
	assert.ErrorIs(t, b.Add([]byte("key-c"), nil), domain.ErrInvalidArgument)
	assert.NoError(t, b.Add([]byte("key-c"), []byte("value-c")))
}

func TestBuilder_BlockLayout(t *testing.T) {
	path := buildTable(t, []kv{
		{[]byte("apple"), []byte("1")},
		{[]byte("apricot"), []byte("2")},
	})
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	be := binary.BigEndian
	filterLen := int(be.Uint32(data[4:8]))
	assert.Equal(t, uint32(2), be.Uint32(data[0:4]))
	assert.Equal(t, 16, filterLen)

	off := 8 + filterLen
	assert.Equal(t, uint32(5), be.Uint32(data[off:]))
	assert.Equal(t, "apple", string(data[off+4:off+9]))
	off += 9
	assert.Equal(t, uint32(1), be.Uint32(data[off:]))
	assert.Equal(t, byte('1'), data[off+4])
	off += 5
	assert.Equal(t, uint32(2), be.Uint32(data[off:]), "shared prefix with the first key")
	assert.Equal(t, uint32(5), be.Uint32(data[off+4:]))
	assert.Equal(t, "ricot", string(data[off+8:off+13]))

	footer := data[len(data)-FooterSize:]
	assert.Equal(t, uint32(BlockHandleSize), be.Uint32(footer[0:4]))
	assert.Equal(t, MagicNumber, be.Uint64(footer[FooterSize-8:]))
	indexOffset := int64(be.Uint64(footer[4:12]))
	indexSize := int64(be.Uint64(footer[12:20]))
	assert.Equal(t, int64(len(data)-FooterSize), indexOffset+indexSize)

	index := data[indexOffset : indexOffset+indexSize]
	assert.Equal(t, uint32(1), be.Uint32(index[0:4]))
	assert.Equal(t, uint32(BlockHandleSize), be.Uint32(index[4:8]))
	assert.Equal(t, uint64(0), be.Uint64(index[8:16]))
	assert.Equal(t, uint64(indexOffset), be.Uint64(index[16:24]))
	assert.Equal(t, "apple", string(index[28:33]))
}

func TestBuilder_FinishIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sst.sst")
	b, err := NewBuilder(path, 3)
	require.NoError(t, err)
	require.NoError(t, b.Add([]byte("k"), []byte("v")))

	p1, err := b.Finish()
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)

	p2, err := b.Finish()
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), info2.Size())

	assert.ErrorIs(t, b.Add([]byte("z"), []byte("v")), ErrBuilderFinished)
	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}

func TestBuilder_CloseOnlyLogsFailures(t *testing.T) {
	b, err := NewBuilder(filepath.Join(t.TempDir(), "sst.sst"), 6)
	require.NoError(t, err)
	require.NoError(t, b.Add([]byte("k"), []byte("v")))
	require.NoError(t, b.file.Close())

	assert.NoError(t, b.Close())
	assert.ErrorIs(t, b.err, domain.ErrIO)
}

func TestBuilder_CloseFinishesPendingData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sst.sst")
	b, err := NewBuilder(path, 4)
	require.NoError(t, err)
	require.NoError(t, b.Add([]byte("k"), []byte("v")))
	require.NoError(t, b.Close())

	r := openTable(t, path)
	v, ok, err := r.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func TestEncodeFooter_Overflow(t *testing.T) {
	meta := Metadata{
		SmallestKey: bytes.Repeat([]byte("a"), 300),
		LargestKey:  bytes.Repeat([]byte("z"), 300),
	}
	_, err := encodeFooter(BlockHandle{}, meta)
	assert.ErrorIs(t, err, ErrFooterOverflow)
	assert.ErrorIs(t, err, domain.ErrCorruption)

	meta.LargestKey = bytes.Repeat([]byte("z"), MaxFooterKeyBytes-300)
	footer, err := encodeFooter(BlockHandle{}, meta)
	require.NoError(t, err)
	assert.Len(t, footer, FooterSize)
}

func TestBuilder_LongestKeysFitFooter(t *testing.T) {
	require.LessOrEqual(t, 2*domain.MaxKeySize, MaxFooterKeyBytes)

	lo := bytes.Repeat([]byte("a"), domain.MaxKeySize)
	hi := bytes.Repeat([]byte("z"), domain.MaxKeySize)
	r := openTable(t, buildTable(t, []kv{{lo, []byte("1")}, {hi, []byte("2")}}))
	assert.Equal(t, lo, r.Metadata().SmallestKey)
	assert.Equal(t, hi, r.Metadata().LargestKey)

	b, err := NewBuilder(filepath.Join(t.TempDir(), "sst.sst"), 5)
	require.NoError(t, err)
	defer b.Close()
	assert.ErrorIs(t, b.Add(append(hi, 'z'), []byte("v")), domain.ErrKeyTooLarge)
}

func TestEmptyTable(t *testing.T) {
	r := openTable(t, buildTable(t, nil))

	assert.Equal(t, 0, r.BlockCount())
	assert.Equal(t, int64(0), r.Metadata().RecordCount)
	assert.Nil(t, r.Metadata().SmallestKey)
	_, ok, err := r.Get([]byte("k"))
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, r.MayContain([]byte("k")))
	assert.False(t, r.Iterator().Next())
	assert.Equal(t, int64(4+FooterSize), r.Size())
}

func TestOpen_BadMagic(t *testing.T) {
	path := buildTable(t, sortedEntries(10, 1))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrBadMagic)
	assert.ErrorIs(t, err, domain.ErrCorruption)
}

func TestOpen_Truncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.sst")
	require.NoError(t, os.WriteFile(path, []byte("not a table"), 0644))

	_, err := Open(path)
	assert.ErrorIs(t, err, domain.ErrCorruption)

	_, err = Open(filepath.Join(t.TempDir(), "missing.sst"))
	assert.ErrorIs(t, err, domain.ErrIO)
}

func TestReader_MayContainFallsBackToTrue(t *testing.T) {
	path := buildTable(t, []kv{{[]byte("k1"), []byte("v1")}, {[]byte("k2"), []byte("v2")}})
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.BigEndian.PutUint32(data[4:8], 0) // zero-length bloom
	require.NoError(t, os.WriteFile(path, data, 0644))

	r := openTable(t, path)
	assert.True(t, r.MayContain([]byte("k9-never-added")))
}

func TestReader_GetSurfacesCorruption(t *testing.T) {
	path := buildTable(t, []kv{{[]byte("apple"), []byte("1")}, {[]byte("apricot"), []byte("2")}})
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	filterLen := int(binary.BigEndian.Uint32(data[4:8]))
	secondEntry := 8 + filterLen + 4 + 5 + 4 + 1
	binary.BigEndian.PutUint32(data[secondEntry:], 99) // prefix longer than the first key
	require.NoError(t, os.WriteFile(path, data, 0644))

	r := openTable(t, path)
	_, _, err = r.Get([]byte("apricot"))
	assert.ErrorIs(t, err, domain.ErrCorruption)

	it := r.Iterator()
	assert.True(t, it.Next())
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), domain.ErrCorruption)
}

func TestReader_Close(t *testing.T) {
	path := buildTable(t, sortedEntries(5, 2))
	r, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, _, err = r.Get(r.Metadata().SmallestKey)
	assert.ErrorIs(t, err, domain.ErrClosed)
	assert.True(t, r.MayContain(r.Metadata().SmallestKey))
}

func TestBuilder_BloomPolicyOption(t *testing.T) {
	entries := sortedEntries(200, 3)
	r := openTable(t, buildTable(t, entries, WithBloomPolicy(bloom.Policy{BitsPerKey: 20}), WithBlockSize(1<<20), WithLevel(2)))
	assert.Equal(t, 1, r.BlockCount())
	assert.Equal(t, int32(2), r.Metadata().Level)

	falsePositives := 0
	for i := 0; i < 500; i++ {
		if r.MayContain([]byte(fmt.Sprintf("absent-%d", i))) {
			falsePositives++
		}
	}
	assert.Less(t, falsePositives, 50)
}
