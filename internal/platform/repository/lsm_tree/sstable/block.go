package sstable

import (
	"bytes"
	"fmt"
)

type blockEntry struct {
	key   []byte
	value []byte
}

// encodeBlock writes entries, already in ascending key order, behind their bloom filter.
func encodeBlock(entries []blockEntry, filter []byte) []byte {
	size := blockHeader + len(filter)
	for _, e := range entries {
		size += 12 + len(e.key) + len(e.value)
	}
	buf := make([]byte, 0, size)
	buf = appendInt32(buf, int32(len(entries)))
	buf = appendInt32(buf, int32(len(filter)))
	buf = append(buf, filter...)

	var first []byte
	for i, e := range entries {
		if i == 0 {
			first = e.key
			buf = appendLengthPrefixed(buf, e.key)
		} else {
			prefix := sharedPrefixLen(first, e.key)
			buf = appendInt32(buf, int32(prefix))
			buf = appendLengthPrefixed(buf, e.key[prefix:])
		}
		buf = appendLengthPrefixed(buf, e.value)
	}
	return buf
}

func sharedPrefixLen(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// blockIter replays the entries of one data block.
type blockIter struct {
	d         decoder
	remaining int
	started   bool
	first     []byte
	key       []byte
	value     []byte
	err       error
}

func newBlockIter(data []byte) (*blockIter, error) {
	d := decoder{buf: data}
	count := d.int32()
	filterLen := d.int32()
	if d.err != nil {
		return nil, fmt.Errorf("decode block header: %w", d.err)
	}
	if count < 0 || filterLen < 0 {
		return nil, fmt.Errorf("%w: block header count=%d bloomLen=%d", ErrCorruptedTable, count, filterLen)
	}
	d.bytes(int(filterLen))
	if d.err != nil {
		return nil, fmt.Errorf("skip block filter: %w", d.err)
	}
	return &blockIter{d: d, remaining: int(count)}, nil
}

func (it *blockIter) next() bool {
	if it.err != nil || it.remaining == 0 {
		return false
	}
	if !it.started {
		it.started = true
		it.first = it.d.lengthPrefixed()
		it.key = it.first
	} else {
		prefix := int(it.d.int32())
		suffix := it.d.lengthPrefixed()
		if it.d.err == nil && (prefix < 0 || prefix > len(it.first)) {
			it.err = fmt.Errorf("%w: prefix length %d exceeds first key length %d", ErrCorruptedTable, prefix, len(it.first))
			return false
		}
		it.key = bytes.Join([][]byte{it.first[:prefix], suffix}, nil)
	}
	it.value = it.d.lengthPrefixed()
	if it.d.err != nil {
		it.err = it.d.err
		return false
	}
	it.remaining--
	return true
}
