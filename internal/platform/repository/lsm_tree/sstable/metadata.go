package sstable

import (
	"fmt"
	"time"
)

// encoded size of every Metadata field except the two keys
const metadataFixedSize = 8 + 8 + 4 + 4 + 8 + 4 + 8 + 8 + 8 + 8

// Metadata is stored in the footer of every table.
type Metadata struct {
	ID           int64
	RecordCount  int64
	SmallestKey  []byte
	LargestKey   []byte
	CreationTime int64 // unix millis
	Level        int32
	// DataSize is the byte length of the data region, which is also the index offset.
	DataSize        int64
	IndexSize       int64
	BloomFilterSize int64 // filters are per block; always 0
}

func (m Metadata) CreatedAt() time.Time {
	return time.UnixMilli(m.CreationTime)
}

func (m Metadata) EncodedSize() int {
	return metadataFixedSize + len(m.SmallestKey) + len(m.LargestKey)
}

func (m Metadata) AppendTo(buf []byte) []byte {
	buf = appendInt64(buf, m.ID)
	buf = appendInt64(buf, m.RecordCount)
	buf = appendLengthPrefixed(buf, m.SmallestKey)
	buf = appendLengthPrefixed(buf, m.LargestKey)
	buf = appendInt64(buf, m.CreationTime)
	buf = appendInt32(buf, m.Level)
	buf = appendInt64(buf, m.DataSize)
	buf = appendInt64(buf, m.IndexSize)
	buf = appendInt64(buf, m.BloomFilterSize)
	return appendInt64(buf, 0) // reserved
}

func DecodeMetadata(b []byte) (Metadata, error) {
	d := decoder{buf: b}
	m := Metadata{
		ID:          d.int64(),
		RecordCount: d.int64(),
	}
	m.SmallestKey = cloneNonEmpty(d.lengthPrefixed())
	m.LargestKey = cloneNonEmpty(d.lengthPrefixed())
	m.CreationTime = d.int64()
	m.Level = d.int32()
	m.DataSize = d.int64()
	m.IndexSize = d.int64()
	m.BloomFilterSize = d.int64()
	d.int64()
	if d.err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", d.err)
	}
	if m.RecordCount < 0 || m.DataSize < 0 || m.IndexSize < 0 {
		return Metadata{}, fmt.Errorf("%w: negative metadata field", ErrCorruptedTable)
	}
	return m, nil
}

func cloneNonEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
