// Package sstable reads and writes immutable sorted table files.
//
// File layout:
//
//	+------------------+
//	| data block 0     |  count:int32 bloomLen:int32 bloom entries...
//	| data block 1     |
//	| ...              |
//	+------------------+
//	| index block      |  count:int32 {handleLen:int32 handle minKeyLen:int32 minKey}...
//	+------------------+
//	| footer (512 B)   |  16:int32 indexHandle metaLen:int32 meta zero-pad magic:int64
//	+------------------+
//
// Within a data block the first entry stores its full key; the others store
// prefixLen, suffixLen and suffix relative to that first key. Every entry then
// stores valueLen and value. All integers are big-endian.
package sstable

import (
	"DKV/internal/domain"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

const (
	FooterSize       = 512
	MagicNumber      = uint64(0x73737461626c6500)
	DefaultBlockSize = 4096

	// per-entry overhead used by the block size estimate
	entryOverhead = 8
	blockHeader   = 8
	magicSize     = 8

	// footer bytes other than the smallest and largest keys
	footerFixedSize = 4 + BlockHandleSize + 4 + metadataFixedSize
	// MaxFooterKeyBytes is the room a footer has for the smallest and largest keys together.
	MaxFooterKeyBytes = FooterSize - magicSize - footerFixedSize
)

var byteOrder = binary.BigEndian

var (
	ErrCorruptedTable  = fmt.Errorf("%w: sstable", domain.ErrCorruption)
	ErrBadMagic        = fmt.Errorf("%w: bad magic number", ErrCorruptedTable)
	ErrFooterOverflow  = fmt.Errorf("%w: footer payload exceeds %d bytes", ErrCorruptedTable, FooterSize)
	ErrKeyOrder        = fmt.Errorf("%w: key must sort after every key already written to a block", domain.ErrInvalidArgument)
	ErrBuilderFinished = errors.New("sstable: builder already finished")
)

// decoder walks a big-endian buffer. The first out-of-range read sets err and
// every later read returns zero values.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.err = fmt.Errorf("%w: read of %d bytes at offset %d overruns %d", ErrCorruptedTable, n, d.off, len(d.buf))
		return false
	}
	return true
}

func (d *decoder) int32() int32 {
	if !d.need(4) {
		return 0
	}
	v := int32(byteOrder.Uint32(d.buf[d.off:]))
	d.off += 4
	return v
}

func (d *decoder) int64() int64 {
	if !d.need(8) {
		return 0
	}
	v := int64(byteOrder.Uint64(d.buf[d.off:]))
	d.off += 8
	return v
}

// bytes returns a view into the buffer, not a copy.
func (d *decoder) bytes(n int) []byte {
	if !d.need(n) {
		return nil
	}
	v := d.buf[d.off : d.off+n : d.off+n]
	d.off += n
	return v
}

// lengthPrefixed reads an int32 length and that many bytes.
func (d *decoder) lengthPrefixed() []byte {
	n := d.int32()
	if d.err == nil && n < 0 {
		d.err = fmt.Errorf("%w: negative length %d at offset %d", ErrCorruptedTable, n, d.off-4)
		return nil
	}
	return d.bytes(int(n))
}

func appendInt32(buf []byte, v int32) []byte {
	return byteOrder.AppendUint32(buf, uint32(v))
}

func appendInt64(buf []byte, v int64) []byte {
	return byteOrder.AppendUint64(buf, uint64(v))
}

func appendLengthPrefixed(buf, b []byte) []byte {
	buf = appendInt32(buf, int32(len(b)))
	return append(buf, b...)
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
