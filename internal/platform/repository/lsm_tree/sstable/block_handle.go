package sstable

import "fmt"

const BlockHandleSize = 16

// BlockHandle locates a data or index block inside a table file.
type BlockHandle struct {
	Offset int64
	Size   int64
}

func (h BlockHandle) End() int64 {
	return h.Offset + h.Size
}

func (h BlockHandle) String() string {
	return fmt.Sprintf("[%d,+%d)", h.Offset, h.Size)
}

func (h BlockHandle) AppendTo(buf []byte) []byte {
	buf = appendInt64(buf, h.Offset)
	return appendInt64(buf, h.Size)
}

func DecodeBlockHandle(b []byte) (BlockHandle, error) {
	if len(b) != BlockHandleSize {
		return BlockHandle{}, fmt.Errorf("%w: block handle of %d bytes", ErrCorruptedTable, len(b))
	}
	d := decoder{buf: b}
	h := BlockHandle{Offset: d.int64(), Size: d.int64()}
	if h.Offset < 0 || h.Size < 0 {
		return BlockHandle{}, fmt.Errorf("%w: negative block handle %s", ErrCorruptedTable, h)
	}
	return h, nil
}

// within reports whether h lies entirely inside [0, limit).
func (h BlockHandle) within(limit int64) bool {
	return h.Offset >= 0 && h.Size >= 0 && h.End() <= limit && h.End() >= h.Offset
}
