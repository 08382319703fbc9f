package sstable

import (
	"DKV/internal/domain"
	"fmt"
)

// Below this many blocks Find scans linearly.
const binarySearchThreshold = 10

// BlockIndex maps each data block's minimum key to its handle.
// Min keys are non-decreasing; a nil min key is unknown.
type BlockIndex struct {
	handles []BlockHandle
	minKeys [][]byte
}

func NewBlockIndex(handles []BlockHandle, minKeys [][]byte) *BlockIndex {
	if len(minKeys) < len(handles) {
		padded := make([][]byte, len(handles))
		copy(padded, minKeys)
		minKeys = padded
	}
	return &BlockIndex{handles: handles, minKeys: minKeys[:len(handles)]}
}

func (bi *BlockIndex) Len() int {
	return len(bi.handles)
}

func (bi *BlockIndex) Handle(i int) BlockHandle {
	return bi.handles[i]
}

func (bi *BlockIndex) MinKey(i int) []byte {
	return bi.minKeys[i]
}

// Find returns the handle of the only block that can hold key.
func (bi *BlockIndex) Find(key []byte) (BlockHandle, bool) {
	i := bi.find(key)
	if i < 0 {
		return BlockHandle{}, false
	}
	return bi.handles[i], true
}

func (bi *BlockIndex) find(key []byte) int {
	switch n := len(bi.handles); {
	case n == 0:
		return -1
	case n == 1 && bi.minKeys[0] == nil:
		return 0
	case n < binarySearchThreshold:
		return bi.findLinear(key)
	default:
		return bi.findBinary(key)
	}
}

func (bi *BlockIndex) matches(key []byte, i int) bool {
	if domain.CompareKeys(key, bi.minKeys[i]) < 0 {
		return false
	}
	return i == len(bi.handles)-1 || domain.CompareKeys(key, bi.minKeys[i+1]) < 0
}

func (bi *BlockIndex) findLinear(key []byte) int {
	for i := range bi.handles {
		if bi.matches(key, i) {
			return i
		}
	}
	return -1
}

func (bi *BlockIndex) findBinary(key []byte) int {
	lo, hi := 0, len(bi.handles)-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		switch {
		case bi.matches(key, mid):
			return mid
		case domain.CompareKeys(key, bi.minKeys[mid]) < 0:
			hi = mid - 1
		default:
			lo = mid + 1
		}
	}
	return -1
}

// Encode serializes the index block.
func (bi *BlockIndex) Encode() []byte {
	size := 4
	for i := range bi.handles {
		size += 4 + BlockHandleSize + 4 + len(bi.minKeys[i])
	}
	buf := make([]byte, 0, size)
	buf = appendInt32(buf, int32(len(bi.handles)))
	for i, h := range bi.handles {
		buf = appendInt32(buf, BlockHandleSize)
		buf = h.AppendTo(buf)
		buf = appendLengthPrefixed(buf, bi.minKeys[i])
	}
	return buf
}

// DecodeBlockIndex parses an index block. Handles must lie within dataSize.
func DecodeBlockIndex(b []byte, dataSize int64) (*BlockIndex, error) {
	d := decoder{buf: b}
	count := d.int32()
	if d.err != nil {
		return nil, fmt.Errorf("decode index: %w", d.err)
	}
	// every entry takes at least 24 bytes
	if count < 0 || int(count) > (len(b)-4)/(4+BlockHandleSize+4) {
		return nil, fmt.Errorf("%w: index block count %d", ErrCorruptedTable, count)
	}

	handles := make([]BlockHandle, 0, count)
	minKeys := make([][]byte, 0, count)
	for i := 0; i < int(count); i++ {
		if n := d.int32(); d.err == nil && n != BlockHandleSize {
			return nil, fmt.Errorf("%w: index entry %d handle length %d", ErrCorruptedTable, i, n)
		}
		raw := d.bytes(BlockHandleSize)
		minKey := d.lengthPrefixed()
		if d.err != nil {
			return nil, fmt.Errorf("decode index entry %d: %w", i, d.err)
		}
		h, err := DecodeBlockHandle(raw)
		if err != nil {
			return nil, err
		}
		if !h.within(dataSize) {
			return nil, fmt.Errorf("%w: block %d handle %s outside data region of %d bytes", ErrCorruptedTable, i, h, dataSize)
		}
		handles = append(handles, h)
		minKeys = append(minKeys, cloneNonEmpty(minKey))
	}
	return &BlockIndex{handles: handles, minKeys: minKeys}, nil
}
