package sstable

import (
	"DKV/internal/domain"
	"DKV/internal/platform/repository/lsm_tree/bloom"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/emirpasic/gods/trees/btree"
	"go.uber.org/zap"
)

const pendingTreeOrder = 16

type BuilderOption func(*Builder)

func WithBlockSize(size int) BuilderOption {
	return func(b *Builder) {
		if size > 0 {
			b.blockSize = size
		}
	}
}

func WithBloomPolicy(p bloom.Policy) BuilderOption {
	return func(b *Builder) {
		if p.BitsPerKey > 0 {
			b.policy = p
		}
	}
}

func WithLevel(level int32) BuilderOption {
	return func(b *Builder) { b.level = level }
}

func WithBuilderLogger(logger *zap.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Builder writes a single table file. Keys may arrive in any order while they
// are buffered, but a key must sort after every key of an already emitted block.
type Builder struct {
	file      *os.File
	path      string
	id        int64
	blockSize int
	policy    bloom.Policy
	level     int32
	logger    *zap.Logger

	pending     *btree.Tree
	pendingSize int

	offset      int64
	handles     []BlockHandle
	minKeys     [][]byte
	lastFlushed []byte
	smallest    []byte
	largest     []byte
	records     int64

	meta     Metadata
	finished bool
	err      error
}

func NewBuilder(path string, id int64, opts ...BuilderOption) (*Builder, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: create sstable %s: %w", domain.ErrIO, path, err)
	}
	b := &Builder{
		file:      file,
		path:      path,
		id:        id,
		blockSize: DefaultBlockSize,
		policy:    bloom.DefaultPolicy(),
		logger:    zap.NewNop(),
		pending: btree.NewWith(pendingTreeOrder, func(a, b interface{}) int {
			return domain.CompareKeys(a.([]byte), b.([]byte))
		}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("sstable", filepath.Base(path)))
	return b, nil
}

func (b *Builder) Path() string {
	return b.path
}

// Metadata is only meaningful after Finish.
func (b *Builder) Metadata() Metadata {
	return b.meta
}

// Add buffers key and value for the current block. Keys may be added in any
// order up to the block size; once a block is emitted, a key at or below its
// largest key fails with ErrKeyOrder. Adding a buffered key again replaces its value.
func (b *Builder) Add(key, value []byte) error {
	if b.finished {
		return ErrBuilderFinished
	}
	if b.err != nil {
		return b.err
	}
	if err := domain.ValidateEntry(key, value); err != nil {
		return err
	}
	if b.lastFlushed != nil && domain.CompareKeys(key, b.lastFlushed) <= 0 {
		return fmt.Errorf("%w: %q after %q", ErrKeyOrder, key, b.lastFlushed)
	}

	k, v := bytes.Clone(key), bytes.Clone(value)
	if old, found := b.pending.Get(k); found {
		b.pendingSize += len(v) - len(old.([]byte))
	} else {
		b.pendingSize += entryOverhead + len(k) + len(v)
	}
	b.pending.Put(k, v)

	if b.smallest == nil || domain.CompareKeys(k, b.smallest) < 0 {
		b.smallest = k
	}
	if b.largest == nil || domain.CompareKeys(k, b.largest) > 0 {
		b.largest = k
	}

	if b.pendingSize >= b.blockSize {
		return b.flushBlock()
	}
	return nil
}

func (b *Builder) flushBlock() error {
	if b.pending.Size() == 0 {
		return nil
	}

	entries := make([]blockEntry, 0, b.pending.Size())
	it := b.pending.Iterator()
	for it.Next() {
		entries = append(entries, blockEntry{key: it.Key().([]byte), value: it.Value().([]byte)})
	}

	filter := b.policy.NewFilter(len(entries))
	for _, e := range entries {
		filter.Add(e.key)
	}
	filterBytes, err := filter.MarshalBinary()
	if err != nil {
		return b.fail(fmt.Errorf("encode bloom filter: %w", err))
	}

	data := encodeBlock(entries, filterBytes)
	if _, err := b.file.Write(data); err != nil {
		return b.fail(fmt.Errorf("%w: write data block: %w", domain.ErrIO, err))
	}

	handle := BlockHandle{Offset: b.offset, Size: int64(len(data))}
	b.handles = append(b.handles, handle)
	b.minKeys = append(b.minKeys, entries[0].key)
	b.offset += handle.Size
	b.records += int64(len(entries))
	b.lastFlushed = entries[len(entries)-1].key

	b.logger.Debug("flushed data block",
		zap.Int("block", len(b.handles)-1),
		zap.Stringer("handle", handle),
		zap.Int("entries", len(entries)))

	b.pending.Clear()
	b.pendingSize = 0
	return nil
}

// Finish writes the remaining data, the index block and the footer, then
// syncs the file. The file stays open until Close. Calling Finish again
// returns the same path.
func (b *Builder) Finish() (string, error) {
	if b.finished {
		return b.path, nil
	}
	if b.err != nil {
		return "", b.err
	}
	if err := b.flushBlock(); err != nil {
		return "", err
	}

	indexHandle := BlockHandle{Offset: b.offset}
	index := NewBlockIndex(b.handles, b.minKeys).Encode()
	indexHandle.Size = int64(len(index))
	if _, err := b.file.Write(index); err != nil {
		return "", b.fail(fmt.Errorf("%w: write index block: %w", domain.ErrIO, err))
	}
	b.offset += indexHandle.Size

	meta := Metadata{
		ID:           b.id,
		RecordCount:  b.records,
		SmallestKey:  b.smallest,
		LargestKey:   b.largest,
		CreationTime: time.Now().UnixMilli(),
		Level:        b.level,
		DataSize:     indexHandle.Offset,
		IndexSize:    indexHandle.Size,
	}
	footer, err := encodeFooter(indexHandle, meta)
	if err != nil {
		return "", b.fail(err)
	}
	if _, err := b.file.Write(footer); err != nil {
		return "", b.fail(fmt.Errorf("%w: write footer: %w", domain.ErrIO, err))
	}
	b.offset += FooterSize

	if err := b.file.Sync(); err != nil {
		return "", b.fail(fmt.Errorf("%w: sync sstable: %w", domain.ErrIO, err))
	}
	if err := syncDir(filepath.Dir(b.path)); err != nil {
		return "", b.fail(fmt.Errorf("%w: sync sstable dir: %w", domain.ErrIO, err))
	}

	b.meta = meta
	b.finished = true
	b.logger.Debug("finished sstable",
		zap.Int64("records", meta.RecordCount),
		zap.Int("blocks", len(b.handles)),
		zap.Int64("bytes", b.offset))
	return b.path, nil
}

// Close finishes the table if needed and releases the file. Failures are
// logged, never returned; call Finish first to observe them.
func (b *Builder) Close() error {
	if b.file == nil {
		return nil
	}
	if !b.finished && b.err == nil {
		if _, err := b.Finish(); err != nil {
			b.logger.Error("finish sstable on close", zap.Error(err))
		}
	}
	if err := b.file.Close(); err != nil {
		b.logger.Error("close sstable", zap.Error(err))
	}
	b.file = nil
	return nil
}

func (b *Builder) fail(err error) error {
	b.err = err
	return err
}

func encodeFooter(indexHandle BlockHandle, meta Metadata) ([]byte, error) {
	payload := footerFixedSize + len(meta.SmallestKey) + len(meta.LargestKey)
	if payload > FooterSize-magicSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFooterOverflow, payload)
	}
	buf := make([]byte, 0, FooterSize)
	buf = appendInt32(buf, BlockHandleSize)
	buf = indexHandle.AppendTo(buf)
	buf = appendInt32(buf, int32(meta.EncodedSize()))
	buf = meta.AppendTo(buf)
	buf = buf[:FooterSize-magicSize]
	return byteOrder.AppendUint64(buf, MagicNumber), nil
}

func decodeFooter(b []byte) (BlockHandle, Metadata, error) {
	if len(b) != FooterSize {
		return BlockHandle{}, Metadata{}, fmt.Errorf("%w: footer of %d bytes", ErrCorruptedTable, len(b))
	}
	if magic := byteOrder.Uint64(b[FooterSize-magicSize:]); magic != MagicNumber {
		return BlockHandle{}, Metadata{}, fmt.Errorf("%w: %#x", ErrBadMagic, magic)
	}
	d := decoder{buf: b[:FooterSize-magicSize]}
	if marker := d.int32(); marker != BlockHandleSize {
		return BlockHandle{}, Metadata{}, fmt.Errorf("%w: index handle length %d", ErrCorruptedTable, marker)
	}
	handle, err := DecodeBlockHandle(d.bytes(BlockHandleSize))
	if err != nil {
		return BlockHandle{}, Metadata{}, err
	}
	raw := d.lengthPrefixed()
	if d.err != nil {
		return BlockHandle{}, Metadata{}, fmt.Errorf("decode footer: %w", d.err)
	}
	meta, err := DecodeMetadata(raw)
	if err != nil {
		return BlockHandle{}, Metadata{}, err
	}
	return handle, meta, nil
}
