package sstable

import (
	"DKV/internal/domain"
	"DKV/internal/platform/repository/lsm_tree/bloom"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/mmap"
)

type ReaderOption func(*Reader)

func WithReaderLogger(logger *zap.Logger) ReaderOption {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Reader serves lookups from a finished table. It is safe for concurrent use.
type Reader struct {
	mu     sync.RWMutex
	file   *mmap.ReaderAt
	path   string
	size   int64
	meta   Metadata
	index  *BlockIndex
	logger *zap.Logger
}

func Open(path string, opts ...ReaderOption) (*Reader, error) {
	file, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sstable %s: %w", domain.ErrIO, path, err)
	}
	r := &Reader{
		file:   file,
		path:   path,
		size:   int64(file.Len()),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("sstable", filepath.Base(path)))

	if err := r.load(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("open sstable %s: %w", path, err)
	}
	return r, nil
}

func (r *Reader) load() error {
	if r.size < FooterSize {
		return fmt.Errorf("%w: file of %d bytes is shorter than the footer", ErrCorruptedTable, r.size)
	}
	footer, err := r.readAt(r.size-FooterSize, FooterSize)
	if err != nil {
		return err
	}
	indexHandle, meta, err := decodeFooter(footer)
	if err != nil {
		return err
	}
	if !indexHandle.within(r.size - FooterSize) {
		return fmt.Errorf("%w: index handle %s outside file of %d bytes", ErrCorruptedTable, indexHandle, r.size)
	}
	raw, err := r.readAt(indexHandle.Offset, indexHandle.Size)
	if err != nil {
		return err
	}
	index, err := DecodeBlockIndex(raw, indexHandle.Offset)
	if err != nil {
		return err
	}
	r.meta = meta
	r.index = index
	return nil
}

func (r *Reader) readAt(off, n int64) ([]byte, error) {
	if r.file == nil {
		return nil, fmt.Errorf("sstable %s: %w", r.path, domain.ErrClosed)
	}
	buf := make([]byte, n)
	if _, err := r.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("%w: read %d bytes at %d: %w", domain.ErrIO, n, off, err)
	}
	return buf, nil
}

func (r *Reader) readBlock(h BlockHandle) ([]byte, error) {
	if h.Size < blockHeader || !h.within(r.meta.DataSize) {
		return nil, fmt.Errorf("%w: data block %s", ErrCorruptedTable, h)
	}
	return r.readAt(h.Offset, h.Size)
}

// Get returns the value stored for key. Read and decode failures are
// returned as errors, never reported as a missing key.
func (r *Reader) Get(key []byte) ([]byte, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.index.Find(key)
	if !ok {
		r.logger.Debug("no candidate block", zap.ByteString("key", key))
		return nil, false, nil
	}
	data, err := r.readBlock(h)
	if err != nil {
		return nil, false, err
	}
	it, err := newBlockIter(data)
	if err != nil {
		return nil, false, err
	}
	for it.next() {
		switch c := domain.CompareKeys(it.key, key); {
		case c == 0:
			return it.value, true, nil
		case c > 0:
			return nil, false, nil
		}
	}
	if it.err != nil {
		return nil, false, it.err
	}
	return nil, false, nil
}

// MayContain consults the bloom filter of the candidate block only.
// Any failure to read or decode the filter answers true.
func (r *Reader) MayContain(key []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.index.Find(key)
	if !ok {
		return false
	}
	filter, err := r.readFilter(h)
	if err != nil {
		r.logger.Debug("bloom filter unavailable", zap.Stringer("block", h), zap.Error(err))
		return true
	}
	return filter.MightContain(key)
}

func (r *Reader) readFilter(h BlockHandle) (*bloom.Filter, error) {
	if h.Size < blockHeader || !h.within(r.meta.DataSize) {
		return nil, fmt.Errorf("%w: data block %s", ErrCorruptedTable, h)
	}
	header, err := r.readAt(h.Offset, blockHeader)
	if err != nil {
		return nil, err
	}
	filterLen := int64(int32(byteOrder.Uint32(header[4:8])))
	if filterLen <= 0 || filterLen > bloom.MaxSerializedSize || blockHeader+filterLen > h.Size {
		return nil, fmt.Errorf("%w: bloom filter length %d", ErrCorruptedTable, filterLen)
	}
	raw, err := r.readAt(h.Offset+blockHeader, filterLen)
	if err != nil {
		return nil, err
	}
	return bloom.Unmarshal(raw)
}

func (r *Reader) Metadata() Metadata {
	return r.meta
}

func (r *Reader) ID() int64 {
	return r.meta.ID
}

// Size is the file size in bytes.
func (r *Reader) Size() int64 {
	return r.size
}

func (r *Reader) Path() string {
	return r.path
}

func (r *Reader) BlockCount() int {
	return r.index.Len()
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("%w: close sstable: %w", domain.ErrIO, err)
		}
		r.file = nil
	}
	return nil
}
