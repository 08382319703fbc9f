package lsm_tree

import (
	. "DKV/internal/domain"
	"DKV/internal/platform/logging"
	"DKV/internal/platform/utils"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type WalOption func(*WAL)

func WithWalLogger(logger *zap.Logger) WalOption {
	return func(w *WAL) { w.logger = logging.OrNop(logger) }
}

// WAL is an append-only log of mutations. Every append is synced before it
// returns, and appends are serialized by a single mutex.
type WAL struct {
	mu         sync.Mutex
	fd         *os.File
	dir        string
	path       string
	version    string
	position   int64
	checkpoint atomic.Int64
	logger     *zap.Logger
}

// NewWal creates a fresh log file named after a time-ordered UUID.
func NewWal(dir string, opts ...WalOption) (*WAL, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate wal version: %w", err)
	}
	version := id.String()
	name := filepath.Join(dir, fmt.Sprintf("wal-%s.log", version))

	file, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: create wal: %w", ErrIO, err)
	}
	return newWal(file, dir, name, version, 0, opts), nil
}

// OpenWal reopens an existing log and positions appends at its end.
func OpenWal(fileName string, opts ...WalOption) (*WAL, error) {
	fd, err := os.OpenFile(fileName, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open wal: %w", ErrIO, err)
	}
	info, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("%w: stat wal: %w", ErrIO, err)
	}
	base := filepath.Base(fileName)
	version := strings.TrimPrefix(strings.TrimSuffix(base, filepath.Ext(base)), "wal-")
	return newWal(fd, filepath.Dir(fileName), fileName, version, info.Size(), opts), nil
}

func newWal(fd *os.File, dir, path, version string, position int64, opts []WalOption) *WAL {
	w := &WAL{
		fd:       fd,
		dir:      dir,
		path:     path,
		version:  version,
		position: position,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("wal").With(zap.String("file", filepath.Base(path)))
	w.logger.Info("wal opened", zap.Int64("position", position))
	return w
}

func (w *WAL) AppendPut(key, value []byte) error {
	return w.append(utils.NewPutRecord(key, value))
}

func (w *WAL) AppendDeletion(key []byte) error {
	return w.append(utils.NewDeleteRecord(key))
}

func (w *WAL) append(rec utils.WalRecord) error {
	data := utils.EncodeWalRecord(rec)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fd == nil {
		return fmt.Errorf("%w: wal: %w", ErrDurability, ErrClosed)
	}
	if _, err := w.fd.WriteAt(data, w.position); err != nil {
		w.logger.Error("wal write failed", zap.Stringer("kind", rec.Kind), zap.Error(err))
		return fmt.Errorf("%w: write wal record: %w", ErrDurability, err)
	}
	if err := datasync(w.fd); err != nil {
		w.logger.Error("wal sync failed", zap.Error(err))
		return fmt.Errorf("%w: sync wal: %w", ErrDurability, err)
	}
	w.position += int64(len(data))
	return nil
}

// UpdateCheckpoint marks everything written so far as persisted in sorted
// tables. The checkpoint itself is not synced.
func (w *WAL) UpdateCheckpoint() {
	pos := w.Position()
	w.checkpoint.Store(pos)
	w.logger.Debug("checkpoint advanced", zap.Int64("position", pos))
}

func (w *WAL) CheckpointPosition() int64 {
	return w.checkpoint.Load()
}

// Position is the offset the next record will be written at.
func (w *WAL) Position() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.position
}

func (w *WAL) Path() string {
	return w.path
}

func (w *WAL) Version() string {
	return w.version
}

// Records decodes every record appended so far.
func (w *WAL) Records() ([]utils.WalRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fd == nil {
		return nil, fmt.Errorf("wal: %w", ErrClosed)
	}
	return utils.ReadAllRecords(io.NewSectionReader(w.fd, 0, w.position))
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.close()
}

func (w *WAL) close() error {
	// w.fd will be nil if close is already called
	if w.fd != nil {
		if err := w.fd.Close(); err != nil {
			return fmt.Errorf("%w: close wal: %w", ErrIO, err)
		}
		w.fd = nil
		w.logger.Info("wal closed", zap.Int64("position", w.position), zap.Int64("checkpoint", w.checkpoint.Load()))
	}
	return nil
}
