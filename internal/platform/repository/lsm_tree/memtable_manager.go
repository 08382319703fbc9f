package lsm_tree

import (
	"DKV/internal/domain"
	"DKV/internal/platform/logging"
	"DKV/internal/platform/metrics"
	"DKV/internal/platform/repository/lsm_tree/sstable"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultFlushRetryInterval = time.Second

	// attempts per queued table when draining on Close
	closeFlushAttempts = 3
)

// CheckpointedWal is the log the manager writes through and checkpoints after each flush.
type CheckpointedWal interface {
	WalWriter
	UpdateCheckpoint()
}

type ManagerOption func(*MemTableManager)

func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *MemTableManager) { m.logger = logging.OrNop(logger) }
}

func WithManagerMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *MemTableManager) { m.metrics = mt }
}

func WithBuilderOptions(opts ...sstable.BuilderOption) ManagerOption {
	return func(m *MemTableManager) { m.builderOpts = append(m.builderOpts, opts...) }
}

func WithFlushRetryInterval(d time.Duration) ManagerOption {
	return func(m *MemTableManager) {
		if d > 0 {
			m.retryInterval = d
		}
	}
}

type ManagerStats struct {
	ActiveSize    int64
	ActiveEntries int
	Immutables    int
	Tables        int
}

// MemTableManager owns the active memtable, the queue of immutable memtables
// waiting to be flushed and the worker that flushes them.
type MemTableManager struct {
	config        MemTableConfig
	wal           CheckpointedWal
	tables        *TableSet
	builderOpts   []sstable.BuilderOption
	retryInterval time.Duration
	retry         *rate.Limiter
	logger        *zap.Logger
	metrics       *metrics.Metrics

	// mutations hold lifecycle shared; Close holds it exclusively
	lifecycle sync.RWMutex
	closed    bool

	active     atomic.Pointer[MemTable]
	queueMu    sync.RWMutex
	immutables *linkedlistqueue.Queue

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMemTableManager(config MemTableConfig, wal CheckpointedWal, tables *TableSet, opts ...ManagerOption) *MemTableManager {
	m := &MemTableManager{
		config:        config,
		wal:           wal,
		tables:        tables,
		retryInterval: DefaultFlushRetryInterval,
		logger:        zap.NewNop(),
		immutables:    linkedlistqueue.New(),
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("memtables")
	m.retry = rate.NewLimiter(rate.Every(m.retryInterval), 1)
	m.active.Store(NewMemTable(wal, config))

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.run(ctx)
	return m
}

func (m *MemTableManager) Put(key, value []byte) error {
	if err := domain.ValidateEntry(key, value); err != nil {
		return err
	}
	err := m.mutate(func(mt *MemTable) (bool, error) { return mt.Put(key, value) })
	if err == nil {
		m.metrics.IncPut()
	}
	return err
}

func (m *MemTableManager) Delete(key []byte) error {
	if err := domain.ValidateKey(key); err != nil {
		return err
	}
	err := m.mutate(func(mt *MemTable) (bool, error) { return mt.Delete(key) })
	if err == nil {
		m.metrics.IncDelete()
	}
	return err
}

// mutate applies op to the active memtable. When op reports the table is
// full, exactly one caller wins the swap; the others retry against the new table.
func (m *MemTableManager) mutate(op func(*MemTable) (bool, error)) error {
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	if m.closed {
		return fmt.Errorf("memtable manager: %w", domain.ErrClosed)
	}

	for {
		current := m.active.Load()
		full, err := op(current)
		if errors.Is(err, ErrMemTableFrozen) {
			continue
		}
		if err != nil {
			return err
		}
		if !full || m.rotate(current) {
			return nil
		}
	}
}

// rotate swaps current for a fresh memtable and queues its snapshot.
// It reports false when another caller already swapped current out.
func (m *MemTableManager) rotate(current *MemTable) bool {
	m.queueMu.Lock()
	if !m.active.CompareAndSwap(current, NewMemTable(m.wal, m.config)) {
		m.queueMu.Unlock()
		return false
	}
	imm := current.SwitchToImmutable()
	m.immutables.Enqueue(imm)
	depth := m.immutables.Size()
	m.queueMu.Unlock()

	m.metrics.IncRotation()
	m.metrics.SetQueueDepth(depth)
	m.logger.Debug("memtable rotated",
		zap.Int64("size", imm.Size()),
		zap.Int("entries", imm.Len()),
		zap.Int("queued", depth))

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// view returns the active memtable and the queued snapshots, newest first,
// as one consistent picture.
func (m *MemTableManager) view() (*MemTable, []*ImmutableMemTable) {
	m.queueMu.RLock()
	defer m.queueMu.RUnlock()

	values := m.immutables.Values()
	pending := make([]*ImmutableMemTable, len(values))
	for i, v := range values {
		pending[len(values)-1-i] = v.(*ImmutableMemTable)
	}
	return m.active.Load(), pending
}

// Get checks the active memtable, then queued snapshots newest first, then the sorted tables.
func (m *MemTableManager) Get(key []byte) ([]byte, bool, error) {
	if len(key) == 0 {
		return nil, false, domain.ErrEmptyKey
	}
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	if m.closed {
		return nil, false, fmt.Errorf("memtable manager: %w", domain.ErrClosed)
	}

	active, pending := m.view()
	if v, ok := active.Get(key); ok {
		m.metrics.ObserveGet(metrics.SourceActive)
		return v, true, nil
	}
	for _, imm := range pending {
		if v, ok := imm.Get(key); ok {
			m.metrics.ObserveGet(metrics.SourceImmutable)
			return v, true, nil
		}
	}
	if m.tables == nil {
		m.metrics.ObserveGet(metrics.SourceMiss)
		return nil, false, nil
	}
	v, ok, err := m.tables.Get(key)
	switch {
	case err != nil:
		return nil, false, err
	case ok:
		m.metrics.ObserveGet(metrics.SourceTable)
	default:
		m.metrics.ObserveGet(metrics.SourceMiss)
	}
	return v, ok, nil
}

func (m *MemTableManager) Stats() ManagerStats {
	active, pending := m.view()
	stats := ManagerStats{
		ActiveSize:    active.Size(),
		ActiveEntries: active.Len(),
		Immutables:    len(pending),
	}
	if m.tables != nil {
		stats.Tables = m.tables.Len()
	}
	return stats
}

func (m *MemTableManager) run(ctx context.Context) {
	defer close(m.done)

	var expire <-chan time.Time
	if m.config.MaxLifetime > 0 {
		ticker := time.NewTicker(min(m.config.MaxLifetime/2+1, time.Second))
		defer ticker.Stop()
		expire = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-expire:
			m.rotateIfExpired(ctx)
		}
		_ = m.drain(ctx, 0)
	}
}

// rotateIfExpired runs on the worker only; Close waits for the worker before
// touching the active memtable.
func (m *MemTableManager) rotateIfExpired(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	current := m.active.Load()
	if current.Len() > 0 && current.ShouldFlush() {
		m.logger.Debug("rotating memtable past its lifetime", zap.Duration("age", time.Since(current.CreatedAt())))
		m.rotate(current)
	}
}

// drain flushes queued snapshots oldest first. A failed flush stays queued and
// is retried at the limiter's pace; attempts > 0 bounds retries per snapshot.
// A snapshot that can never be written (see unwritable) is dropped so it cannot
// block the ones behind it; drain reports that error once the queue is empty.
func (m *MemTableManager) drain(ctx context.Context, attempts int) error {
	failures := 0
	var dropped error
	for {
		imm := m.oldest()
		if imm == nil {
			return dropped
		}
		if err := m.flush(imm); err != nil {
			if unwritable(err) {
				m.metrics.IncFlushFailure()
				m.logger.Error("dropping memtable that cannot be written as a table",
					zap.Int64("size", imm.Size()),
					zap.Int("entries", imm.Len()),
					zap.Error(err))
				m.dequeue()
				failures = 0
				dropped = errors.Join(dropped, err)
				continue
			}
			failures++
			m.metrics.IncFlushFailure()
			m.logger.Error("flush failed, keeping memtable queued",
				zap.Int("attempt", failures),
				zap.Int64("size", imm.Size()),
				zap.Error(err))
			if attempts > 0 && failures >= attempts {
				return err
			}
			if werr := m.retry.Wait(ctx); werr != nil {
				return err
			}
			continue
		}
		failures = 0
		m.dequeue()
		m.wal.UpdateCheckpoint()
	}
}

// unwritable reports whether a flush failed on the snapshot's contents rather
// than on the environment, so retrying cannot succeed.
func unwritable(err error) bool {
	return errors.Is(err, domain.ErrCorruption) || errors.Is(err, domain.ErrInvalidArgument)
}

func (m *MemTableManager) oldest() *ImmutableMemTable {
	m.queueMu.RLock()
	defer m.queueMu.RUnlock()
	v, ok := m.immutables.Peek()
	if !ok {
		return nil
	}
	return v.(*ImmutableMemTable)
}

func (m *MemTableManager) dequeue() {
	m.queueMu.Lock()
	m.immutables.Dequeue()
	depth := m.immutables.Size()
	m.queueMu.Unlock()
	m.metrics.SetQueueDepth(depth)
}

// flush writes imm to a new sorted table and makes it visible to reads.
func (m *MemTableManager) flush(imm *ImmutableMemTable) error {
	if m.tables == nil {
		return errors.New("no table set configured")
	}
	start := time.Now()
	id := m.tables.NextID()
	path := m.tables.PathFor(id)

	opts := append([]sstable.BuilderOption{sstable.WithBuilderLogger(m.logger)}, m.builderOpts...)
	b, err := sstable.NewBuilder(path, id, opts...)
	if err != nil {
		return err
	}
	if err := imm.FlushTo(b); err != nil {
		m.discard(b, path)
		return fmt.Errorf("write sstable %d: %w", id, err)
	}
	if _, err := b.Finish(); err != nil {
		m.discard(b, path)
		return fmt.Errorf("finish sstable %d: %w", id, err)
	}
	_ = b.Close()

	r, err := sstable.Open(path, sstable.WithReaderLogger(m.logger))
	if err != nil {
		m.discard(nil, path)
		return err
	}
	m.tables.Add(r)

	elapsed := time.Since(start)
	m.metrics.ObserveFlush(elapsed, r.Size())
	m.logger.Info("memtable flushed",
		zap.Int64("table", id),
		zap.Int64("records", r.Metadata().RecordCount),
		zap.Int64("bytes", r.Size()),
		zap.Duration("elapsed", elapsed))
	return nil
}

func (m *MemTableManager) discard(b *sstable.Builder, path string) {
	if b != nil {
		_ = b.Close()
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("remove partial sstable", zap.String("path", path), zap.Error(err))
	}
}

// Close stops the worker, flushes every queued snapshot and then the active
// memtable. Later calls return nil.
func (m *MemTableManager) Close() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	m.cancel()
	<-m.done

	var errs []error
	if err := m.drain(context.Background(), closeFlushAttempts); err != nil {
		err = fmt.Errorf("drain immutable memtables: %w", err)
		if !unwritable(err) {
			return err
		}
		errs = append(errs, err)
	}
	if current := m.active.Load(); current.Len() > 0 {
		m.rotate(current)
		if err := m.drain(context.Background(), closeFlushAttempts); err != nil {
			errs = append(errs, fmt.Errorf("flush active memtable: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	m.logger.Info("memtable manager closed")
	return nil
}
