package repository

import (
	"DKV/internal/domain"
	"DKV/internal/platform/fslock"
	"DKV/internal/platform/logging"
	"DKV/internal/platform/repository/lsm_tree"
	"DKV/internal/platform/repository/lsm_tree/sstable"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var _ domain.DbEntryRepository = (*LSMTreeRepository)(nil)

// LSMTreeRepository is the storage engine behind the DbEntryRepository contract.
// It owns every component handed to it and releases them on Close.
type LSMTreeRepository struct {
	manager *lsm_tree.MemTableManager
	wal     *lsm_tree.WAL
	tables  *lsm_tree.TableSet
	lock    *fslock.Lock
	logger  *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func NewLSMTreeRepository(manager *lsm_tree.MemTableManager, wal *lsm_tree.WAL, tables *lsm_tree.TableSet,
	lock *fslock.Lock, logger *zap.Logger) *LSMTreeRepository {
	return &LSMTreeRepository{
		manager: manager,
		wal:     wal,
		tables:  tables,
		lock:    lock,
		logger:  logging.OrNop(logger).Named("repository"),
	}
}

func (r *LSMTreeRepository) Save(key, value []byte) error {
	return r.manager.Put(key, value)
}

func (r *LSMTreeRepository) Get(key []byte) ([]byte, bool, error) {
	return r.manager.Get(key)
}

func (r *LSMTreeRepository) Delete(key []byte) error {
	return r.manager.Delete(key)
}

func (r *LSMTreeRepository) Stats() lsm_tree.ManagerStats {
	return r.manager.Stats()
}

// Tables lists the sorted tables currently visible to reads, oldest first.
func (r *LSMTreeRepository) Tables() []sstable.Metadata {
	readers := r.tables.Tables()
	metas := make([]sstable.Metadata, len(readers))
	for i, t := range readers {
		metas[i] = t.Metadata()
	}
	return metas
}

// Close flushes everything still in memory, then releases the WAL, the tables
// and the directory lock in that order. Later calls return the first result.
func (r *LSMTreeRepository) Close() error {
	r.closeOnce.Do(func() {
		var errs []error
		if err := r.manager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close memtables: %w", err))
		}
		if err := r.wal.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := r.tables.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sstables: %w", err))
		}
		if err := r.lock.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release lock: %w", err))
		}
		r.closeErr = errors.Join(errs...)
		if r.closeErr != nil {
			r.logger.Error("repository closed with errors", zap.Error(r.closeErr))
		} else {
			r.logger.Info("repository closed")
		}
	})
	return r.closeErr
}
