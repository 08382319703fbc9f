package lsm_tree

import (
	. "DKV/internal/domain"
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultMemTableMaxSize     = 4 << 20
	DefaultMemTableMaxLifetime = 30 * time.Minute

	// accounted per key for the backing skiplist node
	nodeOverhead = 16
)

// ErrMemTableFrozen is returned by a mutation that reached a memtable after it
// was switched to immutable. The caller retries against the new active table.
var ErrMemTableFrozen = errors.New("memtable is immutable")

type MemTableConfig struct {
	MaxSize int64
	// MaxLifetime of zero disables the age check.
	MaxLifetime time.Duration
}

func DefaultMemTableConfig() MemTableConfig {
	return MemTableConfig{
		MaxSize:     DefaultMemTableMaxSize,
		MaxLifetime: DefaultMemTableMaxLifetime,
	}
}

// WalWriter receives every mutation before it is applied in memory.
type WalWriter interface {
	AppendPut(key, value []byte) error
	AppendDeletion(key []byte) error
}

type MemTable struct {
	// mutations hold mu shared; SwitchToImmutable holds it exclusively
	mu        sync.RWMutex
	frozen    bool
	skiplist  *SkipList
	wal       WalWriter
	config    MemTableConfig
	size      atomic.Int64
	createdAt time.Time
}

func NewMemTable(wal WalWriter, config MemTableConfig) *MemTable {
	return &MemTable{
		skiplist:  NewSkipList(defaultMaxLevel, defaultP),
		wal:       wal,
		config:    config,
		createdAt: time.Now(),
	}
}

// Put logs the mutation, applies it and reports whether the table should be flushed.
func (mt *MemTable) Put(key, value []byte) (bool, error) {
	if err := ValidateEntry(key, value); err != nil {
		return false, err
	}

	mt.mu.RLock()
	defer mt.mu.RUnlock()
	if mt.frozen {
		return false, ErrMemTableFrozen
	}

	if err := mt.wal.AppendPut(key, value); err != nil {
		return false, err
	}
	k, v := bytes.Clone(key), bytes.Clone(value)
	if old, replaced := mt.skiplist.Set(k, v); replaced {
		mt.size.Add(int64(len(v) - len(old)))
	} else {
		mt.size.Add(int64(len(k) + len(v) + nodeOverhead))
	}
	return mt.ShouldFlush(), nil
}

// Get returns a copy of the stored value.
func (mt *MemTable) Get(key []byte) ([]byte, bool) {
	v, ok := mt.skiplist.Get(key)
	if !ok {
		return nil, false
	}
	return bytes.Clone(v), true
}

// Delete logs the deletion and removes key. Removing an absent key only writes the log record.
func (mt *MemTable) Delete(key []byte) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}

	mt.mu.RLock()
	defer mt.mu.RUnlock()
	if mt.frozen {
		return false, ErrMemTableFrozen
	}

	if err := mt.wal.AppendDeletion(key); err != nil {
		return false, err
	}
	if old, removed := mt.skiplist.Remove(key); removed {
		mt.size.Add(-int64(len(key) + len(old) + nodeOverhead))
	}
	return mt.ShouldFlush(), nil
}

// Size is the approximate number of bytes held.
func (mt *MemTable) Size() int64 {
	return mt.size.Load()
}

func (mt *MemTable) Len() int {
	return mt.skiplist.Len()
}

func (mt *MemTable) CreatedAt() time.Time {
	return mt.createdAt
}

func (mt *MemTable) ShouldFlush() bool {
	if mt.size.Load() >= mt.config.MaxSize {
		return true
	}
	return mt.config.MaxLifetime > 0 && time.Since(mt.createdAt) > mt.config.MaxLifetime
}

// SwitchToImmutable waits for in-flight mutations, then hands the entries to
// an ImmutableMemTable. Later mutations fail with ErrMemTableFrozen.
func (mt *MemTable) SwitchToImmutable() *ImmutableMemTable {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.frozen = true
	return newImmutableMemTable(mt.skiplist, mt.size.Load(), mt.createdAt)
}
