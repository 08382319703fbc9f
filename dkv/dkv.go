// Package dkv is an embedded, durable key-value store built on a
// log-structured merge tree.
//
//	db, err := dkv.Open("/var/lib/app", dkv.WithMemTableMaxSize(8<<20))
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	err = db.Put([]byte("user:42"), []byte("alice"))
//	v, err := db.Get([]byte("user:42"))
//
// Every write is synced to a write-ahead log before it returns. A directory
// can be opened by one DB at a time.
package dkv

import (
	"DKV/bootstrap"
	"DKV/internal/application/service"
	"DKV/internal/domain"
	"DKV/internal/platform/config"
	"DKV/internal/platform/repository/lsm_tree"

	"go.uber.org/zap"
)

var (
	ErrNotFound        = domain.ErrNotFound
	ErrInvalidArgument = domain.ErrInvalidArgument
	ErrDurability      = domain.ErrDurability
	ErrCorruption      = domain.ErrCorruption
	ErrClosed          = domain.ErrClosed
	ErrKeyTooLarge     = domain.ErrKeyTooLarge
)

// MaxKeySize is the longest key Put and Delete accept.
const MaxKeySize = domain.MaxKeySize

type DB struct {
	engine bootstrap.Engine
}

type Stats = lsm_tree.ManagerStats

// Open opens or creates the store in dir.
func Open(dir string, opts ...Option) (*DB, error) {
	defaults := config.Default()
	s := settings{
		memTableMaxSize:     defaults.MemTableMaxSize,
		memTableMaxLifetime: defaults.MemTableMaxLifetime,
		blockSize:           defaults.BlockSize,
		bloomBitsPerKey:     defaults.BloomBitsPerKey,
		flushRetryInterval:  defaults.FlushRetryInterval,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	cfg := defaults
	cfg.DataDir = dir
	cfg.MemTableMaxSize = s.memTableMaxSize
	cfg.MemTableMaxLifetime = s.memTableMaxLifetime
	cfg.BlockSize = s.blockSize
	cfg.BloomBitsPerKey = s.bloomBitsPerKey
	cfg.FlushRetryInterval = s.flushRetryInterval

	engine, err := bootstrap.Open(cfg, bootstrap.Options{Logger: s.logger, Registerer: s.registerer})
	if err != nil {
		return nil, err
	}
	return &DB{engine: engine}, nil
}

// Put stores value under key. Keys must be non-empty; values may be empty but not nil.
func (db *DB) Put(key, value []byte) error {
	return db.engine.SaveService.Execute(service.SaveEntryCommand{Key: key, Value: value}).Err
}

// Get returns the value stored under key, or ErrNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	res := db.engine.GetService.Execute(service.GetEntryQuery{Key: key})
	if res.Err != nil {
		return nil, res.Err
	}
	if !res.Found {
		return nil, ErrNotFound
	}
	return res.Entry.Value(), nil
}

// Delete removes key from memory. A value for key that was already flushed
// to disk becomes visible again.
func (db *DB) Delete(key []byte) error {
	return db.engine.DeleteService.Execute(service.DeleteEntryCommand{Key: key}).Err
}

func (db *DB) Stats() Stats {
	return db.engine.Repository.Stats()
}

// Close flushes everything held in memory and releases the directory.
func (db *DB) Close() error {
	return db.engine.Repository.Close()
}
