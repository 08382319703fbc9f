package bootstrap

import (
	"DKV/internal/application/service"
	"DKV/internal/domain"
	"DKV/internal/platform/config"
	"DKV/internal/platform/fslock"
	"DKV/internal/platform/logging"
	"DKV/internal/platform/metrics"
	"DKV/internal/platform/repository"
	"DKV/internal/platform/repository/lsm_tree"
	"DKV/internal/platform/repository/lsm_tree/bloom"
	"DKV/internal/platform/repository/lsm_tree/sstable"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

const (
	WalDirName = "wal"
	SstDirName = "sst"
)

// Options carries what an embedding program hands in directly instead of
// through configuration.
type Options struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// Layout is a locked data directory with its wal/ and sst/ subdirectories.
type Layout struct {
	Root   string
	WalDir string
	SstDir string
	Lock   *fslock.Lock
}

// Engine is everything Open hands back. Closing the Repository releases the
// whole engine.
type Engine struct {
	dig.In

	Repository    *repository.LSMTreeRepository
	SaveService   *service.SaveEntryService
	GetService    *service.GetEntryService
	DeleteService *service.DeleteEntryService
}

// closers releases whatever the container managed to build when a later
// constructor fails.
type closers struct {
	fns []func() error
}

func (c *closers) add(fn func() error) {
	c.fns = append(c.fns, fn)
}

func (c *closers) closeAll() error {
	var errs []error
	for i := len(c.fns) - 1; i >= 0; i-- {
		errs = append(errs, c.fns[i]())
	}
	c.fns = nil
	return errors.Join(errs...)
}

func NewContainer(cfg config.Config, opts Options) (*dig.Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	container := dig.New()
	constructors := []interface{}{
		func() config.Config { return cfg },
		func() Options { return opts },
		func() *closers { return &closers{} },
		newLogger,
		newMetrics,
		newLayout,
		func(l *Layout) *fslock.Lock { return l.Lock },
		newWal,
		newTableSet,
		newManager,
		repository.NewLSMTreeRepository,
		func(r *repository.LSMTreeRepository) domain.DbEntryRepository { return r },
		service.NewSaveEntryService,
		service.NewGetEntryService,
		service.NewDeleteEntryService,
	}
	for _, constructor := range constructors {
		if err := container.Provide(constructor); err != nil {
			return nil, err
		}
	}
	return container, nil
}

// Open builds the storage engine for cfg. The caller owns the returned
// repository and must Close it.
func Open(cfg config.Config, opts Options) (Engine, error) {
	container, err := NewContainer(cfg, opts)
	if err != nil {
		return Engine{}, err
	}
	var engine Engine
	err = container.Invoke(func(e Engine) {
		engine = e
	})
	if err != nil {
		release(container)
		return Engine{}, dig.RootCause(err)
	}
	return engine, nil
}

func release(container *dig.Container) {
	_ = container.Invoke(func(c *closers, logger *zap.Logger) {
		if err := c.closeAll(); err != nil {
			logger.Warn("release after failed open", zap.Error(err))
		}
	})
}

func newLogger(cfg config.Config, opts Options) (*zap.Logger, error) {
	if opts.Logger != nil {
		return opts.Logger, nil
	}
	return logging.New(cfg.LogLevel, cfg.LogFormat)
}

func newMetrics(opts Options) (*metrics.Metrics, error) {
	m, err := metrics.New(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return m, nil
}

func newLayout(cfg config.Config, logger *zap.Logger, c *closers) (*Layout, error) {
	l := &Layout{
		Root:   cfg.DataDir,
		WalDir: filepath.Join(cfg.DataDir, WalDirName),
		SstDir: filepath.Join(cfg.DataDir, SstDirName),
	}
	for _, dir := range []string{l.WalDir, l.SstDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	lock, err := fslock.Acquire(l.Root)
	if err != nil {
		return nil, err
	}
	c.add(lock.Release)
	l.Lock = lock
	logger.Info("data directory locked", zap.String("dir", l.Root))
	return l, nil
}

func newWal(l *Layout, logger *zap.Logger, c *closers) (*lsm_tree.WAL, error) {
	wal, err := lsm_tree.NewWal(l.WalDir, lsm_tree.WithWalLogger(logger))
	if err != nil {
		return nil, err
	}
	c.add(wal.Close)
	return wal, nil
}

func newTableSet(l *Layout, logger *zap.Logger, m *metrics.Metrics, c *closers) (*lsm_tree.TableSet, error) {
	tables, err := lsm_tree.LoadTableSet(l.SstDir,
		lsm_tree.WithTableSetLogger(logger),
		lsm_tree.WithTableSetMetrics(m))
	if err != nil {
		return nil, err
	}
	c.add(tables.Close)
	return tables, nil
}

func newManager(cfg config.Config, wal *lsm_tree.WAL, tables *lsm_tree.TableSet, logger *zap.Logger,
	m *metrics.Metrics, c *closers) (*lsm_tree.MemTableManager, error) {
	policy, err := bloom.NewPolicy(cfg.BloomBitsPerKey)
	if err != nil {
		return nil, err
	}
	manager := lsm_tree.NewMemTableManager(
		lsm_tree.MemTableConfig{MaxSize: cfg.MemTableMaxSize, MaxLifetime: cfg.MemTableMaxLifetime},
		wal, tables,
		lsm_tree.WithManagerLogger(logger),
		lsm_tree.WithManagerMetrics(m),
		lsm_tree.WithFlushRetryInterval(cfg.FlushRetryInterval),
		lsm_tree.WithBuilderOptions(
			sstable.WithBlockSize(cfg.BlockSize),
			sstable.WithBloomPolicy(policy),
		),
	)
	c.add(manager.Close)
	return manager, nil
}
