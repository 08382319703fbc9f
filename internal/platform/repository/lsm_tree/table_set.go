package lsm_tree

import (
	"DKV/internal/domain"
	"DKV/internal/platform/logging"
	"DKV/internal/platform/metrics"
	"DKV/internal/platform/repository/lsm_tree/sstable"
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	tablePrefix = "sst_"
	tableSuffix = ".sst"
)

type TableSetOption func(*TableSet)

func WithTableSetLogger(logger *zap.Logger) TableSetOption {
	return func(ts *TableSet) { ts.logger = logging.OrNop(logger) }
}

func WithTableSetMetrics(m *metrics.Metrics) TableSetOption {
	return func(ts *TableSet) { ts.metrics = m }
}

// TableSet holds the open sorted tables of one directory, ordered by id.
// Lookups visit the newest table first.
type TableSet struct {
	mu      sync.RWMutex
	dir     string
	tables  []*sstable.Reader
	lastID  atomic.Int64
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// LoadTableSet opens every table file in dir. Files that fail validation are
// skipped with a warning; I/O errors abort the load.
func LoadTableSet(dir string, opts ...TableSetOption) (*TableSet, error) {
	ts := &TableSet{dir: dir, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(ts)
	}
	ts.logger = ts.logger.Named("tables")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list sstables: %w", domain.ErrIO, err)
	}
	var paths []string
	for _, e := range entries {
		if _, ok := parseTableID(e.Name()); ok && !e.IsDir() {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}

	readers := make([]*sstable.Reader, len(paths))
	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		g.Go(func() error {
			r, err := sstable.Open(path, sstable.WithReaderLogger(ts.logger))
			if errors.Is(err, domain.ErrCorruption) {
				ts.logger.Warn("skipping unreadable sstable", zap.String("path", path), zap.Error(err))
				return nil
			}
			readers[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range readers {
			if r != nil {
				r.Close()
			}
		}
		return nil, err
	}

	for i, r := range readers {
		if r == nil {
			continue
		}
		// the file name wins if it disagrees with the footer
		if id, _ := parseTableID(filepath.Base(paths[i])); id != r.ID() {
			ts.logger.Warn("sstable id mismatch", zap.String("path", paths[i]), zap.Int64("footer_id", r.ID()))
		}
		ts.tables = append(ts.tables, r)
	}
	slices.SortFunc(ts.tables, func(a, b *sstable.Reader) int {
		ida, _ := parseTableID(filepath.Base(a.Path()))
		idb, _ := parseTableID(filepath.Base(b.Path()))
		return cmp.Compare(ida, idb)
	})
	for _, path := range paths {
		if id, _ := parseTableID(filepath.Base(path)); id > ts.lastID.Load() {
			ts.lastID.Store(id)
		}
	}
	ts.metrics.SetTables(len(ts.tables))
	ts.logger.Info("sstables loaded", zap.Int("count", len(ts.tables)), zap.Int64("last_id", ts.lastID.Load()))
	return ts, nil
}

func parseTableID(name string) (int64, bool) {
	if !strings.HasPrefix(name, tablePrefix) || !strings.HasSuffix(name, tableSuffix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, tablePrefix), tableSuffix), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// NextID reserves a table id greater than any id seen in this directory.
func (ts *TableSet) NextID() int64 {
	return ts.lastID.Add(1)
}

func (ts *TableSet) PathFor(id int64) string {
	return filepath.Join(ts.dir, fmt.Sprintf("%s%020d%s", tablePrefix, id, tableSuffix))
}

func (ts *TableSet) Dir() string {
	return ts.dir
}

// Add makes r visible to lookups as the newest table.
func (ts *TableSet) Add(r *sstable.Reader) {
	ts.mu.Lock()
	ts.tables = append(ts.tables, r)
	n := len(ts.tables)
	ts.mu.Unlock()
	ts.metrics.SetTables(n)
}

func (ts *TableSet) Len() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.tables)
}

// Tables returns the open tables, oldest first.
func (ts *TableSet) Tables() []*sstable.Reader {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return slices.Clone(ts.tables)
}

// Get returns the value from the newest table holding key.
func (ts *TableSet) Get(key []byte) ([]byte, bool, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	for i := len(ts.tables) - 1; i >= 0; i-- {
		r := ts.tables[i]
		if !r.MayContain(key) {
			ts.metrics.IncBloomSkip()
			continue
		}
		v, ok, err := r.Get(key)
		if err != nil {
			return nil, false, fmt.Errorf("sstable %d: %w", r.ID(), err)
		}
		if ok {
			return v, true, nil
		}
	}
	return nil, false, nil
}

func (ts *TableSet) Close() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	var errs []error
	for _, r := range ts.tables {
		errs = append(errs, r.Close())
	}
	ts.tables = nil
	return errors.Join(errs...)
}
