package bootstrap

import (
	"DKV/internal/application/service"
	"DKV/internal/platform/config"
	"DKV/internal/platform/fslock"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(dir string) config.Config {
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.MemTableMaxSize = 1024
	cfg.BlockSize = 256
	cfg.FlushRetryInterval = 10 * time.Millisecond
	cfg.LogLevel = "error"
	return cfg
}

func TestOpen_CreatesLayout(t *testing.T) {
	dir := t.TempDir()
	engine, err := Open(testConfig(dir), Options{Logger: zaptest.NewLogger(t), Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	repo := engine.Repository

	for _, name := range []string{WalDirName, SstDirName, fslock.FileName} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	walFiles, err := os.ReadDir(filepath.Join(dir, WalDirName))
	require.NoError(t, err)
	require.Len(t, walFiles, 1)
	assert.True(t, strings.HasPrefix(walFiles[0].Name(), "wal-"))

	require.NoError(t, engine.SaveService.Execute(service.SaveEntryCommand{Key: []byte("k"), Value: []byte("v")}).Err)
	res := engine.GetService.Execute(service.GetEntryQuery{Key: []byte("k")})
	require.NoError(t, res.Err)
	assert.True(t, res.Found)
	assert.Equal(t, []byte("v"), res.Entry.Value())
	require.NoError(t, repo.Close())
}

func TestOpen_DirectoryInUse(t *testing.T) {
	dir := t.TempDir()
	engine, err := Open(testConfig(dir), Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer engine.Repository.Close()

	_, err = Open(testConfig(dir), Options{Logger: zaptest.NewLogger(t)})
	assert.ErrorIs(t, err, fslock.ErrLocked)
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.BloomBitsPerKey = 0
	_, err := Open(cfg, Options{})
	assert.ErrorContains(t, err, "bloom bits per key")
}

func TestRun_ListsAndVerifiesTables(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	engine, err := Open(cfg, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	repo := engine.Repository
	for i := 0; i < 200; i++ {
		require.NoError(t, repo.Save([]byte(fmt.Sprintf("key%04d", i)), []byte(fmt.Sprintf("value%04d", i))))
	}
	require.NoError(t, repo.Close())

	var out bytes.Buffer
	require.NoError(t, Run(cfg, true, &out))
	report := out.String()
	assert.Contains(t, report, "RECORDS")
	assert.Contains(t, report, "ok ")
	assert.NotContains(t, report, "FAIL")

	tables, err := os.ReadDir(filepath.Join(dir, SstDirName))
	require.NoError(t, err)
	assert.Contains(t, report, fmt.Sprintf("%d tables", len(tables)))
	assert.Equal(t, len(tables), strings.Count(report, "ok "))

	lock, err := fslock.Acquire(dir)
	require.NoError(t, err, "Run releases the directory")
	require.NoError(t, lock.Release())
}

func TestRun_RefusesLiveDirectory(t *testing.T) {
	dir := t.TempDir()
	engine, err := Open(testConfig(dir), Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer engine.Repository.Close()

	err = Run(testConfig(dir), false, &bytes.Buffer{})
	assert.ErrorIs(t, err, fslock.ErrLocked)
}
