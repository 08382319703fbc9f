package lsm_tree

import (
	. "DKV/internal/domain"
	"DKV/internal/platform/utils"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTempWal opens a WAL in a fresh directory and closes it at the end of the test.
func createTempWal(t *testing.T) *WAL {
	t.Helper()
	wal, err := NewWal(t.TempDir())
	if err != nil {
		t.Fatalf("error creating WAL: %v", err)
	}
	t.Cleanup(func() {
		wal.Close()
	})
	return wal
}

func TestNewWal(t *testing.T) {
	wal := createTempWal(t)
	if _, err := os.Stat(wal.Path()); os.IsNotExist(err) {
		t.Errorf("wal file was not created: %v", wal.Path())
	}
	assert.True(t, strings.HasPrefix(filepath.Base(wal.Path()), "wal-"))
	id, err := uuid.Parse(wal.Version())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.Equal(t, int64(0), wal.Position())
	assert.Equal(t, int64(0), wal.CheckpointPosition())
}

func TestWAL_AppendAndRecords(t *testing.T) {
	wal := createTempWal(t)

	require.NoError(t, wal.AppendPut([]byte("alpha"), []byte("1")))
	require.NoError(t, wal.AppendPut([]byte("beta"), []byte("2")))
	require.NoError(t, wal.AppendDeletion([]byte("alpha")))

	records, err := wal.Records()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, utils.RecordPut, records[0].Kind)
	assert.Equal(t, []byte("alpha"), records[0].Key)
	assert.Equal(t, []byte("1"), records[0].Value)
	assert.Equal(t, utils.RecordDelete, records[2].Kind)
	assert.Nil(t, records[2].Value)

	var size int64
	for _, rec := range records {
		size += int64(rec.EncodedSize())
	}
	assert.Equal(t, size, wal.Position())

	info, err := os.Stat(wal.Path())
	require.NoError(t, err)
	assert.Equal(t, size, info.Size())
}

func TestWAL_Checkpoint(t *testing.T) {
	wal := createTempWal(t)
	require.NoError(t, wal.AppendPut([]byte("k"), []byte("v")))

	wal.UpdateCheckpoint()
	assert.Equal(t, wal.Position(), wal.CheckpointPosition())

	require.NoError(t, wal.AppendPut([]byte("k2"), []byte("v2")))
	assert.Less(t, wal.CheckpointPosition(), wal.Position(), "checkpoint only moves on UpdateCheckpoint")
}

func TestWAL_AppendAfterClose(t *testing.T) {
	wal := createTempWal(t)
	require.NoError(t, wal.Close())
	require.NoError(t, wal.Close())

	err := wal.AppendPut([]byte("k"), []byte("v"))
	assert.ErrorIs(t, err, ErrDurability)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = wal.Records()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenWal(t *testing.T) {
	wal := createTempWal(t)
	require.NoError(t, wal.AppendPut([]byte("one"), []byte("1")))
	first := wal.Position()
	require.NoError(t, wal.Close())

	reopened, err := OpenWal(wal.Path())
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, first, reopened.Position())
	assert.Equal(t, wal.Version(), reopened.Version())

	require.NoError(t, reopened.AppendPut([]byte("two"), []byte("2")))
	records, err := reopened.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []byte("one"), records[0].Key)
	assert.Equal(t, []byte("two"), records[1].Key)

	_, err = OpenWal(filepath.Join(t.TempDir(), "missing.log"))
	assert.ErrorIs(t, err, ErrIO)
}

func TestWAL_ConcurrentAppends(t *testing.T) {
	wal := createTempWal(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := []byte(fmt.Sprintf("w%d-k%d", w, i))
				if err := wal.AppendPut(key, key); err != nil {
					t.Errorf("append failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	records, err := wal.Records()
	require.NoError(t, err, "records must not interleave")
	require.Len(t, records, 400)
	for _, rec := range records {
		assert.Equal(t, rec.Key, rec.Value)
	}
}
