package lsm_tree

import (
	"bytes"
	"time"
)

// TableWriter consumes entries in ascending key order.
type TableWriter interface {
	Add(key, value []byte) error
}

// ImmutableMemTable is a read-only snapshot waiting to be flushed.
type ImmutableMemTable struct {
	entries   *SkipList
	size      int64
	createdAt time.Time
	frozenAt  time.Time
}

func newImmutableMemTable(entries *SkipList, size int64, createdAt time.Time) *ImmutableMemTable {
	return &ImmutableMemTable{
		entries:   entries,
		size:      size,
		createdAt: createdAt,
		frozenAt:  time.Now(),
	}
}

func (imm *ImmutableMemTable) Get(key []byte) ([]byte, bool) {
	v, ok := imm.entries.Get(key)
	if !ok {
		return nil, false
	}
	return bytes.Clone(v), true
}

func (imm *ImmutableMemTable) Size() int64 {
	return imm.size
}

func (imm *ImmutableMemTable) Len() int {
	return imm.entries.Len()
}

func (imm *ImmutableMemTable) FrozenAt() time.Time {
	return imm.frozenAt
}

// FlushTo writes every entry to w in ascending key order.
func (imm *ImmutableMemTable) FlushTo(w TableWriter) error {
	return imm.entries.Each(w.Add)
}
