package domain

import (
	"bytes"
	"fmt"
)

type DbEntry struct {
	key   []byte
	value []byte
}

func NewDbEntry(key, value []byte) DbEntry {
	return DbEntry{
		key:   key,
		value: value,
	}
}

func (entry *DbEntry) Copy() DbEntry {
	return DbEntry{
		key:   bytes.Clone(entry.key),
		value: bytes.Clone(entry.value),
	}
}

func (entry *DbEntry) Key() []byte {
	return entry.key
}

func (entry *DbEntry) Value() []byte {
	return entry.value
}

// CompareKeys orders keys as unsigned byte strings; a proper prefix sorts first.
func CompareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}

// MaxKeySize bounds keys so that a table's smallest and largest key both fit
// in its fixed-size footer.
const MaxKeySize = 206

// ValidateKey rejects keys the engine cannot store.
// Empty keys are reserved: a zero-length min key in the block index means "unknown".
func ValidateKey(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > MaxKeySize {
		return fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(key))
	}
	return nil
}

// ValidateEntry rejects keys and values the engine cannot store.
func ValidateEntry(key, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if value == nil {
		return ErrNilValue
	}
	return nil
}

type DbEntryRepository interface {
	Save(key, value []byte) error
	Get(key []byte) ([]byte, bool, error)
	Delete(key []byte) error
	Close() error
}
