// Package fslock guards a data directory against a second process opening it.
package fslock

import (
	"errors"
	"os"
	"path/filepath"
)

const FileName = "LOCK"

var ErrLocked = errors.New("directory already in use by another process")

// Lock holds an exclusive lock on a directory until Release.
type Lock struct {
	file *os.File
}

func (l *Lock) Path() string {
	return l.file.Name()
}

func lockPath(dir string) string {
	return filepath.Join(dir, FileName)
}
