//go:build !unix

package fslock

import (
	"fmt"
	"os"
)

// Acquire creates dir/LOCK exclusively. A crashed process leaves the file
// behind and it has to be removed by hand.
func Acquire(dir string) (*Lock, error) {
	f, err := os.OpenFile(lockPath(dir), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	return &Lock{file: f}, nil
}

func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	name := l.file.Name()
	err := l.file.Close()
	l.file = nil
	os.Remove(name)
	return err
}
