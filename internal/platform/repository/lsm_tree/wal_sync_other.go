//go:build !linux

package lsm_tree

import "os"

func datasync(f *os.File) error {
	return f.Sync()
}
