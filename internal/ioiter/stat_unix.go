//go:build !windows

package ioiter

import (
	"os"
	"syscall"
)

// Owner returns the uid, gid, and mode of the underlying file.
func (it *IOIter) Owner() (uid, gid uint32, mode os.FileMode, err error) {
	st, err := it.Stat()
	if err != nil {
		return 0, 0, 0, err
	}
	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, st.Mode(), nil
	}
	return sys.Uid, sys.Gid, st.Mode(), nil
}
