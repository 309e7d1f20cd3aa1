//go:build windows

package ioiter

import "os"

// Owner returns a fixed uid/gid on Windows, which has no POSIX ownership
// model; mode is still reported from the Go stat info.
func (it *IOIter) Owner() (uid, gid uint32, mode os.FileMode, err error) {
	st, err := it.Stat()
	if err != nil {
		return 0, 0, 0, err
	}
	return 0, 0, st.Mode(), nil
}
