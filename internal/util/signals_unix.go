//go:build !windows

package util

import (
	"os"
	"syscall"
)

func terminationSignalsUnix() []os.Signal {
	return []os.Signal{syscall.SIGTERM}
}
