//go:build windows

package util

import "os"

func terminationSignalsUnix() []os.Signal {
	return nil
}
