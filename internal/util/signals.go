package util

import "os"

// TerminationSignals returns the signals a long-running unlock scope
// should treat as "stop and clean up". The portable baseline is just
// os.Interrupt; a //go:build !windows file in this package appends
// syscall.SIGTERM, which os/signal can't portably express on Windows.
func TerminationSignals() []os.Signal {
	return append([]os.Signal{os.Interrupt}, terminationSignalsUnix()...)
}
