// Package backuperrors defines the error kinds backuppy's components use to
// signal the outcomes described in spec §7: some are fatal and must never be
// auto-fixed, some are recoverable per-file skips, and one (DiffTooLarge) is
// a control-flow signal rather than a user-visible failure.
package backuperrors

import "fmt"

// BackupCorrupted signals an HMAC mismatch, an RSA signature mismatch, or a
// structurally impossible manifest state. Fatal: callers must abort the
// operation and never attempt to auto-fix it.
type BackupCorrupted struct {
	Reason string
	Err    error
}

func (e *BackupCorrupted) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backup corrupted: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("backup corrupted: %s", e.Reason)
}

func (e *BackupCorrupted) Unwrap() error { return e.Err }

// NewBackupCorrupted builds a BackupCorrupted error.
func NewBackupCorrupted(reason string, err error) *BackupCorrupted {
	return &BackupCorrupted{Reason: reason, Err: err}
}

// DiffParseError signals malformed diff bytes encountered during apply.
// Fatal for the single restore in progress; it is surfaced to the caller.
type DiffParseError struct {
	Reason string
}

func (e *DiffParseError) Error() string { return "diff parse error: " + e.Reason }

// NewDiffParseError builds a DiffParseError.
func NewDiffParseError(reason string) *DiffParseError { return &DiffParseError{Reason: reason} }

// DiffTooLarge is a control-flow signal from compute to caller: the computed
// diff exceeded the configured discard threshold and the caller should fall
// back to a full copy. It is never user-visible.
type DiffTooLarge struct {
	DiffBytes int64
	OrigBytes int64
}

func (e *DiffTooLarge) Error() string {
	return fmt.Sprintf("diff too large: %d bytes against a %d byte original", e.DiffBytes, e.OrigBytes)
}

// FileChanged signals the source file's mtime changed mid-read. Recoverable:
// the per-file save loop logs and skips this file; the backup continues.
type FileChanged struct {
	Path string
}

func (e *FileChanged) Error() string { return "file changed while reading: " + e.Path }

// ManifestLocked signals API misuse: access to the manifest outside an
// unlock scope. Programmer error.
type ManifestLocked struct{}

func (e *ManifestLocked) Error() string { return "the manifest is currently locked" }

// DoubleBuffer signals an IOIter handle opened twice. Programmer error.
type DoubleBuffer struct {
	Path string
}

func (e *DoubleBuffer) Error() string { return "buffer for " + e.Path + " is already open" }

// InputParseError signals bad user input (timestamp strings, etc).
type InputParseError struct {
	Input  string
	Reason string
}

func (e *InputParseError) Error() string {
	return fmt.Sprintf("could not parse %q: %s", e.Input, e.Reason)
}

// UnknownProtocol signals an unrecognized backend driver type, reported at
// startup.
type UnknownProtocol struct {
	Protocol string
}

func (e *UnknownProtocol) Error() string { return "unknown protocol: " + e.Protocol }

// NotFound signals a backend driver operation targeting an object that
// does not exist in the store (spec §6.3: "missing key is an error that
// bubbles up"). Permanent: retrying a driver call against a name that
// will never exist wastes time and delays the real failure, so
// retryingDriver treats this as non-retryable.
type NotFound struct {
	RemoteName string
	Err        error
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s: not found in store", e.RemoteName)
}

func (e *NotFound) Unwrap() error { return e.Err }
