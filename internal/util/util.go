// Package util collects small filesystem and path helpers shared across the
// backup store, manifest, and CLI layers.
package util

import (
	"crypto/rand"
	mathrand "math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
)

// ScratchDirName is the subdirectory created under the OS temp dir for the
// active unlock scope's working files.
const ScratchDirName = "backuppy"

// ScratchDir returns the process-local scratch directory path. It does not
// create the directory.
func ScratchDir() string {
	return filepath.Join(os.TempDir(), ScratchDirName)
}

// ShaToPath converts a hex SHA-256 digest into its sharded store-relative
// path: sha[0:2]/sha[2:4]/sha[4:].
func ShaToPath(sha string) string {
	if len(sha) < 4 {
		return sha
	}
	return filepath.Join(sha[0:2], sha[2:4], sha[4:])
}

// FileWalker walks path and yields every regular file and symlink beneath
// it, skipping anything matched by exclusions. Directory and file iteration
// order is shuffled at each level so a crash partway through a backup run
// doesn't always starve the same tail of files; build it with a non-nil
// seed for a reproducible order (tests), or nil to shuffle from process
// entropy.
type FileWalker struct {
	Exclusions []*regexp.Regexp
	OnError    func(path string, err error)
	rng        *mathrand.Rand
}

// NewFileWalker builds a FileWalker. If seed is non-nil, traversal order is
// deterministic for a given seed; otherwise it is reshuffled from runtime
// entropy on every call, matching the intent (not always the same visitation
// order) of the upstream implementation this is grounded on.
func NewFileWalker(exclusions []*regexp.Regexp, onError func(string, error), seed *uint64) *FileWalker {
	var src mathrand.Source
	if seed != nil {
		src = mathrand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15)
	} else {
		var s1, s2 [8]byte
		_, _ = rand.Read(s1[:])
		_, _ = rand.Read(s2[:])
		src = mathrand.NewPCG(leU64(s1[:]), leU64(s2[:]))
	}
	return &FileWalker{Exclusions: exclusions, OnError: onError, rng: mathrand.New(src)}
}

// Walk invokes fn for every non-excluded file under root, in shuffled order.
func (w *FileWalker) Walk(root string, fn func(absPath string) error) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if w.OnError != nil {
			w.OnError(root, err)
			return nil
		}
		return err
	}

	idx := w.rng.Perm(len(entries))
	for _, i := range idx {
		e := entries[i]
		abs := filepath.Join(root, e.Name())

		if e.IsDir() {
			if w.matches(abs + string(os.PathSeparator)) {
				continue
			}
			if err := w.Walk(abs, fn); err != nil {
				return err
			}
			continue
		}

		if w.matches(abs) {
			continue
		}
		if err := fn(abs); err != nil {
			return err
		}
	}
	return nil
}

func (w *FileWalker) matches(absPath string) bool {
	for _, excl := range w.Exclusions {
		if excl.MatchString(absPath) {
			return true
		}
	}
	return false
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
