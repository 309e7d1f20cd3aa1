package store

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/acrlabs/backuppy/internal/backuperrors"
	backupcrypto "github.com/acrlabs/backuppy/internal/crypto"
	diffcodec "github.com/acrlabs/backuppy/internal/diff"
	"github.com/acrlabs/backuppy/internal/ioiter"
	"github.com/acrlabs/backuppy/internal/manifest"
	"github.com/acrlabs/backuppy/internal/util"
)

// Engine is the backup store engine of spec §4.4: the per-file
// change-decision, the content-addressed save/load path, restore, and
// manifest rotation, wired together from a backend Driver, an open
// Manifest, and the crypto envelope.
//
// Grounded on original_source/backuppy/stores/backup_store.py's
// BackupStore class.
type Engine struct {
	Backend    Driver
	Manifest   *manifest.Manifest
	ScratchDir string
	Opts       backupcrypto.Options

	// DiscardDiffPercentage aborts a diff in favor of a full copy once the
	// diff exceeds this fraction of the original's size; 0 disables the
	// check.
	DiscardDiffPercentage float64
	// SkipDiffPatterns forces a write-copy instead of a write-diff for any
	// path matching one of these patterns.
	SkipDiffPatterns []*regexp.Regexp
	// MaxManifestVersions bounds how many manifest+key-pair generations
	// RotateManifests keeps; 0 or negative means unlimited.
	MaxManifestVersions int
}

// NewEngine builds an Engine around an already-open manifest and backend.
func NewEngine(backend Driver, mf *manifest.Manifest, scratchDir string, opts backupcrypto.Options) *Engine {
	return &Engine{Backend: backend, Manifest: mf, ScratchDir: scratchDir, Opts: opts}
}

// SaveIfNew implements the central decision procedure of spec §4.4: decide
// whether path needs a full copy, a diff against its current version, a
// metadata-only update, or nothing at all, and (unless dryRun) commit the
// result to the manifest.
func (e *Engine) SaveIfNew(ctx context.Context, path string, forceCopy, dryRun bool) error {
	curr, err := e.Manifest.GetEntry(path, nil)
	if err != nil {
		return fmt.Errorf("look up current entry for %s: %w", path, err)
	}

	src := ioiter.New(path)
	if err := src.Open(); err != nil {
		return err
	}
	defer src.Close()

	newSha, err := ioiter.ComputeSha(src)
	if err != nil {
		return err
	}

	var newEntry *manifest.Entry
	switch {
	case forceCopy || curr == nil || isTombstone(curr):
		newEntry, err = e.writeCopy(ctx, path, newSha, src, dryRun)

	case newSha != manifest.Sha(curr.State):
		if matchesAny(e.SkipDiffPatterns, path) {
			newEntry, err = e.writeCopy(ctx, path, newSha, src, dryRun)
		} else {
			newEntry, err = e.writeDiff(ctx, path, curr, newSha, src, dryRun)
		}

	default:
		uid, gid, mode, statErr := src.Owner()
		if statErr != nil {
			return statErr
		}
		if uid != curr.Uid || gid != curr.Gid || uint32(mode) != curr.Mode {
			newEntry = &manifest.Entry{
				AbsFileName: path,
				State:       curr.State,
				Uid:         uid,
				Gid:         gid,
				Mode:        uint32(mode),
			}
		}
		// else: content and metadata both unchanged, no-op.
	}
	if err != nil {
		return err
	}

	if newEntry != nil && !dryRun {
		return e.Manifest.InsertOrUpdate(newEntry)
	}
	return nil
}

// writeCopy implements spec §4.4's "write copy": dedup against any existing
// manifest row for the same SHA, or else generate a fresh key pair and (if
// not a dry run) save the plaintext under newSha.
func (e *Engine) writeCopy(ctx context.Context, path, newSha string, src *ioiter.IOIter, dryRun bool) (*manifest.Entry, error) {
	uid, gid, mode, err := src.Owner()
	if err != nil {
		return nil, err
	}

	state, err := e.dedupOrStore(ctx, newSha, src, dryRun, func(keyPair, tag []byte) manifest.FileState {
		return manifest.Copy{Sha: newSha, KeyPair: backupcrypto.ExtendKeyPair(keyPair, tag)}
	})
	if err != nil {
		return nil, err
	}

	return &manifest.Entry{AbsFileName: path, State: state, Uid: uid, Gid: gid, Mode: uint32(mode)}, nil
}

// writeDiff implements spec §4.4's "write diff": dedup first, then pick the
// base version (curr itself, or curr's own base if curr is already a diff),
// compute the diff into scratch, and fall back to a full copy if the diff
// turns out too large.
func (e *Engine) writeDiff(ctx context.Context, path string, curr *manifest.Entry, newSha string, newIter *ioiter.IOIter, dryRun bool) (*manifest.Entry, error) {
	uid, gid, mode, err := newIter.Owner()
	if err != nil {
		return nil, err
	}

	if dup, err := e.dedupEntry(newSha); err != nil {
		return nil, err
	} else if dup != nil {
		return &manifest.Entry{AbsFileName: path, State: dup.State, Uid: uid, Gid: gid, Mode: uint32(mode)}, nil
	}

	var baseSha string
	var baseKeyPair []byte
	switch st := curr.State.(type) {
	case manifest.Diff:
		baseSha, baseKeyPair = st.BaseSha, st.BaseKeyPair
	case manifest.Copy:
		baseSha, baseKeyPair = st.Sha, st.KeyPair
	default:
		return nil, fmt.Errorf("cannot diff %s against a deleted entry", path)
	}

	baseKey, baseTag, err := backupcrypto.SplitAuthenticatedKeyPair(baseKeyPair)
	if err != nil {
		return nil, err
	}

	baseIter := ioiter.New("")
	if err := baseIter.Open(); err != nil {
		return nil, err
	}
	defer baseIter.Close()
	if err := e.loadRaw(ctx, baseSha, baseIter, baseKey, baseTag); err != nil {
		return nil, err
	}
	// loadRaw's Writer left baseIter positioned at EOF; Compute reads orig
	// from the current position without resetting it.
	if err := baseIter.Rewind(); err != nil {
		return nil, err
	}

	diffIter := ioiter.New("")
	if err := diffIter.Open(); err != nil {
		return nil, err
	}
	defer diffIter.Close()

	if _, err := diffcodec.Compute(baseIter, newIter, diffIter, e.DiscardDiffPercentage); err != nil {
		var tooLarge *backuperrors.DiffTooLarge
		if errors.As(err, &tooLarge) {
			return e.writeCopy(ctx, path, newSha, newIter, dryRun)
		}
		return nil, err
	}

	keyPair, err := backupcrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	tag := make([]byte, sha256.Size)
	if !dryRun {
		tag, err = e.save(ctx, diffIter, newSha, keyPair)
		if err != nil {
			return nil, err
		}
	}

	return &manifest.Entry{
		AbsFileName: path,
		State: manifest.Diff{
			Sha:         newSha,
			KeyPair:     backupcrypto.ExtendKeyPair(keyPair, tag),
			BaseSha:     baseSha,
			BaseKeyPair: baseKeyPair,
		},
		Uid: uid, Gid: gid, Mode: uint32(mode),
	}, nil
}

// dedupOrStore is the save-time deduplication fast path shared by
// writeCopy and writeDiff's copy fallback: reuse an existing row's state
// for newSha if one exists, otherwise generate a fresh key pair and (if
// not a dry run) save src's contents under newSha, then build a state via
// build.
func (e *Engine) dedupOrStore(ctx context.Context, newSha string, src *ioiter.IOIter, dryRun bool, build func(keyPair, tag []byte) manifest.FileState) (manifest.FileState, error) {
	if dup, err := e.dedupEntry(newSha); err != nil {
		return nil, err
	} else if dup != nil {
		return dup.State, nil
	}

	keyPair, err := backupcrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	tag := make([]byte, sha256.Size)
	if !dryRun {
		tag, err = e.save(ctx, src, newSha, keyPair)
		if err != nil {
			return nil, err
		}
	}
	return build(keyPair, tag), nil
}

// dedupEntry returns an existing manifest row whose state's SHA is exactly
// sha (GetEntriesBySha is a prefix match), or nil if none exists.
func (e *Engine) dedupEntry(sha string) (*manifest.Entry, error) {
	candidates, err := e.Manifest.GetEntriesBySha(sha)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if manifest.Sha(c.State) == sha {
			return c, nil
		}
	}
	return nil, nil
}

// save compresses+encrypts src into a scratch staging file, hands it to the
// backend, and removes the staging file whether or not the upload
// succeeded — so a failed save never leaks onto local disk.
func (e *Engine) save(ctx context.Context, src *ioiter.IOIter, destSha string, keyPair []byte) ([]byte, error) {
	if err := os.MkdirAll(e.ScratchDir, 0o755); err != nil {
		return nil, err
	}
	stagingPath := filepath.Join(e.ScratchDir, destSha+".staging")

	staging := ioiter.New(stagingPath)
	if err := staging.Open(); err != nil {
		return nil, err
	}
	tag, err := backupcrypto.Seal(src, staging, keyPair, e.Opts)
	staging.Close()
	if err != nil {
		os.Remove(stagingPath)
		return nil, err
	}

	saveErr := e.Backend.Save(ctx, stagingPath, util.ShaToPath(destSha))
	os.Remove(stagingPath) // no-op if Save already moved it away (local driver)
	if saveErr != nil {
		return nil, saveErr
	}
	return tag, nil
}

// Load fetches srcSha's blob from the backend and decrypts+decompresses it
// into dest, verifying its HMAC tag against the one embedded in akp.
func (e *Engine) Load(ctx context.Context, srcSha string, dest *ioiter.IOIter, akp []byte) error {
	keyPair, tag, err := backupcrypto.SplitAuthenticatedKeyPair(akp)
	if err != nil {
		return err
	}
	return e.loadRaw(ctx, srcSha, dest, keyPair, tag)
}

func (e *Engine) loadRaw(ctx context.Context, srcSha string, dest *ioiter.IOIter, keyPair, tag []byte) error {
	anon := ioiter.New("")
	if err := anon.Open(); err != nil {
		return err
	}
	defer anon.Close()

	w, err := anon.Writer()
	if err != nil {
		return err
	}
	if err := e.Backend.Load(ctx, util.ShaToPath(srcSha), &writerAdapter{w: w}); err != nil {
		return err
	}
	return backupcrypto.Open(anon, dest, keyPair, tag, e.Opts)
}

// RestoreEntry reconstructs entry's contents into out, using orig and
// diffBuf as scratch handles for the base-blob/diff-blob legs of a
// diff-backed entry.
func (e *Engine) RestoreEntry(ctx context.Context, entry *manifest.Entry, orig, diffBuf, out *ioiter.IOIter) error {
	switch st := entry.State.(type) {
	case manifest.Diff:
		if err := e.Load(ctx, st.BaseSha, orig, st.BaseKeyPair); err != nil {
			return err
		}
		// Apply's copyOrigTo reads orig from its current position without
		// resetting it; Load's Writer left it at EOF.
		if err := orig.Rewind(); err != nil {
			return err
		}
		if err := e.Load(ctx, st.Sha, diffBuf, st.KeyPair); err != nil {
			return err
		}
		return diffcodec.Apply(orig, diffBuf, out)
	case manifest.Copy:
		return e.Load(ctx, st.Sha, out, st.KeyPair)
	default:
		return fmt.Errorf("cannot restore a deleted entry for %s", entry.AbsFileName)
	}
}

// RotateManifests lists all manifest.<ts> objects (newest-first, relying on
// the fixed-width-timestamp lexicographic-order resolution of spec design
// note 9) and deletes every version past MaxManifestVersions, along with
// its paired manifest-key object.
func (e *Engine) RotateManifests(ctx context.Context) error {
	if e.MaxManifestVersions <= 0 {
		return nil
	}

	names, err := e.Backend.Query(ctx, "manifest.")
	if err != nil {
		return err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if len(names) <= e.MaxManifestVersions {
		return nil
	}

	for _, name := range names[e.MaxManifestVersions:] {
		if err := e.Backend.Delete(ctx, name); err != nil {
			return err
		}
		ts := strings.TrimPrefix(name, "manifest.")
		if err := e.Backend.Delete(ctx, "manifest-key."+ts); err != nil {
			return err
		}
	}
	return nil
}

func isTombstone(e *manifest.Entry) bool {
	_, ok := e.State.(manifest.Deleted)
	return ok
}

func matchesAny(patterns []*regexp.Regexp, path string) bool {
	for _, p := range patterns {
		if p.MatchString(path) {
			return true
		}
	}
	return false
}

// writerAdapter adapts ioiter.Writer's error-only Write(block) method to
// the io.Writer shape Driver.Load expects.
type writerAdapter struct {
	w *ioiter.Writer
}

func (a *writerAdapter) Write(p []byte) (int, error) {
	if err := a.w.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
