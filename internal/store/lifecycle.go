package store

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	backupcrypto "github.com/acrlabs/backuppy/internal/crypto"
	"github.com/acrlabs/backuppy/internal/ioiter"
	"github.com/acrlabs/backuppy/internal/manifest"
	"github.com/acrlabs/backuppy/internal/util"
)

var log = logrus.WithField("component", "store")

const (
	manifestPrefix    = "manifest."
	manifestKeyPrefix = "manifest-key."
)

// Lifecycle owns the long-lived pieces of a backup set's store — the
// backend driver, the owner's RSA key pair, and the crypto/versioning
// policy — and mints one UnlockedStore per unlock scope (spec §4.5).
//
// Grounded on original_source/backuppy/manifest.py's ManifestManager
// context manager.
type Lifecycle struct {
	Backend             Driver
	PrivateKey          *rsa.PrivateKey
	PublicKey           *rsa.PublicKey
	Opts                backupcrypto.Options
	MaxManifestVersions int
	PreserveScratch     bool

	// Engine tuning, copied onto every UnlockedStore's Engine.
	DiscardDiffPercentage float64
	SkipDiffPatterns      []*regexp.Regexp

	mu       sync.Mutex
	unlocked *UnlockedStore // design note 9: explicit ownership, not a process-global
}

// UnlockedStore is the live, writable handle an unlock scope hands to its
// caller: a Manifest and Engine backed by a scratch directory, plus the
// key pair that must be re-wrapped and re-uploaded on a changed lock.
type UnlockedStore struct {
	lc         *Lifecycle
	Manifest   *manifest.Manifest
	Engine     *Engine
	scratchDir string
	dryRun     bool

	sigCh     chan os.Signal
	closeOnce sync.Once
	closeErr  error
}

// Unlock fetches (or creates) the newest manifest generation into a fresh
// scratch directory, registers SIGINT/SIGTERM handling so an interrupted
// run still locks and uploads, and returns a live UnlockedStore. The
// caller must call Close (directly, or via the signal handler); calls
// after the first are no-ops.
func (lc *Lifecycle) Unlock(ctx context.Context, dryRun bool) (*UnlockedStore, error) {
	lc.mu.Lock()
	if lc.unlocked != nil {
		lc.mu.Unlock()
		return nil, fmt.Errorf("store already unlocked by this process")
	}
	lc.mu.Unlock()

	scratchDir := filepath.Join(util.ScratchDir(), uuid.NewString())
	if err := os.RemoveAll(scratchDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, err
	}

	names, err := lc.Backend.Query(ctx, manifestPrefix)
	if err != nil {
		os.RemoveAll(scratchDir)
		return nil, fmt.Errorf("list manifest generations: %w", err)
	}

	dbPath := filepath.Join(scratchDir, "manifest.db")
	u := &UnlockedStore{lc: lc, scratchDir: scratchDir, dryRun: dryRun}

	if len(names) == 0 {
		log.Warn("no manifest found at this store location; treating it as new (if this is unexpected, the store may have been tampered with)")
		mf, err := manifest.Open(dbPath)
		if err != nil {
			os.RemoveAll(scratchDir)
			return nil, err
		}
		u.Manifest = mf
	} else {
		sort.Strings(names)
		newest := names[len(names)-1]
		ts := strings.TrimPrefix(newest, manifestPrefix)

		akp, err := lc.fetchKeyPair(ctx, ts)
		if err != nil {
			os.RemoveAll(scratchDir)
			return nil, err
		}

		if err := lc.fetchManifestDB(ctx, newest, akp, dbPath); err != nil {
			os.RemoveAll(scratchDir)
			return nil, err
		}
		mf, err := manifest.Open(dbPath)
		if err != nil {
			os.RemoveAll(scratchDir)
			return nil, err
		}
		u.Manifest = mf
	}

	u.Engine = &Engine{
		Backend:               lc.Backend,
		Manifest:              u.Manifest,
		ScratchDir:            scratchDir,
		Opts:                  lc.Opts,
		MaxManifestVersions:   lc.MaxManifestVersions,
		DiscardDiffPercentage: lc.DiscardDiffPercentage,
		SkipDiffPatterns:      lc.SkipDiffPatterns,
	}

	lc.mu.Lock()
	lc.unlocked = u
	lc.mu.Unlock()

	u.sigCh = make(chan os.Signal, 1)
	signal.Notify(u.sigCh, util.TerminationSignals()...)
	go func() {
		if _, ok := <-u.sigCh; !ok {
			return
		}
		signal.Stop(u.sigCh) // re-mask: a second press falls through to the OS default
		log.Warn("received termination signal, locking store before exit")
		if err := u.Close(context.Background()); err != nil {
			log.WithError(err).Error("cleanup on signal failed")
			os.Exit(1)
		}
		os.Exit(1)
	}()

	return u, nil
}

func (lc *Lifecycle) fetchKeyPair(ctx context.Context, ts string) ([]byte, error) {
	buf := ioiter.New("")
	if err := buf.Open(); err != nil {
		return nil, err
	}
	defer buf.Close()
	w, err := buf.Writer()
	if err != nil {
		return nil, err
	}
	if err := lc.Backend.Load(ctx, manifestKeyPrefix+ts, &writerAdapter{w: w}); err != nil {
		return nil, fmt.Errorf("fetch wrapped key pair for generation %s: %w", ts, err)
	}
	if err := buf.Rewind(); err != nil {
		return nil, err
	}

	keySize := lc.PublicKey.Size()
	wrapped := make([]byte, 2*keySize)
	r, err := buf.Reader(int64(2*keySize), false)
	if err != nil {
		return nil, err
	}
	n := 0
	for {
		block, ok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		n += copy(wrapped[n:], block)
	}
	if n != 2*keySize {
		return nil, fmt.Errorf("wrapped key pair for generation %s is %d bytes, want %d", ts, n, 2*keySize)
	}

	return backupcrypto.UnwrapKeyPair(lc.PublicKey, lc.PrivateKey, wrapped[:keySize], wrapped[keySize:])
}

func (lc *Lifecycle) fetchManifestDB(ctx context.Context, name string, akp []byte, destPath string) error {
	cipher := ioiter.New("")
	if err := cipher.Open(); err != nil {
		return err
	}
	defer cipher.Close()

	w, err := cipher.Writer()
	if err != nil {
		return err
	}
	if err := lc.Backend.Load(ctx, name, &writerAdapter{w: w}); err != nil {
		return fmt.Errorf("fetch manifest %s: %w", name, err)
	}
	if err := cipher.Rewind(); err != nil {
		return err
	}

	keyPair, tag, err := backupcrypto.SplitAuthenticatedKeyPair(akp)
	if err != nil {
		return err
	}

	dest := ioiter.New(destPath)
	if err := dest.Open(); err != nil {
		return err
	}
	defer dest.Close()

	return backupcrypto.Open(cipher, dest, keyPair, tag, lc.Opts)
}

// Close is the lock() half of the unlock scope (spec §4.5 step 7): if the
// manifest is unchanged, skip the upload; otherwise seal a fresh manifest
// generation, wrap a fresh key pair for it, upload both, rotate old
// generations, and finally remove scratch. Idempotent: a second Close call
// after the first is a no-op and returns the first call's result.
func (u *UnlockedStore) Close(ctx context.Context) error {
	u.closeOnce.Do(func() {
		u.closeErr = u.close(ctx)
	})
	return u.closeErr
}

func (u *UnlockedStore) close(ctx context.Context) error {
	defer func() {
		signal.Stop(u.sigCh)
		close(u.sigCh)

		u.lc.mu.Lock()
		u.lc.unlocked = nil
		u.lc.mu.Unlock()

		if u.Manifest != nil {
			u.Manifest.Close()
		}
		if !u.lc.PreserveScratch {
			os.RemoveAll(u.scratchDir)
		}
	}()

	if u.Manifest == nil || !u.Manifest.Changed || u.dryRun {
		return nil
	}

	ts := formatTimestamp(time.Now())

	keyPair, err := backupcrypto.GenerateKeyPair()
	if err != nil {
		return err
	}

	dbPath := filepath.Join(u.scratchDir, "manifest.db")
	src := ioiter.New(dbPath)
	if err := src.Open(); err != nil {
		return err
	}
	src.CheckMtime = false // the manifest DB file is actively being written to
	defer src.Close()

	cipherPath := filepath.Join(u.scratchDir, "manifest."+ts+".staging")
	cipher := ioiter.New(cipherPath)
	if err := cipher.Open(); err != nil {
		return err
	}
	tag, err := backupcrypto.Seal(src, cipher, keyPair, u.lc.Opts)
	cipher.Close()
	if err != nil {
		os.Remove(cipherPath)
		return err
	}

	manifestName := manifestPrefix + ts
	saveErr := u.lc.Backend.Save(ctx, cipherPath, manifestName)
	os.Remove(cipherPath)
	if saveErr != nil {
		return fmt.Errorf("upload manifest generation %s: %w", ts, saveErr)
	}

	akp := backupcrypto.ExtendKeyPair(keyPair, tag)
	ciphertext, signature, err := backupcrypto.WrapKeyPair(u.lc.PublicKey, u.lc.PrivateKey, akp)
	if err != nil {
		return err
	}
	wrapped := append(append([]byte{}, ciphertext...), signature...)

	keyPath := filepath.Join(u.scratchDir, "manifest-key."+ts+".staging")
	if err := os.WriteFile(keyPath, wrapped, 0o600); err != nil {
		return err
	}
	keyName := manifestKeyPrefix + ts
	saveErr = u.lc.Backend.Save(ctx, keyPath, keyName)
	os.Remove(keyPath)
	if saveErr != nil {
		return fmt.Errorf("upload wrapped key pair %s: %w", ts, saveErr)
	}

	return u.Engine.RotateManifests(ctx)
}

// formatTimestamp renders t as a fixed-width, millisecond-granularity
// decimal Unix timestamp, so that lexicographic and chronological
// ordering of manifest.<ts> object names always agree (spec §9's noted
// ambiguity, resolved per SPEC_FULL.md's open-question resolution 2).
func formatTimestamp(t time.Time) string {
	return fmt.Sprintf("%013d", t.UnixMilli())
}
