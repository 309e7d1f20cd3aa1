package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	backupcrypto "github.com/acrlabs/backuppy/internal/crypto"
	"github.com/acrlabs/backuppy/internal/ioiter"
	"github.com/acrlabs/backuppy/internal/manifest"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	ctx := context.Background()

	sourceDir := t.TempDir()
	backendDir := filepath.Join(t.TempDir(), "backend")
	scratchDir := filepath.Join(t.TempDir(), "scratch")

	driver, err := NewLocalDriver(backendDir)
	require.NoError(t, err)

	mf, err := manifest.Open(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mf.Close() })

	eng := NewEngine(driver, mf, scratchDir, backupcrypto.DefaultOptions())
	_ = ctx
	return eng, sourceDir
}

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func countBlobs(t *testing.T, eng *Engine) int {
	t.Helper()
	names, err := eng.Backend.Query(context.Background(), "")
	require.NoError(t, err)
	n := 0
	for _, name := range names {
		if len(name) > 0 && name[0] != 'm' { // skip manifest.*/manifest-key.* if ever present
			n++
		}
	}
	return n
}

func TestSaveIfNew_InitialBackupWritesCopy(t *testing.T) {
	eng, dir := newTestEngine(t)
	ctx := context.Background()
	path := writeFile(t, dir, "foo", "asdf")

	require.NoError(t, eng.SaveIfNew(ctx, path, false, false))

	entry, err := eng.Manifest.GetEntry(path, nil)
	require.NoError(t, err)
	require.NotNil(t, entry)
	cp, ok := entry.State.(manifest.Copy)
	require.True(t, ok)
	require.NotEmpty(t, cp.Sha)
	require.Equal(t, 1, countBlobs(t, eng))
}

func TestSaveIfNew_Idempotent(t *testing.T) {
	eng, dir := newTestEngine(t)
	ctx := context.Background()
	path := writeFile(t, dir, "foo", "asdf")

	require.NoError(t, eng.SaveIfNew(ctx, path, false, false))
	require.NoError(t, eng.SaveIfNew(ctx, path, false, false))

	entries, err := eng.Manifest.GetEntriesBySha(shaOf(t, "asdf"))
	require.NoError(t, err)
	count := 0
	for _, e := range entries {
		if e.AbsFileName == path {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestSaveIfNew_ContentChangeBecomesDiff(t *testing.T) {
	eng, dir := newTestEngine(t)
	ctx := context.Background()
	path := writeFile(t, dir, "foo", "asdf")
	require.NoError(t, eng.SaveIfNew(ctx, path, false, false))

	writeFile(t, dir, "foo", "adz foobar")
	require.NoError(t, eng.SaveIfNew(ctx, path, false, false))

	entry, err := eng.Manifest.GetEntry(path, nil)
	require.NoError(t, err)
	diff, ok := entry.State.(manifest.Diff)
	require.True(t, ok, "expected a Diff state, got %T", entry.State)
	require.Equal(t, shaOf(t, "asdf"), diff.BaseSha)
	require.Equal(t, 2, countBlobs(t, eng))
}

func TestSaveIfNew_DeleteThenRecreateDedups(t *testing.T) {
	eng, dir := newTestEngine(t)
	ctx := context.Background()
	path := writeFile(t, dir, "foo", "asdf")
	require.NoError(t, eng.SaveIfNew(ctx, path, false, false))

	require.NoError(t, eng.Manifest.Delete(path))
	writeFile(t, dir, "foo", "asdf")
	require.NoError(t, eng.SaveIfNew(ctx, path, false, false))

	files, err := eng.Manifest.Files(nil)
	require.NoError(t, err)
	_, present := files[path]
	require.True(t, present)
	require.Equal(t, 1, countBlobs(t, eng), "recreating identical content must not upload a new blob")
}

func TestSaveIfNew_DiffTooLargeFallsBackToCopy(t *testing.T) {
	eng, dir := newTestEngine(t)
	eng.DiscardDiffPercentage = 0.5
	ctx := context.Background()

	path := writeFile(t, dir, "foo", "foo\n")
	require.NoError(t, eng.SaveIfNew(ctx, path, false, false))

	writeFile(t, dir, "foo", "adfoo blah blah blah blah blah")
	require.NoError(t, eng.SaveIfNew(ctx, path, false, false))

	entry, err := eng.Manifest.GetEntry(path, nil)
	require.NoError(t, err)
	_, isCopy := entry.State.(manifest.Copy)
	require.True(t, isCopy, "expected fallback to a full copy, got %T", entry.State)
	require.Equal(t, 2, countBlobs(t, eng))
}

func TestSaveIfNew_MetadataOnlyChangeReusesBlob(t *testing.T) {
	eng, dir := newTestEngine(t)
	ctx := context.Background()
	path := writeFile(t, dir, "foo", "asdf")
	require.NoError(t, eng.SaveIfNew(ctx, path, false, false))
	require.NoError(t, os.Chmod(path, 0o600))

	require.NoError(t, eng.SaveIfNew(ctx, path, false, false))

	require.Equal(t, 1, countBlobs(t, eng))
}

func TestRestoreEntry_RoundTripsCopyAndDiff(t *testing.T) {
	eng, dir := newTestEngine(t)
	ctx := context.Background()
	path := writeFile(t, dir, "foo", "asdf")
	require.NoError(t, eng.SaveIfNew(ctx, path, false, false))

	writeFile(t, dir, "foo", "adz foobar")
	require.NoError(t, eng.SaveIfNew(ctx, path, false, false))

	entry, err := eng.Manifest.GetEntry(path, nil)
	require.NoError(t, err)

	out := ioiter.New(filepath.Join(t.TempDir(), "restored"))
	require.NoError(t, out.Open())
	defer out.Close()
	orig := ioiter.New("")
	require.NoError(t, orig.Open())
	defer orig.Close()
	diffBuf := ioiter.New("")
	require.NoError(t, diffBuf.Open())
	defer diffBuf.Close()

	require.NoError(t, eng.RestoreEntry(ctx, entry, orig, diffBuf, out))

	contents, err := os.ReadFile(out.Filename)
	require.NoError(t, err)
	require.Equal(t, "adz foobar", string(contents))
}

func TestSaveIfNew_DryRunDoesNotCommit(t *testing.T) {
	eng, dir := newTestEngine(t)
	ctx := context.Background()
	path := writeFile(t, dir, "foo", "asdf")

	require.NoError(t, eng.SaveIfNew(ctx, path, false, true))

	entry, err := eng.Manifest.GetEntry(path, nil)
	require.NoError(t, err)
	require.Nil(t, entry)
	require.Equal(t, 0, countBlobs(t, eng))
}

func shaOf(t *testing.T, s string) string {
	t.Helper()
	src := ioiter.New("")
	require.NoError(t, src.Open())
	defer src.Close()
	w, err := src.Writer()
	require.NoError(t, err)
	require.NoError(t, w.Write([]byte(s)))
	sha, err := src.Sha()
	require.NoError(t, err)
	return sha
}
