package backupset

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acrlabs/backuppy/internal/config"
	"github.com/acrlabs/backuppy/internal/manifest"
)

func genKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 4096)
	require.NoError(t, err)
	return key
}

func newTestSet(t *testing.T, priv *rsa.PrivateKey, sourceDir, backendDir string) *Set {
	t.Helper()
	bs := config.BackupSet{
		Directories: []string{sourceDir},
		Protocol:    config.Protocol{Type: "local", Location: backendDir},
	}
	set, err := New(context.Background(), "test", bs, priv, &priv.PublicKey)
	require.NoError(t, err)
	return set
}

func TestBackup_SavesAndTombstonesFiles(t *testing.T) {
	priv := genKey(t)
	sourceDir := t.TempDir()
	backendDir := filepath.Join(t.TempDir(), "backend")
	set := newTestSet(t, priv, sourceDir, backendDir)
	ctx := context.Background()

	fooPath := filepath.Join(sourceDir, "foo.txt")
	require.NoError(t, os.WriteFile(fooPath, []byte("hello"), 0o644))
	barPath := filepath.Join(sourceDir, "bar.txt")
	require.NoError(t, os.WriteFile(barPath, []byte("world"), 0o644))

	require.NoError(t, set.Backup(ctx, false, false))

	list, err := set.List(ctx, manifest.SearchOptions{FileLimit: 100, HistoryLimit: 10})
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, os.Remove(barPath))
	require.NoError(t, set.Backup(ctx, false, false))

	list, err = set.List(ctx, manifest.SearchOptions{FileLimit: 100, HistoryLimit: 10})
	require.NoError(t, err)

	var barHistory *manifest.PathHistory
	for i := range list {
		if list[i].Path == barPath {
			barHistory = &list[i]
		}
	}
	require.NotNil(t, barHistory)
	require.NotEmpty(t, barHistory.Entries)
	_, isDeleted := barHistory.Entries[0].State.(manifest.Deleted)
	require.True(t, isDeleted, "bar.txt should be tombstoned after removal")
}

func TestBackupAndRestore_RoundTrip(t *testing.T) {
	priv := genKey(t)
	sourceDir := t.TempDir()
	backendDir := filepath.Join(t.TempDir(), "backend")
	set := newTestSet(t, priv, sourceDir, backendDir)
	ctx := context.Background()

	fooPath := filepath.Join(sourceDir, "foo.txt")
	require.NoError(t, os.WriteFile(fooPath, []byte("hello world"), 0o644))
	require.NoError(t, set.Backup(ctx, false, false))

	destDir := t.TempDir()
	restored, err := set.Restore(ctx, destDir, "foo", nil)
	require.NoError(t, err)
	require.Len(t, restored, 1)

	contents, err := os.ReadFile(restored[0])
	require.NoError(t, err)
	require.Equal(t, "hello world", string(contents))
}

func TestVerify_DetectsNoCorruptionOnCleanStore(t *testing.T) {
	priv := genKey(t)
	sourceDir := t.TempDir()
	backendDir := filepath.Join(t.TempDir(), "backend")
	set := newTestSet(t, priv, sourceDir, backendDir)
	ctx := context.Background()

	fooPath := filepath.Join(sourceDir, "foo.txt")
	require.NoError(t, os.WriteFile(fooPath, []byte("hello world"), 0o644))
	require.NoError(t, set.Backup(ctx, false, false))

	results, err := set.Verify(ctx, "", "", false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].OK)
	require.NoError(t, results[0].Err)
}

func TestRepair_NoDuplicatesOnFreshStore(t *testing.T) {
	priv := genKey(t)
	sourceDir := t.TempDir()
	backendDir := filepath.Join(t.TempDir(), "backend")
	set := newTestSet(t, priv, sourceDir, backendDir)
	ctx := context.Background()

	fooPath := filepath.Join(sourceDir, "foo.txt")
	require.NoError(t, os.WriteFile(fooPath, []byte("hello"), 0o644))
	require.NoError(t, set.Backup(ctx, false, false))

	dupes, badShas, err := set.Repair(ctx)
	require.NoError(t, err)
	require.Empty(t, dupes)
	require.Empty(t, badShas)
}
