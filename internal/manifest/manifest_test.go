package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestManifest(t *testing.T) *Manifest {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.db")
	m, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestInsertOrUpdate_CopyThenGetEntry(t *testing.T) {
	m := openTestManifest(t)

	entry := &Entry{
		AbsFileName: "/data/foo",
		State:       Copy{Sha: "abc123", KeyPair: make([]byte, 80)},
		Uid:         1000,
		Gid:         1000,
		Mode:        0o644,
	}
	require.NoError(t, m.InsertOrUpdate(entry))
	require.True(t, m.Changed)

	got, err := m.GetEntry("/data/foo", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	cp, ok := got.State.(Copy)
	require.True(t, ok)
	require.Equal(t, "abc123", cp.Sha)
}

func TestInsertOrUpdate_DiffTracksBaseSha(t *testing.T) {
	m := openTestManifest(t)

	base := &Entry{AbsFileName: "/data/foo", State: Copy{Sha: "base-sha", KeyPair: make([]byte, 80)}}
	require.NoError(t, m.InsertOrUpdate(base))

	diffEntry := &Entry{
		AbsFileName: "/data/foo",
		State: Diff{
			Sha:         "diff-sha",
			KeyPair:     make([]byte, 80),
			BaseSha:     "base-sha",
			BaseKeyPair: make([]byte, 80),
		},
	}
	require.NoError(t, m.InsertOrUpdate(diffEntry))

	got, err := m.GetEntry("/data/foo", nil)
	require.NoError(t, err)
	d, ok := got.State.(Diff)
	require.True(t, ok)
	require.Equal(t, "base-sha", d.BaseSha)
}

func TestInsertOrUpdate_TwoDiffsSharingBaseKeyPairBothSurvive(t *testing.T) {
	m := openTestManifest(t)

	sharedBaseKeyPair := make([]byte, 80)
	for i := range sharedBaseKeyPair {
		sharedBaseKeyPair[i] = 0xAB
	}

	base := &Entry{AbsFileName: "/data/foo", State: Copy{Sha: "base-sha", KeyPair: make([]byte, 80)}}
	require.NoError(t, m.InsertOrUpdate(base))

	first := &Entry{
		AbsFileName: "/data/foo",
		State: Diff{
			Sha:         "diff-sha-1",
			KeyPair:     make([]byte, 80),
			BaseSha:     "base-sha",
			BaseKeyPair: sharedBaseKeyPair,
		},
	}
	require.NoError(t, m.InsertOrUpdate(first))

	second := &Entry{
		AbsFileName: "/data/bar",
		State: Diff{
			Sha:         "diff-sha-2",
			KeyPair:     make([]byte, 80),
			BaseSha:     "base-sha",
			BaseKeyPair: sharedBaseKeyPair,
		},
	}
	require.NoError(t, m.InsertOrUpdate(second))

	// Inserting the second diff's base_shas row (same base_key_pair as the
	// first) must not delete the first diff's row out from under it.
	gotFirst, err := m.GetEntry("/data/foo", nil)
	require.NoError(t, err)
	d1, ok := gotFirst.State.(Diff)
	require.True(t, ok, "first entry must still be classified as a Diff, not a Copy")
	require.Equal(t, "base-sha", d1.BaseSha)

	gotSecond, err := m.GetEntry("/data/bar", nil)
	require.NoError(t, err)
	d2, ok := gotSecond.State.(Diff)
	require.True(t, ok)
	require.Equal(t, "base-sha", d2.BaseSha)
}

func TestDelete_TombstoneThenFiles(t *testing.T) {
	m := openTestManifest(t)

	require.NoError(t, m.InsertOrUpdate(&Entry{
		AbsFileName: "/data/foo",
		State:       Copy{Sha: "sha1", KeyPair: make([]byte, 80)},
	}))

	files, err := m.Files(nil)
	require.NoError(t, err)
	_, present := files["/data/foo"]
	require.True(t, present)

	require.NoError(t, m.Delete("/data/foo"))

	files, err = m.Files(nil)
	require.NoError(t, err)
	_, present = files["/data/foo"]
	require.False(t, present)

	got, err := m.GetEntry("/data/foo", nil)
	require.NoError(t, err)
	_, isDeleted := got.State.(Deleted)
	require.True(t, isDeleted)
}

func TestDelete_UntrackedFileIsNoOp(t *testing.T) {
	m := openTestManifest(t)
	require.NoError(t, m.Delete("/data/never-existed"))

	got, err := m.GetEntry("/data/never-existed", nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestTombstoneThenRecreate_ThreeRowHistory(t *testing.T) {
	m := openTestManifest(t)

	require.NoError(t, m.InsertOrUpdate(&Entry{
		AbsFileName: "/data/foo",
		State:       Copy{Sha: "sha1", KeyPair: make([]byte, 80)},
	}))
	require.NoError(t, m.Delete("/data/foo"))
	require.NoError(t, m.InsertOrUpdate(&Entry{
		AbsFileName: "/data/foo",
		State:       Copy{Sha: "sha1", KeyPair: make([]byte, 80)},
	}))

	history, err := m.Search(SearchOptions{Like: "/data/foo", FileLimit: 10, HistoryLimit: 10})
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Len(t, history[0].Entries, 3)
}

func TestSearch_GroupsByPathNewestFirst(t *testing.T) {
	m := openTestManifest(t)

	require.NoError(t, m.InsertOrUpdate(&Entry{AbsFileName: "/data/a", State: Copy{Sha: "a1", KeyPair: make([]byte, 80)}}))
	require.NoError(t, m.InsertOrUpdate(&Entry{AbsFileName: "/data/a", State: Copy{Sha: "a2", KeyPair: make([]byte, 80)}}))
	require.NoError(t, m.InsertOrUpdate(&Entry{AbsFileName: "/data/b", State: Copy{Sha: "b1", KeyPair: make([]byte, 80)}}))

	results, err := m.Search(SearchOptions{FileLimit: 10, HistoryLimit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "/data/a", results[0].Path)
	require.Equal(t, "a2", Sha(results[0].Entries[0].State))
	require.Equal(t, "a1", Sha(results[0].Entries[1].State))
}

func TestFindShasWithMultipleKeyPairs(t *testing.T) {
	m := openTestManifest(t)

	require.NoError(t, m.InsertOrUpdate(&Entry{AbsFileName: "/data/a", State: Copy{Sha: "dup-sha", KeyPair: []byte("key-one-00000000000000000000000000000000000000000000000000000000000000000000")}}))
	require.NoError(t, m.InsertOrUpdate(&Entry{AbsFileName: "/data/b", State: Copy{Sha: "dup-sha", KeyPair: []byte("key-two-00000000000000000000000000000000000000000000000000000000000000000000")}}))

	shas, err := m.FindShasWithMultipleKeyPairs()
	require.NoError(t, err)
	require.Contains(t, shas, "dup-sha")
}

func TestDeleteEntry_RemovesSingleRow(t *testing.T) {
	m := openTestManifest(t)
	require.NoError(t, m.InsertOrUpdate(&Entry{AbsFileName: "/data/a", State: Copy{Sha: "sha1", KeyPair: make([]byte, 80)}}))

	entries, err := m.GetEntriesBySha("sha1")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, m.DeleteEntry(entries[0]))

	got, err := m.GetEntry("/data/a", nil)
	require.NoError(t, err)
	require.Nil(t, got)
}
