// Package manifest implements the relational, time-indexed record of file
// history described in spec §3.3-§3.4 and §4.6: a SQLite-backed database of
// every version of every file a backup set has ever seen, queried,
// inserted, and repaired through this package's API.
//
// Grounded on original_source/backuppy/manifest.py's Manifest class and its
// manifest/diff_pairs tables, renamed here to manifest/base_shas per the
// expanded spec, and on the teacher's database.go for sqlite3/database-sql
// wiring idiom.
package manifest

// FileState is the tagged variant replacing the source's nullable
// sha/base_sha columns (design note 9): a manifest row is exactly one of a
// full copy, a diff against a base, or a deletion tombstone.
type FileState interface {
	isFileState()
}

// Copy is a row whose content is stored verbatim under Sha.
type Copy struct {
	Sha     string
	KeyPair []byte // 80-byte authenticated key pair
}

// Diff is a row whose content is a diff that must be applied to BaseSha's
// blob to reconstruct the file.
type Diff struct {
	Sha         string
	KeyPair     []byte
	BaseSha     string
	BaseKeyPair []byte
}

// Deleted is a tombstone: the file did not exist as of this row's
// commit_timestamp.
type Deleted struct{}

func (Copy) isFileState()    {}
func (Diff) isFileState()    {}
func (Deleted) isFileState() {}

// Sha returns the content SHA for Copy and Diff states, or "" for Deleted.
func Sha(s FileState) string {
	switch v := s.(type) {
	case Copy:
		return v.Sha
	case Diff:
		return v.Sha
	default:
		return ""
	}
}

// KeyPairOf returns the stored authenticated key pair for Copy and Diff
// states, or nil for Deleted.
func KeyPairOf(s FileState) []byte {
	switch v := s.(type) {
	case Copy:
		return v.KeyPair
	case Diff:
		return v.KeyPair
	default:
		return nil
	}
}

// Entry is one committed row of a file's history.
type Entry struct {
	AbsFileName     string
	State           FileState
	Uid             uint32
	Gid             uint32
	Mode            uint32
	CommitTimestamp int64

	rowID int64 // sqlite rowid, set when loaded from storage; used by DeleteEntry
}
