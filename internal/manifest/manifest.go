package manifest

import (
	"database/sql"
	"fmt"
	"time"
)

const entryColumns = `
	m.rowid, m.abs_file_name, m.sha, m.uid, m.gid, m.mode, m.key_pair, m.commit_timestamp,
	b.base_sha, b.base_key_pair
`

const entryJoin = `
	from manifest m left join base_shas b on m.sha = b.sha
`

func scanEntry(scan func(dest ...any) error) (*Entry, error) {
	var (
		rowID                 int64
		absFileName           string
		sha, baseSha          sql.NullString
		uid, gid, mode        sql.NullInt64
		keyPair, baseKeyPair  []byte
		commitTimestamp       int64
	)
	if err := scan(&rowID, &absFileName, &sha, &uid, &gid, &mode, &keyPair, &commitTimestamp, &baseSha, &baseKeyPair); err != nil {
		return nil, err
	}

	var state FileState
	switch {
	case !sha.Valid:
		state = Deleted{}
	case baseSha.Valid:
		state = Diff{Sha: sha.String, KeyPair: keyPair, BaseSha: baseSha.String, BaseKeyPair: baseKeyPair}
	default:
		state = Copy{Sha: sha.String, KeyPair: keyPair}
	}

	return &Entry{
		AbsFileName:     absFileName,
		State:           state,
		Uid:             uint32(uid.Int64),
		Gid:             uint32(gid.Int64),
		Mode:            uint32(mode.Int64),
		CommitTimestamp: commitTimestamp,
		rowID:           rowID,
	}, nil
}

// GetEntry returns the most recent row for absFileName at or before
// timestamp (now, if nil), joined with its base_shas row if any, or nil if
// no row exists.
func (m *Manifest) GetEntry(absFileName string, timestamp *int64) (*Entry, error) {
	ts := resolveTimestamp(timestamp)

	query := fmt.Sprintf(`
		select %s
		%s
		where m.abs_file_name = ? and m.commit_timestamp <= ?
		order by m.commit_timestamp
	`, entryColumns, entryJoin)

	rows, err := m.db.Query(query, absFileName, ts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var latest *Entry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		latest = entry
	}
	return latest, rows.Err()
}

// GetEntriesBySha returns every row whose SHA begins with shaPrefix.
func (m *Manifest) GetEntriesBySha(shaPrefix string) ([]*Entry, error) {
	query := fmt.Sprintf(`
		select %s
		%s
		where m.sha like ? || '%%'
		order by m.commit_timestamp
	`, entryColumns, entryJoin)

	rows, err := m.db.Query(query, shaPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// InsertOrUpdate appends a new row for entry with commit_timestamp = now.
// If entry's state is a Diff, the base_shas adjunct row is upserted; if
// it's a Copy (or Deleted), any prior adjunct row for this SHA is removed
// so a SHA can't simultaneously look like both a copy and a diff base.
func (m *Manifest) InsertOrUpdate(entry *Entry) error {
	commitTimestamp := time.Now().Unix()

	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sha := Sha(entry.State)
	keyPair := KeyPairOf(entry.State)

	var shaVal, keyPairVal any
	if sha != "" {
		shaVal = sha
		keyPairVal = keyPair
	}

	_, err = tx.Exec(`
		insert into manifest
		(abs_file_name, sha, uid, gid, mode, key_pair, commit_timestamp)
		values (?, ?, ?, ?, ?, ?, ?)
	`, entry.AbsFileName, shaVal, entry.Uid, entry.Gid, entry.Mode, keyPairVal, commitTimestamp)
	if err != nil {
		return fmt.Errorf("insert manifest row: %w", err)
	}

	if diff, ok := entry.State.(Diff); ok {
		_, err = tx.Exec(`
			insert or replace into base_shas (sha, base_sha, base_key_pair)
			values (?, ?, ?)
		`, diff.Sha, diff.BaseSha, diff.BaseKeyPair)
		if err != nil {
			return fmt.Errorf("insert base_shas row: %w", err)
		}
	} else if sha != "" {
		if _, err := tx.Exec(`delete from base_shas where sha = ?`, sha); err != nil {
			return fmt.Errorf("clear base_shas row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	entry.CommitTimestamp = commitTimestamp
	m.Changed = true
	return nil
}

// Delete appends a tombstone row for absFileName. If no prior row exists,
// this is a no-op (the caller should already have logged the attempt).
func (m *Manifest) Delete(absFileName string) error {
	existing, err := m.GetEntry(absFileName, nil)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	_, err = m.db.Exec(`
		insert into manifest (abs_file_name, commit_timestamp) values (?, ?)
	`, absFileName, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert tombstone: %w", err)
	}
	m.Changed = true
	return nil
}

// Files returns the set of paths whose most recent row at or before
// timestamp (now, if nil) has a non-null SHA.
func (m *Manifest) Files(timestamp *int64) (map[string]struct{}, error) {
	ts := resolveTimestamp(timestamp)

	rows, err := m.db.Query(`
		select m.abs_file_name
		from manifest m
		where m.rowid = (
			select m2.rowid from manifest m2
			where m2.abs_file_name = m.abs_file_name and m2.commit_timestamp <= ?
			order by m2.commit_timestamp desc, m2.rowid desc
			limit 1
		)
		and m.sha is not null
	`, ts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		out[path] = struct{}{}
	}
	return out, rows.Err()
}

func resolveTimestamp(timestamp *int64) int64 {
	if timestamp != nil {
		return *timestamp
	}
	return time.Now().Unix()
}
