package manifest

import "fmt"

// FindDuplicateEntries temporarily drops the (abs_file_name, sha, uid, gid,
// mode) uniqueness index, scans for rows that violate it, and restores the
// index, per spec §4.6. Used by the `verify --repair` pass.
func (m *Manifest) FindDuplicateEntries() ([]*Entry, error) {
	if err := m.dropUniqueIndex(); err != nil {
		return nil, err
	}
	defer m.restoreUniqueIndex()

	query := fmt.Sprintf(`
		select %s
		%s
		where (m.abs_file_name, m.sha, m.uid, m.gid, m.mode) in (
			select abs_file_name, sha, uid, gid, mode
			from manifest
			group by abs_file_name, sha, uid, gid, mode
			having count(*) > 1
		)
		and m.rowid not in (
			select min(rowid)
			from manifest
			group by abs_file_name, sha, uid, gid, mode
		)
	`, entryColumns, entryJoin)

	rows, err := m.db.Query(query)
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

// FindShasWithMultipleKeyPairs returns SHAs that appear in the manifest
// with two or more distinct key pairs, a corruption signature: every row
// sharing a SHA should share a key pair (spec §3.4's verifiable property).
func (m *Manifest) FindShasWithMultipleKeyPairs() ([]string, error) {
	rows, err := m.db.Query(`
		select sha from manifest
		where sha is not null
		group by sha
		having count(distinct key_pair) > 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sha string
		if err := rows.Scan(&sha); err != nil {
			return nil, err
		}
		out = append(out, sha)
	}
	return out, rows.Err()
}

// DeleteEntry removes a single row, identified by the rowid captured when
// it was loaded from a query. Used by the repair pass to drop duplicates.
func (m *Manifest) DeleteEntry(entry *Entry) error {
	_, err := m.db.Exec(`delete from manifest where rowid = ?`, entry.rowID)
	if err != nil {
		return err
	}
	m.Changed = true
	return nil
}
