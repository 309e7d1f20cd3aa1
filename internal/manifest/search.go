package manifest

import (
	"fmt"
	"strings"
)

// PathHistory is one path's matched rows, newest first.
type PathHistory struct {
	Path    string
	Entries []*Entry
}

// SearchOptions filters and pages the Search query (a supplemented
// feature backing the `list`/`search` CLI commands; spec.md's §4.6 names
// this operation but leaves its filter surface to the caller).
type SearchOptions struct {
	Like         string // substring match against abs_file_name
	Before       *int64 // only rows with commit_timestamp <= Before
	After        *int64 // only rows with commit_timestamp >= After
	FileLimit    int    // max distinct paths returned, 0 = none
	HistoryLimit int    // max rows per path, 0 = none
}

// Search returns a page of path histories ordered by path ascending, each
// with its rows ordered newest first, per spec §4.6.
func (m *Manifest) Search(opts SearchOptions) ([]PathHistory, error) {
	if opts.FileLimit == 0 || opts.HistoryLimit == 0 {
		return nil, nil
	}

	var where []string
	var args []any
	if opts.Like != "" {
		where = append(where, "m.abs_file_name like ?")
		args = append(args, "%"+opts.Like+"%")
	}
	if opts.Before != nil {
		where = append(where, "m.commit_timestamp <= ?")
		args = append(args, *opts.Before)
	}
	if opts.After != nil {
		where = append(where, "m.commit_timestamp >= ?")
		args = append(args, *opts.After)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "where " + strings.Join(where, " and ")
	}

	query := fmt.Sprintf(`
		select %s
		%s
		%s
		order by m.abs_file_name asc, m.commit_timestamp desc, m.rowid desc
	`, entryColumns, entryJoin, whereClause)

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PathHistory
	var curr *PathHistory
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		if curr == nil || curr.Path != entry.AbsFileName {
			if curr != nil {
				out = append(out, *curr)
			}
			if len(out) >= opts.FileLimit {
				curr = nil
				break
			}
			curr = &PathHistory{Path: entry.AbsFileName}
		}
		if len(curr.Entries) < opts.HistoryLimit {
			curr.Entries = append(curr.Entries, entry)
		}
	}
	if curr != nil && len(out) < opts.FileLimit {
		out = append(out, *curr)
	}
	return out, rows.Err()
}
