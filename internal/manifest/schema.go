package manifest

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const createManifestTable = `
create table manifest (
	abs_file_name text not null,
	sha text,
	uid integer,
	gid integer,
	mode integer,
	key_pair blob,
	commit_timestamp integer not null
)`

const createBaseShasTable = `
create table base_shas (
	sha text not null unique,
	base_sha text not null,
	base_key_pair blob not null,
	foreign key(sha) references manifest(sha)
)`

const createManifestIndex = `create index manifest_idx on manifest(abs_file_name, commit_timestamp)`
const createShaIndex = `create index manifest_sha_idx on manifest(sha)`
const createUniqueIndex = `
create unique index manifest_no_dup_idx
on manifest(abs_file_name, sha, uid, gid, mode)`

// Manifest is an open connection to one backup set's history database.
// Changed reports whether any mutating call has succeeded since Open,
// which the lifecycle layer uses to decide whether a lock() needs to
// upload a new version at all.
type Manifest struct {
	db      *sql.DB
	Changed bool
}

// Open connects to (and, if empty, initializes) a manifest database file.
func Open(path string) (*Manifest, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open manifest: %w", err)
	}

	m := &Manifest{db: db}
	isNew, err := m.needsInit()
	if err != nil {
		db.Close()
		return nil, err
	}
	if isNew {
		if err := m.createTables(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return m, nil
}

// Close releases the underlying database connection.
func (m *Manifest) Close() error {
	return m.db.Close()
}

func (m *Manifest) needsInit() (bool, error) {
	rows, err := m.db.Query(`
		select name from sqlite_master
		where type = 'table' and name not like 'sqlite_%'
	`)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	names := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		names[name] = true
	}
	return !(names["manifest"] && names["base_shas"]), nil
}

func (m *Manifest) createTables() error {
	stmts := []string{
		createManifestTable,
		createBaseShasTable,
		createManifestIndex,
		createShaIndex,
		createUniqueIndex,
	}
	for _, stmt := range stmts {
		if _, err := m.db.Exec(stmt); err != nil {
			return fmt.Errorf("create manifest schema: %w", err)
		}
	}
	return nil
}

// dropUniqueIndex and restoreUniqueIndex bracket the repair pass (§4.6
// find_duplicate_entries), which needs to see rows that would otherwise be
// rejected by the uniqueness constraint.
func (m *Manifest) dropUniqueIndex() error {
	_, err := m.db.Exec(`drop index if exists manifest_no_dup_idx`)
	return err
}

func (m *Manifest) restoreUniqueIndex() error {
	_, err := m.db.Exec(createUniqueIndex)
	return err
}
