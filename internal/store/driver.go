// Package store implements the backup store engine of spec §4.4: the
// per-file change decision (save_if_new), content-addressed save/load,
// restore_entry, and rotate_manifests, built atop a four-method backend
// driver contract (§6.3).
//
// Grounded on original_source/backuppy/stores/backup_store.py for the
// engine and stores/local_backup_store.py, stores/s3_backup_store.py for
// the two concrete drivers; the FTP driver is a supplemented addition
// (original_source has no FTP backend) modeled on the teacher's
// network.go FTP scheme stub, now backed by a real client.
package store

import (
	"context"
	"io"
)

// Driver is the four-method backend contract every storage backend
// implements. Each operation blocks; save must not partially publish on
// failure.
type Driver interface {
	// Save makes remoteName atomically visible with localPath's contents.
	Save(ctx context.Context, localPath, remoteName string) error
	// Load streams remoteName's contents into w. A missing key is an error.
	Load(ctx context.Context, remoteName string, w io.Writer) error
	// Query lists all keys starting with prefix.
	Query(ctx context.Context, prefix string) ([]string, error)
	// Delete removes a key.
	Delete(ctx context.Context, remoteName string) error
}
