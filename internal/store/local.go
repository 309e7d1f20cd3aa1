package store

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/acrlabs/backuppy/internal/backuperrors"
)

// LocalDriver backs a store by a directory on the local filesystem,
// ported from original_source/backuppy/stores/local_backup_store.py.
type LocalDriver struct {
	Root string
}

// NewLocalDriver returns a driver rooted at root, creating it if absent.
func NewLocalDriver(root string) (*LocalDriver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &LocalDriver{Root: abs}, nil
}

func (d *LocalDriver) path(remoteName string) string {
	return filepath.Join(d.Root, filepath.FromSlash(remoteName))
}

// Save moves localPath into place under remoteName. Rename is atomic on
// the same filesystem, matching the original's use of shutil.move.
func (d *LocalDriver) Save(_ context.Context, localPath, remoteName string) error {
	dest := d.path(remoteName)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.Rename(localPath, dest)
}

func (d *LocalDriver) Load(_ context.Context, remoteName string, w io.Writer) error {
	f, err := os.Open(d.path(remoteName))
	if err != nil {
		if os.IsNotExist(err) {
			return &backuperrors.NotFound{RemoteName: remoteName, Err: err}
		}
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func (d *LocalDriver) Query(_ context.Context, prefix string) ([]string, error) {
	var results []string
	err := filepath.WalkDir(d.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(filepath.Base(rel), prefix) || strings.HasPrefix(rel, prefix) {
			results = append(results, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (d *LocalDriver) Delete(_ context.Context, remoteName string) error {
	err := os.Remove(d.path(remoteName))
	if os.IsNotExist(err) {
		return &backuperrors.NotFound{RemoteName: remoteName, Err: err}
	}
	return err
}
