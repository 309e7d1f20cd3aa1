package store

import (
	"context"
	"errors"
	"io"
	"net/textproto"
	"os"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/acrlabs/backuppy/internal/backuperrors"
)

// ftpFileUnavailable is the FTP response code (RFC 959) a server sends
// for a Retr/Dele targeting a name that doesn't exist.
const ftpFileUnavailable = 550

func asNotFound(remoteName string, err error) error {
	var pe *textproto.Error
	if errors.As(err, &pe) && pe.Code == ftpFileUnavailable {
		return &backuperrors.NotFound{RemoteName: remoteName, Err: err}
	}
	return err
}

// FTPDriver backs a store over FTP. Neither original_source nor spec.md
// names this backend; it is supplemented from the rest of the example
// pack (the teacher's network.go stubs a URL-scheme dispatch that never
// got an implementation) using github.com/jlaffaye/ftp for the wire
// protocol.
type FTPDriver struct {
	Addr     string
	User     string
	Password string
	Root     string
	Timeout  time.Duration
}

func (d *FTPDriver) dial() (*ftp.ServerConn, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	conn, err := ftp.Dial(d.Addr, ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, err
	}
	if err := conn.Login(d.User, d.Password); err != nil {
		conn.Quit()
		return nil, err
	}
	return conn, nil
}

func (d *FTPDriver) remotePath(remoteName string) string {
	return path.Join(d.Root, remoteName)
}

// Save streams localPath's contents to remoteName. The jlaffaye/ftp client
// uploads over a single data connection, which the FTP protocol treats as
// all-or-nothing at the TCP level; there is no partial-publish path to
// guard against on success.
func (d *FTPDriver) Save(_ context.Context, localPath, remoteName string) error {
	conn, err := d.dial()
	if err != nil {
		return err
	}
	defer conn.Quit()

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	dest := d.remotePath(remoteName)
	// ignore the error: jlaffaye/ftp has no idempotent mkdir -p, and the
	// directory most often already exists from a prior save
	_ = conn.MakeDir(path.Dir(dest))
	return conn.Stor(dest, f)
}

func (d *FTPDriver) Load(_ context.Context, remoteName string, w io.Writer) error {
	conn, err := d.dial()
	if err != nil {
		return err
	}
	defer conn.Quit()

	resp, err := conn.Retr(d.remotePath(remoteName))
	if err != nil {
		return asNotFound(remoteName, err)
	}
	defer resp.Close()
	_, err = io.Copy(w, resp)
	return err
}

// Query lists only the files directly under Root whose names start with
// prefix; keys inside subdirectories (the sharded content blobs) are not
// listed.
func (d *FTPDriver) Query(_ context.Context, prefix string) ([]string, error) {
	conn, err := d.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	entries, err := conn.List(d.Root)
	if err != nil {
		return nil, err
	}
	var results []string
	for _, e := range entries {
		if e.Type == ftp.EntryTypeFile && strings.HasPrefix(e.Name, prefix) {
			results = append(results, e.Name)
		}
	}
	return results, nil
}

func (d *FTPDriver) Delete(_ context.Context, remoteName string) error {
	conn, err := d.dial()
	if err != nil {
		return err
	}
	defer conn.Quit()
	return asNotFound(remoteName, conn.Delete(d.remotePath(remoteName)))
}
