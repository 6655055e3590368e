package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	domain "github.com/bryanwahyu/healthdash/internal/domain/uploads"
)

// Disk keeps uploads in a local directory. Files are written once.
type Disk struct {
	Root string
}

// NewDisk makes sure root exists.
func NewDisk(root string) (*Disk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create upload dir %s", root)
	}
	return &Disk{Root: root}, nil
}

// Save implements uploads.FileStore. ErrExists is returned before r is read.
func (d *Disk) Save(ctx context.Context, name string, r io.Reader, limit int64) (string, int64, error) {
	if name != filepath.Base(name) {
		return "", 0, errors.Newf("invalid file name %q", name)
	}
	path := filepath.Join(d.Root, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return "", 0, domain.ErrExists
	}
	if err != nil {
		return "", 0, err
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, contextReader{ctx: ctx, r: src})
	if err == nil && limit > 0 && n > limit {
		err = domain.ErrTooLarge
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return path, n, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
