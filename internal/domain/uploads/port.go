package uploads

import (
	"context"
	"io"
)

// FileStore writes an upload once under the given name and returns its path.
// Implementations return ErrExists instead of overwriting and ErrTooLarge
// when r yields more than limit bytes.
type FileStore interface {
	Save(ctx context.Context, name string, r io.Reader, limit int64) (path string, size int64, err error)
}

// ArtifactStore port (object storage copy of an upload)
type ArtifactStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}
