package uploads

import "github.com/cockroachdb/errors"

var (
	ErrNoFile          = errors.New("no file uploaded")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file exceeds upload limit")
	ErrExists          = errors.New("file already exists")
)
