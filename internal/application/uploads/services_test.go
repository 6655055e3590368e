package uploads

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/healthdash/internal/application"
	domain "github.com/bryanwahyu/healthdash/internal/domain/uploads"
)

type memStore struct {
	files map[string][]byte
	taken map[string]bool
}

func newMemStore() *memStore {
	return &memStore{files: map[string][]byte{}, taken: map[string]bool{}}
}

func (m *memStore) Save(ctx context.Context, name string, r io.Reader, limit int64) (string, int64, error) {
	if m.taken[name] {
		return "", 0, domain.ErrExists
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	if limit > 0 && int64(len(b)) > limit {
		return "", 0, domain.ErrTooLarge
	}
	m.taken[name] = true
	m.files[name] = b
	return "uploads/" + name, int64(len(b)), nil
}

type fakeMirror struct {
	keys []string
	err  error
}

func (f *fakeMirror) Upload(ctx context.Context, localPath, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "http://minio/bucket/" + key, nil
}

var fixed = application.ClockFunc(func() time.Time {
	return time.UnixMilli(1700000000000)
})

func TestService_Receive(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil)
	svc.Clock = fixed

	got, err := svc.Receive(context.Background(), "health.csv", strings.NewReader("a,b\n1,2\n"))
	require.NoError(t, err)

	assert.Equal(t, "uploads/1700000000000-health.csv", got.Path)
	assert.Equal(t, "health.csv", got.OriginalName)
	assert.Equal(t, int64(8), got.Size)
	assert.Equal(t, []byte("a,b\n1,2\n"), store.files["1700000000000-health.csv"])
}

func TestService_Receive_Extensions(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		wantErr error
	}{
		{name: "csv", file: "a.csv"},
		{name: "data", file: "a.data"},
		{name: "upper case", file: "A.CSV"},
		{name: "exe", file: "a.exe", wantErr: domain.ErrUnsupportedType},
		{name: "no extension", file: "csv", wantErr: domain.ErrUnsupportedType},
		{name: "double extension", file: "a.csv.sh", wantErr: domain.ErrUnsupportedType},
		{name: "empty", file: "", wantErr: domain.ErrNoFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(newMemStore(), nil)
			_, err := svc.Receive(context.Background(), tt.file, strings.NewReader("x"))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestService_Receive_CustomAllowList(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	svc.Allowed = []string{".tsv"}

	_, err := svc.Receive(context.Background(), "a.csv", strings.NewReader("x"))
	assert.True(t, errors.Is(err, domain.ErrUnsupportedType))
	assert.Contains(t, err.Error(), ".tsv")

	_, err = svc.Receive(context.Background(), "a.tsv", strings.NewReader("x"))
	assert.NoError(t, err)
}

func TestService_Receive_NameCollision(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil)
	svc.Clock = fixed

	first, err := svc.Receive(context.Background(), "a.csv", strings.NewReader("1"))
	require.NoError(t, err)
	second, err := svc.Receive(context.Background(), "a.csv", strings.NewReader("2"))
	require.NoError(t, err)

	assert.NotEqual(t, first.Path, second.Path)
	assert.True(t, strings.HasSuffix(second.Path, "-a.csv"))
	assert.Len(t, store.files, 2)
}

func TestService_Receive_TooLarge(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	svc.MaxBytes = 4

	_, err := svc.Receive(context.Background(), "a.csv", bytes.NewReader(make([]byte, 5)))
	assert.True(t, errors.Is(err, domain.ErrTooLarge))
}

func TestService_Receive_Mirror(t *testing.T) {
	t.Run("mirrored", func(t *testing.T) {
		mirror := &fakeMirror{}
		svc := NewService(newMemStore(), mirror)
		svc.Clock = fixed

		got, err := svc.Receive(context.Background(), "a.csv", strings.NewReader("x"))
		require.NoError(t, err)
		assert.Equal(t, []string{"uploads/1700000000000-a.csv"}, mirror.keys)
		assert.Equal(t, "http://minio/bucket/uploads/1700000000000-a.csv", got.MirrorURL)
	})

	t.Run("mirror failure keeps local file", func(t *testing.T) {
		svc := NewService(newMemStore(), &fakeMirror{err: errors.New("minio down")})

		got, err := svc.Receive(context.Background(), "a.csv", strings.NewReader("x"))
		require.NoError(t, err)
		assert.NotEmpty(t, got.Path)
		assert.Empty(t, got.MirrorURL)
	})
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"data.csv":             "data.csv",
		"../../etc/passwd.csv": "passwd.csv",
		`C:\Users\me\x.csv`:    "x.csv",
		"bad\x00name.csv":      "badname.csv",
		"  spaced.csv  ":       "spaced.csv",
		"..":                   "",
		"":                     "",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeName(in), "input %q", in)
	}
}
