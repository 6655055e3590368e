package uploads

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bryanwahyu/healthdash/internal/application"
	domain "github.com/bryanwahyu/healthdash/internal/domain/uploads"
)

// DefaultAllowed is the extension allow-list for tabular uploads.
var DefaultAllowed = []string{".csv", ".data"}

const DefaultMaxBytes int64 = 32 << 20

// Service accepts an upload, checks its extension and stores it under a
// unique, timestamped name.
type Service struct {
	Store    domain.FileStore
	Mirror   domain.ArtifactStore // optional
	Allowed  []string
	MaxBytes int64
	Clock    application.Clock
}

func NewService(store domain.FileStore, mirror domain.ArtifactStore) *Service {
	return &Service{
		Store:    store,
		Mirror:   mirror,
		Allowed:  DefaultAllowed,
		MaxBytes: DefaultMaxBytes,
		Clock:    application.SystemClock{},
	}
}

// Receive stores r under a name derived from originalName and returns the
// file reference to hand to the analysis service.
func (s *Service) Receive(ctx context.Context, originalName string, r io.Reader) (domain.StoredFile, error) {
	base := SanitizeName(originalName)
	if base == "" {
		return domain.StoredFile{}, domain.ErrNoFile
	}
	if err := s.checkExtension(base); err != nil {
		return domain.StoredFile{}, err
	}

	stamp := s.now()
	name := fmt.Sprintf("%d-%s", stamp, base)
	path, size, err := s.Store.Save(ctx, name, r, s.MaxBytes)
	if errors.Is(err, domain.ErrExists) {
		name = fmt.Sprintf("%d-%s-%s", stamp, uuid.NewString()[:8], base)
		path, size, err = s.Store.Save(ctx, name, r, s.MaxBytes)
	}
	if err != nil {
		return domain.StoredFile{}, errors.Wrapf(err, "store %s", base)
	}

	out := domain.StoredFile{Path: path, OriginalName: originalName, Size: size}
	logger := zerolog.Ctx(ctx)
	logger.Info().Str("path", path).Int64("size", size).Msg("upload stored")

	if s.Mirror != nil {
		url, err := s.Mirror.Upload(ctx, path, "uploads/"+name)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to mirror upload")
		} else {
			out.MirrorURL = url
		}
	}
	return out, nil
}

func (s *Service) checkExtension(name string) error {
	allowed := s.Allowed
	if len(allowed) == 0 {
		allowed = DefaultAllowed
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range allowed {
		if ext == strings.ToLower(a) {
			return nil
		}
	}
	return errors.Wrapf(domain.ErrUnsupportedType, "only %s files are allowed", strings.Join(allowed, " and "))
}

func (s *Service) now() int64 {
	if s.Clock == nil {
		return application.SystemClock{}.Now().UnixMilli()
	}
	return s.Clock.Now().UnixMilli()
}

// SanitizeName strips directories and control characters from a client
// supplied file name.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		if unicode.IsControl(r) || r == '/' {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	if out == "." || out == ".." || out == "/" {
		return ""
	}
	return out
}
