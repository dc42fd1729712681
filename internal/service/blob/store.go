// Package blob keeps uploaded files (generated images and audio) on local
// disk and hands out URLs for them.
package blob

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/domain-chat/backend/internal/logging"
)

var (
	ErrNotFound     = errors.New("blob: object not found")
	ErrUnauthorized = errors.New("blob: access denied")
	ErrCanceled     = errors.New("blob: canceled")
	ErrUnknown      = errors.New("blob: unknown error")
	ErrInvalidData  = errors.New("blob: invalid data url")
)

var messages = map[error]string{
	ErrNotFound:     "File doesn't exist",
	ErrUnauthorized: "User doesn't have permission to access the object",
	ErrCanceled:     "User canceled the upload",
	ErrUnknown:      "Unknown error occurred, inspect the server response",
}

// Describe maps a store error to the message shown to users.
func Describe(err error) string {
	for target, msg := range messages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return messages[ErrUnknown]
}

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"audio/mpeg": ".mp3",
	"audio/mp3":  ".mp3",
	"audio/wav":  ".wav",
	"audio/ogg":  ".ogg",
	"audio/aac":  ".aac",
	"audio/flac": ".flac",
	"audio/opus": ".opus",
}

// Store writes blobs under dir and serves them at baseURL/<name>.
type Store struct {
	dir     string
	baseURL string
	logger  *zap.Logger
}

// NewStore creates dir when missing.
func NewStore(dir, baseURL string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &Store{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logging.OrNop(logger).Named("blob"),
	}, nil
}

// Upload stores data under a fresh name whose extension follows contentType.
func (s *Store) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCanceled, err)
	}

	name := uuid.NewString() + extensionFor(contentType)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Error("failed to write blob", zap.String("name", name), zap.Error(err))
		return "", classify(err)
	}

	s.logger.Info("blob stored", zap.String("name", name), zap.Int("bytes", len(data)))
	return name, nil
}

// UploadDataURL decodes a base64 "data:<type>;base64,..." string and stores it.
func (s *Store) UploadDataURL(ctx context.Context, dataURL string) (string, error) {
	contentType, data, err := ParseDataURL(dataURL)
	if err != nil {
		return "", err
	}
	return s.Upload(ctx, data, contentType)
}

// DownloadURL returns the public URL of an existing blob.
func (s *Store) DownloadURL(ctx context.Context, name string) (string, error) {
	path, err := s.resolve(ctx, name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", classify(err)
	}
	return s.baseURL + "/" + url.PathEscape(name), nil
}

// Open returns the blob contents and its content type. The caller closes
// the reader.
func (s *Store) Open(ctx context.Context, name string) (io.ReadCloser, string, error) {
	path, err := s.resolve(ctx, name)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", classify(err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return f, contentType, nil
}

func (s *Store) resolve(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCanceled, err)
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrUnauthorized, name)
	}
	return filepath.Join(s.dir, name), nil
}

// ParseDataURL splits a base64 data URL into its media type and bytes.
func ParseDataURL(raw string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return "", nil, ErrInvalidData
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidData
	}
	contentType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("%w: only base64 payloads are accepted", ErrInvalidData)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return contentType, data, nil
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if ext, ok := extensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func classify(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrCanceled, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnknown, err)
	}
}
