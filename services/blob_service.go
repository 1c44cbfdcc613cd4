package services

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrPresignUnsupported is returned by backends that cannot mint presigned
// URLs; callers fall back to streaming.
var ErrPresignUnsupported = errors.New("presigned URLs not supported by blob backend")

// BlobService is opaque byte storage for uploads and previews. Keys are
// uuid-prefixed and must never be interpreted as filesystem paths; keys
// containing traversal sequences are rejected with ErrValidation.
type BlobService interface {
	Put(ctx context.Context, key string, body io.Reader, sizeBytes int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error

	// PresignedGet returns a time-limited download URL, or
	// ErrPresignUnsupported. URLs are regenerated per read and never stored.
	PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// PreviewService renders a preview image for a document. Best-effort: the
// pipeline tolerates any error from it.
type PreviewService interface {
	GeneratePreview(ctx context.Context, blobKey, filename string) (previewKey string, err error)
}
