package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/screenrec/pkg/storage"
)

// ObjectStore is the part of storage.S3 the exporter needs.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
	PresignDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
	PresignExpire() time.Duration
}

// S3Exporter uploads payloads under recordings/{owner}/ and returns a pre-signed download URL.
type S3Exporter struct {
	store  ObjectStore
	owner  func() string
	logger *zap.Logger
}

// NewS3Exporter creates an exporter. owner supplies the key prefix, usually the logged-in user id.
func NewS3Exporter(store ObjectStore, owner func() string, logger *zap.Logger) *S3Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if owner == nil {
		owner = func() string { return "" }
	}
	return &S3Exporter{store: store, owner: owner, logger: logger.With(zap.String("component", "export_s3"))}
}

func (e *S3Exporter) Export(ctx context.Context, name, mimeType string, payload io.Reader, size int64) (string, error) {
	key := storage.RecordingKey(e.owner(), SafeName(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if _, err := e.store.Upload(ctx, key, mimeType, payload, size); err != nil {
		return "", fmt.Errorf("s3 export: %w", err)
	}
	url, err := e.store.PresignDownloadURL(ctx, key, e.store.PresignExpire())
	if err != nil {
		return "", fmt.Errorf("s3 export: %w", err)
	}
	e.logger.Info("recording exported to s3", zap.String("key", key), zap.Int64("size_bytes", size))
	return url, nil
}
