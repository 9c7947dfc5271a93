package storage

import (
	"context"
	"io"
	"time"
)

// Metadata is what the pipeline needs to know about an uploaded object
// before transcription starts.
type Metadata struct {
	Size        int64
	ContentType string
	// Tags carries user-level object metadata set at upload time, e.g.
	// meeting-id, original-name and upload-timestamp.
	Tags map[string]string
}

type PresignedUpload struct {
	URL       string
	Key       string
	ExpiresIn time.Duration
}

type Storage interface {
	GetMetadata(ctx context.Context, key string) (*Metadata, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	DownloadFrom(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	PresignUpload(ctx context.Context, key, contentType string) (*PresignedUpload, error)
	Bucket() string
}
