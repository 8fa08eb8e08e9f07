package server

import (
	"context"
)

// UploadResult identifies an uploaded blob
type UploadResult struct {
	URL string
	Key string
}

// BlobStore defines the interface for blob storage operations
type BlobStore interface {
	// Upload stores data under a freshly generated key and returns its public URL.
	// It fails with ErrConfiguration when no bucket is configured and with
	// ErrStorageUnavailable when the transfer fails.
	Upload(ctx context.Context, data []byte, contentType, filename string) (*UploadResult, error)

	// Delete removes a blob. Missing keys and an unconfigured store are not errors.
	Delete(ctx context.Context, key string) error
}
