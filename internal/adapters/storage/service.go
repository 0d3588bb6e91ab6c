// Package storage keeps conversation media in S3-compatible object storage so
// stored messages can point at URLs that outlive the channel's own links.
package storage

import (
	"context"
	"time"
)

// PresignedURL contains a download URL and its expiry.
type PresignedURL struct {
	URL       string    `json:"url"`
	FileKey   string    `json:"fileKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ObjectStore is what the conversation pipeline needs from storage.
type ObjectStore interface {
	// UploadBytes stores data under folder with a unique key derived from
	// fileName and returns that key.
	UploadBytes(ctx context.Context, bucket, folder, fileName, contentType string, data []byte) (string, error)

	// GenerateDownloadURL creates a presigned GET URL valid for ttl.
	GenerateDownloadURL(ctx context.Context, bucket, fileKey string, ttl time.Duration) (*PresignedURL, error)

	// EnsureBucketExists creates the bucket if it doesn't exist.
	EnsureBucketExists(ctx context.Context, bucket string) error
}
