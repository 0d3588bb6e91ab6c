package dispatch

import (
	"context"
	"fmt"

	"chatfunnel_backend/internal/adapters/storage"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

const qrSize = 512

// QRPublisher renders payment codes as QR images and stores them so they can
// be sent by URL.
type QRPublisher struct {
	store  storage.ObjectStore
	bucket string
}

// NewQRPublisher returns nil when no object store is available.
func NewQRPublisher(store storage.ObjectStore, bucket string) *QRPublisher {
	if store == nil {
		return nil
	}
	return &QRPublisher{store: store, bucket: bucket}
}

// Publish renders code and returns a presigned URL to the PNG.
func (q *QRPublisher) Publish(ctx context.Context, sessionID uuid.UUID, code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("render payment qr: %w", err)
	}

	key, err := q.store.UploadBytes(ctx, q.bucket, "sessions/"+sessionID.String(), "payment.png", "image/png", png)
	if err != nil {
		return "", err
	}

	link, err := q.store.GenerateDownloadURL(ctx, q.bucket, key, storage.MaxPresignTTL)
	if err != nil {
		return "", err
	}
	return link.URL, nil
}
