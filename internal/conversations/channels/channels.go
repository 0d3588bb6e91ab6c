// Package channels abstracts the outbound side of the chat platforms a
// session can live on.
package channels

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/platform/apperr"
)

// MaxMediaBytes caps inbound media downloads handed to the reply generator.
const MaxMediaBytes = 20 << 20

// Adapter is the capability set every channel provides.
type Adapter interface {
	Platform() domain.Platform
	SendText(ctx context.Context, chatID, text string) error
	SendImage(ctx context.Context, chatID, url, caption string) error
	SendVideo(ctx context.Context, chatID, url, caption string) error
	SendTypingIndicator(ctx context.Context, chatID string) error
	ResolveMediaDownloadURL(ctx context.Context, fileID string) (string, error)
}

// CodeSender is implemented by channels that can render a payment code so
// it is copied with one tap.
type CodeSender interface {
	SendCopyableCode(ctx context.Context, chatID, code string) error
}

// Downloader is implemented by channels whose media URLs need credentials.
type Downloader interface {
	DownloadMedia(ctx context.Context, fileID string) (data []byte, mimeType string, err error)
}

// Registry maps platforms to adapters.
type Registry struct {
	adapters map[domain.Platform]Adapter
	http     *http.Client
}

// NewRegistry builds a registry. Nil adapters are skipped so unconfigured
// channels can be passed straight through.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{
		adapters: make(map[domain.Platform]Adapter, len(adapters)),
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, a := range adapters {
		if a == nil || isNilAdapter(a) {
			continue
		}
		r.adapters[a.Platform()] = a
	}
	return r
}

// For returns the adapter for a platform.
func (r *Registry) For(platform domain.Platform) (Adapter, error) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, apperr.Unavailable(fmt.Sprintf("channel %q is not configured", platform), nil)
	}
	return a, nil
}

// SendCode delivers a payment code, copyable when the channel supports it.
func SendCode(ctx context.Context, a Adapter, chatID, code string) error {
	if cs, ok := a.(CodeSender); ok {
		return cs.SendCopyableCode(ctx, chatID, code)
	}
	return a.SendText(ctx, chatID, code)
}

// Download fetches inbound media bytes through the adapter.
func (r *Registry) Download(ctx context.Context, a Adapter, fileID string) ([]byte, string, error) {
	if d, ok := a.(Downloader); ok {
		return d.DownloadMedia(ctx, fileID)
	}

	url, err := a.ResolveMediaDownloadURL(ctx, fileID)
	if err != nil {
		return nil, "", err
	}
	return Fetch(ctx, r.http, url, "")
}

// Fetch downloads a URL, optionally with a bearer token, capped at
// MaxMediaBytes.
func Fetch(ctx context.Context, client *http.Client, url, bearer string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("media download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("media download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}
	if len(data) > MaxMediaBytes {
		return nil, "", apperr.Validation("media exceeds size limit")
	}

	mimeType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

type nilChecker interface{ IsConfigured() bool }

func isNilAdapter(a Adapter) bool {
	c, ok := a.(nilChecker)
	return ok && !c.IsConfigured()
}
