package channels

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/platform/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	platform domain.Platform
	texts    []string
	url      string
}

func (f *fakeAdapter) Platform() domain.Platform { return f.platform }
func (f *fakeAdapter) SendText(_ context.Context, _, text string) error {
	f.texts = append(f.texts, text)
	return nil
}
func (f *fakeAdapter) SendImage(context.Context, string, string, string) error { return nil }
func (f *fakeAdapter) SendVideo(context.Context, string, string, string) error { return nil }
func (f *fakeAdapter) SendTypingIndicator(context.Context, string) error       { return nil }
func (f *fakeAdapter) ResolveMediaDownloadURL(context.Context, string) (string, error) {
	return f.url, nil
}

type codeAdapter struct {
	fakeAdapter
	codes []string
}

func (c *codeAdapter) SendCopyableCode(_ context.Context, _, code string) error {
	c.codes = append(c.codes, code)
	return nil
}

type unconfigured struct{ *fakeAdapter }

func (unconfigured) IsConfigured() bool { return false }

func TestRegistryFor(t *testing.T) {
	tg := &fakeAdapter{platform: domain.PlatformTelegram}
	r := NewRegistry(tg, nil, unconfigured{&fakeAdapter{platform: domain.PlatformWhatsApp}})

	got, err := r.For(domain.PlatformTelegram)
	require.NoError(t, err)
	assert.Same(t, tg, got)

	_, err = r.For(domain.PlatformWhatsApp)
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))
}

func TestSendCodePrefersCopyable(t *testing.T) {
	plain := &fakeAdapter{}
	require.NoError(t, SendCode(context.Background(), plain, "1", "000201"))
	assert.Equal(t, []string{"000201"}, plain.texts)

	rich := &codeAdapter{}
	require.NoError(t, SendCode(context.Background(), rich, "1", "000201"))
	assert.Equal(t, []string{"000201"}, rich.codes)
	assert.Empty(t, rich.texts)
}

func TestDownloadViaResolvedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/ogg; codecs=opus")
		_, _ = io.WriteString(w, "OggS")
	}))
	t.Cleanup(srv.Close)

	a := &fakeAdapter{platform: domain.PlatformTelegram, url: srv.URL}
	r := NewRegistry(a)

	data, mime, err := r.Download(context.Background(), a, "file")
	require.NoError(t, err)
	assert.Equal(t, "OggS", string(data))
	assert.Equal(t, "audio/ogg", mime)
}

func TestFetchRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	_, _, err := Fetch(context.Background(), srv.Client(), srv.URL, "")
	assert.Error(t, err)
}
