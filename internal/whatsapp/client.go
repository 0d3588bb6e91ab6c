// Package whatsapp talks to the WhatsApp Cloud (Graph) API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatfunnel_backend/internal/conversations/channels"
	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/platform/config"
	"chatfunnel_backend/platform/logger"
	"chatfunnel_backend/platform/phone"

	"golang.org/x/time/rate"
)

type Client struct {
	baseURL       string
	token         string
	phoneNumberID string
	http          *http.Client
	limiter       *rate.Limiter
	log           *logger.Logger
}

type graphMessage struct {
	MessagingProduct string     `json:"messaging_product"`
	RecipientType    string     `json:"recipient_type,omitempty"`
	To               string     `json:"to,omitempty"`
	Type             string     `json:"type,omitempty"`
	Text             *graphText `json:"text,omitempty"`
	Image            *graphLink `json:"image,omitempty"`
	Video            *graphLink `json:"video,omitempty"`
	Status           string     `json:"status,omitempty"`
	MessageID        string     `json:"message_id,omitempty"`
}

type graphText struct {
	Body string `json:"body"`
}

type graphLink struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type graphMedia struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

// NewClient returns nil when the token or phone number id is missing; every
// method is safe to call on a nil client.
func NewClient(cfg config.WhatsAppConfig, log *logger.Logger) *Client {
	if cfg.GetWhatsAppToken() == "" || cfg.GetWhatsAppPhoneNumberID() == "" {
		return nil
	}

	return &Client{
		baseURL:       strings.TrimRight(cfg.GetWhatsAppAPIURL(), "/"),
		token:         cfg.GetWhatsAppToken(),
		phoneNumberID: cfg.GetWhatsAppPhoneNumberID(),
		http:          &http.Client{Timeout: 10 * time.Second},
		limiter:       rate.NewLimiter(rate.Limit(20), 5),
		log:           log,
	}
}

func (c *Client) IsConfigured() bool { return c != nil }

func (c *Client) Platform() domain.Platform { return domain.PlatformWhatsApp }

func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	if c == nil {
		return nil
	}
	return c.send(ctx, c.outgoing(chatID, "text", func(m *graphMessage) {
		m.Text = &graphText{Body: text}
	}))
}

func (c *Client) SendImage(ctx context.Context, chatID, url, caption string) error {
	if c == nil {
		return nil
	}
	return c.send(ctx, c.outgoing(chatID, "image", func(m *graphMessage) {
		m.Image = &graphLink{Link: url, Caption: caption}
	}))
}

func (c *Client) SendVideo(ctx context.Context, chatID, url, caption string) error {
	if c == nil {
		return nil
	}
	return c.send(ctx, c.outgoing(chatID, "video", func(m *graphMessage) {
		m.Video = &graphLink{Link: url, Caption: caption}
	}))
}

// SendTypingIndicator is a no-op: the Cloud API has no standalone typing
// call outside of a read receipt for a specific message.
func (c *Client) SendTypingIndicator(_ context.Context, _ string) error {
	return nil
}

// MarkRead sends a read receipt for an inbound message.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	if c == nil || messageID == "" {
		return nil
	}
	return c.send(ctx, graphMessage{MessagingProduct: "whatsapp", Status: "read", MessageID: messageID})
}

// ResolveMediaDownloadURL looks up the short-lived URL of a media id. The
// URL itself still needs the bearer token; use DownloadMedia to fetch it.
func (c *Client) ResolveMediaDownloadURL(ctx context.Context, mediaID string) (string, error) {
	media, err := c.lookupMedia(ctx, mediaID)
	if err != nil {
		return "", err
	}
	return media.URL, nil
}

func (c *Client) DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	media, err := c.lookupMedia(ctx, mediaID)
	if err != nil {
		return nil, "", err
	}

	data, mimeType, err := channels.Fetch(ctx, c.http, media.URL, c.token)
	if err != nil {
		return nil, "", err
	}
	if media.MimeType != "" {
		mimeType = media.MimeType
	}
	return data, mimeType, nil
}

func (c *Client) lookupMedia(ctx context.Context, mediaID string) (graphMedia, error) {
	if c == nil {
		return graphMedia{}, fmt.Errorf("whatsapp client not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", c.baseURL, mediaID), nil)
	if err != nil {
		return graphMedia{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return graphMedia{}, fmt.Errorf("whatsapp media lookup failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return graphMedia{}, fmt.Errorf("whatsapp media lookup returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var media graphMedia
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return graphMedia{}, fmt.Errorf("decode whatsapp media: %w", err)
	}
	if media.URL == "" {
		return graphMedia{}, fmt.Errorf("whatsapp media %s has no url", mediaID)
	}
	return media, nil
}

func (c *Client) outgoing(chatID, kind string, fill func(*graphMessage)) graphMessage {
	msg := graphMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               phone.WhatsAppID(chatID),
		Type:             kind,
	}
	fill(&msg)
	return msg
}

func (c *Client) send(ctx context.Context, payload graphMessage) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	c.log.Debug("whatsapp message sent", "type", payload.Type, "to", payload.To)
	return nil
}
