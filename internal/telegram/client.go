// Package telegram is a minimal Telegram Bot API client covering the calls
// the conversation worker needs.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/platform/config"
	"chatfunnel_backend/platform/logger"

	"golang.org/x/time/rate"
)

// Bot API allows roughly 30 messages per second per bot.
const (
	sendRate  = 25
	sendBurst = 5
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type sendPhotoRequest struct {
	ChatID  string `json:"chat_id"`
	Photo   string `json:"photo"`
	Caption string `json:"caption,omitempty"`
}

type sendVideoRequest struct {
	ChatID  string `json:"chat_id"`
	Video   string `json:"video"`
	Caption string `json:"caption,omitempty"`
}

type chatActionRequest struct {
	ChatID string `json:"chat_id"`
	Action string `json:"action"`
}

type getFileRequest struct {
	FileID string `json:"file_id"`
}

type fileResult struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

// NewClient returns nil when no bot token is configured; every method is
// safe to call on a nil client.
func NewClient(cfg config.TelegramConfig, log *logger.Logger) *Client {
	if cfg.GetTelegramBotToken() == "" {
		return nil
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.GetTelegramAPIURL(), "/"),
		token:   cfg.GetTelegramBotToken(),
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(sendRate), sendBurst),
		log:     log,
	}
}

func (c *Client) IsConfigured() bool { return c != nil }

func (c *Client) Platform() domain.Platform { return domain.PlatformTelegram }

func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	if c == nil {
		return nil
	}
	return c.call(ctx, "sendMessage", sendMessageRequest{ChatID: chatID, Text: text}, nil)
}

func (c *Client) SendImage(ctx context.Context, chatID, url, caption string) error {
	if c == nil {
		return nil
	}
	return c.call(ctx, "sendPhoto", sendPhotoRequest{ChatID: chatID, Photo: url, Caption: caption}, nil)
}

// SendVideo accepts either a public URL or a Telegram file id.
func (c *Client) SendVideo(ctx context.Context, chatID, url, caption string) error {
	if c == nil {
		return nil
	}
	return c.call(ctx, "sendVideo", sendVideoRequest{ChatID: chatID, Video: url, Caption: caption}, nil)
}

func (c *Client) SendTypingIndicator(ctx context.Context, chatID string) error {
	if c == nil {
		return nil
	}
	return c.call(ctx, "sendChatAction", chatActionRequest{ChatID: chatID, Action: "typing"}, nil)
}

// SendCopyableCode wraps the code in <code> so clients copy it on tap.
func (c *Client) SendCopyableCode(ctx context.Context, chatID, code string) error {
	if c == nil {
		return nil
	}
	text := "<code>" + html.EscapeString(code) + "</code>"
	return c.call(ctx, "sendMessage", sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "HTML"}, nil)
}

// ResolveMediaDownloadURL turns a file id into a downloadable URL. The URL
// embeds the bot token and must not be persisted.
func (c *Client) ResolveMediaDownloadURL(ctx context.Context, fileID string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("telegram client not configured")
	}
	if strings.HasPrefix(fileID, "http://") || strings.HasPrefix(fileID, "https://") {
		return fileID, nil
	}

	var file fileResult
	if err := c.call(ctx, "getFile", getFileRequest{FileID: fileID}, &file); err != nil {
		return "", err
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("telegram getFile returned no path for %s", fileID)
	}
	return fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, file.FilePath), nil
}

func (c *Client) call(ctx context.Context, method string, payload any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The URL carries the token; never surface it.
		return fmt.Errorf("telegram %s request failed", method)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read telegram %s response: %w", method, err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("telegram %s returned %d: %s", method, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if !parsed.OK {
		if parsed.Parameters != nil && parsed.Parameters.RetryAfter > 0 {
			c.log.Warn("telegram rate limited", "method", method, "retryAfter", parsed.Parameters.RetryAfter)
		}
		return fmt.Errorf("telegram %s failed (%d): %s", method, parsed.ErrorCode, parsed.Description)
	}

	if out != nil {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return fmt.Errorf("decode telegram %s result: %w", method, err)
		}
	}
	return nil
}
