package telegram

import (
	"strconv"
	"strings"

	"chatfunnel_backend/internal/conversations/domain"
)

// Update is the subset of a webhook update the ingest path reads.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	MessageID int64       `json:"message_id"`
	From      *User       `json:"from"`
	Chat      Chat        `json:"chat"`
	Text      string      `json:"text"`
	Caption   string      `json:"caption"`
	Voice     *File       `json:"voice"`
	Audio     *File       `json:"audio"`
	Video     *File       `json:"video"`
	Photo     []PhotoSize `json:"photo"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type Chat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

type File struct {
	FileID   string `json:"file_id"`
	MimeType string `json:"mime_type"`
}

type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int    `json:"file_size"`
}

// Inbound is an update flattened into what the ingest service stores.
type Inbound struct {
	ChatID   string
	UserName string
	Content  string
}

// ToInbound flattens a message update. Media becomes a placeholder line the
// worker can resolve later. ok is false for updates without content or
// from bots.
func (u Update) ToInbound() (Inbound, bool) {
	m := u.Message
	if m == nil || (m.From != nil && m.From.IsBot) {
		return Inbound{}, false
	}

	var content string
	switch {
	case m.Voice != nil:
		content = domain.AudioPlaceholder(m.Voice.FileID)
	case m.Audio != nil:
		content = domain.AudioPlaceholder(m.Audio.FileID)
	case m.Video != nil:
		content = domain.VideoPlaceholder(m.Video.FileID, m.Caption)
	case len(m.Photo) > 0:
		// Sizes are ascending; the last is the largest.
		content = domain.PhotoPlaceholder(m.Photo[len(m.Photo)-1].FileID, m.Caption)
	default:
		content = strings.TrimSpace(m.Text)
	}
	if content == "" {
		return Inbound{}, false
	}

	name := m.Chat.FirstName
	if m.From != nil {
		name = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
		if name == "" {
			name = m.From.Username
		}
	}

	return Inbound{
		ChatID:   strconv.FormatInt(m.Chat.ID, 10),
		UserName: name,
		Content:  content,
	}, true
}
