package whatsapp

import (
	"strings"

	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/platform/phone"
)

// WebhookPayload is the Cloud API change notification envelope.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Contacts         []Contact        `json:"contacts"`
	Messages         []InboundMessage `json:"messages"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type InboundMessage struct {
	ID        string     `json:"id"`
	From      string     `json:"from"`
	Timestamp string     `json:"timestamp"`
	Type      string     `json:"type"`
	Text      *graphText `json:"text"`
	Audio     *mediaRef  `json:"audio"`
	Voice     *mediaRef  `json:"voice"`
	Image     *mediaRef  `json:"image"`
	Video     *mediaRef  `json:"video"`
}

type mediaRef struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

// Inbound is one flattened user message.
type Inbound struct {
	MessageID string
	ChatID    string
	UserName  string
	Content   string
}

// Messages flattens every user message in the payload. Status callbacks
// and unsupported types are skipped.
func (p WebhookPayload) Messages() []Inbound {
	var out []Inbound
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				content := m.content()
				if content == "" {
					continue
				}
				out = append(out, Inbound{
					MessageID: m.ID,
					ChatID:    phone.WhatsAppID(m.From),
					UserName:  names[m.From],
					Content:   content,
				})
			}
		}
	}
	return out
}

func (m InboundMessage) content() string {
	switch m.Type {
	case "text":
		if m.Text != nil {
			return strings.TrimSpace(m.Text.Body)
		}
	case "audio":
		if m.Audio != nil {
			return domain.AudioPlaceholder(m.Audio.ID)
		}
	case "voice":
		if m.Voice != nil {
			return domain.AudioPlaceholder(m.Voice.ID)
		}
	case "image":
		if m.Image != nil {
			return domain.PhotoPlaceholder(m.Image.ID, m.Image.Caption)
		}
	case "video":
		if m.Video != nil {
			return domain.VideoPlaceholder(m.Video.ID, m.Video.Caption)
		}
	}
	return ""
}
