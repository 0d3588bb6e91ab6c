package domain

import (
	"time"

	"github.com/google/uuid"
)

// Platform is the chat channel a session lives on.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformWhatsApp Platform = "whatsapp"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionPaused SessionStatus = "paused"
	SessionClosed SessionStatus = "closed"
)

// Session is one conversation with one counterpart on one channel.
type Session struct {
	ID                uuid.UUID
	Platform          Platform
	ExternalChatID    string
	UserName          string
	Status            SessionStatus
	Stage             Stage // empty until the first processed turn
	Score             *LeadScore
	TotalPaid         float64
	City              string
	LastBotActivityAt *time.Time
	LastMessageAt     time.Time
	ReengagementSent  bool
	CreatedAt         time.Time
}

// CurrentScore returns the stored score, or the default vector for new sessions.
func (s Session) CurrentScore() LeadScore {
	if s.Score == nil {
		return DefaultLeadScore()
	}
	return s.Score.Clamp()
}

// Sender is the role that produced a message.
type Sender string

const (
	SenderUser    Sender = "user"
	SenderBot     Sender = "bot"
	SenderSystem  Sender = "system"
	SenderAdmin   Sender = "admin"
	SenderThought Sender = "thought"
)

// MediaType is the kind of media attached to a message or asset.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

// Message is one append-only entry of a session's transcript.
type Message struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Sender    Sender
	Content   string
	MediaURL  string
	MediaType MediaType
	Payment   *PaymentRecord
	CreatedAt time.Time
}

// PaymentRecord is the payload of a "payment generated" system message.
type PaymentRecord struct {
	PaymentID    string     `json:"paymentId"`
	Value        float64    `json:"value"`
	Description  string     `json:"description,omitempty"`
	ProviderCode string     `json:"pixCopiaCola,omitempty"`
	Paid         bool       `json:"paid"`
	Status       string     `json:"status,omitempty"`
	PaidAt       *time.Time `json:"paidAt,omitempty"`
	ResentAt     *time.Time `json:"resentAt,omitempty"`
}

// PromptVariant is a stage-specific content fragment competing in the bandit.
type PromptVariant struct {
	ID        uuid.UUID
	Stage     Stage
	Content   string
	Enabled   bool
	Weight    float64
	Successes int
	Failures  int
}

// VariantAssignment records that a variant was shown on a turn.
type VariantAssignment struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	VariantID uuid.UUID
	Stage     Stage
	Success   *bool
}

// FunnelEventSource says which component decided a stage change.
type FunnelEventSource string

const (
	FunnelSourceAI     FunnelEventSource = "ai"
	FunnelSourceSystem FunnelEventSource = "system"
)

// PreviewAsset is an entry of the dynamic preview catalog.
type PreviewAsset struct {
	ID          uuid.UUID
	Name        string
	Description string
	MediaType   MediaType
	MediaURL    string
	Stage       Stage
	MinScore    int
	MaxScore    int
	Tags        []string
	Triggers    string
	Priority    int
	Enabled     bool
}
