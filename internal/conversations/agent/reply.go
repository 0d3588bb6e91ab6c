// Package agent is the reply generation gateway: it turns the assembled turn
// context into a structured reply from the language model.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatfunnel_backend/internal/conversations/domain"

	"github.com/google/uuid"
)

// ErrMalformedReply is returned when the model output is not the expected JSON.
var ErrMalformedReply = errors.New("malformed reply")

// TurnRole is the speaker of a history turn.
type TurnRole string

const (
	RoleUser TurnRole = "user"
	RoleBot  TurnRole = "bot"
)

// Turn is one prior message shown to the model.
type Turn struct {
	Role TurnRole
	Text string
}

// Media is an inline attachment sent along with the user text.
type Media struct {
	MIMEType string
	Data     []byte
}

// Request is the context bundle for one generation.
type Request struct {
	SessionID         uuid.UUID
	Stage             domain.Stage
	Score             domain.LeadScore
	City              string
	NeighborCity      string
	TotalPaid         float64
	MinutesSinceOffer *int
	VariantContent    string
	Annotations       []string
	Previews          []domain.PreviewAsset
	Persona           string
	History           []Turn
	UserText          string
	Media             []Media
	Now               time.Time
}

// Reply is the structured output of the generator.
type Reply struct {
	InternalNote   string
	Classification string
	// Score is nil when the model returned no usable vector.
	Score         *domain.LeadScore
	Stage         string
	ActionTag     string
	Action        domain.Action
	// UnknownAction is set when ActionTag named no usable action; Action is
	// then NoAction.
	UnknownAction bool
	Messages      []string
	Transcription string
	ExtractedName string
	// Fallback marks the neutral reply used after generation failed. It must
	// not change scores or stage.
	Fallback bool
}

// Generator produces a reply for a turn.
type Generator interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}

type wireStats struct {
	Lust        *float64 `json:"lust"`
	Financial   *float64 `json:"financial"`
	Affection   *float64 `json:"affection"`
	Sentimental *float64 `json:"sentimental"`
}

type wireReply struct {
	InternalThought    string                 `json:"internal_thought"`
	LeadClassification string                 `json:"lead_classification"`
	LeadStats          *wireStats             `json:"lead_stats"`
	ExtractedUserName  *string                `json:"extracted_user_name"`
	AudioTranscription *string                `json:"audio_transcription"`
	CurrentState       string                 `json:"current_state"`
	Messages           []string               `json:"messages"`
	Action             string                 `json:"action"`
	PreviewID          *string                `json:"preview_id"`
	PaymentDetails     *domain.PaymentDetails `json:"payment_details"`
}

// ParseReply decodes model output. Metrics the model left out keep their
// previous value; an absent vector yields a nil Score.
func ParseReply(raw string, previous domain.LeadScore) (Reply, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var wire wireReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &wire); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	reply := Reply{
		InternalNote:   strings.TrimSpace(wire.InternalThought),
		Classification: wire.LeadClassification,
		Stage:          strings.TrimSpace(wire.CurrentState),
		ActionTag:      strings.TrimSpace(wire.Action),
		Messages:       wire.Messages,
	}
	if wire.AudioTranscription != nil {
		reply.Transcription = strings.TrimSpace(*wire.AudioTranscription)
	}
	if wire.ExtractedUserName != nil {
		reply.ExtractedName = strings.TrimSpace(*wire.ExtractedUserName)
	}
	if wire.LeadStats != nil {
		score := previous
		for metric, value := range map[domain.Metric]*float64{
			domain.MetricLust:        wire.LeadStats.Lust,
			domain.MetricFinancial:   wire.LeadStats.Financial,
			domain.MetricAffection:   wire.LeadStats.Affection,
			domain.MetricSentimental: wire.LeadStats.Sentimental,
		} {
			if value != nil {
				score = score.With(metric, domain.ClampFloat(*value))
			}
		}
		reply.Score = &score
	}

	previewID := ""
	if wire.PreviewID != nil {
		previewID = *wire.PreviewID
	}
	action, ok := domain.ParseAction(reply.ActionTag, previewID, wire.PaymentDetails)
	reply.Action = action
	reply.UnknownAction = !ok
	return reply, nil
}

// FallbackMessage is sent when no reply could be generated.
const FallbackMessage = "minha internet ta ruim agora, manda de novo?"

// FallbackReply is the neutral reply substituted after generation failed.
func FallbackReply(cause error) Reply {
	note := "reply generation failed"
	if cause != nil {
		note += ": " + cause.Error()
	}
	return Reply{
		InternalNote: note,
		ActionTag:    domain.TagNone,
		Action:       domain.NoAction{},
		Messages:     []string{FallbackMessage},
		Fallback:     true,
	}
}
