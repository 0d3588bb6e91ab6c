package worker

import (
	"strings"

	"chatfunnel_backend/internal/conversations/domain"

	"github.com/google/uuid"
)

// Batch is the set of unanswered inbound messages processed in one turn.
type Batch struct {
	Messages        []domain.Message
	Combined        string
	UserOnly        string
	UserContents    []string
	HasAdminTrigger bool
	// AdminTriggerIDs are the force-sale markers this turn consumes.
	AdminTriggerIDs []uuid.UUID
}

// Empty reports whether there is nothing to answer.
func (b Batch) Empty() bool {
	return len(b.Messages) == 0
}

// AssembleBatch keeps user messages and force-sale markers, in order.
func AssembleBatch(messages []domain.Message) Batch {
	var (
		b        Batch
		combined []string
	)
	for _, m := range messages {
		switch {
		case m.Sender == domain.SenderUser:
			b.UserContents = append(b.UserContents, m.Content)
		case m.Sender == domain.SenderSystem && domain.IsAdminTrigger(m.Content):
			b.HasAdminTrigger = true
			b.AdminTriggerIDs = append(b.AdminTriggerIDs, m.ID)
		default:
			continue
		}
		b.Messages = append(b.Messages, m)
		combined = append(combined, m.Content)
	}
	b.Combined = strings.Join(combined, "\n")
	b.UserOnly = strings.Join(b.UserContents, "\n")
	return b
}

// messageWith returns the newest user message of the batch containing ref.
func (b Batch) messageWith(ref string) *domain.Message {
	for i := len(b.Messages) - 1; i >= 0; i-- {
		m := b.Messages[i]
		if m.Sender == domain.SenderUser && strings.Contains(m.Content, ref) {
			return &m
		}
	}
	return nil
}
