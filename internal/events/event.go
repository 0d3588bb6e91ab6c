// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"context"

	"chatfunnel_backend/platform/events"
	"chatfunnel_backend/platform/logger"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Conversation Domain Events
// =============================================================================

// TurnProcessed is published after the worker finished one pass for a session.
type TurnProcessed struct {
	BaseEvent
	SessionID     uuid.UUID `json:"sessionId"`
	Status        string    `json:"status"`
	PreviousStage string    `json:"previousStage"`
	Stage         string    `json:"stage"`
	Action        string    `json:"action"`
	Fallback      bool      `json:"fallback"`
}

func (e TurnProcessed) EventName() string { return "conversations.turn.processed" }

// StageChanged is published when the funnel stage of a session moves.
type StageChanged struct {
	BaseEvent
	SessionID uuid.UUID `json:"sessionId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Source    string    `json:"source"`
}

func (e StageChanged) EventName() string { return "conversations.stage.changed" }

// =============================================================================
// Payment Domain Events
// =============================================================================

// PaymentCreated is published when a new payment code was issued.
type PaymentCreated struct {
	BaseEvent
	SessionID uuid.UUID `json:"sessionId"`
	PaymentID string    `json:"paymentId"`
	Value     float64   `json:"value"`
}

func (e PaymentCreated) EventName() string { return "payments.payment.created" }

// PaymentConfirmed is published once per payment when the provider reports it paid.
type PaymentConfirmed struct {
	BaseEvent
	SessionID uuid.UUID `json:"sessionId"`
	PaymentID string    `json:"paymentId"`
	Value     float64   `json:"value"`
	TotalPaid float64   `json:"totalPaid"`
}

func (e PaymentConfirmed) EventName() string { return "payments.payment.confirmed" }

// =============================================================================
// Re-engagement Events
// =============================================================================

// ReengagementSent is published after an idle session was nudged.
type ReengagementSent struct {
	BaseEvent
	SessionID uuid.UUID `json:"sessionId"`
	Platform  string    `json:"platform"`
}

func (e ReengagementSent) EventName() string { return "conversations.reengagement.sent" }

// RegisterAuditLog subscribes a handler that writes every domain event to the log.
func RegisterAuditLog(bus Bus, log *logger.Logger) {
	audit := HandlerFunc(func(ctx context.Context, event Event) error {
		log.WithContext(ctx).Info("domain event", "event", event.EventName(), "payload", event)
		return nil
	})
	for _, name := range []string{
		TurnProcessed{}.EventName(),
		StageChanged{}.EventName(),
		PaymentCreated{}.EventName(),
		PaymentConfirmed{}.EventName(),
		ReengagementSent{}.EventName(),
	} {
		bus.Subscribe(name, audit)
	}
}
