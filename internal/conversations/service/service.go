// Package service holds the conversation operations exposed over HTTP:
// inbound ingest, manual processing triggers and operator controls.
package service

import (
	"context"
	"fmt"
	"strings"

	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/platform/apperr"
	"chatfunnel_backend/platform/logger"

	"github.com/google/uuid"
)

// Store is the persistence the service needs.
type Store interface {
	GetSession(ctx context.Context, id uuid.UUID) (domain.Session, error)
	UpsertInboundSession(ctx context.Context, platform domain.Platform, externalChatID, userName string) (domain.Session, bool, error)
	InsertMessage(ctx context.Context, m *domain.Message) error
	SetStatus(ctx context.Context, id uuid.UUID, status domain.SessionStatus) error
}

// ProcessEnqueuer schedules a worker pass.
type ProcessEnqueuer interface {
	EnqueueProcess(ctx context.Context, sessionID uuid.UUID, triggerMessageID *uuid.UUID, force bool) error
}

// Inbound is a normalized user message from any channel.
type Inbound struct {
	Platform domain.Platform
	ChatID   string
	UserName string
	Content  string
}

// IngestResult reports what happened to an inbound message.
type IngestResult struct {
	SessionID  uuid.UUID `json:"sessionId"`
	MessageID  uuid.UUID `json:"messageId"`
	NewSession bool      `json:"newSession"`
	Queued     bool      `json:"queued"`
}

// Service implements the conversation use cases.
type Service struct {
	store Store
	queue ProcessEnqueuer
	log   *logger.Logger
}

// New creates a service.
func New(store Store, queue ProcessEnqueuer, log *logger.Logger) *Service {
	return &Service{store: store, queue: queue, log: log}
}

// Ingest stores an inbound message and schedules a pass for it. Paused
// sessions keep collecting messages without being answered.
func (s *Service) Ingest(ctx context.Context, in Inbound) (IngestResult, error) {
	content := strings.TrimSpace(in.Content)
	chatID := strings.TrimSpace(in.ChatID)
	if chatID == "" || content == "" {
		return IngestResult{}, apperr.Validation("chat id and content are required")
	}

	session, created, err := s.store.UpsertInboundSession(ctx, in.Platform, chatID, strings.TrimSpace(in.UserName))
	if err != nil {
		return IngestResult{}, err
	}

	msg := &domain.Message{SessionID: session.ID, Sender: domain.SenderUser, Content: content}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return IngestResult{}, err
	}

	result := IngestResult{SessionID: session.ID, MessageID: msg.ID, NewSession: created}
	if session.Status != domain.SessionActive {
		s.log.WithContext(ctx).Info("message stored for inactive session", "sessionId", session.ID, "status", session.Status)
		return result, nil
	}

	trigger := msg.ID
	if err := s.queue.EnqueueProcess(ctx, session.ID, &trigger, false); err != nil {
		return result, fmt.Errorf("enqueue process: %w", err)
	}
	result.Queued = true
	return result, nil
}

// TriggerProcess schedules a pass for an existing session.
func (s *Service) TriggerProcess(ctx context.Context, sessionID uuid.UUID, triggerMessageID *uuid.UUID, force bool) error {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return err
	}
	return s.queue.EnqueueProcess(ctx, sessionID, triggerMessageID, force)
}

// ForceSale makes the next pass steer the conversation to the offer, even
// on a paused session.
func (s *Service) ForceSale(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return err
	}

	marker := &domain.Message{SessionID: sessionID, Sender: domain.SenderSystem, Content: domain.AdminTriggerMarker}
	if err := s.store.InsertMessage(ctx, marker); err != nil {
		return err
	}
	return s.queue.EnqueueProcess(ctx, sessionID, nil, true)
}

// SetPaused stops or restarts automatic replies for a session.
func (s *Service) SetPaused(ctx context.Context, sessionID uuid.UUID, paused bool) error {
	status := domain.SessionActive
	if paused {
		status = domain.SessionPaused
	}
	if err := s.store.SetStatus(ctx, sessionID, status); err != nil {
		return err
	}
	s.log.WithContext(ctx).Info("session status changed", "sessionId", sessionID, "status", status)
	return nil
}
