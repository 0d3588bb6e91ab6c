package service

import (
	"context"
	"testing"

	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/platform/apperr"
	"chatfunnel_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type enqueued struct {
	sessionID uuid.UUID
	trigger   *uuid.UUID
	force     bool
}

type fakeQueue struct {
	calls []enqueued
}

func (q *fakeQueue) EnqueueProcess(_ context.Context, sessionID uuid.UUID, trigger *uuid.UUID, force bool) error {
	q.calls = append(q.calls, enqueued{sessionID: sessionID, trigger: trigger, force: force})
	return nil
}

type fakeStore struct {
	session  domain.Session
	messages []domain.Message
	statuses []domain.SessionStatus
}

func (s *fakeStore) GetSession(_ context.Context, id uuid.UUID) (domain.Session, error) {
	if id != s.session.ID {
		return domain.Session{}, apperr.NotFound("session not found")
	}
	return s.session, nil
}

func (s *fakeStore) UpsertInboundSession(_ context.Context, platform domain.Platform, chatID, name string) (domain.Session, bool, error) {
	created := s.session.ID == uuid.Nil
	if created {
		s.session = domain.Session{ID: uuid.New(), Platform: platform, ExternalChatID: chatID, UserName: name, Status: domain.SessionActive}
	}
	return s.session, created, nil
}

func (s *fakeStore) InsertMessage(_ context.Context, m *domain.Message) error {
	m.ID = uuid.New()
	s.messages = append(s.messages, *m)
	return nil
}

func (s *fakeStore) SetStatus(_ context.Context, id uuid.UUID, status domain.SessionStatus) error {
	if id != s.session.ID {
		return apperr.NotFound("session not found")
	}
	s.statuses = append(s.statuses, status)
	s.session.Status = status
	return nil
}

func TestIngestStoresAndQueuesWithTrigger(t *testing.T) {
	store, queue := &fakeStore{}, &fakeQueue{}
	svc := New(store, queue, logger.Discard())

	res, err := svc.Ingest(context.Background(), Inbound{Platform: domain.PlatformTelegram, ChatID: "42", UserName: "Ana", Content: " oi "})
	require.NoError(t, err)

	assert.True(t, res.NewSession)
	assert.True(t, res.Queued)
	require.Len(t, store.messages, 1)
	assert.Equal(t, "oi", store.messages[0].Content)
	assert.Equal(t, domain.SenderUser, store.messages[0].Sender)

	require.Len(t, queue.calls, 1)
	assert.Equal(t, res.SessionID, queue.calls[0].sessionID)
	require.NotNil(t, queue.calls[0].trigger)
	assert.Equal(t, res.MessageID, *queue.calls[0].trigger)
	assert.False(t, queue.calls[0].force)
}

func TestIngestOnPausedSessionDoesNotQueue(t *testing.T) {
	store := &fakeStore{session: domain.Session{ID: uuid.New(), Status: domain.SessionPaused}}
	queue := &fakeQueue{}
	svc := New(store, queue, logger.Discard())

	res, err := svc.Ingest(context.Background(), Inbound{Platform: domain.PlatformWhatsApp, ChatID: "5511999999999", Content: "ei"})
	require.NoError(t, err)
	assert.False(t, res.Queued)
	assert.Len(t, store.messages, 1)
	assert.Empty(t, queue.calls)
}

func TestIngestRejectsEmptyContent(t *testing.T) {
	svc := New(&fakeStore{}, &fakeQueue{}, logger.Discard())
	_, err := svc.Ingest(context.Background(), Inbound{Platform: domain.PlatformTelegram, ChatID: "1", Content: "  "})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestForceSaleInsertsMarkerAndForces(t *testing.T) {
	store := &fakeStore{session: domain.Session{ID: uuid.New(), Status: domain.SessionPaused}}
	queue := &fakeQueue{}
	svc := New(store, queue, logger.Discard())

	require.NoError(t, svc.ForceSale(context.Background(), store.session.ID))

	require.Len(t, store.messages, 1)
	assert.Equal(t, domain.SenderSystem, store.messages[0].Sender)
	assert.True(t, domain.IsAdminTrigger(store.messages[0].Content))
	require.Len(t, queue.calls, 1)
	assert.True(t, queue.calls[0].force)
	assert.Nil(t, queue.calls[0].trigger)
}

func TestForceSaleUnknownSession(t *testing.T) {
	svc := New(&fakeStore{session: domain.Session{ID: uuid.New()}}, &fakeQueue{}, logger.Discard())
	err := svc.ForceSale(context.Background(), uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestSetPaused(t *testing.T) {
	store := &fakeStore{session: domain.Session{ID: uuid.New(), Status: domain.SessionActive}}
	svc := New(store, &fakeQueue{}, logger.Discard())

	require.NoError(t, svc.SetPaused(context.Background(), store.session.ID, true))
	require.NoError(t, svc.SetPaused(context.Background(), store.session.ID, false))
	assert.Equal(t, []domain.SessionStatus{domain.SessionPaused, domain.SessionActive}, store.statuses)
}
