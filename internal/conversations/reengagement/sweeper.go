// Package reengagement nudges sessions that went quiet after the bot spoke.
package reengagement

import (
	"context"
	"math/rand/v2"
	"time"

	"chatfunnel_backend/internal/conversations/channels"
	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/internal/conversations/settings"
	"chatfunnel_backend/internal/events"
	"chatfunnel_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const sendConcurrency = 4

// Store is the persistence the sweeper needs.
type Store interface {
	ListIdleSessions(ctx context.Context, idleBefore time.Time, limit int) ([]domain.Session, error)
	MarkReengagementSent(ctx context.Context, id uuid.UUID) (bool, error)
	InsertMessage(ctx context.Context, m *domain.Message) error
}

// ChannelResolver returns the adapter of a platform.
type ChannelResolver interface {
	For(platform domain.Platform) (channels.Adapter, error)
}

// Sweeper sends at most one nudge per idle period.
type Sweeper struct {
	store    Store
	channels ChannelResolver
	bus      events.Bus
	log      *logger.Logger
	now      func() time.Time
	pick     func(n int) int
}

// New creates a sweeper.
func New(store Store, ch ChannelResolver, bus events.Bus, log *logger.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		channels: ch,
		bus:      bus,
		log:      log,
		now:      time.Now,
		pick:     rand.IntN,
	}
}

// Sweep nudges up to rt.ReengagementBatch idle sessions and returns how many
// were sent. Per-session failures are logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context, rt settings.Runtime) (int, error) {
	if !rt.ReengagementEnabled || len(rt.ReengagementMessages) == 0 {
		return 0, nil
	}

	idle, err := s.store.ListIdleSessions(ctx, s.now().Add(-rt.ReengagementIdle), rt.ReengagementBatch)
	if err != nil {
		return 0, err
	}

	sent := make([]bool, len(idle))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sendConcurrency)
	for i, session := range idle {
		text := rt.ReengagementMessages[s.pick(len(rt.ReengagementMessages))]
		g.Go(func() error {
			sent[i] = s.nudge(gctx, session, text)
			return nil
		})
	}
	_ = g.Wait()

	count := 0
	for _, ok := range sent {
		if ok {
			count++
		}
	}
	if count > 0 {
		s.log.WithContext(ctx).Info("re-engagement sweep finished", "candidates", len(idle), "sent", count)
	}
	return count, nil
}

// nudge claims the session before sending so overlapping sweeps never
// double-send.
func (s *Sweeper) nudge(ctx context.Context, session domain.Session, text string) bool {
	log := s.log.WithContext(ctx).WithSessionID(session.ID.String())

	claimed, err := s.store.MarkReengagementSent(ctx, session.ID)
	if err != nil {
		log.Warn("re-engagement claim failed", "error", err)
		return false
	}
	if !claimed {
		return false
	}

	ch, err := s.channels.For(session.Platform)
	if err != nil {
		log.Warn("no channel for session", "platform", session.Platform, "error", err)
		return false
	}
	if err := ch.SendText(ctx, session.ExternalChatID, text); err != nil {
		log.ChannelError(string(session.Platform), "reengagement", err)
		return false
	}

	if err := s.store.InsertMessage(ctx, &domain.Message{SessionID: session.ID, Sender: domain.SenderBot, Content: text}); err != nil {
		log.Warn("re-engagement message not recorded", "error", err)
	}

	s.bus.Publish(ctx, events.ReengagementSent{
		BaseEvent: events.NewBaseEvent(),
		SessionID: session.ID,
		Platform:  string(session.Platform),
	})
	return true
}
