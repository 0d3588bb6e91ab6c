package worker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chatfunnel_backend/internal/conversations/agent"
	"chatfunnel_backend/internal/conversations/channels"
	"chatfunnel_backend/internal/conversations/dispatch"
	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/internal/conversations/experiments"
	"chatfunnel_backend/internal/conversations/lock"
	"chatfunnel_backend/internal/conversations/settings"
	"chatfunnel_backend/internal/conversations/signals"
	"chatfunnel_backend/internal/events"
	"chatfunnel_backend/platform/apperr"
	"chatfunnel_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type turnState struct {
	stage domain.Stage
	score domain.LeadScore
}

type fakeStore struct {
	mu           sync.Mutex
	session      domain.Session
	messages     []domain.Message
	clock        time.Time
	turnStates   []turnState
	funnelEvents []domain.Stage
	cities       []string
	names        []string
	mediaRefs    map[uuid.UUID]string
	touched      int
}

func newFakeStore(session domain.Session) *fakeStore {
	return &fakeStore{
		session:   session,
		clock:     time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC),
		mediaRefs: make(map[uuid.UUID]string),
	}
}

func (s *fakeStore) add(sender domain.Sender, content string) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Add(time.Second)
	m := domain.Message{ID: uuid.New(), SessionID: s.session.ID, Sender: sender, Content: content, CreatedAt: s.clock}
	s.messages = append(s.messages, m)
	return m
}

func (s *fakeStore) bySender(sender domain.Sender) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.Sender == sender {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeStore) GetSession(_ context.Context, id uuid.UUID) (domain.Session, error) {
	if id != s.session.ID {
		return domain.Session{}, apperr.NotFound("session not found")
	}
	return s.session, nil
}

func (s *fakeStore) LatestUserMessage(_ context.Context, _ uuid.UUID) (*domain.Message, error) {
	users := s.bySender(domain.SenderUser)
	if len(users) == 0 {
		return nil, nil
	}
	return &users[len(users)-1], nil
}

func (s *fakeStore) PendingBatch(_ context.Context, _ uuid.UUID) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cutoff time.Time
	for _, m := range s.messages {
		if m.Sender == domain.SenderBot && m.CreatedAt.After(cutoff) {
			cutoff = m.CreatedAt
		}
	}
	var out []domain.Message
	for _, m := range s.messages {
		if !m.CreatedAt.After(cutoff) {
			continue
		}
		if m.Sender == domain.SenderUser || (m.Sender == domain.SenderSystem && domain.IsAdminTrigger(m.Content)) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) RecentMessages(_ context.Context, _ uuid.UUID, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := max(len(s.messages)-limit, 0)
	return append([]domain.Message(nil), s.messages[start:]...), nil
}

func (s *fakeStore) LastMessageBySender(_ context.Context, _ uuid.UUID, sender domain.Sender) (*domain.Message, error) {
	msgs := s.bySender(sender)
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[len(msgs)-1], nil
}

func (s *fakeStore) LastOfferAt(context.Context, uuid.UUID) (*time.Time, error) { return nil, nil }

func (s *fakeStore) ListEnabledPreviews(context.Context, int) ([]domain.PreviewAsset, error) {
	return nil, nil
}

func (s *fakeStore) UpdateCity(_ context.Context, _ uuid.UUID, city string) error {
	s.cities = append(s.cities, city)
	return nil
}

func (s *fakeStore) UpdateUserName(_ context.Context, _ uuid.UUID, name string) error {
	s.names = append(s.names, name)
	return nil
}

func (s *fakeStore) SaveTurnState(_ context.Context, _ uuid.UUID, stage domain.Stage, score domain.LeadScore) (bool, error) {
	s.turnStates = append(s.turnStates, turnState{stage: stage, score: score})
	return true, nil
}

func (s *fakeStore) InsertFunnelEvent(_ context.Context, _ uuid.UUID, stage domain.Stage, _ domain.FunnelEventSource) error {
	s.funnelEvents = append(s.funnelEvents, stage)
	return nil
}

func (s *fakeStore) InsertMessage(_ context.Context, m *domain.Message) error {
	s.add(m.Sender, m.Content)
	return nil
}

func (s *fakeStore) UpdateMessageContent(_ context.Context, id uuid.UUID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Content = content
		}
	}
	return nil
}

func (s *fakeStore) UpdateMessageMedia(_ context.Context, id uuid.UUID, url string, _ domain.MediaType) error {
	s.mediaRefs[id] = url
	return nil
}

func (s *fakeStore) TouchBotActivity(context.Context, uuid.UUID, time.Time) error {
	s.touched++
	return nil
}

func (s *fakeStore) DeleteAdminTriggers(_ context.Context, _ uuid.UUID, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.messages[:0]
	for _, m := range s.messages {
		if !drop[m.ID] {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	return nil
}

type fakeAdapter struct {
	texts   []string
	typings int
	failAll bool
}

func (a *fakeAdapter) Platform() domain.Platform { return domain.PlatformTelegram }
func (a *fakeAdapter) SendText(_ context.Context, _, text string) error {
	if a.failAll {
		return errors.New("blocked")
	}
	a.texts = append(a.texts, text)
	return nil
}
func (a *fakeAdapter) SendImage(context.Context, string, string, string) error { return nil }
func (a *fakeAdapter) SendVideo(context.Context, string, string, string) error { return nil }
func (a *fakeAdapter) SendTypingIndicator(context.Context, string) error {
	a.typings++
	return nil
}
func (a *fakeAdapter) ResolveMediaDownloadURL(_ context.Context, id string) (string, error) {
	return "https://files.test/" + id, nil
}

type fakeChannels struct {
	adapter   *fakeAdapter
	downloads map[string][]byte
}

func (c *fakeChannels) For(domain.Platform) (channels.Adapter, error) { return c.adapter, nil }

func (c *fakeChannels) Download(_ context.Context, _ channels.Adapter, fileID string) ([]byte, string, error) {
	data, ok := c.downloads[fileID]
	if !ok {
		return nil, "", errors.New("not found")
	}
	return data, "application/octet-stream", nil
}

type fakeGenerator struct {
	requests []agent.Request
	reply    agent.Reply
	err      error
}

func (g *fakeGenerator) Generate(_ context.Context, req agent.Request) (agent.Reply, error) {
	g.requests = append(g.requests, req)
	return g.reply, g.err
}

type noVariants struct{}

func (noVariants) Select(context.Context, uuid.UUID, domain.Stage) (*experiments.Selection, error) {
	return nil, nil
}

func (noVariants) Settle(context.Context, domain.VariantAssignment, domain.Stage, domain.Stage) (experiments.Outcome, error) {
	return experiments.OutcomeUnresolved, nil
}

type fakeDispatcher struct {
	requests []dispatch.Request
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req dispatch.Request) (dispatch.Result, error) {
	d.requests = append(d.requests, req)
	return dispatch.Result{Outcome: dispatch.OutcomeNone}, nil
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, uuid.UUID) (func(), error) { return nil, lock.ErrHeld }

type fixture struct {
	store      *fakeStore
	adapter    *fakeAdapter
	channels   *fakeChannels
	generator  *fakeGenerator
	dispatcher *fakeDispatcher
	bus        *events.InMemoryBus
	waits      []time.Duration
	processor  *Processor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	session := domain.Session{
		ID:             uuid.New(),
		Platform:       domain.PlatformTelegram,
		ExternalChatID: "42",
		Status:         domain.SessionActive,
	}
	f := &fixture{
		store:      newFakeStore(session),
		adapter:    &fakeAdapter{},
		generator:  &fakeGenerator{reply: agent.Reply{Action: domain.NoAction{}, ActionTag: domain.TagNone, Messages: []string{"oi, tudo bem?"}}},
		dispatcher: &fakeDispatcher{},
		bus:        events.NewInMemoryBus(logger.Discard()),
	}
	f.channels = &fakeChannels{adapter: f.adapter, downloads: map[string][]byte{}}

	base := []Option{
		WithSleeper(func(_ context.Context, d time.Duration) error {
			f.waits = append(f.waits, d)
			return nil
		}),
		WithClock(func() time.Time { return f.store.clock }),
	}
	f.processor = New(f.store, f.channels, f.generator, noVariants{}, f.dispatcher, f.bus, logger.Discard(), append(base, opts...)...)
	return f
}

func (f *fixture) trigger(msg domain.Message) Trigger {
	id := msg.ID
	return Trigger{SessionID: f.store.session.ID, MessageID: &id}
}

func testRuntime() settings.Runtime {
	rt := settings.Defaults()
	rt.InitialDelay = time.Second
	rt.TypingDelay = 3 * time.Second
	return rt
}

func TestStaleTriggerIsSupersededWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	first := f.store.add(domain.SenderUser, "oi")
	f.store.add(domain.SenderUser, "ta ai?")

	out, err := f.processor.Process(context.Background(), testRuntime(), f.trigger(first))
	require.NoError(t, err)

	assert.Equal(t, StatusSuperseded, out.Status)
	assert.Empty(t, f.generator.requests)
	assert.Empty(t, f.adapter.texts)
	assert.Empty(t, f.dispatcher.requests)
	assert.Empty(t, f.store.turnStates)
	assert.Empty(t, f.store.bySender(domain.SenderBot))
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, f.waits)
}

func TestPausedSessionIsSkippedUnlessForced(t *testing.T) {
	f := newFixture(t)
	f.store.session.Status = domain.SessionPaused
	msg := f.store.add(domain.SenderUser, "oi")

	out, err := f.processor.Process(context.Background(), testRuntime(), f.trigger(msg))
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, out.Status)
	assert.Empty(t, f.generator.requests)
	assert.Empty(t, f.waits)

	trig := f.trigger(msg)
	trig.Force = true
	out, err = f.processor.Process(context.Background(), testRuntime(), trig)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, out.Status)
	assert.Len(t, f.generator.requests, 1)
}

func TestDisabledAIDoesNothing(t *testing.T) {
	f := newFixture(t)
	msg := f.store.add(domain.SenderUser, "oi")
	rt := testRuntime()
	rt.AIEnabled = false

	out, err := f.processor.Process(context.Background(), rt, f.trigger(msg))
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, out.Status)
	assert.Empty(t, f.generator.requests)
}

func TestHeldLockIsRetriedAfterDebounce(t *testing.T) {
	f := newFixture(t, WithLocker(heldLock{}))
	msg := f.store.add(domain.SenderUser, "oi")

	_, err := f.processor.Process(context.Background(), testRuntime(), f.trigger(msg))
	require.Error(t, err)
	assert.ErrorIs(t, err, lock.ErrHeld)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, f.waits)
	assert.Empty(t, f.generator.requests)
	assert.Empty(t, f.adapter.texts)
}

func TestMessageDuringDebounceIsAnsweredByNewerPass(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var (
		f           *fixture
		interleaved bool
		second      Outcome
		secondErr   error
	)
	f = newFixture(t,
		WithLocker(lock.NewRedis(client, time.Minute)),
		WithSleeper(func(ctx context.Context, _ time.Duration) error {
			if interleaved {
				return nil
			}
			interleaved = true
			next := f.store.add(domain.SenderUser, "ta ai?")
			second, secondErr = f.processor.Process(ctx, testRuntime(), f.trigger(next))
			return nil
		}),
	)
	first := f.store.add(domain.SenderUser, "oi")

	out, err := f.processor.Process(context.Background(), testRuntime(), f.trigger(first))
	require.NoError(t, err)
	require.NoError(t, secondErr)

	assert.Equal(t, StatusSuperseded, out.Status)
	assert.Equal(t, StatusOK, second.Status)
	require.Len(t, f.generator.requests, 1)
	assert.Equal(t, "oi\nta ai?", f.generator.requests[0].UserText)
	assert.Equal(t, []string{"oi, tudo bem?"}, f.adapter.texts)
	assert.Empty(t, mr.Keys())
}

func TestUnknownActionTagIsLoggedAndNotDispatched(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	f.processor.log = &logger.Logger{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	f.generator.reply.ActionTag = "DANCE_VIDEO"
	f.generator.reply.UnknownAction = true
	msg := f.store.add(domain.SenderUser, "oi")

	out, err := f.processor.Process(context.Background(), testRuntime(), f.trigger(msg))
	require.NoError(t, err)
	assert.Equal(t, StatusOK, out.Status)
	assert.Contains(t, buf.String(), "unknown action tag")
	assert.Contains(t, buf.String(), "DANCE_VIDEO")
	require.Len(t, f.dispatcher.requests, 1)
	assert.Equal(t, domain.NoAction{}, f.dispatcher.requests[0].Action)
}

func TestUnknownSessionReturnsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.processor.Process(context.Background(), testRuntime(), Trigger{SessionID: uuid.New()})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestEmptyBatchIsDone(t *testing.T) {
	f := newFixture(t)
	f.store.add(domain.SenderUser, "oi")
	f.store.add(domain.SenderBot, "oi amor")

	out, err := f.processor.Process(context.Background(), testRuntime(), Trigger{SessionID: f.store.session.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusDone, out.Status)
	assert.Empty(t, f.generator.requests)
}

func TestFirstGreetingAdvancesToConnection(t *testing.T) {
	f := newFixture(t)
	msg := f.store.add(domain.SenderUser, "hi")

	out, err := f.processor.Process(context.Background(), testRuntime(), f.trigger(msg))
	require.NoError(t, err)

	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, domain.StageConnection, out.Stage)
	require.Len(t, f.store.turnStates, 1)
	assert.Equal(t, domain.StageConnection, f.store.turnStates[0].stage)
	assert.Equal(t, []domain.Stage{domain.StageConnection}, f.store.funnelEvents)

	assert.Equal(t, []string{"oi, tudo bem?"}, f.adapter.texts)
	bots := f.store.bySender(domain.SenderBot)
	require.Len(t, bots, 1)
	assert.Equal(t, "oi, tudo bem?", bots[0].Content)
	assert.Equal(t, 1, f.store.touched)

	require.Len(t, f.dispatcher.requests, 1)
	assert.Equal(t, []string{"hi", "oi, tudo bem?"}, f.dispatcher.requests[0].Dialogue)
	assert.Equal(t, domain.StageWelcome, f.generator.requests[0].Stage)
}

func TestFallbackKeepsScoreAndStage(t *testing.T) {
	f := newFixture(t)
	score := domain.LeadScore{Lust: 40, Financial: 30, Affection: 20, Sentimental: 10}
	f.store.session.Stage = domain.StageHotTalk
	f.store.session.Score = &score
	f.generator.err = errors.New("overloaded")
	msg := f.store.add(domain.SenderUser, "quero te ver pelada agora")

	out, err := f.processor.Process(context.Background(), testRuntime(), f.trigger(msg))
	require.NoError(t, err)

	assert.True(t, out.Fallback)
	assert.Equal(t, domain.StageHotTalk, out.Stage)
	assert.Equal(t, score, *out.Score)
	assert.Empty(t, f.store.turnStates)
	assert.Empty(t, f.store.funnelEvents)
	assert.Empty(t, f.dispatcher.requests)
	assert.Equal(t, []string{agent.FallbackMessage}, f.adapter.texts)
}

func TestRepeatedMessagesAddLoopAnnotation(t *testing.T) {
	f := newFixture(t)
	f.store.add(domain.SenderUser, "oi")
	f.store.add(domain.SenderUser, "Oi!")
	msg := f.store.add(domain.SenderUser, "oi ")

	_, err := f.processor.Process(context.Background(), testRuntime(), f.trigger(msg))
	require.NoError(t, err)

	require.Len(t, f.generator.requests, 1)
	req := f.generator.requests[0]
	require.NotEmpty(t, req.Annotations)
	assert.Contains(t, req.Annotations[0], "3x")
	assert.Equal(t, "oi\nOi!\noi ", req.UserText)
}

func TestCityIsStoredAndDeflected(t *testing.T) {
	f := newFixture(t)
	msg := f.store.add(domain.SenderUser, "eu moro em Campinas")

	_, err := f.processor.Process(context.Background(), testRuntime(), f.trigger(msg))
	require.NoError(t, err)

	require.Len(t, f.store.cities, 1)
	req := f.generator.requests[0]
	assert.Equal(t, f.store.cities[0], req.City)
	assert.Equal(t, signals.DefaultNeighbors.Lookup(req.City), req.NeighborCity)
}

func TestAdminTriggerIsAnnotated(t *testing.T) {
	f := newFixture(t)
	f.store.add(domain.SenderSystem, domain.AdminTriggerMarker)

	out, err := f.processor.Process(context.Background(), testRuntime(), Trigger{SessionID: f.store.session.ID, Force: true})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, out.Status)
	assert.Contains(t, f.generator.requests[0].Annotations, adminTriggerAnnotation)
}

func TestConsumedAdminTriggerIsNotRepeated(t *testing.T) {
	f := newFixture(t)
	f.adapter.failAll = true
	f.store.add(domain.SenderSystem, domain.AdminTriggerMarker)

	_, err := f.processor.Process(context.Background(), testRuntime(), Trigger{SessionID: f.store.session.ID, Force: true})
	require.NoError(t, err)
	assert.Empty(t, f.store.bySender(domain.SenderBot))
	assert.Empty(t, f.store.bySender(domain.SenderSystem))

	f.adapter.failAll = false
	msg := f.store.add(domain.SenderUser, "oi")
	_, err = f.processor.Process(context.Background(), testRuntime(), f.trigger(msg))
	require.NoError(t, err)
	require.Len(t, f.generator.requests, 2)
	assert.NotContains(t, f.generator.requests[1].Annotations, adminTriggerAnnotation)
}

func TestVoiceMessageIsAttachedAndTranscribed(t *testing.T) {
	f := newFixture(t)
	f.channels.downloads["voice-1"] = []byte("OggS")
	f.generator.reply.Transcription = "oi tudo bem"
	msg := f.store.add(domain.SenderUser, domain.AudioPlaceholder("voice-1"))

	_, err := f.processor.Process(context.Background(), testRuntime(), f.trigger(msg))
	require.NoError(t, err)

	req := f.generator.requests[0]
	require.Len(t, req.Media, 1)
	assert.Equal(t, "audio/ogg", req.Media[0].MIMEType)
	assert.NotContains(t, req.UserText, "AUDIO_UUID")

	users := f.store.bySender(domain.SenderUser)
	assert.Equal(t, domain.TranscriptionContent("oi tudo bem"), users[0].Content)
}

func TestPhotoWithoutStorageKeepsFileID(t *testing.T) {
	f := newFixture(t)
	msg := f.store.add(domain.SenderUser, domain.PhotoPlaceholder("photo-9", "gostou?"))

	_, err := f.processor.Process(context.Background(), testRuntime(), f.trigger(msg))
	require.NoError(t, err)

	req := f.generator.requests[0]
	assert.Empty(t, req.Media)
	assert.NotContains(t, req.UserText, "PHOTO_UPLOAD")
	assert.Contains(t, req.UserText, "gostou?")
	assert.Equal(t, "photo-9", f.store.mediaRefs[msg.ID])
}

func TestUndeliveredFragmentsAreNotRecorded(t *testing.T) {
	f := newFixture(t)
	f.adapter.failAll = true
	msg := f.store.add(domain.SenderUser, "oi")

	out, err := f.processor.Process(context.Background(), testRuntime(), f.trigger(msg))
	require.NoError(t, err)
	assert.Equal(t, StatusOK, out.Status)
	assert.Empty(t, f.store.bySender(domain.SenderBot))
}

func TestAssembleBatch(t *testing.T) {
	adminID := uuid.New()
	msgs := []domain.Message{
		{Sender: domain.SenderUser, Content: "oi"},
		{Sender: domain.SenderThought, Content: "note"},
		{ID: adminID, Sender: domain.SenderSystem, Content: domain.AdminTriggerMarker},
		{Sender: domain.SenderSystem, Content: "PIX GENERATED"},
		{Sender: domain.SenderUser, Content: "quanto custa?"},
	}

	b := AssembleBatch(msgs)
	assert.Len(t, b.Messages, 3)
	assert.True(t, b.HasAdminTrigger)
	assert.Equal(t, []uuid.UUID{adminID}, b.AdminTriggerIDs)
	assert.Equal(t, "oi\n"+domain.AdminTriggerMarker+"\nquanto custa?", b.Combined)
	assert.Equal(t, "oi\nquanto custa?", b.UserOnly)
	assert.Equal(t, []string{"oi", "quanto custa?"}, b.UserContents)

	assert.True(t, AssembleBatch(nil).Empty())
}
