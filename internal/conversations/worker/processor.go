// Package worker runs one message-processing pass for a session: debounce,
// supersession check, batch assembly, reply generation, persistence and the
// action side effect.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatfunnel_backend/internal/adapters/storage"
	"chatfunnel_backend/internal/conversations/agent"
	"chatfunnel_backend/internal/conversations/channels"
	"chatfunnel_backend/internal/conversations/dispatch"
	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/internal/conversations/experiments"
	"chatfunnel_backend/internal/conversations/funnel"
	"chatfunnel_backend/internal/conversations/lock"
	"chatfunnel_backend/internal/conversations/repository"
	"chatfunnel_backend/internal/conversations/scoring"
	"chatfunnel_backend/internal/conversations/settings"
	"chatfunnel_backend/internal/conversations/signals"
	"chatfunnel_backend/internal/events"
	"chatfunnel_backend/platform/logger"
	"chatfunnel_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	defaultHistoryLimit = 30

	adminTriggerAnnotation = "[INTERNAL NOTE: the operator asked for a sale now. Steer the conversation to the offer in this reply.]"
)

// Trigger is one request to process a session.
type Trigger struct {
	SessionID uuid.UUID
	// MessageID is the user message that caused the trigger. When set, the
	// pass is abandoned if a newer user message arrived meanwhile.
	MessageID *uuid.UUID
	// Force processes paused sessions too.
	Force bool
}

// Status is the result class of a pass.
type Status string

const (
	StatusOK         Status = "ok"
	StatusPaused     Status = "paused"
	StatusSuperseded Status = "superseded"
	StatusDone       Status = "done"
	StatusDisabled   Status = "disabled"
)

// Outcome reports what a pass did.
type Outcome struct {
	Status   Status
	Score    *domain.LeadScore
	Stage    domain.Stage
	Action   string
	Fallback bool
	Dispatch dispatch.Outcome
}

// Store is the persistence the processor needs.
type Store interface {
	GetSession(ctx context.Context, id uuid.UUID) (domain.Session, error)
	LatestUserMessage(ctx context.Context, sessionID uuid.UUID) (*domain.Message, error)
	PendingBatch(ctx context.Context, sessionID uuid.UUID) ([]domain.Message, error)
	RecentMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.Message, error)
	LastMessageBySender(ctx context.Context, sessionID uuid.UUID, sender domain.Sender) (*domain.Message, error)
	LastOfferAt(ctx context.Context, sessionID uuid.UUID) (*time.Time, error)
	ListEnabledPreviews(ctx context.Context, limit int) ([]domain.PreviewAsset, error)
	UpdateCity(ctx context.Context, id uuid.UUID, city string) error
	UpdateUserName(ctx context.Context, id uuid.UUID, name string) error
	SaveTurnState(ctx context.Context, id uuid.UUID, stage domain.Stage, score domain.LeadScore) (bool, error)
	InsertFunnelEvent(ctx context.Context, sessionID uuid.UUID, stage domain.Stage, source domain.FunnelEventSource) error
	InsertMessage(ctx context.Context, m *domain.Message) error
	UpdateMessageContent(ctx context.Context, id uuid.UUID, content string) error
	UpdateMessageMedia(ctx context.Context, id uuid.UUID, mediaURL string, mediaType domain.MediaType) error
	TouchBotActivity(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteAdminTriggers(ctx context.Context, sessionID uuid.UUID, ids []uuid.UUID) error
}

// Channels resolves the adapter of a session and downloads inbound media.
type Channels interface {
	For(platform domain.Platform) (channels.Adapter, error)
	Download(ctx context.Context, a channels.Adapter, fileID string) ([]byte, string, error)
}

// VariantSelector is the bandit.
type VariantSelector interface {
	Select(ctx context.Context, sessionID uuid.UUID, stage domain.Stage) (*experiments.Selection, error)
	Settle(ctx context.Context, assignment domain.VariantAssignment, previous, next domain.Stage) (experiments.Outcome, error)
}

// ActionDispatcher executes the chosen action.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Processor coordinates one pass.
type Processor struct {
	store        Store
	channels     Channels
	generator    agent.Generator
	selector     VariantSelector
	dispatcher   ActionDispatcher
	locker       lock.Locker
	bus          events.Bus
	neighbors    *signals.NeighborTable
	media        storage.ObjectStore
	mediaBucket  string
	historyLimit int
	sleep        Sleeper
	now          func() time.Time
	log          *logger.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithLocker adds a hard per-session lock on top of the supersession check.
func WithLocker(l lock.Locker) Option {
	return func(p *Processor) { p.locker = l }
}

// WithMediaStore copies inbound video and photos into object storage.
func WithMediaStore(store storage.ObjectStore, bucket string) Option {
	return func(p *Processor) {
		if store != nil && bucket != "" {
			p.media, p.mediaBucket = store, bucket
		}
	}
}

// WithSleeper overrides the debounce waits.
func WithSleeper(s Sleeper) Option {
	return func(p *Processor) { p.sleep = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithNeighbors overrides the city deflection table.
func WithNeighbors(t *signals.NeighborTable) Option {
	return func(p *Processor) { p.neighbors = t }
}

// WithHistoryLimit sets how many prior messages the generator sees.
func WithHistoryLimit(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.historyLimit = n
		}
	}
}

// New creates a processor.
func New(store Store, ch Channels, generator agent.Generator, selector VariantSelector, dispatcher ActionDispatcher, bus events.Bus, log *logger.Logger, opts ...Option) *Processor {
	p := &Processor{
		store:        store,
		channels:     ch,
		generator:    generator,
		selector:     selector,
		dispatcher:   dispatcher,
		locker:       lock.Noop{},
		bus:          bus,
		neighbors:    signals.DefaultNeighbors,
		historyLimit: defaultHistoryLimit,
		sleep:        sleepContext,
		now:          time.Now,
		log:          log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Process runs one pass. A returned error means the pass stopped before any
// reply was sent; once the user got an answer, later failures are logged and
// the outcome is still returned.
func (p *Processor) Process(ctx context.Context, rt settings.Runtime, trig Trigger) (Outcome, error) {
	ctx = logger.ContextWithSessionID(ctx, trig.SessionID.String())
	log := p.log.WithContext(ctx)

	session, err := p.store.GetSession(ctx, trig.SessionID)
	if err != nil {
		return Outcome{}, err
	}
	if session.Status != domain.SessionActive && !trig.Force {
		return Outcome{Status: StatusPaused, Stage: session.Stage}, nil
	}
	if !rt.AIEnabled {
		return Outcome{Status: StatusDisabled, Stage: session.Stage}, nil
	}

	ch, err := p.channels.For(session.Platform)
	if err != nil {
		return Outcome{}, err
	}

	if err := p.sleep(ctx, rt.InitialDelay); err != nil {
		return Outcome{}, err
	}
	p.typing(ctx, ch, session)
	if err := p.sleep(ctx, rt.TypingDelay); err != nil {
		return Outcome{}, err
	}

	superseded, err := p.superseded(ctx, trig)
	if err != nil {
		return Outcome{}, err
	}
	if superseded {
		log.Debug("newer message arrived, pass abandoned")
		return Outcome{Status: StatusSuperseded, Stage: session.Stage}, nil
	}

	// The lock is taken only after the debounce so a pass triggered by a
	// newer message never finds it held by the pass it supersedes. A held
	// lock means another pass is already answering; the error lets the
	// queue retry once that pass has recorded its reply.
	release, err := p.locker.Acquire(ctx, session.ID)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			log.Debug("session busy, pass will be retried")
		}
		return Outcome{}, fmt.Errorf("acquire session lock: %w", err)
	}
	defer release()

	p.typing(ctx, ch, session)

	pending, err := p.store.PendingBatch(ctx, session.ID)
	if err != nil {
		return Outcome{}, err
	}
	batch := AssembleBatch(pending)
	if batch.Empty() {
		return Outcome{Status: StatusDone, Stage: session.Stage}, nil
	}

	lastBot, err := p.store.LastMessageBySender(ctx, session.ID, domain.SenderBot)
	if err != nil {
		return Outcome{}, err
	}

	req, media, selection := p.buildRequest(ctx, rt, &session, ch, batch)

	reply, err := p.generator.Generate(ctx, req)
	if err != nil {
		log.Warn("reply generation failed", "error", err)
		reply = agent.FallbackReply(err)
	}

	if reply.Fallback {
		return p.finishFallback(ctx, session, ch, reply), nil
	}
	return p.finishTurn(ctx, rt, session, ch, batch, lastBot, media, selection, reply), nil
}

func (p *Processor) typing(ctx context.Context, ch channels.Adapter, session domain.Session) {
	if err := ch.SendTypingIndicator(ctx, session.ExternalChatID); err != nil {
		p.log.WithContext(ctx).ChannelError(string(session.Platform), "typing", err)
	}
}

func (p *Processor) superseded(ctx context.Context, trig Trigger) (bool, error) {
	if trig.MessageID == nil {
		return false, nil
	}
	latest, err := p.store.LatestUserMessage(ctx, trig.SessionID)
	if err != nil {
		return false, err
	}
	return latest == nil || latest.ID != *trig.MessageID, nil
}

// buildRequest gathers the generator context. Every lookup here is optional:
// a failure is logged and the turn continues with less context.
func (p *Processor) buildRequest(ctx context.Context, rt settings.Runtime, session *domain.Session, ch channels.Adapter, batch Batch) (agent.Request, inboundMedia, *experiments.Selection) {
	log := p.log.WithContext(ctx)
	stage := session.Stage.OrWelcome()

	var annotations []string
	if batch.HasAdminTrigger {
		annotations = append(annotations, adminTriggerAnnotation)
	}
	if rep := signals.DetectRepetition(batch.UserContents); rep.Looping() {
		annotations = append(annotations, signals.LoopAnnotation(rep))
	}

	if city, changed := signals.CityUpdate(session.City, batch.UserOnly); changed {
		if err := p.store.UpdateCity(ctx, session.ID, city); err != nil {
			log.Warn("city not saved", "city", city, "error", err)
		} else {
			session.City = city
		}
	}
	if session.City == "" && signals.AsksLocation(batch.UserOnly) {
		annotations = append(annotations, signals.LocationQuestionAnnotation)
	}

	var minutesSinceOffer *int
	if at, err := p.store.LastOfferAt(ctx, session.ID); err != nil {
		log.Warn("last offer lookup failed", "error", err)
	} else if at != nil {
		minutes := int(p.now().Sub(*at).Minutes())
		minutesSinceOffer = &minutes
	}

	selection, err := p.selector.Select(ctx, session.ID, stage)
	if err != nil {
		log.Warn("variant selection failed", "stage", stage, "error", err)
		selection = nil
	}
	variantContent := ""
	if selection != nil {
		variantContent = selection.Variant.Content
	}

	previews, err := p.store.ListEnabledPreviews(ctx, rt.PreviewCatalogLimit)
	if err != nil {
		log.Warn("preview catalog unavailable", "error", err)
	}

	media := p.resolveInboundMedia(ctx, *session, ch, batch)

	return agent.Request{
		SessionID:         session.ID,
		Stage:             stage,
		Score:             session.CurrentScore(),
		City:              session.City,
		NeighborCity:      p.neighbors.Lookup(session.City),
		TotalPaid:         session.TotalPaid,
		MinutesSinceOffer: minutesSinceOffer,
		VariantContent:    variantContent,
		Annotations:       annotations,
		Previews:          previews,
		Persona:           rt.PersonaPrompt,
		History:           p.history(ctx, session.ID, batch),
		UserText:          media.UserText,
		Media:             media.Media,
		Now:               p.now(),
	}, media, selection
}

// history returns prior user and bot messages, excluding the batch itself.
func (p *Processor) history(ctx context.Context, sessionID uuid.UUID, batch Batch) []agent.Turn {
	recent, err := p.store.RecentMessages(ctx, sessionID, p.historyLimit)
	if err != nil {
		p.log.WithContext(ctx).Warn("history unavailable", "error", err)
		return nil
	}

	inBatch := make(map[uuid.UUID]struct{}, len(batch.Messages))
	for _, m := range batch.Messages {
		inBatch[m.ID] = struct{}{}
	}

	turns := make([]agent.Turn, 0, len(recent))
	for _, m := range recent {
		if _, skip := inBatch[m.ID]; skip {
			continue
		}
		switch m.Sender {
		case domain.SenderUser:
			turns = append(turns, agent.Turn{Role: agent.RoleUser, Text: m.Content})
		case domain.SenderBot:
			turns = append(turns, agent.Turn{Role: agent.RoleBot, Text: m.Content})
		}
	}
	return turns
}

// finishFallback answers without touching scores, stage or experiments.
func (p *Processor) finishFallback(ctx context.Context, session domain.Session, ch channels.Adapter, reply agent.Reply) Outcome {
	p.sendFragments(ctx, session, ch, reply.Messages)
	p.touch(ctx, session)

	score := session.CurrentScore()
	out := Outcome{
		Status:   StatusOK,
		Score:    &score,
		Stage:    session.Stage,
		Action:   domain.TagNone,
		Fallback: true,
		Dispatch: dispatch.OutcomeNone,
	}
	p.report(ctx, session, session.Stage, out)
	return out
}

func (p *Processor) finishTurn(ctx context.Context, rt settings.Runtime, session domain.Session, ch channels.Adapter, batch Batch, lastBot *domain.Message, media inboundMedia, selection *experiments.Selection, reply agent.Reply) Outcome {
	log := p.log.WithContext(ctx)
	if reply.UnknownAction {
		log.Warn("unknown action tag, nothing dispatched", "action", reply.ActionTag)
	}

	blend := scoring.Blend(session.CurrentScore(), reply.Score, batch.UserOnly)
	replies := sanitize.Fragments(reply.Messages)
	decision := funnel.Resolve(funnel.Input{
		Previous:     session.Stage,
		Generated:    reply.Stage,
		Action:       reply.Action,
		Replies:      replies,
		CombinedText: batch.Combined,
		UserText:     batch.UserOnly,
	})

	stagePersisted, err := p.store.SaveTurnState(ctx, session.ID, decision.Next, blend.Score)
	switch {
	case err != nil:
		log.Error("turn state not saved", "error", err)
	case !stagePersisted:
		log.Warn("stage column unavailable, only scores saved", "stage", decision.Next)
	}

	if decision.Changed() {
		if err := p.store.InsertFunnelEvent(ctx, session.ID, decision.Next, domain.FunnelSourceAI); err != nil {
			log.Warn("funnel event not recorded", "stage", decision.Next, "error", err)
		}
		p.bus.Publish(ctx, events.StageChanged{
			BaseEvent: events.NewBaseEvent(),
			SessionID: session.ID,
			From:      string(decision.Previous),
			To:        string(decision.Next),
			Source:    string(decision.Source),
		})
	}

	if selection != nil && selection.Assignment != nil {
		if _, err := p.selector.Settle(ctx, *selection.Assignment, session.Stage.OrWelcome(), decision.Next); err != nil {
			log.Warn("variant outcome not settled", "variantId", selection.Variant.ID, "error", err)
		}
	}

	p.recordThought(ctx, session, reply)

	if reply.Transcription != "" && media.AudioMessage != nil {
		if err := p.store.UpdateMessageContent(ctx, *media.AudioMessage, domain.TranscriptionContent(reply.Transcription)); err != nil {
			log.Warn("transcription not saved", "error", err)
		}
	}

	if name := strings.TrimSpace(reply.ExtractedName); name != "" && session.UserName == "" {
		if err := p.store.UpdateUserName(ctx, session.ID, name); err != nil {
			log.Warn("user name not saved", "error", err)
		}
	}

	p.sendFragments(ctx, session, ch, replies)

	dialogue := make([]string, 0, len(replies)+2)
	if lastBot != nil {
		dialogue = append(dialogue, lastBot.Content)
	}
	dialogue = append(dialogue, batch.Combined)
	dialogue = append(dialogue, replies...)

	result, err := p.dispatcher.Dispatch(ctx, dispatch.Request{
		Session:            session,
		Channel:            ch,
		Action:             reply.Action,
		Dialogue:           dialogue,
		DefaultPrice:       rt.DefaultPrice,
		DefaultDescription: rt.DefaultDescription,
	})
	if err != nil {
		log.Error("action dispatch failed", "action", reply.ActionTag, "error", err)
	}

	// Consumed markers would otherwise re-annotate the next batch when this
	// turn left no bot message behind.
	if len(batch.AdminTriggerIDs) > 0 {
		if err := p.store.DeleteAdminTriggers(ctx, session.ID, batch.AdminTriggerIDs); err != nil {
			log.Warn("force-sale markers not cleared", "error", err)
		}
	}

	p.touch(ctx, session)

	score := blend.Score
	out := Outcome{
		Status:   StatusOK,
		Score:    &score,
		Stage:    decision.Next,
		Action:   actionTag(reply.Action),
		Dispatch: result.Outcome,
	}
	p.report(ctx, session, decision.Next, out)
	return out
}

func actionTag(a domain.Action) string {
	if a == nil {
		return domain.TagNone
	}
	return a.Tag()
}

func (p *Processor) recordThought(ctx context.Context, session domain.Session, reply agent.Reply) {
	note := strings.TrimSpace(reply.InternalNote)
	if note == "" && reply.Classification == "" {
		return
	}
	if reply.Classification != "" {
		note = fmt.Sprintf("[%s] %s", reply.Classification, note)
	}
	msg := &domain.Message{SessionID: session.ID, Sender: domain.SenderThought, Content: strings.TrimSpace(note)}
	if err := p.store.InsertMessage(ctx, msg); err != nil {
		p.log.WithContext(ctx).Warn("thought not recorded", "error", err)
	}
}

// sendFragments delivers each fragment in order and records the delivered ones.
func (p *Processor) sendFragments(ctx context.Context, session domain.Session, ch channels.Adapter, fragments []string) {
	log := p.log.WithContext(ctx)
	for i, text := range sanitize.Fragments(fragments) {
		if i > 0 {
			p.typing(ctx, ch, session)
		}
		if err := ch.SendText(ctx, session.ExternalChatID, text); err != nil {
			log.ChannelError(string(session.Platform), "send_text", err)
			continue
		}
		msg := &domain.Message{SessionID: session.ID, Sender: domain.SenderBot, Content: text}
		if err := p.store.InsertMessage(ctx, msg); err != nil {
			log.Warn("bot message not recorded", "error", err)
		}
	}
}

func (p *Processor) touch(ctx context.Context, session domain.Session) {
	if err := p.store.TouchBotActivity(ctx, session.ID, p.now()); err != nil {
		p.log.WithContext(ctx).Warn("bot activity not recorded", "error", err)
	}
}

func (p *Processor) report(ctx context.Context, session domain.Session, next domain.Stage, out Outcome) {
	p.bus.Publish(ctx, events.TurnProcessed{
		BaseEvent:     events.NewBaseEvent(),
		SessionID:     session.ID,
		Status:        string(out.Status),
		PreviousStage: string(session.Stage),
		Stage:         string(next),
		Action:        out.Action,
		Fallback:      out.Fallback,
	})
	p.log.WithContext(ctx).TurnProcessed(session.ID.String(), string(out.Status), string(session.Stage), string(next), out.Action, out.Fallback)
}

var _ Store = (*repository.Repository)(nil)
var _ Channels = (*channels.Registry)(nil)
var _ ActionDispatcher = (*dispatch.Dispatcher)(nil)
var _ VariantSelector = (*experiments.Selector)(nil)
