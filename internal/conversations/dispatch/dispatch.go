// Package dispatch executes the side effect the reply generator chose for a
// turn: sending media, issuing a payment code or verifying a payment.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatfunnel_backend/internal/conversations/channels"
	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/internal/conversations/repository"
	"chatfunnel_backend/internal/events"
	"chatfunnel_backend/internal/payments"
	"chatfunnel_backend/platform/logger"

	"github.com/google/uuid"
)

const anonymousPayer = "Anônimo"

// Store is the persistence the dispatcher needs.
type Store interface {
	GetEnabledPreview(ctx context.Context, id uuid.UUID) (*domain.PreviewAsset, error)
	InsertMessage(ctx context.Context, m *domain.Message) error
	LatestPayment(ctx context.Context, sessionID uuid.UUID) (*domain.Message, error)
	ConfirmPayment(ctx context.Context, c repository.Confirmation) (float64, bool, error)
}

// Outcome summarizes what a dispatch did.
type Outcome string

const (
	OutcomeNone             Outcome = "none"
	OutcomeMediaSent        Outcome = "media_sent"
	OutcomeMediaFailed      Outcome = "media_failed"
	OutcomeMediaUnavailable Outcome = "media_unavailable"
	OutcomePaymentCreated   Outcome = "payment_created"
	OutcomePaymentResent    Outcome = "payment_resent"
	OutcomePaymentFailed    Outcome = "payment_failed"
	OutcomePaymentConfirmed Outcome = "payment_confirmed"
	OutcomePaymentPending   Outcome = "payment_pending"
	OutcomePaymentMissing   Outcome = "payment_missing"
	OutcomeCheckFailed      Outcome = "payment_check_failed"
)

// Request is one action to execute for a session.
type Request struct {
	Session domain.Session
	Channel channels.Adapter
	Action  domain.Action
	// Dialogue is searched for a price when the action does not state one,
	// oldest text first.
	Dialogue           []string
	DefaultPrice       float64
	DefaultDescription string
}

// Result reports the dispatch outcome.
type Result struct {
	Outcome   Outcome
	MediaURL  string
	PaymentID string
	Value     float64
	Status    string
	TotalPaid float64
}

// Dispatcher executes actions.
type Dispatcher struct {
	store       Store
	provider    payments.Provider
	catalog     *Catalog
	qr          *QRPublisher
	bus         events.Bus
	payerDomain string
	log         *logger.Logger
	now         func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQRPublisher also sends new payment codes as QR images.
func WithQRPublisher(qr *QRPublisher) Option {
	return func(d *Dispatcher) { d.qr = qr }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a dispatcher. payerDomain builds the synthetic payer e-mail the
// provider requires.
func New(store Store, provider payments.Provider, catalog *Catalog, bus events.Bus, payerDomain string, log *logger.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		provider:    provider,
		catalog:     catalog,
		bus:         bus,
		payerDomain: payerDomain,
		log:         log,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs the action. Channel failures are handled in place and never
// returned; the error is reserved for persistence failures the caller should
// log.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	switch a := req.Action.(type) {
	case nil, domain.NoAction:
		return Result{Outcome: OutcomeNone}, nil
	case domain.SendMedia:
		return d.sendFixedMedia(ctx, req, a)
	case domain.SendCustomPreview:
		return d.sendPreview(ctx, req, a)
	case domain.CreatePayment:
		return d.createPayment(ctx, req, a)
	case domain.CheckPaymentStatus:
		return d.checkPayment(ctx, req)
	default:
		return Result{Outcome: OutcomeNone}, fmt.Errorf("unsupported action %T", a)
	}
}

func (d *Dispatcher) sendFixedMedia(ctx context.Context, req Request, a domain.SendMedia) (Result, error) {
	asset, ok := d.catalog.Lookup(a.Asset)
	if !ok {
		d.log.WithContext(ctx).Warn("fixed media asset missing", "tag", a.Asset)
		return Result{Outcome: OutcomeMediaUnavailable}, nil
	}
	return d.sendMedia(ctx, req, a.Tag(), asset.Type, asset.URL, asset.Caption)
}

func (d *Dispatcher) sendPreview(ctx context.Context, req Request, a domain.SendCustomPreview) (Result, error) {
	id, err := uuid.Parse(strings.TrimSpace(a.PreviewID))
	if err != nil {
		d.log.WithContext(ctx).Warn("preview id is not a uuid", "previewId", a.PreviewID)
		return Result{Outcome: OutcomeMediaUnavailable}, nil
	}

	preview, err := d.store.GetEnabledPreview(ctx, id)
	if err != nil {
		return Result{Outcome: OutcomeMediaUnavailable}, err
	}
	if preview == nil || preview.MediaURL == "" {
		d.log.WithContext(ctx).Warn("preview not found or disabled", "previewId", id)
		return Result{Outcome: OutcomeMediaUnavailable}, nil
	}
	return d.sendMedia(ctx, req, a.Tag(), preview.MediaType, preview.MediaURL, "")
}

func (d *Dispatcher) sendMedia(ctx context.Context, req Request, tag string, kind domain.MediaType, url, caption string) (Result, error) {
	chatID := req.Session.ExternalChatID

	var err error
	switch kind {
	case domain.MediaVideo:
		err = req.Channel.SendVideo(ctx, chatID, url, caption)
	default:
		kind = domain.MediaImage
		err = req.Channel.SendImage(ctx, chatID, url, caption)
	}
	if err != nil {
		d.log.ChannelError(string(req.Session.Platform), "send_media", err)
		d.sendText(ctx, req, d.catalog.Phrases.MediaFailed)
		return Result{Outcome: OutcomeMediaFailed}, nil
	}

	msg := &domain.Message{
		SessionID: req.Session.ID,
		Sender:    domain.SenderBot,
		Content:   domain.MediaSentContent(tag),
		MediaURL:  url,
		MediaType: kind,
	}
	if err := d.store.InsertMessage(ctx, msg); err != nil {
		return Result{Outcome: OutcomeMediaSent, MediaURL: url}, fmt.Errorf("record sent media: %w", err)
	}
	return Result{Outcome: OutcomeMediaSent, MediaURL: url}, nil
}

func (d *Dispatcher) resolvePrice(req Request, a domain.CreatePayment) (float64, string) {
	value := req.DefaultPrice
	if a.Price != nil && *a.Price > 0 {
		value = *a.Price
	} else if inferred, ok := InferPrice(req.Dialogue); ok {
		value = inferred
	}

	description := strings.TrimSpace(a.Description)
	if description == "" {
		description = req.DefaultDescription
	}
	return value, description
}

// resendable reports whether last is an unpaid payment at the same price
// whose code can be sent again.
func resendable(last *domain.Message, value float64) bool {
	if last == nil || last.Payment == nil {
		return false
	}
	p := last.Payment
	return !p.Paid && p.ProviderCode != "" && domain.SamePrice(p.Value, value)
}

func (d *Dispatcher) createPayment(ctx context.Context, req Request, a domain.CreatePayment) (Result, error) {
	log := d.log.WithContext(ctx)
	value, description := d.resolvePrice(req, a)

	last, err := d.store.LatestPayment(ctx, req.Session.ID)
	if err != nil {
		d.sendText(ctx, req, d.catalog.Phrases.PaymentFailed)
		return Result{Outcome: OutcomePaymentFailed, Value: value}, err
	}

	if resendable(last, value) {
		return d.resendPayment(ctx, req, last)
	}

	payment, err := d.provider.CreatePayment(ctx, payments.Charge{
		Value:       value,
		PayerName:   payerName(req.Session.UserName),
		PayerEmail:  fmt.Sprintf("user_%s@%s", req.Session.ExternalChatID, d.payerDomain),
		Description: description,
	})
	if err != nil {
		log.Error("payment creation failed", "value", value, "error", err)
		d.sendText(ctx, req, d.catalog.Phrases.PaymentFailed)
		return Result{Outcome: OutcomePaymentFailed, Value: value}, nil
	}

	// Persist before sending so a retry finds the code even if delivery fails.
	record := &domain.Message{
		SessionID: req.Session.ID,
		Sender:    domain.SenderSystem,
		Content:   domain.PaymentGeneratedContent(value, payment.ID),
		Payment: &domain.PaymentRecord{
			PaymentID:    payment.ID,
			Value:        value,
			Description:  description,
			ProviderCode: payment.Code,
			Status:       payment.Status,
		},
	}
	persistErr := d.store.InsertMessage(ctx, record)
	if persistErr != nil {
		persistErr = fmt.Errorf("record payment %s: %w", payment.ID, persistErr)
	}

	d.sendCode(ctx, req, d.catalog.Phrases.PaymentIntro, payment.Code)
	if d.qr != nil {
		d.sendQR(ctx, req, payment.Code)
	}

	d.bus.Publish(ctx, events.PaymentCreated{
		BaseEvent: events.NewBaseEvent(),
		SessionID: req.Session.ID,
		PaymentID: payment.ID,
		Value:     value,
	})

	return Result{
		Outcome:   OutcomePaymentCreated,
		PaymentID: payment.ID,
		Value:     value,
		Status:    payment.Status,
	}, persistErr
}

func (d *Dispatcher) resendPayment(ctx context.Context, req Request, last *domain.Message) (Result, error) {
	p := *last.Payment
	resentAt := d.now()
	p.ResentAt = &resentAt

	d.sendCode(ctx, req, d.catalog.Phrases.PaymentResent, p.ProviderCode)

	entry := &domain.Message{
		SessionID: req.Session.ID,
		Sender:    domain.SenderSystem,
		Content:   domain.PaymentResentContent(p.Value),
		Payment:   &p,
	}
	result := Result{Outcome: OutcomePaymentResent, PaymentID: p.PaymentID, Value: p.Value, Status: p.Status}
	if err := d.store.InsertMessage(ctx, entry); err != nil {
		return result, fmt.Errorf("record payment resend: %w", err)
	}
	return result, nil
}

func (d *Dispatcher) checkPayment(ctx context.Context, req Request) (Result, error) {
	log := d.log.WithContext(ctx)

	last, err := d.store.LatestPayment(ctx, req.Session.ID)
	if err != nil {
		d.sendText(ctx, req, d.catalog.Phrases.PaymentCheckFailed)
		return Result{Outcome: OutcomeCheckFailed}, err
	}
	if last == nil {
		d.sendText(ctx, req, d.catalog.Phrases.PaymentMissing)
		return Result{Outcome: OutcomePaymentMissing}, nil
	}
	if last.Payment == nil || last.Payment.PaymentID == "" {
		d.sendText(ctx, req, d.catalog.Phrases.PaymentNoID)
		return Result{Outcome: OutcomePaymentMissing}, nil
	}

	p := last.Payment
	if p.Paid {
		d.sendText(ctx, req, d.catalog.Phrases.PaymentConfirmed)
		return Result{Outcome: OutcomePaymentConfirmed, PaymentID: p.PaymentID, Value: p.Value, Status: p.Status, TotalPaid: req.Session.TotalPaid}, nil
	}

	status, err := d.provider.PaymentStatus(ctx, p.PaymentID)
	if err != nil {
		log.Error("payment status lookup failed", "paymentId", p.PaymentID, "error", err)
		d.sendText(ctx, req, d.catalog.Phrases.PaymentCheckFailed)
		return Result{Outcome: OutcomeCheckFailed, PaymentID: p.PaymentID}, nil
	}

	if !payments.IsPaidStatus(status) {
		d.sendText(ctx, req, fmt.Sprintf(d.catalog.Phrases.PaymentPending, status))
		return Result{Outcome: OutcomePaymentPending, PaymentID: p.PaymentID, Value: p.Value, Status: status}, nil
	}

	total, confirmed, err := d.store.ConfirmPayment(ctx, repository.Confirmation{
		MessageID: last.ID,
		SessionID: req.Session.ID,
		Value:     p.Value,
		Status:    status,
		PaidAt:    d.now(),
	})
	if err != nil {
		d.sendText(ctx, req, d.catalog.Phrases.PaymentCheckFailed)
		return Result{Outcome: OutcomeCheckFailed, PaymentID: p.PaymentID, Status: status}, err
	}

	if confirmed {
		log.Info("payment confirmed", "paymentId", p.PaymentID, "value", p.Value, "totalPaid", total)
		d.bus.Publish(ctx, events.PaymentConfirmed{
			BaseEvent: events.NewBaseEvent(),
			SessionID: req.Session.ID,
			PaymentID: p.PaymentID,
			Value:     p.Value,
			TotalPaid: total,
		})
	} else {
		total = req.Session.TotalPaid
	}

	d.sendText(ctx, req, d.catalog.Phrases.PaymentConfirmed)
	return Result{Outcome: OutcomePaymentConfirmed, PaymentID: p.PaymentID, Value: p.Value, Status: status, TotalPaid: total}, nil
}

func (d *Dispatcher) sendText(ctx context.Context, req Request, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := req.Channel.SendText(ctx, req.Session.ExternalChatID, text); err != nil {
		d.log.ChannelError(string(req.Session.Platform), "send_text", err)
	}
}

func (d *Dispatcher) sendCode(ctx context.Context, req Request, intro, code string) {
	d.sendText(ctx, req, intro)
	if err := channels.SendCode(ctx, req.Channel, req.Session.ExternalChatID, code); err != nil {
		d.log.ChannelError(string(req.Session.Platform), "send_code", err)
	}
}

func (d *Dispatcher) sendQR(ctx context.Context, req Request, code string) {
	url, err := d.qr.Publish(ctx, req.Session.ID, code)
	if err != nil {
		d.log.WithContext(ctx).Warn("payment qr not published", "error", err)
		return
	}
	if err := req.Channel.SendImage(ctx, req.Session.ExternalChatID, url, ""); err != nil {
		d.log.ChannelError(string(req.Session.Platform), "send_qr", err)
	}
}

func payerName(name string) string {
	if strings.TrimSpace(name) == "" {
		return anonymousPayer
	}
	return name
}
