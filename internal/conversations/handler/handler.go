package handler

import (
	"context"
	"net/http"

	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/internal/conversations/service"
	"chatfunnel_backend/internal/telegram"
	"chatfunnel_backend/internal/whatsapp"
	"chatfunnel_backend/platform/httpkit"
	"chatfunnel_backend/platform/logger"
	"chatfunnel_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidSession   = "invalid session id"

	// HeaderTelegramSecret is set by Telegram when the webhook was registered with a secret.
	HeaderTelegramSecret = "X-Telegram-Bot-Api-Secret-Token"
)

// Service is the conversation use case surface.
type Service interface {
	Ingest(ctx context.Context, in service.Inbound) (service.IngestResult, error)
	TriggerProcess(ctx context.Context, sessionID uuid.UUID, triggerMessageID *uuid.UUID, force bool) error
	ForceSale(ctx context.Context, sessionID uuid.UUID) error
	SetPaused(ctx context.Context, sessionID uuid.UUID, paused bool) error
}

// ReadMarker acknowledges inbound WhatsApp messages.
type ReadMarker interface {
	MarkRead(ctx context.Context, messageID string) error
}

// ProcessRequest is the body of the manual process trigger.
type ProcessRequest struct {
	TriggerMessageID string `json:"triggerMessageId" validate:"omitempty,uuid"`
	Force            bool   `json:"force"`
}

// Handler serves channel webhooks and operator endpoints.
type Handler struct {
	svc         Service
	val         *validator.Validator
	reader      ReadMarker
	verifyToken string
	log         *logger.Logger
}

// New creates a handler. reader may be nil when WhatsApp is not configured.
func New(svc Service, val *validator.Validator, reader ReadMarker, verifyToken string, log *logger.Logger) *Handler {
	return &Handler{svc: svc, val: val, reader: reader, verifyToken: verifyToken, log: log}
}

// RegisterWebhookRoutes mounts the channel webhooks.
func (h *Handler) RegisterWebhookRoutes(rg *gin.RouterGroup, telegramSecret string) {
	rg.POST("/telegram", httpkit.SharedSecretRequired(HeaderTelegramSecret, telegramSecret), h.TelegramWebhook)
	rg.GET("/whatsapp", h.WhatsAppVerify)
	rg.POST("/whatsapp", h.WhatsAppWebhook)
}

// RegisterAdminRoutes mounts the operator endpoints.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/:id/process", h.Process)
	rg.POST("/:id/force-sale", h.ForceSale)
	rg.POST("/:id/pause", h.Pause)
	rg.POST("/:id/resume", h.Resume)
}

// TelegramWebhook handles POST /api/v1/webhooks/telegram
func (h *Handler) TelegramWebhook(c *gin.Context) {
	var update telegram.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}

	in, ok := update.ToInbound()
	if !ok {
		// Acknowledge so Telegram does not redeliver updates we ignore.
		httpkit.OK(c, gin.H{"status": "ignored"})
		return
	}

	result, err := h.svc.Ingest(c.Request.Context(), service.Inbound{
		Platform: domain.PlatformTelegram,
		ChatID:   in.ChatID,
		UserName: in.UserName,
		Content:  in.Content,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

// WhatsAppVerify handles the GET subscription handshake.
func (h *Handler) WhatsAppVerify(c *gin.Context) {
	if h.verifyToken == "" ||
		c.Query("hub.mode") != "subscribe" ||
		c.Query("hub.verify_token") != h.verifyToken {
		httpkit.Error(c, http.StatusForbidden, "verification failed", nil)
		return
	}
	c.String(http.StatusOK, c.Query("hub.challenge"))
}

// WhatsAppWebhook handles POST /api/v1/webhooks/whatsapp
func (h *Handler) WhatsAppWebhook(c *gin.Context) {
	var payload whatsapp.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	log := h.log.WithContext(ctx)
	accepted := 0
	for _, in := range payload.Messages() {
		if h.reader != nil {
			if err := h.reader.MarkRead(ctx, in.MessageID); err != nil {
				log.ChannelError(string(domain.PlatformWhatsApp), "mark_read", err)
			}
		}

		_, err := h.svc.Ingest(ctx, service.Inbound{
			Platform: domain.PlatformWhatsApp,
			ChatID:   in.ChatID,
			UserName: in.UserName,
			Content:  in.Content,
		})
		if httpkit.HandleError(c, err) {
			return
		}
		accepted++
	}

	httpkit.OK(c, gin.H{"accepted": accepted})
}

// Process handles POST /api/v1/admin/sessions/:id/process
func (h *Handler) Process(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}

	var req ProcessRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
			return
		}
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	var trigger *uuid.UUID
	if req.TriggerMessageID != "" {
		id := uuid.MustParse(req.TriggerMessageID)
		trigger = &id
	}

	if httpkit.HandleError(c, h.svc.TriggerProcess(c.Request.Context(), sessionID, trigger, req.Force)) {
		return
	}
	httpkit.JSON(c, http.StatusAccepted, gin.H{"status": "queued"})
}

// ForceSale handles POST /api/v1/admin/sessions/:id/force-sale
func (h *Handler) ForceSale(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	if httpkit.HandleError(c, h.svc.ForceSale(c.Request.Context(), sessionID)) {
		return
	}
	httpkit.JSON(c, http.StatusAccepted, gin.H{"status": "queued"})
}

// Pause handles POST /api/v1/admin/sessions/:id/pause
func (h *Handler) Pause(c *gin.Context) {
	h.setPaused(c, true)
}

// Resume handles POST /api/v1/admin/sessions/:id/resume
func (h *Handler) Resume(c *gin.Context) {
	h.setPaused(c, false)
}

func (h *Handler) setPaused(c *gin.Context, paused bool) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	if httpkit.HandleError(c, h.svc.SetPaused(c.Request.Context(), sessionID, paused)) {
		return
	}
	httpkit.OK(c, gin.H{"paused": paused})
}

func parseSessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidSession, nil)
		return uuid.UUID{}, false
	}
	return id, true
}
