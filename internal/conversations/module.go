// Package conversations provides the chat funnel bounded context: channel
// webhooks, operator controls and the message-processing pipeline.
package conversations

import (
	"chatfunnel_backend/internal/conversations/handler"
	"chatfunnel_backend/internal/conversations/repository"
	"chatfunnel_backend/internal/conversations/service"
	apphttp "chatfunnel_backend/internal/http"
	"chatfunnel_backend/platform/config"
	"chatfunnel_backend/platform/logger"
	"chatfunnel_backend/platform/validator"
)

// ModuleConfig is the configuration the HTTP side of the module reads.
type ModuleConfig interface {
	config.TelegramConfig
	config.WhatsAppConfig
}

// Module is the conversations module implementing http.Module.
type Module struct {
	handler        *handler.Handler
	Service        *service.Service
	telegramSecret string
}

// NewModule wires the HTTP side of the module. reader may be nil when
// WhatsApp is not configured.
func NewModule(repo *repository.Repository, queue service.ProcessEnqueuer, reader handler.ReadMarker, val *validator.Validator, cfg ModuleConfig, log *logger.Logger) *Module {
	svc := service.New(repo, queue, log)
	h := handler.New(svc, val, reader, cfg.GetWhatsAppVerifyToken(), log)

	return &Module{
		handler:        h,
		Service:        svc,
		telegramSecret: cfg.GetTelegramWebhookSecret(),
	}
}

// Name returns the module name for logging
func (m *Module) Name() string {
	return "conversations"
}

// RegisterRoutes mounts /api/v1/webhooks/* and /api/v1/admin/sessions/*
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterWebhookRoutes(ctx.Webhooks, m.telegramSecret)
	m.handler.RegisterAdminRoutes(ctx.Admin.Group("/sessions"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
