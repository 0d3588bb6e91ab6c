// Package settings loads the runtime knobs operators can change without a
// redeploy. They are read from the bot_settings table on every invocation.
package settings

import (
	"context"
	"strconv"
	"strings"
	"time"

	"chatfunnel_backend/platform/logger"
)

// Keys of the bot_settings table.
const (
	KeyAIEnabled             = "ai_enabled"
	KeyInitialDelayMs        = "debounce_initial_ms"
	KeyTypingDelayMs         = "debounce_typing_ms"
	KeyDefaultPrice          = "default_price"
	KeyDefaultDescription    = "default_payment_description"
	KeyPreviewCatalogLimit   = "preview_catalog_limit"
	KeyPersonaPrompt         = "persona_prompt"
	KeyReengagementEnabled   = "reengagement_enabled"
	KeyReengagementIdleMin   = "reengagement_idle_minutes"
	KeyReengagementBatchSize = "reengagement_batch_size"
	KeyReengagementMessages  = "reengagement_messages"
)

// Runtime holds the per-invocation settings.
type Runtime struct {
	AIEnabled           bool
	InitialDelay        time.Duration
	TypingDelay         time.Duration
	DefaultPrice        float64
	DefaultDescription  string
	PreviewCatalogLimit int
	PersonaPrompt       string

	ReengagementEnabled  bool
	ReengagementIdle     time.Duration
	ReengagementBatch    int
	ReengagementMessages []string
}

// Defaults returns the settings used when a key is absent or malformed.
func Defaults() Runtime {
	return Runtime{
		AIEnabled:           true,
		InitialDelay:        2 * time.Second,
		TypingDelay:         4 * time.Second,
		DefaultPrice:        19.90,
		DefaultDescription:  "Pack Exclusivo",
		PreviewCatalogLimit: 50,
		ReengagementEnabled: true,
		ReengagementIdle:    5 * time.Minute,
		ReengagementBatch:   5,
		ReengagementMessages: []string{
			"amor não vai me responder não?",
			"achei que tinha gostado de mim",
			"me deixou aqui falando sozinha",
		},
	}
}

// Source returns the raw key/value pairs.
type Source interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
}

// Loader reads Runtime from a Source.
type Loader struct {
	source Source
	log    *logger.Logger
}

// NewLoader creates a settings loader.
func NewLoader(source Source, log *logger.Logger) *Loader {
	return &Loader{source: source, log: log}
}

// Load returns the current settings. A failing source yields the defaults so
// a settings outage never stops the funnel.
func (l *Loader) Load(ctx context.Context) Runtime {
	values, err := l.source.LoadSettings(ctx)
	if err != nil {
		l.log.WithContext(ctx).Warn("settings unavailable, using defaults", "error", err)
		return Defaults()
	}
	return Parse(values)
}

// Parse applies values over the defaults, ignoring malformed entries.
func Parse(values map[string]string) Runtime {
	rt := Defaults()

	rt.AIEnabled = parseBool(values[KeyAIEnabled], rt.AIEnabled)
	rt.InitialDelay = parseMillis(values[KeyInitialDelayMs], rt.InitialDelay)
	rt.TypingDelay = parseMillis(values[KeyTypingDelayMs], rt.TypingDelay)
	rt.PreviewCatalogLimit = parsePositiveInt(values[KeyPreviewCatalogLimit], rt.PreviewCatalogLimit)
	rt.ReengagementEnabled = parseBool(values[KeyReengagementEnabled], rt.ReengagementEnabled)
	rt.ReengagementBatch = parsePositiveInt(values[KeyReengagementBatchSize], rt.ReengagementBatch)

	if minutes := parsePositiveInt(values[KeyReengagementIdleMin], 0); minutes > 0 {
		rt.ReengagementIdle = time.Duration(minutes) * time.Minute
	}
	if price, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(values[KeyDefaultPrice]), ",", "."), 64); err == nil && price > 0 {
		rt.DefaultPrice = price
	}
	if v := strings.TrimSpace(values[KeyDefaultDescription]); v != "" {
		rt.DefaultDescription = v
	}
	rt.PersonaPrompt = strings.TrimSpace(values[KeyPersonaPrompt])

	if raw := values[KeyReengagementMessages]; strings.TrimSpace(raw) != "" {
		var messages []string
		for _, line := range strings.Split(raw, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				messages = append(messages, line)
			}
		}
		if len(messages) > 0 {
			rt.ReengagementMessages = messages
		}
	}
	return rt
}

func parseBool(raw string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return v
}

func parseMillis(raw string, fallback time.Duration) time.Duration {
	ms, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func parsePositiveInt(raw string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
