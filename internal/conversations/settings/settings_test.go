package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatfunnel_backend/platform/logger"

	"github.com/stretchr/testify/assert"
)

type staticSource struct {
	values map[string]string
	err    error
}

func (s staticSource) LoadSettings(context.Context) (map[string]string, error) {
	return s.values, s.err
}

func TestParseEmptyYieldsDefaults(t *testing.T) {
	assert.Equal(t, Defaults(), Parse(nil))
}

func TestParseOverrides(t *testing.T) {
	rt := Parse(map[string]string{
		KeyAIEnabled:             "false",
		KeyInitialDelayMs:        "0",
		KeyTypingDelayMs:         "1500",
		KeyDefaultPrice:          "24,90",
		KeyReengagementIdleMin:   "12",
		KeyReengagementBatchSize: "20",
		KeyReengagementMessages:  "oi?\n\n  sumiu?  ",
		KeyPersonaPrompt:         "  fala curto  ",
	})

	assert.False(t, rt.AIEnabled)
	assert.Zero(t, rt.InitialDelay)
	assert.Equal(t, 1500*time.Millisecond, rt.TypingDelay)
	assert.InDelta(t, 24.90, rt.DefaultPrice, 0.0001)
	assert.Equal(t, 12*time.Minute, rt.ReengagementIdle)
	assert.Equal(t, 20, rt.ReengagementBatch)
	assert.Equal(t, []string{"oi?", "sumiu?"}, rt.ReengagementMessages)
	assert.Equal(t, "fala curto", rt.PersonaPrompt)
}

func TestParseIgnoresMalformedValues(t *testing.T) {
	rt := Parse(map[string]string{
		KeyAIEnabled:             "maybe",
		KeyTypingDelayMs:         "-5",
		KeyDefaultPrice:          "free",
		KeyReengagementBatchSize: "0",
	})
	def := Defaults()
	assert.Equal(t, def.AIEnabled, rt.AIEnabled)
	assert.Equal(t, def.TypingDelay, rt.TypingDelay)
	assert.InDelta(t, def.DefaultPrice, rt.DefaultPrice, 0.0001)
	assert.Equal(t, def.ReengagementBatch, rt.ReengagementBatch)
}

func TestLoaderFallsBackOnError(t *testing.T) {
	l := NewLoader(staticSource{err: errors.New("db down")}, logger.Discard())
	assert.Equal(t, Defaults(), l.Load(context.Background()))
}
