package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/platform/config"

	"google.golang.org/genai"
)

// ErrTransient marks failures worth another attempt.
var ErrTransient = errors.New("transient generation failure")

// ContentGenerator is the slice of the genai Models service the gateway calls.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator calls a Gemini model with a structured response schema.
type GeminiGenerator struct {
	models ContentGenerator
	model  string
}

// NewGeminiGenerator creates the genai client from config.
func NewGeminiGenerator(ctx context.Context, cfg config.GeminiConfig) (*GeminiGenerator, error) {
	if strings.TrimSpace(cfg.GetGeminiAPIKey()) == "" {
		return nil, errors.New("gemini api key is not configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GetGeminiAPIKey(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return NewGeminiGeneratorWith(client.Models, cfg.GetGeminiModel()), nil
}

// NewGeminiGeneratorWith wires an existing content generator.
func NewGeminiGeneratorWith(models ContentGenerator, model string) *GeminiGenerator {
	return &GeminiGenerator{models: models, model: model}
}

// Generate performs a single attempt. Transient failures wrap ErrTransient.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (Reply, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, BuildContents(req), g.contentConfig(req))
	if err != nil {
		if isTransientAPIError(err) {
			return Reply{}, fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return Reply{}, fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return Reply{}, fmt.Errorf("%w: empty response", ErrTransient)
	}
	reply, err := ParseReply(text, req.Score)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return reply, nil
}

func isTransientAPIError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (g *GeminiGenerator) contentConfig(req Request) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(BuildSystemInstruction(req), genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    ResponseSchema(),
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}
}

// BuildContents converts history and the current batch into model contents.
// Trailing user turns are dropped from history since the batch repeats them.
func BuildContents(req Request) []*genai.Content {
	history := req.History
	for len(history) > 0 && history[len(history)-1].Role == RoleUser {
		history = history[:len(history)-1]
	}

	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if turn.Role == RoleBot {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}

	parts := []*genai.Part{genai.NewPartFromText(req.UserText)}
	for _, m := range req.Media {
		if len(m.Data) > 0 {
			parts = append(parts, genai.NewPartFromBytes(m.Data, m.MIMEType))
		}
	}
	return append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
}

// ResponseSchema is the structured output contract of the gateway.
func ResponseSchema() *genai.Schema {
	number := &genai.Schema{Type: genai.TypeNumber}
	stages := make([]string, 0, len(domain.Stages()))
	for _, stage := range domain.Stages() {
		if stage != domain.StagePaymentConfirmed {
			stages = append(stages, string(stage))
		}
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"internal_thought": {Type: genai.TypeString, Description: "Private reasoning about the lead and the next step."},
			"lead_classification": {
				Type: genai.TypeString,
				Enum: []string{"needy", "horny", "curious", "cold", "unknown"},
			},
			"lead_stats": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"lust":        number,
					"financial":   number,
					"affection":   number,
					"sentimental": number,
				},
				Required: []string{"lust", "financial", "affection", "sentimental"},
			},
			"extracted_user_name": {Type: genai.TypeString, Nullable: genai.Ptr(true)},
			"audio_transcription": {
				Type:        genai.TypeString,
				Nullable:    genai.Ptr(true),
				Description: "Exact transcription when the user sent audio, otherwise null.",
			},
			"current_state": {Type: genai.TypeString, Enum: stages},
			"messages":      {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"action":        {Type: genai.TypeString, Enum: domain.ActionTags()},
			"preview_id":    {Type: genai.TypeString, Nullable: genai.Ptr(true)},
			"payment_details": {
				Type:     genai.TypeObject,
				Nullable: genai.Ptr(true),
				Properties: map[string]*genai.Schema{
					"value":       number,
					"description": {Type: genai.TypeString},
				},
			},
		},
		Required: []string{"internal_thought", "lead_classification", "lead_stats", "current_state", "messages", "action"},
	}
}
