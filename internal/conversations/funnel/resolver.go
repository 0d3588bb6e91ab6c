// Package funnel resolves the next conversation stage for a processed turn.
package funnel

import (
	"regexp"
	"strings"

	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/platform/textnorm"
)

// Source names the rule that produced the resolved stage.
type Source string

const (
	SourceGenerated Source = "generated"
	SourcePrevious  Source = "previous"
	SourceDefault   Source = "default"
	SourceAction    Source = "action"
	SourceKeywords  Source = "keywords"
	SourceBootstrap Source = "bootstrap"
)

// Input carries everything the resolver looks at for one turn.
type Input struct {
	Previous     domain.Stage
	Generated    string
	Action       domain.Action
	Replies      []string
	CombinedText string
	UserText     string
}

// Decision is the resolved transition.
type Decision struct {
	Previous domain.Stage
	Next     domain.Stage
	Source   Source
}

// Changed reports whether a funnel event should be recorded.
func (d Decision) Changed() bool {
	return d.Next != d.Previous
}

var mediaStages = map[domain.MediaTag]domain.Stage{
	domain.MediaShowerPhoto:     domain.StageTriggerPhase,
	domain.MediaLingeriePhoto:   domain.StageTriggerPhase,
	domain.MediaWetFingerPhoto:  domain.StageTriggerPhase,
	domain.MediaAssPhotoPreview: domain.StagePreview,
	domain.MediaVideoPreview:    domain.StagePreview,
	domain.MediaHotVideoPreview: domain.StagePreview,
}

// StageForAction maps a dispatched action to the stage it implies.
func StageForAction(action domain.Action) (domain.Stage, bool) {
	switch a := action.(type) {
	case domain.SendMedia:
		stage, ok := mediaStages[a.Asset]
		return stage, ok
	case domain.SendCustomPreview:
		return domain.StagePreview, true
	case domain.CreatePayment, domain.CheckPaymentStatus:
		return domain.StagePaymentCheck, true
	default:
		return "", false
	}
}

type keywordStage struct {
	stage   domain.Stage
	pattern *regexp.Regexp
}

// Checked in order; the first match wins.
var keywordStages = []keywordStage{
	{stage: domain.StagePaymentCheck, pattern: regexp.MustCompile(`\b(?:pix|paguei|comprovante)\b`)},
	{stage: domain.StageNegotiation, pattern: regexp.MustCompile(`r\$|\b\d{1,3}[.,]\d{2}\b|\b(?:preco|valor|quanto custa|quanto e)\b`)},
	{stage: domain.StageSalesPitch, pattern: regexp.MustCompile(`\b(?:vip|acesso|mensal|vitalicio)\b`)},
	{stage: domain.StagePreview, pattern: regexp.MustCompile(`\b(?:previa|video|foto|pelada|sem roupa)\b`)},
}

// InferFromText guesses a stage from reply and inbound text.
func InferFromText(text string) (domain.Stage, bool) {
	folded := textnorm.Fold(text)
	for _, candidate := range keywordStages {
		if candidate.pattern.MatchString(folded) {
			return candidate.stage, true
		}
	}
	return "", false
}

// Resolve computes the next stage. The starting candidate is the generated
// stage when valid, else the previous stage, else WELCOME. The action-implied
// stage and then the keyword-inferred stage may only move the candidate
// forward. A session still at the start that received user text advances to
// CONNECTION.
func Resolve(in Input) Decision {
	decision := Decision{Previous: in.Previous}

	if generated, ok := domain.ParseStage(in.Generated); ok {
		decision.Next, decision.Source = generated, SourceGenerated
	} else if in.Previous.Valid() {
		decision.Next, decision.Source = in.Previous, SourcePrevious
	} else {
		decision.Next, decision.Source = domain.StageWelcome, SourceDefault
	}

	if in.Action != nil {
		if stage, ok := StageForAction(in.Action); ok {
			decision.advance(stage, SourceAction)
		}
	}

	text := strings.Join(append(append([]string{}, in.Replies...), in.CombinedText), "\n")
	if stage, ok := InferFromText(text); ok {
		decision.advance(stage, SourceKeywords)
	}

	atStart := !in.Previous.Valid() || in.Previous == domain.StageWelcome
	if atStart && decision.Next.Index() < domain.StageConnection.Index() && strings.TrimSpace(in.UserText) != "" {
		decision.advance(domain.StageConnection, SourceBootstrap)
	}

	return decision
}

func (d *Decision) advance(stage domain.Stage, source Source) {
	if stage.Index() > d.Next.Index() {
		d.Next, d.Source = stage, source
	}
}
