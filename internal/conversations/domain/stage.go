// Package domain holds the conversation funnel's core types: funnel stages,
// the lead score vector, dispatchable actions and the persisted records.
package domain

import "strings"

// Stage is one step of the fixed conversation funnel.
type Stage string

const (
	StageWelcome          Stage = "WELCOME"
	StageConnection       Stage = "CONNECTION"
	StageTriggerPhase     Stage = "TRIGGER_PHASE"
	StageHotTalk          Stage = "HOT_TALK"
	StagePreview          Stage = "PREVIEW"
	StageSalesPitch       Stage = "SALES_PITCH"
	StageNegotiation      Stage = "NEGOTIATION"
	StageClosing          Stage = "CLOSING"
	StagePaymentCheck     Stage = "PAYMENT_CHECK"
	StagePaymentConfirmed Stage = "PAYMENT_CONFIRMED"
)

var stageOrder = []Stage{
	StageWelcome,
	StageConnection,
	StageTriggerPhase,
	StageHotTalk,
	StagePreview,
	StageSalesPitch,
	StageNegotiation,
	StageClosing,
	StagePaymentCheck,
	StagePaymentConfirmed,
}

// Stages returns the funnel in order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Index is the stage's position in the funnel, or -1 for unknown values
// (including the empty stage of a session that has never been processed).
func (s Stage) Index() int {
	for i, candidate := range stageOrder {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the funnel stages.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

func (s Stage) String() string {
	return string(s)
}

// ParseStage accepts any casing and surrounding whitespace.
func ParseStage(raw string) (Stage, bool) {
	stage := Stage(strings.ToUpper(strings.TrimSpace(raw)))
	if !stage.Valid() {
		return "", false
	}
	return stage, true
}

// OrWelcome maps the empty/unknown stage to WELCOME.
func (s Stage) OrWelcome() Stage {
	if s.Valid() {
		return s
	}
	return StageWelcome
}
