package experiments

import (
	"context"
	"fmt"

	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/platform/logger"

	"github.com/google/uuid"
)

// Store is the persistence the selector needs.
type Store interface {
	ListEnabledVariants(ctx context.Context, stage domain.Stage) ([]domain.PromptVariant, error)
	CreateAssignment(ctx context.Context, assignment domain.VariantAssignment) error
	// ResolveAssignment sets the outcome only if it is still unresolved and
	// reports whether this call was the one that resolved it.
	ResolveAssignment(ctx context.Context, assignmentID uuid.UUID, success bool) (bool, error)
	IncrementVariantOutcome(ctx context.Context, variantID uuid.UUID, success bool) error
}

// Outcome of an assignment after the funnel resolved.
type Outcome string

const (
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeSuccess    Outcome = "success"
	OutcomeFailure    Outcome = "failure"
)

// Selection is the variant shown on a turn and its assignment, if one could be stored.
type Selection struct {
	Variant    domain.PromptVariant
	Assignment *domain.VariantAssignment
}

// Selector implements the variant bandit.
type Selector struct {
	store   Store
	sampler *Sampler
	log     *logger.Logger
}

// NewSelector creates a selector. A nil sampler uses a runtime-seeded one.
func NewSelector(store Store, sampler *Sampler, log *logger.Logger) *Selector {
	if sampler == nil {
		sampler = NewSampler(nil)
	}
	return &Selector{store: store, sampler: sampler, log: log}
}

// Select samples every enabled variant of the stage and returns the best one,
// or nil when the stage has none.
func (s *Selector) Select(ctx context.Context, sessionID uuid.UUID, stage domain.Stage) (*Selection, error) {
	variants, err := s.store.ListEnabledVariants(ctx, stage)
	if err != nil {
		return nil, fmt.Errorf("list variants for %s: %w", stage, err)
	}

	best, ok := s.pick(variants)
	if !ok {
		return nil, nil
	}

	selection := &Selection{Variant: best}
	assignment := domain.VariantAssignment{
		ID:        uuid.New(),
		SessionID: sessionID,
		VariantID: best.ID,
		Stage:     stage,
	}
	if err := s.store.CreateAssignment(ctx, assignment); err != nil {
		s.log.WithContext(ctx).Warn("variant assignment not stored",
			"variant_id", best.ID.String(), "error", err)
		return selection, nil
	}
	selection.Assignment = &assignment
	return selection, nil
}

func (s *Selector) pick(variants []domain.PromptVariant) (domain.PromptVariant, bool) {
	var (
		best      domain.PromptVariant
		bestScore = -1.0
		found     bool
	)
	for _, v := range variants {
		if !v.Enabled {
			continue
		}
		weight := v.Weight
		if weight < 0 {
			weight = 0
		}
		score := s.sampler.Beta(float64(v.Successes)+1, float64(v.Failures)+1) * weight
		if score > bestScore {
			best, bestScore, found = v, score, true
		}
	}
	return best, found
}

// OutcomeFor compares funnel positions. Unknown stages never settle.
func OutcomeFor(previous, next domain.Stage) Outcome {
	prevIdx, nextIdx := previous.Index(), next.Index()
	switch {
	case prevIdx < 0 || nextIdx < 0:
		return OutcomeUnresolved
	case nextIdx > prevIdx:
		return OutcomeSuccess
	case nextIdx < prevIdx:
		return OutcomeFailure
	default:
		return OutcomeUnresolved
	}
}

// Settle records the outcome of an assignment at most once and bumps the
// variant's counter when it does.
func (s *Selector) Settle(ctx context.Context, assignment domain.VariantAssignment, previous, next domain.Stage) (Outcome, error) {
	outcome := OutcomeFor(previous, next)
	if outcome == OutcomeUnresolved || assignment.Success != nil {
		return OutcomeUnresolved, nil
	}

	success := outcome == OutcomeSuccess
	resolved, err := s.store.ResolveAssignment(ctx, assignment.ID, success)
	if err != nil {
		return OutcomeUnresolved, fmt.Errorf("resolve assignment: %w", err)
	}
	if !resolved {
		return OutcomeUnresolved, nil
	}
	if err := s.store.IncrementVariantOutcome(ctx, assignment.VariantID, success); err != nil {
		return outcome, fmt.Errorf("increment variant counters: %w", err)
	}
	return outcome, nil
}
