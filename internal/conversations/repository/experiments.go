package repository

import (
	"context"
	"fmt"

	"chatfunnel_backend/internal/conversations/domain"

	"github.com/google/uuid"
)

// ListEnabledVariants returns the enabled prompt variants of a stage.
func (r *Repository) ListEnabledVariants(ctx context.Context, stage domain.Stage) ([]domain.PromptVariant, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, stage, content, enabled, weight, successes, failures
		FROM prompt_variants
		WHERE stage = $1 AND enabled
		ORDER BY created_at ASC`, string(stage))
	if err != nil {
		return nil, fmt.Errorf("failed to list prompt variants: %w", err)
	}
	defer rows.Close()

	var variants []domain.PromptVariant
	for rows.Next() {
		var (
			v         domain.PromptVariant
			stageName string
		)
		if err := rows.Scan(&v.ID, &stageName, &v.Content, &v.Enabled, &v.Weight, &v.Successes, &v.Failures); err != nil {
			return nil, fmt.Errorf("failed to scan prompt variant: %w", err)
		}
		v.Stage = domain.Stage(stageName)
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prompt variants: %w", err)
	}
	return variants, nil
}

// CreateAssignment records that a variant was shown, with no outcome yet.
func (r *Repository) CreateAssignment(ctx context.Context, a domain.VariantAssignment) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO variant_assignments (id, session_id, variant_id, stage)
		VALUES ($1, $2, $3, $4)`,
		a.ID, a.SessionID, a.VariantID, string(a.Stage))
	if err != nil {
		return fmt.Errorf("failed to create variant assignment: %w", err)
	}
	return nil
}

// ResolveAssignment sets the outcome if it is still open.
func (r *Repository) ResolveAssignment(ctx context.Context, assignmentID uuid.UUID, success bool) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE variant_assignments SET success = $2, resolved_at = now()
		WHERE id = $1 AND success IS NULL`, assignmentID, success)
	if err != nil {
		return false, fmt.Errorf("failed to resolve variant assignment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementVariantOutcome bumps the success or failure counter in place.
func (r *Repository) IncrementVariantOutcome(ctx context.Context, variantID uuid.UUID, success bool) error {
	query := `UPDATE prompt_variants SET failures = failures + 1, updated_at = now() WHERE id = $1`
	if success {
		query = `UPDATE prompt_variants SET successes = successes + 1, updated_at = now() WHERE id = $1`
	}
	if _, err := r.db.Exec(ctx, query, variantID); err != nil {
		return fmt.Errorf("failed to update variant counters: %w", err)
	}
	return nil
}
