package repository

import (
	"context"
	"errors"
	"fmt"

	"chatfunnel_backend/internal/conversations/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const previewColumns = `id, name, description, media_type, media_url, stage, min_score, max_score, tags, triggers, priority, enabled`

func scanPreview(row pgx.Row) (domain.PreviewAsset, error) {
	var (
		p         domain.PreviewAsset
		mediaType string
		stage     *string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &mediaType, &p.MediaURL, &stage,
		&p.MinScore, &p.MaxScore, &p.Tags, &p.Triggers, &p.Priority, &p.Enabled); err != nil {
		return domain.PreviewAsset{}, err
	}
	p.MediaType = domain.MediaType(mediaType)
	if stage != nil {
		p.Stage = domain.Stage(*stage)
	}
	return p, nil
}

// ListEnabledPreviews returns the dynamic preview catalog by priority.
func (r *Repository) ListEnabledPreviews(ctx context.Context, limit int) ([]domain.PreviewAsset, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+previewColumns+`
		FROM preview_assets
		WHERE enabled
		ORDER BY priority DESC, created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list previews: %w", err)
	}
	defer rows.Close()

	var previews []domain.PreviewAsset
	for rows.Next() {
		p, err := scanPreview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan preview: %w", err)
		}
		previews = append(previews, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate previews: %w", err)
	}
	return previews, nil
}

// GetEnabledPreview returns an enabled preview by id, or nil.
func (r *Repository) GetEnabledPreview(ctx context.Context, id uuid.UUID) (*domain.PreviewAsset, error) {
	row := r.db.QueryRow(ctx, `SELECT `+previewColumns+` FROM preview_assets WHERE id = $1 AND enabled`, id)
	p, err := scanPreview(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preview: %w", err)
	}
	return &p, nil
}

// LoadSettings returns the raw key/value runtime settings.
func (r *Repository) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `SELECT key, value FROM bot_settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settings: %w", err)
	}
	return values, nil
}
