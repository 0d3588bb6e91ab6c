package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"chatfunnel_backend/internal/conversations/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, session_id, sender, content, media_url, media_type, payment_data, created_at`

func scanMessage(row pgx.Row) (domain.Message, error) {
	var (
		m           domain.Message
		sender      string
		mediaURL    *string
		mediaType   *string
		paymentJSON []byte
	)
	if err := row.Scan(&m.ID, &m.SessionID, &sender, &m.Content, &mediaURL, &mediaType, &paymentJSON, &m.CreatedAt); err != nil {
		return domain.Message{}, err
	}
	m.Sender = domain.Sender(sender)
	if mediaURL != nil {
		m.MediaURL = *mediaURL
	}
	if mediaType != nil {
		m.MediaType = domain.MediaType(*mediaType)
	}
	if len(paymentJSON) > 0 {
		var payment domain.PaymentRecord
		if err := json.Unmarshal(paymentJSON, &payment); err != nil {
			return domain.Message{}, fmt.Errorf("decode payment data: %w", err)
		}
		m.Payment = &payment
	}
	return m, nil
}

func collectMessages(rows pgx.Rows) ([]domain.Message, error) {
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func encodePayment(p *domain.PaymentRecord) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// InsertMessage appends a message to a transcript. ID and CreatedAt are
// filled in when empty.
func (r *Repository) InsertMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	paymentJSON, err := encodePayment(m.Payment)
	if err != nil {
		return fmt.Errorf("failed to encode payment data: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO messages (id, session_id, sender, content, media_url, media_type, payment_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.SessionID, string(m.Sender), m.Content, nullableString(m.MediaURL),
		nullableString(string(m.MediaType)), paymentJSON, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// LatestUserMessage returns the newest user message of a session, or nil.
func (r *Repository) LatestUserMessage(ctx context.Context, sessionID uuid.UUID) (*domain.Message, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE session_id = $1 AND sender = 'user'
		ORDER BY created_at DESC
		LIMIT 1`, sessionID)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest user message: %w", err)
	}
	return &m, nil
}

// PendingBatch returns the user messages and force-sale markers written after
// the last bot message, oldest first.
func (r *Repository) PendingBatch(ctx context.Context, sessionID uuid.UUID) ([]domain.Message, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE session_id = $1
		  AND (sender = 'user' OR (sender = 'system' AND content LIKE $2))
		  AND created_at > COALESCE(
			(SELECT max(created_at) FROM messages WHERE session_id = $1 AND sender = 'bot'),
			'-infinity'::timestamptz)
		ORDER BY created_at ASC`, sessionID, domain.AdminTriggerMarker+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to load pending batch: %w", err)
	}
	return collectMessages(rows)
}

// RecentMessages returns up to limit of the newest messages, oldest first.
func (r *Repository) RecentMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.Message, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}
	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

// LastMessageBySender returns the newest message from sender, or nil.
func (r *Repository) LastMessageBySender(ctx context.Context, sessionID uuid.UUID, sender domain.Sender) (*domain.Message, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE session_id = $1 AND sender = $2
		ORDER BY created_at DESC
		LIMIT 1`, sessionID, string(sender))
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last %s message: %w", sender, err)
	}
	return &m, nil
}

// UpdateMessageContent rewrites a stored message, used for transcriptions.
func (r *Repository) UpdateMessageContent(ctx context.Context, id uuid.UUID, content string) error {
	if _, err := r.db.Exec(ctx, `UPDATE messages SET content = $2 WHERE id = $1`, id, content); err != nil {
		return fmt.Errorf("failed to update message content: %w", err)
	}
	return nil
}

// DeleteAdminTriggers removes force-sale markers once a turn has acted on
// them. Only system messages carrying the marker are touched.
func (r *Repository) DeleteAdminTriggers(ctx context.Context, sessionID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		DELETE FROM messages
		WHERE session_id = $1 AND id = ANY($2) AND sender = 'system' AND content LIKE $3`,
		sessionID, ids, domain.AdminTriggerMarker+"%")
	if err != nil {
		return fmt.Errorf("failed to delete admin triggers: %w", err)
	}
	return nil
}

// UpdateMessageMedia attaches a resolved media location to a message.
func (r *Repository) UpdateMessageMedia(ctx context.Context, id uuid.UUID, mediaURL string, mediaType domain.MediaType) error {
	_, err := r.db.Exec(ctx,
		`UPDATE messages SET media_url = $2, media_type = $3 WHERE id = $1`,
		id, mediaURL, string(mediaType))
	if err != nil {
		return fmt.Errorf("failed to update message media: %w", err)
	}
	return nil
}

// LastOfferAt returns when media or a payment code was last offered, or nil.
func (r *Repository) LastOfferAt(ctx context.Context, sessionID uuid.UUID) (*time.Time, error) {
	var at *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT max(created_at)
		FROM messages
		WHERE session_id = $1
		  AND ((sender = 'bot' AND content LIKE $2) OR (sender = 'system' AND content ILIKE $3))`,
		sessionID, "[MEDIA:%", domain.PaymentGeneratedPattern).Scan(&at)
	if err != nil {
		return nil, fmt.Errorf("failed to get last offer time: %w", err)
	}
	return at, nil
}
