package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatfunnel_backend/internal/conversations/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LatestPayment returns the newest generated payment of a session, or nil.
func (r *Repository) LatestPayment(ctx context.Context, sessionID uuid.UUID) (*domain.Message, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE session_id = $1 AND sender = 'system' AND content ILIKE $2
		ORDER BY created_at DESC
		LIMIT 1`, sessionID, domain.PaymentGeneratedPattern)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest payment: %w", err)
	}
	return &m, nil
}

// Confirmation describes a payment the provider reported as paid.
type Confirmation struct {
	MessageID uuid.UUID
	SessionID uuid.UUID
	Value     float64
	Status    string
	PaidAt    time.Time
}

// ConfirmPayment marks the payment paid, adds its value to the session total,
// writes the ledger line and the PAYMENT_CONFIRMED funnel event. All of it
// happens only for the call that flips the paid flag; later calls return
// confirmed=false and change nothing.
func (r *Repository) ConfirmPayment(ctx context.Context, c Confirmation) (newTotal float64, confirmed bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin payment confirmation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE messages
		SET payment_data = payment_data || jsonb_build_object('paid', true, 'status', $2::text, 'paidAt', $3::timestamptz)
		WHERE id = $1 AND NOT COALESCE((payment_data->>'paid')::boolean, false)`,
		c.MessageID, c.Status, c.PaidAt)
	if err != nil {
		return 0, false, fmt.Errorf("failed to mark payment paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, false, nil
	}

	if err := tx.QueryRow(ctx, `
		UPDATE sessions SET total_paid = total_paid + $2, updated_at = now()
		WHERE id = $1
		RETURNING total_paid::float8`, c.SessionID, c.Value).Scan(&newTotal); err != nil {
		return 0, false, fmt.Errorf("failed to increment total paid: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (id, session_id, sender, content, created_at)
		VALUES ($1, $2, 'system', $3, $4)`,
		uuid.New(), c.SessionID, domain.PaymentConfirmedContent(c.Value, newTotal), c.PaidAt); err != nil {
		return 0, false, fmt.Errorf("failed to insert payment ledger entry: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO funnel_events (session_id, step, source) VALUES ($1, $2, $3)`,
		c.SessionID, string(domain.StagePaymentConfirmed), string(domain.FunnelSourceSystem)); err != nil {
		return 0, false, fmt.Errorf("failed to insert payment funnel event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("failed to commit payment confirmation: %w", err)
	}
	return newTotal, true, nil
}
