// Package repository persists sessions, transcripts, experiments and the
// payment ledger in PostgreSQL.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository provides database operations for the conversation funnel
type Repository struct {
	db DB
}

const sessionNotFoundMsg = "session not found"

// pgUndefinedColumn is raised when a deployment has not migrated a column yet.
const pgUndefinedColumn = "42703"

// New creates a new conversations repository
func New(db DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, platform, external_chat_id, user_name, status, funnel_step, lead_score,
	total_paid::float8, user_city, last_bot_activity_at, last_message_at, reengagement_sent, created_at`

func scanSession(row pgx.Row) (domain.Session, error) {
	var (
		s         domain.Session
		platform  string
		userName  *string
		status    string
		stage     *string
		scoreJSON []byte
		city      *string
	)
	if err := row.Scan(&s.ID, &platform, &s.ExternalChatID, &userName, &status, &stage, &scoreJSON,
		&s.TotalPaid, &city, &s.LastBotActivityAt, &s.LastMessageAt, &s.ReengagementSent, &s.CreatedAt); err != nil {
		return domain.Session{}, err
	}

	s.Platform = domain.Platform(platform)
	s.Status = domain.SessionStatus(status)
	if userName != nil {
		s.UserName = *userName
	}
	if stage != nil {
		s.Stage = domain.Stage(*stage)
	}
	if city != nil {
		s.City = *city
	}
	if len(scoreJSON) > 0 {
		var score domain.LeadScore
		if err := json.Unmarshal(scoreJSON, &score); err == nil {
			score = score.Clamp()
			s.Score = &score
		}
	}
	return s, nil
}

// GetSession loads a session by id.
func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (domain.Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, apperr.NotFound(sessionNotFoundMsg)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// UpsertInboundSession finds or creates the session for a chat and marks it as
// having fresh inbound activity, which re-arms the re-engagement nudge.
func (r *Repository) UpsertInboundSession(ctx context.Context, platform domain.Platform, externalChatID, userName string) (domain.Session, bool, error) {
	query := `
		INSERT INTO sessions (id, platform, external_chat_id, user_name, status, last_message_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), 'active', now())
		ON CONFLICT (platform, external_chat_id) DO UPDATE SET
			user_name = COALESCE(EXCLUDED.user_name, sessions.user_name),
			last_message_at = now(),
			reengagement_sent = false,
			updated_at = now()
		RETURNING ` + sessionColumns + `, (xmax = 0) AS inserted`

	row := r.db.QueryRow(ctx, query, uuid.New(), string(platform), externalChatID, userName)

	var inserted bool
	s, err := scanSession(insertedRow{row: row, inserted: &inserted})
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("failed to upsert session: %w", err)
	}
	return s, inserted, nil
}

// insertedRow appends the trailing "inserted" column to a session scan.
type insertedRow struct {
	row      pgx.Row
	inserted *bool
}

func (r insertedRow) Scan(dest ...any) error {
	return r.row.Scan(append(dest, r.inserted)...)
}

// UpdateCity stores the inferred city of the counterpart.
func (r *Repository) UpdateCity(ctx context.Context, id uuid.UUID, city string) error {
	_, err := r.db.Exec(ctx, `UPDATE sessions SET user_city = $2, updated_at = now() WHERE id = $1`, id, city)
	if err != nil {
		return fmt.Errorf("failed to update city: %w", err)
	}
	return nil
}

// UpdateUserName fills in the counterpart's name when none is stored yet.
func (r *Repository) UpdateUserName(ctx context.Context, id uuid.UUID, name string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE sessions SET user_name = $2, updated_at = now()
		WHERE id = $1 AND COALESCE(user_name, '') = ''`, id, name)
	if err != nil {
		return fmt.Errorf("failed to update user name: %w", err)
	}
	return nil
}

// SetStatus pauses, resumes or closes a session.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status domain.SessionStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE sessions SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(sessionNotFoundMsg)
	}
	return nil
}

// SaveTurnState persists the resolved stage and score. On databases that lack
// the funnel_step column only the score is stored and stagePersisted is false.
func (r *Repository) SaveTurnState(ctx context.Context, id uuid.UUID, stage domain.Stage, score domain.LeadScore) (stagePersisted bool, err error) {
	scoreJSON, err := json.Marshal(score.Clamp())
	if err != nil {
		return false, fmt.Errorf("failed to encode lead score: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`UPDATE sessions SET funnel_step = $2, lead_score = $3, updated_at = now() WHERE id = $1`,
		id, string(stage), scoreJSON)
	if err == nil {
		return true, nil
	}
	if !isUndefinedColumn(err) {
		return false, fmt.Errorf("failed to save turn state: %w", err)
	}

	if _, err := r.db.Exec(ctx,
		`UPDATE sessions SET lead_score = $2, updated_at = now() WHERE id = $1`,
		id, scoreJSON); err != nil {
		return false, fmt.Errorf("failed to save lead score: %w", err)
	}
	return false, nil
}

func isUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedColumn
}

// TouchBotActivity records when the bot last acted on the session.
func (r *Repository) TouchBotActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE sessions SET last_bot_activity_at = $2, updated_at = now() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to update bot activity: %w", err)
	}
	return nil
}

// InsertFunnelEvent appends a stage change to the funnel history.
func (r *Repository) InsertFunnelEvent(ctx context.Context, sessionID uuid.UUID, stage domain.Stage, source domain.FunnelEventSource) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO funnel_events (session_id, step, source) VALUES ($1, $2, $3)`,
		sessionID, string(stage), string(source))
	if err != nil {
		return fmt.Errorf("failed to insert funnel event: %w", err)
	}
	return nil
}

// ListIdleSessions returns active sessions where the bot spoke last, before
// idleBefore, and no nudge has been sent since. Oldest first.
func (r *Repository) ListIdleSessions(ctx context.Context, idleBefore time.Time, limit int) ([]domain.Session, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE status = 'active'
		  AND NOT reengagement_sent
		  AND last_bot_activity_at < $1
		  AND last_message_at <= last_bot_activity_at
		ORDER BY last_bot_activity_at ASC
		LIMIT $2`, idleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list idle sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// MarkReengagementSent sets the nudge flag and reports whether this call set it.
func (r *Repository) MarkReengagementSent(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE sessions SET reengagement_sent = true, last_bot_activity_at = now(), updated_at = now()
		WHERE id = $1 AND NOT reengagement_sent`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark re-engagement: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
