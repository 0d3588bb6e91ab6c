package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionCols = []string{
	"id", "platform", "external_chat_id", "user_name", "status", "funnel_step", "lead_score",
	"total_paid", "user_city", "last_bot_activity_at", "last_message_at", "reengagement_sent", "created_at",
}

var messageCols = []string{"id", "session_id", "sender", "content", "media_url", "media_type", "payment_data", "created_at"}

func ptr[T any](v T) *T { return &v }

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Repository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, New(mock)
}

func TestGetSessionDecodesRow(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("FROM sessions WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(mock.NewRows(sessionCols).AddRow(
			id, "telegram", "555", ptr("Ana"), "active", ptr("HOT_TALK"),
			[]byte(`{"lust":140,"financial":30,"affection":20,"sentimental":10}`),
			39.8, nil, nil, now, false, now,
		))

	s, err := repo.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.PlatformTelegram, s.Platform)
	assert.Equal(t, "Ana", s.UserName)
	assert.Equal(t, domain.StageHotTalk, s.Stage)
	require.NotNil(t, s.Score)
	assert.Equal(t, domain.LeadScore{Lust: 100, Financial: 30, Affection: 20, Sentimental: 10}, *s.Score)
	assert.Empty(t, s.City)
	assert.Nil(t, s.LastBotActivityAt)
	assert.InDelta(t, 39.8, s.TotalPaid, 0.001)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionNotFound(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery("FROM sessions").WillReturnRows(mock.NewRows(sessionCols))

	_, err := repo.GetSession(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestUpsertInboundSessionReportsInsert(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO sessions").
		WithArgs(pgxmock.AnyArg(), "whatsapp", "5511999990000", "Bia").
		WillReturnRows(mock.NewRows(append(sessionCols, "inserted")).AddRow(
			id, "whatsapp", "5511999990000", ptr("Bia"), "active", nil, nil,
			0.0, nil, nil, now, false, now, true,
		))

	s, created, err := repo.UpsertInboundSession(context.Background(), domain.PlatformWhatsApp, "5511999990000", "Bia")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, id, s.ID)
	assert.Empty(t, s.Stage)
	assert.Nil(t, s.Score)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTurnStateFallsBackWhenStageColumnMissing(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE sessions SET funnel_step").
		WithArgs(id, "PREVIEW", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "42703", Message: `column "funnel_step" does not exist`})
	mock.ExpectExec("UPDATE sessions SET lead_score").
		WithArgs(id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	persisted, err := repo.SaveTurnState(context.Background(), id, domain.StagePreview, domain.DefaultLeadScore())
	require.NoError(t, err)
	assert.False(t, persisted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTurnStatePropagatesOtherErrors(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectExec("UPDATE sessions SET funnel_step").WillReturnError(errors.New("connection reset"))

	_, err := repo.SaveTurnState(context.Background(), uuid.New(), domain.StagePreview, domain.DefaultLeadScore())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusNotFound(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectExec("UPDATE sessions SET status").WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.SetStatus(context.Background(), uuid.New(), domain.SessionPaused)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestMarkReengagementSentOnlyOnce(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()
	mock.ExpectExec("SET reengagement_sent = true").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SET reengagement_sent = true").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	first, err := repo.MarkReengagementSent(context.Background(), id)
	require.NoError(t, err)
	second, err := repo.MarkReengagementSent(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}

func TestPendingBatchFiltersAdminMarkers(t *testing.T) {
	mock, repo := newMock(t)
	sessionID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("FROM messages").
		WithArgs(sessionID, domain.AdminTriggerMarker+"%").
		WillReturnRows(mock.NewRows(messageCols).
			AddRow(uuid.New(), sessionID, "user", "oi", nil, nil, nil, now).
			AddRow(uuid.New(), sessionID, "system", domain.AdminTriggerMarker, nil, nil, nil, now.Add(time.Second)))

	batch, err := repo.PendingBatch(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, domain.SenderUser, batch[0].Sender)
	assert.Equal(t, domain.SenderSystem, batch[1].Sender)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAdminTriggersTargetsMarkersOnly(t *testing.T) {
	mock, repo := newMock(t)
	sessionID := uuid.New()
	ids := []uuid.UUID{uuid.New()}

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM messages")).
		WithArgs(sessionID, ids, domain.AdminTriggerMarker+"%").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, repo.DeleteAdminTriggers(context.Background(), sessionID, ids))
	require.NoError(t, repo.DeleteAdminTriggers(context.Background(), sessionID, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentMessagesReturnsOldestFirst(t *testing.T) {
	mock, repo := newMock(t)
	sessionID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("ORDER BY created_at DESC").
		WithArgs(sessionID, 3).
		WillReturnRows(mock.NewRows(messageCols).
			AddRow(uuid.New(), sessionID, "bot", "third", nil, nil, nil, now).
			AddRow(uuid.New(), sessionID, "user", "second", nil, nil, nil, now.Add(-time.Minute)).
			AddRow(uuid.New(), sessionID, "user", "first", ptr("https://cdn/x.jpg"), ptr("image"), nil, now.Add(-2*time.Minute)))

	messages, err := repo.RecentMessages(context.Background(), sessionID, 3)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, domain.MediaImage, messages[0].MediaType)
	assert.Equal(t, "third", messages[2].Content)
}

func TestLatestPaymentDecodesPaymentData(t *testing.T) {
	mock, repo := newMock(t)
	sessionID := uuid.New()

	mock.ExpectQuery("content ILIKE \\$2").
		WithArgs(sessionID, domain.PaymentGeneratedPattern).
		WillReturnRows(mock.NewRows(messageCols).AddRow(
			uuid.New(), sessionID, "system", domain.PaymentGeneratedContent(19.9, "pay_1"), nil, nil,
			[]byte(`{"paymentId":"pay_1","value":19.9,"pixCopiaCola":"000201","paid":false,"status":"pending"}`),
			time.Now()))

	m, err := repo.LatestPayment(context.Background(), sessionID)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.NotNil(t, m.Payment)
	assert.Equal(t, "pay_1", m.Payment.PaymentID)
	assert.Equal(t, "000201", m.Payment.ProviderCode)
	assert.False(t, m.Payment.Paid)
}

func TestLatestPaymentNone(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery("content ILIKE").WillReturnRows(mock.NewRows(messageCols))

	m, err := repo.LatestPayment(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestConfirmPaymentAppliesEffectsOnce(t *testing.T) {
	mock, repo := newMock(t)
	c := Confirmation{MessageID: uuid.New(), SessionID: uuid.New(), Value: 19.9, Status: "approved", PaidAt: time.Now().UTC()}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE messages").
		WithArgs(c.MessageID, "approved", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(regexp.QuoteMeta("total_paid = total_paid + $2")).
		WithArgs(c.SessionID, 19.9).
		WillReturnRows(mock.NewRows([]string{"total_paid"}).AddRow(39.8))
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(pgxmock.AnyArg(), c.SessionID, domain.PaymentConfirmedContent(19.9, 39.8), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO funnel_events").
		WithArgs(c.SessionID, "PAYMENT_CONFIRMED", "system").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE messages").
		WithArgs(c.MessageID, "approved", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	total, confirmed, err := repo.ConfirmPayment(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, confirmed)
	assert.InDelta(t, 39.8, total, 0.001)

	_, confirmed, err = repo.ConfirmPayment(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, confirmed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAssignmentOnlyOpenRows(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()
	mock.ExpectExec("WHERE id = \\$1 AND success IS NULL").
		WithArgs(id, true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	resolved, err := repo.ResolveAssignment(context.Background(), id, true)
	require.NoError(t, err)
	assert.False(t, resolved)
}

func TestIncrementVariantOutcomeIsAtomic(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta("successes = successes + 1")).WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("failures = failures + 1")).WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.IncrementVariantOutcome(context.Background(), id, true))
	require.NoError(t, repo.IncrementVariantOutcome(context.Background(), id, false))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEnabledVariants(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()
	mock.ExpectQuery("FROM prompt_variants").
		WithArgs("HOT_TALK").
		WillReturnRows(mock.NewRows([]string{"id", "stage", "content", "enabled", "weight", "successes", "failures"}).
			AddRow(id, "HOT_TALK", "be playful", true, 1.5, 4, 2))

	variants, err := repo.ListEnabledVariants(context.Background(), domain.StageHotTalk)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, domain.PromptVariant{ID: id, Stage: domain.StageHotTalk, Content: "be playful", Enabled: true, Weight: 1.5, Successes: 4, Failures: 2}, variants[0])
}

func TestLoadSettings(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery("FROM bot_settings").
		WillReturnRows(mock.NewRows([]string{"key", "value"}).
			AddRow("default_price", "24.90").
			AddRow("ai_enabled", "false"))

	values, err := repo.LoadSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"default_price": "24.90", "ai_enabled": "false"}, values)
}

func TestLastOfferAt(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()
	at := time.Now().UTC().Add(-7 * time.Minute)

	mock.ExpectQuery("SELECT max\\(created_at\\)").
		WithArgs(id, "[MEDIA:%", domain.PaymentGeneratedPattern).
		WillReturnRows(mock.NewRows([]string{"max"}).AddRow(&at))
	mock.ExpectQuery("SELECT max\\(created_at\\)").
		WithArgs(id, "[MEDIA:%", domain.PaymentGeneratedPattern).
		WillReturnRows(mock.NewRows([]string{"max"}).AddRow(nil))

	got, err := repo.LastOfferAt(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, at, *got)

	got, err = repo.LastOfferAt(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserNameOnlyFillsEmpty(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("COALESCE(user_name, '') = ''")).
		WithArgs(id, "Ana").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.UpdateUserName(context.Background(), id, "Ana"))
	require.NoError(t, mock.ExpectationsWereMet())
}
