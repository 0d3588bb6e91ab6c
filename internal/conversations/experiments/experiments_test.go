package experiments

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	variants    []domain.PromptVariant
	listErr     error
	createErr   error
	assignments []domain.VariantAssignment
	resolved    map[uuid.UUID]bool
	increments  map[uuid.UUID][2]int
}

func newFakeStore(variants ...domain.PromptVariant) *fakeStore {
	return &fakeStore{
		variants:   variants,
		resolved:   map[uuid.UUID]bool{},
		increments: map[uuid.UUID][2]int{},
	}
}

func (f *fakeStore) ListEnabledVariants(_ context.Context, stage domain.Stage) ([]domain.PromptVariant, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.PromptVariant
	for _, v := range f.variants {
		if v.Stage == stage && v.Enabled {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateAssignment(_ context.Context, a domain.VariantAssignment) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.assignments = append(f.assignments, a)
	return nil
}

func (f *fakeStore) ResolveAssignment(_ context.Context, id uuid.UUID, _ bool) (bool, error) {
	if f.resolved[id] {
		return false, nil
	}
	f.resolved[id] = true
	return true, nil
}

func (f *fakeStore) IncrementVariantOutcome(_ context.Context, id uuid.UUID, success bool) error {
	counts := f.increments[id]
	if success {
		counts[0]++
	} else {
		counts[1]++
	}
	f.increments[id] = counts
	return nil
}

func seeded() *Sampler {
	return NewSampler(rand.NewPCG(42, 1337))
}

func mean(n int, draw func() float64) float64 {
	var sum float64
	for range n {
		sum += draw()
	}
	return sum / float64(n)
}

func TestGammaMeanMatchesShape(t *testing.T) {
	s := seeded()
	for _, shape := range []float64{0.3, 0.5, 1, 2.5, 9} {
		got := mean(40000, func() float64 { return s.Gamma(shape) })
		assert.InDelta(t, shape, got, 0.05*math.Max(shape, 1), "shape %.1f", shape)
	}
}

func TestGammaRejectsInvalidShape(t *testing.T) {
	s := seeded()
	assert.Zero(t, s.Gamma(0))
	assert.Zero(t, s.Gamma(-2))
	assert.Zero(t, s.Gamma(math.NaN()))
}

func TestBetaStaysInUnitIntervalWithExpectedMean(t *testing.T) {
	s := seeded()
	got := mean(40000, func() float64 {
		v := s.Beta(2, 8)
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 1.0)
		return v
	})
	assert.InDelta(t, 0.2, got, 0.01)
}

func TestSelectPrefersWinningVariant(t *testing.T) {
	winner := domain.PromptVariant{ID: uuid.New(), Stage: domain.StageHotTalk, Content: "a", Enabled: true, Weight: 1, Successes: 120}
	loser := domain.PromptVariant{ID: uuid.New(), Stage: domain.StageHotTalk, Content: "b", Enabled: true, Weight: 1, Failures: 120}
	store := newFakeStore(loser, winner)
	selector := NewSelector(store, seeded(), logger.Discard())
	sessionID := uuid.New()

	for range 50 {
		sel, err := selector.Select(context.Background(), sessionID, domain.StageHotTalk)
		require.NoError(t, err)
		require.NotNil(t, sel)
		assert.Equal(t, winner.ID, sel.Variant.ID)
		require.NotNil(t, sel.Assignment)
		assert.Nil(t, sel.Assignment.Success)
		assert.Equal(t, sessionID, sel.Assignment.SessionID)
	}
	assert.Len(t, store.assignments, 50)
}

func TestSelectSkipsZeroWeightWhenAlternativeExists(t *testing.T) {
	muted := domain.PromptVariant{ID: uuid.New(), Stage: domain.StagePreview, Enabled: true, Weight: 0, Successes: 500}
	live := domain.PromptVariant{ID: uuid.New(), Stage: domain.StagePreview, Enabled: true, Weight: 1}
	selector := NewSelector(newFakeStore(muted, live), seeded(), logger.Discard())

	for range 20 {
		sel, err := selector.Select(context.Background(), uuid.New(), domain.StagePreview)
		require.NoError(t, err)
		assert.Equal(t, live.ID, sel.Variant.ID)
	}
}

func TestSelectWithoutVariants(t *testing.T) {
	selector := NewSelector(newFakeStore(), seeded(), logger.Discard())
	sel, err := selector.Select(context.Background(), uuid.New(), domain.StageWelcome)
	require.NoError(t, err)
	assert.Nil(t, sel)
}

func TestSelectKeepsVariantWhenAssignmentFails(t *testing.T) {
	v := domain.PromptVariant{ID: uuid.New(), Stage: domain.StageWelcome, Enabled: true, Weight: 1}
	store := newFakeStore(v)
	store.createErr = errors.New("insert failed")
	selector := NewSelector(store, seeded(), logger.Discard())

	sel, err := selector.Select(context.Background(), uuid.New(), domain.StageWelcome)
	require.NoError(t, err)
	require.NotNil(t, sel)
	assert.Nil(t, sel.Assignment)
}

func TestSelectPropagatesListError(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("db down")
	_, err := NewSelector(store, seeded(), logger.Discard()).Select(context.Background(), uuid.New(), domain.StageWelcome)
	require.Error(t, err)
}

func TestOutcomeFor(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, OutcomeFor(domain.StageConnection, domain.StageHotTalk))
	assert.Equal(t, OutcomeFailure, OutcomeFor(domain.StageNegotiation, domain.StagePreview))
	assert.Equal(t, OutcomeUnresolved, OutcomeFor(domain.StagePreview, domain.StagePreview))
	assert.Equal(t, OutcomeUnresolved, OutcomeFor("", domain.StageConnection))
}

func TestSettleResolvesAtMostOnce(t *testing.T) {
	variantID := uuid.New()
	store := newFakeStore()
	selector := NewSelector(store, seeded(), logger.Discard())
	assignment := domain.VariantAssignment{ID: uuid.New(), VariantID: variantID, Stage: domain.StageConnection}

	outcome, err := selector.Settle(context.Background(), assignment, domain.StageConnection, domain.StageTriggerPhase)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)

	outcome, err = selector.Settle(context.Background(), assignment, domain.StageConnection, domain.StageTriggerPhase)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnresolved, outcome)

	assert.Equal(t, [2]int{1, 0}, store.increments[variantID])
}

func TestSettleLeavesUnchangedStageOpen(t *testing.T) {
	store := newFakeStore()
	selector := NewSelector(store, seeded(), logger.Discard())
	assignment := domain.VariantAssignment{ID: uuid.New(), VariantID: uuid.New()}

	outcome, err := selector.Settle(context.Background(), assignment, domain.StageHotTalk, domain.StageHotTalk)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnresolved, outcome)
	assert.Empty(t, store.resolved)
	assert.Empty(t, store.increments)
}

func TestSettleRecordsRegression(t *testing.T) {
	variantID := uuid.New()
	store := newFakeStore()
	selector := NewSelector(store, seeded(), logger.Discard())
	assignment := domain.VariantAssignment{ID: uuid.New(), VariantID: variantID}

	outcome, err := selector.Settle(context.Background(), assignment, domain.StageClosing, domain.StageHotTalk)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, outcome)
	assert.Equal(t, [2]int{0, 1}, store.increments[variantID])
}
