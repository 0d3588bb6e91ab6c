package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, time.Minute), mr
}

func TestAcquireIsExclusive(t *testing.T) {
	l, _ := newLocker(t)
	ctx := context.Background()
	id := uuid.New()

	release, err := l.Acquire(ctx, id)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, id)
	assert.ErrorIs(t, err, ErrHeld)

	other, err := l.Acquire(ctx, uuid.New())
	require.NoError(t, err)
	other()

	release()
	again, err := l.Acquire(ctx, id)
	require.NoError(t, err)
	again()
}

func TestLockExpires(t *testing.T) {
	l, mr := newLocker(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := l.Acquire(ctx, id)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	release, err := l.Acquire(ctx, id)
	require.NoError(t, err)
	release()
}

func TestStaleReleaseKeepsNewOwner(t *testing.T) {
	l, mr := newLocker(t)
	ctx := context.Background()
	id := uuid.New()

	stale, err := l.Acquire(ctx, id)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	_, err = l.Acquire(ctx, id)
	require.NoError(t, err)

	stale()
	assert.True(t, mr.Exists(l.prefix+id.String()))
}

func TestNoopAlwaysAcquires(t *testing.T) {
	release, err := Noop{}.Acquire(context.Background(), uuid.New())
	require.NoError(t, err)
	release()
}
