package scheduler

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.NoError(t, c.Close())
	assert.Error(t, c.EnqueueProcess(context.Background(), uuid.New(), nil, false))
}

func TestRedisClientOpt(t *testing.T) {
	opt, err := redisClientOpt("rediss://:secret@cache.internal:6380/2", true)
	require.NoError(t, err)

	assert.Equal(t, "cache.internal:6380", opt.Addr)
	assert.Equal(t, "secret", opt.Password)
	assert.Equal(t, 2, opt.DB)
	require.NotNil(t, opt.TLSConfig)
	assert.True(t, opt.TLSConfig.InsecureSkipVerify)

	plain, err := redisClientOpt("redis://localhost:6379/0", false)
	require.NoError(t, err)
	assert.Nil(t, plain.TLSConfig)
}

func TestEnqueueProcessWritesPendingTask(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newClient(asynq.RedisClientOpt{Addr: mr.Addr()}, "chat")
	t.Cleanup(func() { _ = c.Close() })

	trigger := uuid.New()
	require.NoError(t, c.EnqueueProcess(context.Background(), uuid.New(), &trigger, false))

	pending, err := mr.List("asynq:{chat}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
