// Package lock provides the optional per-session processing lock. When it is
// disabled the worker relies on the latest-message check alone.
package lock

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"chatfunnel_backend/platform/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another invocation owns the session.
var ErrHeld = errors.New("session is being processed")

// Locker acquires exclusive processing rights for a session.
type Locker interface {
	Acquire(ctx context.Context, sessionID uuid.UUID) (release func(), err error)
}

// Noop never blocks.
type Noop struct{}

func (Noop) Acquire(context.Context, uuid.UUID) (func(), error) { return func() {}, nil }

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis is a SET NX PX lock with an owner token.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl, prefix: "chatfunnel:session-lock:"}
}

// New returns a Redis locker when enabled in cfg, otherwise Noop.
func New(cfg config.LockConfig) (Locker, func() error, error) {
	if !cfg.IsSessionLockEnabled() {
		return Noop{}, func() error { return nil }, nil
	}

	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.GetRedisTLSInsecure() {
		if opt.TLSConfig == nil {
			opt.TLSConfig = &tls.Config{}
		}
		opt.TLSConfig.InsecureSkipVerify = true
	}

	client := redis.NewClient(opt)
	return NewRedis(client, cfg.GetSessionLockTTL()), client.Close, nil
}

func (r *Redis) Acquire(ctx context.Context, sessionID uuid.UUID) (func(), error) {
	key := r.prefix + sessionID.String()
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}

	release := func() {
		// The caller's context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, r.client, []string{key}, token).Err()
	}
	return release, nil
}
