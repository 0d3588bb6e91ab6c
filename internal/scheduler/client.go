package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"chatfunnel_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// processTimeout bounds one worker pass including debounce waits and retries.
const processTimeout = 5 * time.Minute

const processMaxRetry = 2

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return newClient(opt, cfg.GetAsynqQueueName()), nil
}

func newClient(opt asynq.RedisConnOpt, queue string) *Client {
	if queue == "" {
		queue = "default"
	}
	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueProcess schedules a worker pass for a session. A pass only fails
// before the user got a reply, so a few retries are safe.
func (c *Client) EnqueueProcess(ctx context.Context, sessionID uuid.UUID, triggerMessageID *uuid.UUID, force bool) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("scheduler client not configured")
	}

	payload := ProcessMessagePayload{SessionID: sessionID.String(), Force: force}
	if triggerMessageID != nil {
		id := triggerMessageID.String()
		payload.TriggerMessageID = &id
	}

	task, err := NewProcessMessageTask(payload)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(processMaxRetry),
		asynq.Timeout(processTimeout),
	)
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
