package scheduler

import (
	"context"
	"errors"
	"fmt"

	"chatfunnel_backend/internal/conversations/settings"
	"chatfunnel_backend/internal/conversations/worker"
	"chatfunnel_backend/platform/apperr"
	"chatfunnel_backend/platform/config"
	"chatfunnel_backend/platform/logger"

	"github.com/hibiken/asynq"
)

type TurnProcessor interface {
	Process(ctx context.Context, rt settings.Runtime, trig worker.Trigger) (worker.Outcome, error)
}

type SettingsLoader interface {
	Load(ctx context.Context) settings.Runtime
}

type IdleSweeper interface {
	Sweep(ctx context.Context, rt settings.Runtime) (int, error)
}

// Handlers runs the conversation tasks. Settings are reloaded for every task.
type Handlers struct {
	processor TurnProcessor
	settings  SettingsLoader
	sweeper   IdleSweeper
	log       *logger.Logger
}

func NewHandlers(processor TurnProcessor, loader SettingsLoader, sweeper IdleSweeper, log *logger.Logger) *Handlers {
	return &Handlers{processor: processor, settings: loader, sweeper: sweeper, log: log}
}

func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskProcessMessage, h.HandleProcessMessage)
	mux.HandleFunc(TaskReengagementSweep, h.HandleReengagementSweep)
}

func (h *Handlers) HandleProcessMessage(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseProcessMessagePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	trig, err := payload.Trigger()
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	out, err := h.processor.Process(ctx, h.settings.Load(ctx), trig)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return err
	}

	h.log.WithContext(ctx).Debug("process task finished", "sessionId", trig.SessionID, "status", out.Status)
	return nil
}

func (h *Handlers) HandleReengagementSweep(ctx context.Context, _ *asynq.Task) error {
	if h.sweeper == nil {
		return nil
	}
	_, err := h.sweeper.Sweep(ctx, h.settings.Load(ctx))
	return err
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, handlers *Handlers, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	handlers.Register(mux)

	return &Worker{server: server, mux: mux, log: log}, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
