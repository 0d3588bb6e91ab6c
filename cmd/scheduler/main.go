package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"chatfunnel_backend/internal/adapters/storage"
	"chatfunnel_backend/internal/conversations/agent"
	"chatfunnel_backend/internal/conversations/channels"
	"chatfunnel_backend/internal/conversations/dispatch"
	"chatfunnel_backend/internal/conversations/experiments"
	"chatfunnel_backend/internal/conversations/lock"
	"chatfunnel_backend/internal/conversations/reengagement"
	"chatfunnel_backend/internal/conversations/repository"
	"chatfunnel_backend/internal/conversations/settings"
	"chatfunnel_backend/internal/conversations/worker"
	"chatfunnel_backend/internal/events"
	"chatfunnel_backend/internal/payments"
	"chatfunnel_backend/internal/scheduler"
	"chatfunnel_backend/internal/telegram"
	"chatfunnel_backend/internal/whatsapp"
	"chatfunnel_backend/platform/config"
	"chatfunnel_backend/platform/db"
	"chatfunnel_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

const storageBucketEnsureErrPrefix = "failed to ensure storage bucket exists: "
const storageBucketEnsureErrMsg = "failed to ensure storage bucket exists"

// ensureBucket wraps the retry logic for verifying a MinIO bucket exists.
func ensureBucket(ctx context.Context, log *logger.Logger, store storage.ObjectStore, name, bucket string) {
	if err := withRetry(ctx, log, "ensure "+name+" bucket", 5, 2*time.Second, func() error {
		return store.EnsureBucketExists(ctx, bucket)
	}); err != nil {
		log.Error(storageBucketEnsureErrMsg, "error", err, "bucket", bucket)
		panic(storageBucketEnsureErrPrefix + err.Error())
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)
	events.RegisterAuditLog(eventBus, log)

	repo := repository.New(pool)

	registry := channels.NewRegistry(
		telegram.NewClient(cfg, log),
		whatsapp.NewClient(cfg, log),
	)

	// Object storage is optional: without it inbound media keeps the
	// platform file id and payment codes go out as plain text.
	var objectStore storage.ObjectStore
	if cfg.IsMinIOEnabled() {
		minioSvc, err := storage.NewMinIOService(cfg)
		if err != nil {
			log.Error("failed to initialize storage service", "error", err)
			panic("failed to initialize storage service: " + err.Error())
		}
		ensureBucket(ctx, log, minioSvc, "inbound-media", cfg.GetMinioBucketInboundMedia())
		ensureBucket(ctx, log, minioSvc, "payment-codes", cfg.GetMinioBucketPaymentCodes())
		objectStore = minioSvc
	} else {
		log.Warn("MinIO not configured; media persistence and QR codes disabled")
	}

	catalog, err := dispatch.LoadCatalog(cfg.GetMediaCatalogPath())
	if err != nil {
		log.Error("failed to load media catalog", "error", err, "path", cfg.GetMediaCatalogPath())
		panic("failed to load media catalog: " + err.Error())
	}

	dispatcher := dispatch.New(
		repo,
		payments.NewWiinPay(cfg, log),
		catalog,
		eventBus,
		cfg.GetPaymentPayerDomain(),
		log,
		dispatch.WithQRPublisher(dispatch.NewQRPublisher(objectStore, cfg.GetMinioBucketPaymentCodes())),
	)

	gemini, err := agent.NewGeminiGenerator(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize reply generator", "error", err)
		panic("failed to initialize reply generator: " + err.Error())
	}
	generator := agent.NewRetrying(gemini, cfg.GetGeminiRetryBaseDelay(), log)

	locker, closeLocker, err := lock.New(cfg)
	if err != nil {
		log.Error("failed to initialize session lock", "error", err)
		panic("failed to initialize session lock: " + err.Error())
	}
	defer func() { _ = closeLocker() }()

	opts := []worker.Option{
		worker.WithLocker(locker),
		worker.WithHistoryLimit(cfg.GetGeminiHistoryLimit()),
	}
	if objectStore != nil {
		opts = append(opts, worker.WithMediaStore(objectStore, cfg.GetMinioBucketInboundMedia()))
	}
	processor := worker.New(
		repo,
		registry,
		generator,
		experiments.NewSelector(repo, nil, log),
		dispatcher,
		eventBus,
		log,
		opts...,
	)

	sweeper := reengagement.New(repo, registry, eventBus, log)
	handlers := scheduler.NewHandlers(processor, settings.NewLoader(repo, log), sweeper, log)

	taskWorker, err := scheduler.NewWorker(cfg, handlers, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	periodic, err := scheduler.NewReengagementScheduler(cfg, log)
	if err != nil {
		log.Error("failed to initialize periodic scheduler", "error", err)
		panic("failed to initialize periodic scheduler: " + err.Error())
	}

	var wg sync.WaitGroup
	wg.Go(func() { periodic.Run(ctx) })
	taskWorker.Run(ctx)
	wg.Wait()
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
