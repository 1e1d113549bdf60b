package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicecampaign_backend/internal/calls"
	"voicecampaign_backend/internal/campaigns"
	"voicecampaign_backend/internal/events"
	apphttp "voicecampaign_backend/internal/http"
	"voicecampaign_backend/internal/http/router"
	"voicecampaign_backend/internal/scheduler"
	"voicecampaign_backend/internal/survey"
	"voicecampaign_backend/internal/telephony"
	"voicecampaign_backend/internal/transcript"
	"voicecampaign_backend/migrations"
	"voicecampaign_backend/platform/config"
	"voicecampaign_backend/platform/db"
	"voicecampaign_backend/platform/httpkit"
	"voicecampaign_backend/platform/logger"
	"voicecampaign_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting api server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.Migrate(ctx, cfg.GetDatabaseURL(), migrations.Files)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

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
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)
	events.SubscribeLogging(eventBus, log)

	redisClient := initRedis(cfg, log)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}
	transcriptStore := transcript.New(redisClient, cfg.GetTranscriptTTL(), log)

	turnScheduler, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize turn scheduler client", "error", err)
		panic("failed to initialize turn scheduler client: " + err.Error())
	}
	defer func() { _ = turnScheduler.Close() }()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	val := validator.New()

	callsRepo := calls.New(pool)
	campaignsRepo := campaigns.New(pool)
	surveyRepo := survey.New(pool)
	finalizer := survey.NewFinalizer(pool, surveyRepo, eventBus, log)

	telephonyModule := telephony.NewModule(callsRepo, campaignsRepo, turnScheduler, finalizer, transcriptStore, cfg, log)
	callsModule := calls.NewModule(callsRepo, transcriptStore, val)
	surveyModule := survey.NewModule(surveyRepo, val)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	webhookLimiter := httpkit.NewWebhookRateLimiter(log)
	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		WebhookMiddleware: []gin.HandlerFunc{
			webhookLimiter.RateLimit(),
			telephony.SignatureMiddleware(cfg, log),
		},
		Modules: []apphttp.Module{
			telephonyModule,
			callsModule,
			surveyModule,
		},
	}

	engine := router.New(app)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initRedis connects the live transcript cache. A missing REDIS_URL
// disables transcripts rather than failing startup.
func initRedis(cfg config.TranscriptConfig, log *slog.Logger) *redis.Client {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		log.Warn("REDIS_URL not configured; live transcripts disabled")
		return nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Error("invalid REDIS_URL; live transcripts disabled", "error", err)
		return nil
	}
	return redis.NewClient(opt)
}

func withRetry(ctx context.Context, log *slog.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
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
