package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicecampaign_backend/internal/calls"
	"voicecampaign_backend/internal/campaigns"
	"voicecampaign_backend/internal/contacts"
	"voicecampaign_backend/internal/dialer"
	"voicecampaign_backend/internal/dialogue"
	"voicecampaign_backend/internal/events"
	"voicecampaign_backend/internal/scheduler"
	"voicecampaign_backend/internal/telephony"
	"voicecampaign_backend/platform/config"
	"voicecampaign_backend/platform/db"
	"voicecampaign_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting dialer worker", "env", cfg.Env)

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
	events.SubscribeLogging(eventBus, log)

	callsRepo := calls.New(pool)
	campaignsRepo := campaigns.New(pool)
	contactsRepo := contacts.New(pool)

	initiator := telephony.NewTwilioInitiator(cfg)
	dialerService := dialer.New(campaignsRepo, contactsRepo, callsRepo, initiator, eventBus, cfg, log)

	gateway := dialogue.NewOpenAIGateway(cfg)
	turnWorker := dialogue.NewTurnWorker(callsRepo, campaignsRepo, gateway, log)

	dispatcher, err := scheduler.NewTickDispatcher(cfg, cfg, log)
	if err != nil {
		log.Error("failed to initialize tick dispatcher", "error", err)
		panic("failed to initialize tick dispatcher: " + err.Error())
	}
	defer func() { _ = dispatcher.Close() }()
	go dispatcher.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, turnWorker, dialerService, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
	eventBus.Wait()
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
