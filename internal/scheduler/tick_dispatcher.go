package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"voicecampaign_backend/platform/config"

	"github.com/hibiken/asynq"
)

// TickDispatcher enqueues one dialer tick per interval. unique-ness on
// the task keeps a slow worker from piling up overlapping sweeps.
type TickDispatcher struct {
	client   *asynq.Client
	queue    string
	interval time.Duration
	log      *slog.Logger
}

func NewTickDispatcher(schedCfg config.SchedulerConfig, dialerCfg config.DialerConfig, log *slog.Logger) (*TickDispatcher, error) {
	redisURL := schedCfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	queue := schedCfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	interval := dialerCfg.GetTickInterval()
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &TickDispatcher{
		client:   asynq.NewClient(opt),
		queue:    queue,
		interval: interval,
		log:      log,
	}, nil
}

func (d *TickDispatcher) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *TickDispatcher) Run(ctx context.Context) {
	if d == nil || d.client == nil {
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		_, err := d.client.EnqueueContext(ctx, NewDialerTickTask(),
			asynq.Queue(d.queue),
			asynq.Unique(d.interval),
			asynq.MaxRetry(0),
		)
		if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
			d.log.Warn("tick enqueue failed", slog.String("error", err.Error()))
		}
	}
}
