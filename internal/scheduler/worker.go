package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"voicecampaign_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TurnProcessor runs the LLM half of one dialogue turn.
type TurnProcessor interface {
	Process(ctx context.Context, callID uuid.UUID, turnSeq int) error
}

// TickRunner executes one dialer scheduling pass.
type TickRunner interface {
	RunTick(ctx context.Context) (int, error)
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	turns  TurnProcessor
	dialer TickRunner
	log    *slog.Logger
}

func NewWorker(cfg config.SchedulerConfig, turns TurnProcessor, dialer TickRunner, log *slog.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
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
	w := &Worker{
		server: server,
		mux:    mux,
		turns:  turns,
		dialer: dialer,
		log:    log,
	}

	mux.HandleFunc(TaskDialogueTurn, w.handleDialogueTurn)
	mux.HandleFunc(TaskDialerTick, w.handleDialerTick)

	return w, nil
}

func (w *Worker) handleDialogueTurn(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseDialogueTurnPayload(task)
	if err != nil {
		return fmt.Errorf("dialogue turn payload: %w: %w", err, asynq.SkipRetry)
	}

	callID, err := uuid.Parse(payload.CallID)
	if err != nil {
		return fmt.Errorf("dialogue turn call id: %w: %w", err, asynq.SkipRetry)
	}

	return w.turns.Process(ctx, callID, payload.TurnSeq)
}

func (w *Worker) handleDialerTick(ctx context.Context, task *asynq.Task) error {
	_, err := w.dialer.RunTick(ctx)
	if err != nil {
		w.log.Error("dialer tick failed", slog.String("error", err.Error()))
	}
	// The next tick always retries the sweep, so a failed one is not
	// requeued on top of it.
	return nil
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
		w.log.Error("scheduler worker stopped", slog.String("error", err.Error()))
	}
}
