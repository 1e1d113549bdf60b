// Package scheduler moves dialogue turns and dialer ticks through asynq
// so webhook handlers never block on slow work.
package scheduler

import (
	"context"
	"fmt"

	"voicecampaign_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
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

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueTurn schedules LLM processing for one dialogue turn. The turn
// sequence rides in the payload so a worker applying the result can tell
// whether the caller has already moved on.
func (c *Client) EnqueueTurn(ctx context.Context, callID uuid.UUID, turnSeq int) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("scheduler client not configured")
	}

	task, err := NewDialogueTurnTask(DialogueTurnPayload{
		CallID:  callID.String(),
		TurnSeq: turnSeq,
	})
	if err != nil {
		return err
	}

	// Turns must run promptly or not at all: the caller is on the line
	// polling, and the poll cap bounds how long a result stays useful.
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.MaxRetry(1))
	return err
}

func redisClientOpt(redisURL string) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}
