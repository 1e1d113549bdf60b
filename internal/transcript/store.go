// Package transcript keeps a short-lived live transcript of each call in
// Redis so operators can follow a conversation as it happens. Best-effort:
// a transcript write never fails a webhook.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Roles in a transcript line.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Line is one utterance in the transcript.
type Line struct {
	TimestampMS int64  `json:"t_ms"`
	Role        string `json:"role"`
	Text        string `json:"text"`
}

// Store appends transcript lines to a per-call Redis list. A nil client
// disables the store; all methods become no-ops.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// New creates a transcript store. Pass a nil client to disable.
func New(client *redis.Client, ttl time.Duration, log *slog.Logger) *Store {
	return &Store{client: client, ttl: ttl, log: log}
}

func key(providerCallID string) string {
	return fmt.Sprintf("call:%s:transcript", providerCallID)
}

// Append records one utterance and refreshes the list TTL.
func (s *Store) Append(ctx context.Context, providerCallID, role, text string) {
	if s.client == nil || providerCallID == "" || text == "" {
		return
	}

	line := Line{TimestampMS: time.Now().UnixMilli(), Role: role, Text: text}
	encoded, err := json.Marshal(line)
	if err != nil {
		return
	}

	k := key(providerCallID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, k, encoded)
	pipe.Expire(ctx, k, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn("transcript append failed",
			slog.String("provider_call_id", providerCallID),
			slog.String("error", err.Error()),
		)
	}
}

// Read returns the transcript lines recorded so far.
func (s *Store) Read(ctx context.Context, providerCallID string) ([]Line, error) {
	if s.client == nil {
		return nil, nil
	}

	raw, err := s.client.LRange(ctx, key(providerCallID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	lines := make([]Line, 0, len(raw))
	for _, item := range raw {
		var line Line
		if err := json.Unmarshal([]byte(item), &line); err != nil {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}
