package transcript

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Hour, slog.New(slog.DiscardHandler)), mr
}

func TestStore_AppendAndReadRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Append(ctx, "CA123", "assistant", "Hello, quick survey?")
	store.Append(ctx, "CA123", "user", "sure")

	lines, err := store.Read(ctx, "CA123")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Role != "assistant" || lines[0].Text != "Hello, quick survey?" {
		t.Fatalf("unexpected first line %+v", lines[0])
	}
	if lines[1].Role != "user" || lines[1].Text != "sure" {
		t.Fatalf("unexpected second line %+v", lines[1])
	}
	if lines[0].TimestampMS == 0 {
		t.Fatal("expected timestamp set")
	}
}

func TestStore_AppendSetsTTL(t *testing.T) {
	store, mr := newTestStore(t)

	store.Append(context.Background(), "CA123", "user", "hi")

	ttl := mr.TTL("call:CA123:transcript")
	if ttl <= 0 || ttl > time.Hour {
		t.Fatalf("expected ttl within an hour, got %v", ttl)
	}
}

func TestStore_CallsAreIsolated(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Append(ctx, "CA1", "user", "one")
	store.Append(ctx, "CA2", "user", "two")

	lines, err := store.Read(ctx, "CA1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(lines) != 1 || lines[0].Text != "one" {
		t.Fatalf("expected only CA1 lines, got %+v", lines)
	}
}

func TestStore_NilClientIsNoOp(t *testing.T) {
	store := New(nil, time.Hour, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	store.Append(ctx, "CA123", "user", "hi")

	lines, err := store.Read(ctx, "CA123")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no lines without a client, got %d", len(lines))
	}
}
