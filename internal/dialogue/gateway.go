package dialogue

import (
	"context"
	"errors"
	"time"
)

// Gateway error taxonomy. The turn worker's handling depends on which of
// these the completion call maps to, so the concrete client must wrap its
// provider errors accordingly.
var (
	// ErrTimeout means the completion did not finish within the deadline.
	ErrTimeout = errors.New("llm completion timed out")
	// ErrRateLimited means the provider throttled us; RetryAfter may be set.
	ErrRateLimited = errors.New("llm rate limited")
	// ErrAuth means the API credentials were rejected. Not retryable.
	ErrAuth = errors.New("llm authentication failed")
	// ErrProvider is any other upstream failure.
	ErrProvider = errors.New("llm provider error")
)

// RateLimitError wraps ErrRateLimited with the provider's retry hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return ErrRateLimited.Error() }

// Unwrap makes errors.Is(err, ErrRateLimited) hold.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// Message is one turn of conversation history sent to the model.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// TurnRequest carries one completion request.
type TurnRequest struct {
	Context  SurveyContext
	History  []Message
	UserText string
}

// Gateway produces the assistant's next utterance. Implementations wrap a
// model provider; tests substitute a canned fake.
type Gateway interface {
	CompleteTurn(ctx context.Context, req TurnRequest) (ParsedReply, error)
}
