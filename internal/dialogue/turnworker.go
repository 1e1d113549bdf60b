package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"voicecampaign_backend/internal/calls"
	"voicecampaign_backend/internal/campaigns"
)

// StateStore is the slice of the call repository the worker needs.
type StateStore interface {
	MutateState(ctx context.Context, callID uuid.UUID, fn func(attempt *calls.CallAttempt, state *calls.VoiceState) error) error
}

// CampaignReader loads the survey definition for a turn.
type CampaignReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (campaigns.Campaign, error)
}

// errSkipTurn aborts a MutateState without treating it as a failure.
var errSkipTurn = errors.New("turn no longer current")

// TurnWorker executes one queued LLM turn. The slow completion call runs
// between two short locked phases: mark running, then apply the result.
// Every locked phase re-checks the pending turn_seq, so a result computed
// for a turn that has since been superseded is discarded, never applied.
type TurnWorker struct {
	store     StateStore
	campaigns CampaignReader
	gateway   Gateway
	log       *slog.Logger
}

// NewTurnWorker wires the worker.
func NewTurnWorker(store StateStore, campaignReader CampaignReader, gateway Gateway, log *slog.Logger) *TurnWorker {
	return &TurnWorker{
		store:     store,
		campaigns: campaignReader,
		gateway:   gateway,
		log:       log,
	}
}

// Process runs one turn for the given call and sequence number. Safe to
// deliver more than once: a re-delivery for a stale turnSeq is a no-op.
func (w *TurnWorker) Process(ctx context.Context, callID uuid.UUID, turnSeq int) error {
	// Phase one: claim the pending turn under the row lock. No model
	// call happens here.
	var (
		userText   string
		campaignID uuid.UUID
		history    []Message
		snapshot   calls.VoiceState
	)
	err := w.store.MutateState(ctx, callID, func(attempt *calls.CallAttempt, state *calls.VoiceState) error {
		if state.Pending.Status != calls.PendingQueued && state.Pending.Status != calls.PendingRunning {
			return errSkipTurn
		}
		if state.Pending.TurnSeq != turnSeq {
			return errSkipTurn
		}

		state.Pending.Status = calls.PendingRunning
		if state.Pending.StartedAtMS == 0 {
			state.Pending.StartedAtMS = nowMS()
		}

		userText = state.LastUserText
		if userText == "" {
			userText = "[NO_INPUT]"
		}
		if state.LastAssistantText != "" {
			history = []Message{{Role: "assistant", Content: state.LastAssistantText}}
		}
		campaignID = attempt.CampaignID
		snapshot = *state
		snapshot.CollectedAnswers = append([]string(nil), state.CollectedAnswers...)
		return nil
	})
	if err != nil {
		if errors.Is(err, errSkipTurn) || errors.Is(err, calls.ErrNotFound) {
			return nil
		}
		return err
	}

	// Phase two: the completion call, outside any lock.
	reply, turnErr := w.completeTurn(ctx, campaignID, &snapshot, history, userText)

	// Phase three: apply under the row lock, only if the turn is still
	// the current one.
	return w.store.MutateState(ctx, callID, func(attempt *calls.CallAttempt, state *calls.VoiceState) error {
		if state.Pending.TurnSeq != turnSeq {
			return errSkipTurn
		}

		if turnErr != nil {
			message := turnErr.Error()
			state.Pending.Status = calls.PendingFailed
			state.Pending.DoneAtMS = nowMS()
			state.Pending.Error = &message
			w.log.Error("turn failed",
				slog.String("call_id", callID.String()),
				slog.Int("turn_seq", turnSeq),
				slog.String("error", message),
			)
			return nil
		}

		result := Transition(state, reply, fallbackClosing)

		state.Pending.Status = calls.PendingDone
		state.Pending.DoneAtMS = nowMS()
		state.Pending.AssistantText = result.AssistantText
		state.Pending.Signals = signalStrings(reply.Signals)
		state.Pending.CapturedAnswer = reply.CapturedAnswer
		state.Pending.Error = nil
		return nil
	})
}

func (w *TurnWorker) completeTurn(ctx context.Context, campaignID uuid.UUID, snapshot *calls.VoiceState, history []Message, userText string) (ParsedReply, error) {
	campaign, err := w.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return ParsedReply{}, err
	}

	req := TurnRequest{
		Context:  ContextFromState(campaign, snapshot, ""),
		History:  history,
		UserText: userText,
	}

	reply, err := w.gateway.CompleteTurn(ctx, req)
	if err != nil {
		// Rate limits get one in-process retry after the provider's
		// hint; everything else is a failed turn the poll path turns
		// into an apology.
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > 0 && rl.RetryAfter <= 5*time.Second {
			select {
			case <-ctx.Done():
				return ParsedReply{}, ErrTimeout
			case <-time.After(rl.RetryAfter):
			}
			return w.gateway.CompleteTurn(ctx, req)
		}
		return ParsedReply{}, err
	}
	return reply, nil
}

func signalStrings(signals []ControlSignal) []string {
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		out = append(out, string(s))
	}
	return out
}

// fallbackClosing is spoken when the reprompt cap ends the call.
const fallbackClosing = "Thank you for your time. Goodbye."

func nowMS() int64 {
	return time.Now().UnixMilli()
}
