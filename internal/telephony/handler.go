package telephony

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voicecampaign_backend/internal/calls"
	"voicecampaign_backend/internal/campaigns"
	"voicecampaign_backend/platform/httpkit"
	"voicecampaign_backend/platform/logger"
)

// PollCap is the maximum number of poll redirects per turn. Exceeding it
// fails the call deterministically instead of looping on the provider's
// dime.
const PollCap = 6

// Spoken fallbacks. The caller never hears an error, only one of these.
const (
	msgAck           = "Ok."
	msgConsentHint   = "Say yes to begin, or no to decline."
	msgDefaultIntro  = "Hello. May I ask you a brief survey?"
	msgApologyEnd    = "I cannot complete the call right now. Thank you for your time. Goodbye."
	msgGoodbye       = "Thank you for your time. Goodbye."
	msgInternalError = "There was an internal error. Goodbye."
)

// fallbackHangup is returned when even the markup builder fails.
const fallbackHangup = `<?xml version="1.0" encoding="UTF-8"?><Response><Hangup/></Response>`

// AttemptStore is the slice of the call repository the handler needs.
type AttemptStore interface {
	GetByCallID(ctx context.Context, callID uuid.UUID) (calls.CallAttempt, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (calls.CallAttempt, error)
	SetProviderCall(ctx context.Context, callID uuid.UUID, providerCallID, rawStatus string) error
	SetProviderStatus(ctx context.Context, providerCallID, rawStatus string) error
	MutateState(ctx context.Context, callID uuid.UUID, fn func(attempt *calls.CallAttempt, state *calls.VoiceState) error) error
}

// CampaignReader loads the survey definition for a call.
type CampaignReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (campaigns.Campaign, error)
}

// TurnScheduler queues the asynchronous turn worker.
type TurnScheduler interface {
	EnqueueTurn(ctx context.Context, callID uuid.UUID, turnSeq int) error
}

// OutcomeFinalizer commits terminal outcomes.
type OutcomeFinalizer interface {
	Finalize(ctx context.Context, callID uuid.UUID) error
	FinalizeFromProviderStatus(ctx context.Context, callID uuid.UUID, providerStatus string) error
}

// TranscriptAppender records utterances for the live transcript.
type TranscriptAppender interface {
	Append(ctx context.Context, providerCallID, role, text string)
}

// Handler answers provider webhooks. One endpoint, three modes round-
// tripped through the callback URLs: entry starts the conversation, turn
// accepts an utterance and queues the turn worker, poll waits for the
// worker's result. Whatever goes wrong, the response is always valid
// voice markup.
type Handler struct {
	attempts   AttemptStore
	campaigns  CampaignReader
	turns      TurnScheduler
	finalizer  OutcomeFinalizer
	transcript TranscriptAppender
	locks      *lockRegistry
	baseURL    string
	log        *slog.Logger
}

// NewHandler wires the webhook handler.
func NewHandler(attempts AttemptStore, campaignReader CampaignReader, turns TurnScheduler, finalizer OutcomeFinalizer, transcript TranscriptAppender, baseURL string, log *slog.Logger) *Handler {
	return &Handler{
		attempts:   attempts,
		campaigns:  campaignReader,
		turns:      turns,
		finalizer:  finalizer,
		transcript: transcript,
		locks:      newLockRegistry(),
		baseURL:    baseURL,
		log:        log,
	}
}

// RegisterRoutes mounts the webhook endpoints.
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/voice", h.Voice)
	group.POST("/voice", h.Voice)
	group.POST("/events", h.Events)
}

// Voice is the conversation webhook.
func (h *Handler) Voice(c *gin.Context) {
	ctx := c.Request.Context()

	mode := strings.ToLower(strings.TrimSpace(c.Query("mode")))
	if mode == "" {
		mode = "entry"
	}
	callSID := strings.TrimSpace(c.PostForm("CallSid"))
	callIDRaw := firstNonEmpty(c.Query("call_id"), c.PostForm("call_id"))
	language := strings.TrimSpace(c.Query("language"))

	lockKey := callSID
	if lockKey == "" {
		lockKey = callIDRaw
	}
	if lockKey == "" {
		lockKey = "unknown"
	}
	release := h.locks.Acquire(lockKey)
	defer release()

	attempt, err := h.resolveAttempt(ctx, callIDRaw, callSID)
	if err != nil {
		h.log.Error("voice webhook: attempt not found",
			slog.String("mode", mode),
			slog.String("call_id", callIDRaw),
			slog.String("call_sid", callSID),
		)
		document, err := SayAndHangup(msgInternalError, language)
		h.respond(c, document, err)
		return
	}

	campaign, err := h.campaigns.GetByID(ctx, attempt.CampaignID)
	if err != nil {
		h.log.Error("voice webhook: campaign load failed",
			slog.String("call_id", attempt.CallID.String()),
			slog.String("error", err.Error()),
		)
		document, err := SayAndHangup(msgInternalError, language)
		h.respond(c, document, err)
		return
	}
	if language == "" {
		language = campaign.Language
	}

	if attempt.ProviderCallID == nil && callSID != "" {
		if err := h.attempts.SetProviderCall(ctx, attempt.CallID, callSID, "in-progress"); err != nil {
			h.log.Warn("voice webhook: recording provider call id failed",
				slog.String("call_id", attempt.CallID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	logger.WebhookEvent(h.log, mode, attempt.CallID.String(), 0)

	switch mode {
	case "entry":
		h.handleEntry(c, attempt, campaign, callSID, language)
	case "turn":
		h.handleTurn(c, attempt, callSID, language)
	case "poll":
		h.handlePoll(c, attempt, callSID, language)
	default:
		document, err := SayAndHangup(msgInternalError, language)
		h.respond(c, document, err)
	}
}

func (h *Handler) handleEntry(c *gin.Context, attempt calls.CallAttempt, campaign campaigns.Campaign, callSID, language string) {
	ctx := c.Request.Context()

	var terminal bool
	err := h.attempts.MutateState(ctx, attempt.CallID, func(_ *calls.CallAttempt, state *calls.VoiceState) error {
		if state.Terminal() {
			terminal = true
			return nil
		}
		// Re-delivered entry resets the protocol counters but keeps
		// turn_seq monotonic, so an in-flight worker result stays
		// distinguishable.
		state.Phase = calls.PhaseConsent
		state.CurrentQuestion = 0
		state.RepromptCount = 0
		state.SilenceCount = 0
		state.PollCount = 0
		state.Pending = calls.PendingTurn{Status: calls.PendingIdle, Signals: []string{}}
		return nil
	})
	if err != nil {
		// Keep talking anyway; turn mode re-initializes a missing doc.
		h.log.Error("entry: state init failed",
			slog.String("call_id", attempt.CallID.String()),
			slog.String("error", err.Error()),
		)
	}
	if terminal {
		document, err := SayAndHangup(msgGoodbye, language)
		h.respond(c, document, err)
		return
	}

	intro := campaign.IntroScript
	if intro == "" {
		intro = msgDefaultIntro
	}
	h.transcript.Append(ctx, callSID, "assistant", intro)

	document, err := ConsentPrompt(intro, msgConsentHint, h.voiceURL("turn", attempt), language)
	h.respond(c, document, err)
}

func (h *Handler) handleTurn(c *gin.Context, attempt calls.CallAttempt, callSID, language string) {
	ctx := c.Request.Context()

	userText := firstNonEmpty(strings.TrimSpace(c.PostForm("SpeechResult")), strings.TrimSpace(c.PostForm("Digits")))

	var (
		terminal bool
		turnSeq  int
	)
	err := h.attempts.MutateState(ctx, attempt.CallID, func(_ *calls.CallAttempt, state *calls.VoiceState) error {
		if state.Terminal() {
			terminal = true
			return nil
		}
		state.TurnSeq++
		turnSeq = state.TurnSeq
		state.LastUserText = userText
		if userText == "" {
			state.SilenceCount++
		}
		state.Pending = calls.PendingTurn{
			Status:     calls.PendingQueued,
			TurnSeq:    turnSeq,
			QueuedAtMS: time.Now().UnixMilli(),
			Signals:    []string{},
		}
		state.PollCount = 0
		return nil
	})
	if err != nil {
		h.log.Error("turn: state update failed",
			slog.String("call_id", attempt.CallID.String()),
			slog.String("error", err.Error()),
		)
		document, err := SayAndHangup(msgInternalError, language)
		h.respond(c, document, err)
		return
	}
	if terminal {
		document, err := SayAndHangup(msgGoodbye, language)
		h.respond(c, document, err)
		return
	}

	if err := h.turns.EnqueueTurn(ctx, attempt.CallID, turnSeq); err != nil {
		// The pending turn stays queued; the poll cap converts it into
		// a deterministic failure if no worker ever picks it up.
		h.log.Error("turn: enqueue failed",
			slog.String("call_id", attempt.CallID.String()),
			slog.Int("turn_seq", turnSeq),
			slog.String("error", err.Error()),
		)
	}

	if userText != "" {
		h.transcript.Append(ctx, callSID, "user", userText)
	}

	document, err := AckAndPoll(msgAck, h.voiceURL("poll", attempt), language)
	h.respond(c, document, err)
}

type pollAction int

const (
	pollWait pollAction = iota
	pollPrompt
	pollHangup
)

func (h *Handler) handlePoll(c *gin.Context, attempt calls.CallAttempt, callSID, language string) {
	ctx := c.Request.Context()

	var (
		action        pollAction
		speakText     string
		reachTerminal bool
	)
	err := h.attempts.MutateState(ctx, attempt.CallID, func(_ *calls.CallAttempt, state *calls.VoiceState) error {
		state.PollCount++

		if state.PollCount > PollCap {
			state.Phase = calls.PhaseFailed
			reachTerminal = true
			action = pollHangup
			speakText = msgApologyEnd
			return nil
		}

		switch state.Pending.Status {
		case calls.PendingFailed:
			state.Phase = calls.PhaseFailed
			reachTerminal = true
			action = pollHangup
			speakText = msgApologyEnd
		case calls.PendingDone:
			speakText = strings.TrimSpace(state.Pending.AssistantText)
			if speakText == "" {
				speakText = msgAck
			}
			if state.Terminal() {
				reachTerminal = true
				action = pollHangup
			} else {
				action = pollPrompt
			}
		default:
			action = pollWait
		}
		return nil
	})
	if err != nil {
		// Poll must be bulletproof: on any failure, wait and retry.
		h.log.Error("poll: state update failed",
			slog.String("call_id", attempt.CallID.String()),
			slog.String("error", err.Error()),
		)
		document, err := WaitAndPoll(h.voiceURL("poll", attempt))
		h.respond(c, document, err)
		return
	}

	if reachTerminal {
		if err := h.finalizer.Finalize(ctx, attempt.CallID); err != nil {
			// persisted is still unset; the provider status callback
			// retries the finalize.
			h.log.Error("poll: finalize failed",
				slog.String("call_id", attempt.CallID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	switch action {
	case pollHangup:
		h.transcript.Append(ctx, callSID, "assistant", speakText)
		document, err := SayAndHangup(speakText, language)
		h.respond(c, document, err)
	case pollPrompt:
		h.transcript.Append(ctx, callSID, "assistant", speakText)
		document, err := NextPrompt(speakText, h.voiceURL("turn", attempt), language)
		h.respond(c, document, err)
	default:
		document, err := WaitAndPoll(h.voiceURL("poll", attempt))
		h.respond(c, document, err)
	}
}

// terminalProviderStatuses are call-progress states after which the
// provider will deliver no further voice webhooks.
var terminalProviderStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"no-answer": true,
	"failed":    true,
	"canceled":  true,
}

// Events is the fast-ack status callback endpoint. It acknowledges
// immediately and does the real work on a detached context, because the
// provider treats a slow answer as an error.
func (h *Handler) Events(c *gin.Context) {
	callSID := strings.TrimSpace(c.PostForm("CallSid"))
	callStatus := strings.TrimSpace(c.PostForm("CallStatus"))
	callIDRaw := firstNonEmpty(c.Query("call_id"), c.PostForm("call_id"))

	c.Status(http.StatusOK)

	ctx := context.WithoutCancel(c.Request.Context())
	go h.processEvent(ctx, callIDRaw, callSID, callStatus)
}

func (h *Handler) processEvent(ctx context.Context, callIDRaw, callSID, callStatus string) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	attempt, err := h.resolveAttempt(ctx, callIDRaw, callSID)
	if err != nil {
		h.log.Warn("events: attempt not found",
			slog.String("call_id", callIDRaw),
			slog.String("call_sid", callSID),
			slog.String("status", callStatus),
		)
		return
	}

	if callSID != "" && callStatus != "" {
		if err := h.attempts.SetProviderStatus(ctx, callSID, callStatus); err != nil {
			h.log.Warn("events: status update failed",
				slog.String("call_sid", callSID),
				slog.String("error", err.Error()),
			)
		}
	}

	if !terminalProviderStatuses[callStatus] {
		return
	}

	lockKey := callSID
	if lockKey == "" {
		lockKey = attempt.CallID.String()
	}
	release := h.locks.Acquire(lockKey)
	defer release()

	if err := h.finalizer.FinalizeFromProviderStatus(ctx, attempt.CallID, callStatus); err != nil {
		h.log.Error("events: finalize failed",
			slog.String("call_id", attempt.CallID.String()),
			slog.String("status", callStatus),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Handler) resolveAttempt(ctx context.Context, callIDRaw, callSID string) (calls.CallAttempt, error) {
	if callIDRaw != "" {
		if callID, err := uuid.Parse(callIDRaw); err == nil {
			attempt, err := h.attempts.GetByCallID(ctx, callID)
			if err == nil {
				return attempt, nil
			}
			if !errors.Is(err, calls.ErrNotFound) {
				return calls.CallAttempt{}, err
			}
		}
	}
	if callSID != "" {
		return h.attempts.GetByProviderCallID(ctx, callSID)
	}
	return calls.CallAttempt{}, calls.ErrNotFound
}

func (h *Handler) voiceURL(mode string, attempt calls.CallAttempt) string {
	return CallbackURL(h.baseURL, VoicePath, map[string]string{
		"mode":        mode,
		"call_id":     attempt.CallID.String(),
		"campaign_id": attempt.CampaignID.String(),
	})
}

// respond writes voice markup, falling back to a bare hangup when the
// builder itself errored. The provider always gets a valid document.
func (h *Handler) respond(c *gin.Context, document string, err error) {
	if err != nil {
		h.log.Error("twiml build failed", slog.String("error", err.Error()))
		document = fallbackHangup
	}
	httpkit.XML(c, document)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
