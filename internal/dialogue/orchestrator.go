package dialogue

import (
	"voicecampaign_backend/internal/calls"
	"voicecampaign_backend/internal/campaigns"
)

// MaxReprompts is the hard cap on consecutive unclear or repeat turns.
// Hitting it ends the call as failed instead of looping forever.
const MaxReprompts = 2

// TurnResult is the outcome of one deterministic transition.
type TurnResult struct {
	AssistantText string
	EndCall       bool
}

// Transition applies parsed model output to the conversation state in
// place and decides whether the call ends. It is a pure function of
// (state, reply) — no I/O — which is what makes the conversation policy
// unit-testable without a provider or a model.
//
// Signal precedence, first match wins:
// consent refused, consent accepted, repeat/unclear, then answer capture
// combined with question advancement, then survey complete.
func Transition(state *calls.VoiceState, reply ParsedReply, fallbackClosing string) TurnResult {
	state.LastAssistantText = reply.Content

	if reply.HasSignal(SignalConsentRefused) {
		state.Phase = calls.PhaseRefused
		state.CurrentQuestion = 0
		return TurnResult{AssistantText: reply.Content, EndCall: true}
	}

	if reply.HasSignal(SignalConsentAccepted) && state.CurrentQuestion == 0 {
		state.Phase = calls.PhaseQ1
		state.CurrentQuestion = 1
		state.RepromptCount = 0
		state.SilenceCount = 0
		return TurnResult{AssistantText: reply.Content}
	}

	if reply.HasSignal(SignalRepeatQuestion) || reply.HasSignal(SignalUnclearResponse) {
		state.RepromptCount++
		if state.RepromptCount >= MaxReprompts {
			state.Phase = calls.PhaseFailed
			return TurnResult{AssistantText: fallbackClosing, EndCall: true}
		}
		return TurnResult{AssistantText: reply.Content}
	}

	if reply.HasSignal(SignalAnswerCaptured) && isQuestionPhase(state.CurrentQuestion) {
		if reply.CapturedAnswer != nil {
			for len(state.CollectedAnswers) < state.CurrentQuestion {
				state.CollectedAnswers = append(state.CollectedAnswers, "")
			}
			state.CollectedAnswers[state.CurrentQuestion-1] = *reply.CapturedAnswer
		}
	}

	if reply.HasSignal(SignalMoveToNext) && isQuestionPhase(state.CurrentQuestion) {
		next := state.CurrentQuestion + 1
		if next > campaigns.QuestionCount {
			state.Phase = calls.PhaseDone
			state.CurrentQuestion = campaigns.QuestionCount
			return TurnResult{AssistantText: reply.Content, EndCall: true}
		}
		state.CurrentQuestion = next
		state.Phase = phaseForQuestion(next)
		state.RepromptCount = 0
		state.SilenceCount = 0
		return TurnResult{AssistantText: reply.Content}
	}

	if reply.HasSignal(SignalSurveyComplete) {
		state.Phase = calls.PhaseDone
		return TurnResult{AssistantText: reply.Content, EndCall: true}
	}

	// No strong signal: keep the phase and keep talking.
	return TurnResult{AssistantText: reply.Content}
}

func isQuestionPhase(question int) bool {
	return question >= 1 && question <= campaigns.QuestionCount
}

func phaseForQuestion(question int) string {
	switch question {
	case 1:
		return calls.PhaseQ1
	case 2:
		return calls.PhaseQ2
	default:
		return calls.PhaseQ3
	}
}
