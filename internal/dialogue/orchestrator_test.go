package dialogue

import (
	"testing"

	"voicecampaign_backend/internal/calls"
)

const closing = "Thank you for your time. Goodbye."

func strptr(s string) *string { return &s }

func reply(content string, signals ...ControlSignal) ParsedReply {
	return ParsedReply{Content: content, Signals: signals}
}

func TestTransition_ConsentRefusedEndsCall(t *testing.T) {
	state := calls.NewVoiceState()

	result := Transition(state, reply("I understand, goodbye.", SignalConsentRefused), closing)

	if !result.EndCall {
		t.Fatal("expected call to end")
	}
	if state.Phase != calls.PhaseRefused {
		t.Fatalf("expected phase refused, got %q", state.Phase)
	}
}

func TestTransition_ConsentRefusedWinsOverOtherSignals(t *testing.T) {
	state := calls.NewVoiceState()
	state.Phase = calls.PhaseQ2
	state.CurrentQuestion = 2

	result := Transition(state, reply("Understood.", SignalMoveToNext, SignalConsentRefused), closing)

	if !result.EndCall {
		t.Fatal("expected call to end")
	}
	if state.Phase != calls.PhaseRefused {
		t.Fatalf("expected phase refused, got %q", state.Phase)
	}
	if state.CurrentQuestion != 0 {
		t.Fatalf("expected question reset, got %d", state.CurrentQuestion)
	}
}

func TestTransition_ConsentAcceptedMovesToFirstQuestion(t *testing.T) {
	state := calls.NewVoiceState()
	state.RepromptCount = 1

	result := Transition(state, reply("Great, first question.", SignalConsentAccepted), closing)

	if result.EndCall {
		t.Fatal("did not expect call to end")
	}
	if state.Phase != calls.PhaseQ1 || state.CurrentQuestion != 1 {
		t.Fatalf("expected q1, got phase %q question %d", state.Phase, state.CurrentQuestion)
	}
	if state.RepromptCount != 0 {
		t.Fatalf("expected reprompt reset, got %d", state.RepromptCount)
	}
}

func TestTransition_ConsentAcceptedIgnoredMidSurvey(t *testing.T) {
	state := calls.NewVoiceState()
	state.Phase = calls.PhaseQ2
	state.CurrentQuestion = 2

	Transition(state, reply("Of course.", SignalConsentAccepted), closing)

	if state.Phase != calls.PhaseQ2 || state.CurrentQuestion != 2 {
		t.Fatalf("expected state unchanged, got phase %q question %d", state.Phase, state.CurrentQuestion)
	}
}

func TestTransition_RepeatIncrementsRepromptCount(t *testing.T) {
	state := calls.NewVoiceState()
	state.Phase = calls.PhaseQ1
	state.CurrentQuestion = 1

	result := Transition(state, reply("Let me repeat that.", SignalRepeatQuestion), closing)

	if result.EndCall {
		t.Fatal("did not expect call to end")
	}
	if state.RepromptCount != 1 {
		t.Fatalf("expected reprompt count 1, got %d", state.RepromptCount)
	}
}

func TestTransition_RepromptCapFailsCallWithFixedApology(t *testing.T) {
	state := calls.NewVoiceState()
	state.Phase = calls.PhaseQ1
	state.CurrentQuestion = 1
	state.RepromptCount = MaxReprompts - 1

	result := Transition(state, reply("Sorry, once more?", SignalUnclearResponse), closing)

	if !result.EndCall {
		t.Fatal("expected call to end")
	}
	if state.Phase != calls.PhaseFailed {
		t.Fatalf("expected phase failed, got %q", state.Phase)
	}
	if result.AssistantText != closing {
		t.Fatalf("expected fixed closing, got %q", result.AssistantText)
	}
}

func TestTransition_AnswerCapturedStoresAtQuestionIndex(t *testing.T) {
	state := calls.NewVoiceState()
	state.Phase = calls.PhaseQ2
	state.CurrentQuestion = 2

	parsed := reply("Noted.", SignalAnswerCaptured)
	parsed.CapturedAnswer = strptr("twice a week")
	Transition(state, parsed, closing)

	if len(state.CollectedAnswers) != 2 {
		t.Fatalf("expected answers padded to 2, got %d", len(state.CollectedAnswers))
	}
	if state.CollectedAnswers[0] != "" {
		t.Fatalf("expected empty placeholder for q1, got %q", state.CollectedAnswers[0])
	}
	if state.CollectedAnswers[1] != "twice a week" {
		t.Fatalf("expected answer at index 1, got %q", state.CollectedAnswers[1])
	}
}

func TestTransition_AnswerCapturedOverwritesOnRepeat(t *testing.T) {
	state := calls.NewVoiceState()
	state.Phase = calls.PhaseQ1
	state.CurrentQuestion = 1
	state.CollectedAnswers = []string{"old"}

	parsed := reply("Corrected.", SignalAnswerCaptured)
	parsed.CapturedAnswer = strptr("new")
	Transition(state, parsed, closing)

	if state.CollectedAnswers[0] != "new" {
		t.Fatalf("expected overwrite, got %q", state.CollectedAnswers[0])
	}
}

func TestTransition_CaptureAndMoveAdvancesInOneTurn(t *testing.T) {
	state := calls.NewVoiceState()
	state.Phase = calls.PhaseQ1
	state.CurrentQuestion = 1

	parsed := reply("Thanks, next question.", SignalAnswerCaptured, SignalMoveToNext)
	parsed.CapturedAnswer = strptr("blue")
	result := Transition(state, parsed, closing)

	if result.EndCall {
		t.Fatal("did not expect call to end")
	}
	if state.CollectedAnswers[0] != "blue" {
		t.Fatalf("expected answer stored, got %v", state.CollectedAnswers)
	}
	if state.Phase != calls.PhaseQ2 || state.CurrentQuestion != 2 {
		t.Fatalf("expected q2, got phase %q question %d", state.Phase, state.CurrentQuestion)
	}
}

func TestTransition_MoveBeyondLastQuestionCompletesSurvey(t *testing.T) {
	state := calls.NewVoiceState()
	state.Phase = calls.PhaseQ3
	state.CurrentQuestion = 3
	state.CollectedAnswers = []string{"a", "b", "c"}

	result := Transition(state, reply("That's everything, thank you!", SignalMoveToNext), closing)

	if !result.EndCall {
		t.Fatal("expected call to end")
	}
	if state.Phase != calls.PhaseDone {
		t.Fatalf("expected phase done, got %q", state.Phase)
	}
	if state.CurrentQuestion != 3 {
		t.Fatalf("expected question clamped to 3, got %d", state.CurrentQuestion)
	}
}

func TestTransition_SurveyCompleteEndsCall(t *testing.T) {
	state := calls.NewVoiceState()
	state.Phase = calls.PhaseQ3
	state.CurrentQuestion = 3

	result := Transition(state, reply("All done, thank you!", SignalSurveyComplete), closing)

	if !result.EndCall {
		t.Fatal("expected call to end")
	}
	if state.Phase != calls.PhaseDone {
		t.Fatalf("expected phase done, got %q", state.Phase)
	}
}

func TestTransition_NoSignalContinuesInPlace(t *testing.T) {
	state := calls.NewVoiceState()
	state.Phase = calls.PhaseQ2
	state.CurrentQuestion = 2

	result := Transition(state, reply("Could you say more about that?"), closing)

	if result.EndCall {
		t.Fatal("did not expect call to end")
	}
	if state.Phase != calls.PhaseQ2 || state.CurrentQuestion != 2 {
		t.Fatalf("expected state unchanged, got phase %q question %d", state.Phase, state.CurrentQuestion)
	}
	if result.AssistantText != "Could you say more about that?" {
		t.Fatalf("unexpected assistant text %q", result.AssistantText)
	}
}
