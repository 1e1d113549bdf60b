package survey

import (
	"testing"

	"voicecampaign_backend/internal/calls"
	"voicecampaign_backend/internal/contacts"
)

func terminalState(phase string) *calls.VoiceState {
	state := calls.NewVoiceState()
	state.Phase = phase
	state.CollectedAnswers = []string{"a1", "a2", "a3"}
	return state
}

func TestPlanFinalize_CompletedCallWritesResponse(t *testing.T) {
	plan := planFinalize(terminalState(calls.PhaseDone))

	if plan.skip {
		t.Fatal("expected a terminal call to be finalized")
	}
	if plan.outcome != calls.OutcomeCompleted {
		t.Fatalf("expected completed outcome, got %q", plan.outcome)
	}
	if plan.contactState != contacts.StateCompleted {
		t.Fatalf("expected contact completed, got %q", plan.contactState)
	}
	if !plan.insertResponse {
		t.Fatal("expected a survey response write")
	}
}

func TestPlanFinalize_SecondFinalizeIsNoOp(t *testing.T) {
	state := terminalState(calls.PhaseDone)

	first := planFinalize(state)
	if first.skip {
		t.Fatal("expected the first finalize to plan writes")
	}
	state.Persisted = true

	second := planFinalize(state)
	if !second.skip {
		t.Fatal("expected a persisted call to plan nothing")
	}
	if second.insertResponse {
		t.Fatal("expected no second survey response write")
	}
}

func TestPlanFinalize_RefusedCallPersistsNoAnswers(t *testing.T) {
	plan := planFinalize(terminalState(calls.PhaseRefused))

	if plan.skip || plan.outcome != calls.OutcomeRefused {
		t.Fatalf("expected refused outcome, got %+v", plan)
	}
	if plan.contactState != contacts.StateRefused {
		t.Fatalf("expected contact refused, got %q", plan.contactState)
	}
	if plan.insertResponse {
		t.Fatal("expected no survey response for a refused call")
	}
}

func TestPlanFinalize_FailedCallRequeuesContact(t *testing.T) {
	plan := planFinalize(terminalState(calls.PhaseFailed))

	if plan.skip || plan.outcome != calls.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %+v", plan)
	}
	if plan.contactState != contacts.StateNotReached {
		t.Fatalf("expected contact back in not_reached, got %q", plan.contactState)
	}
	if plan.insertResponse {
		t.Fatal("expected no survey response for a failed call")
	}
}

func TestPlanFinalize_NonTerminalCallIsLeftAlone(t *testing.T) {
	state := calls.NewVoiceState()
	state.Phase = calls.PhaseQ2

	if plan := planFinalize(state); !plan.skip {
		t.Fatalf("expected no writes mid conversation, got %+v", plan)
	}
	if plan := planFinalize(nil); !plan.skip {
		t.Fatal("expected no writes for a missing document")
	}
}
