package telephony

import (
	"strings"
	"testing"
)

func TestConsentPrompt_GathersSpeechInCampaignLanguage(t *testing.T) {
	doc, err := ConsentPrompt("Hello there.", "Say yes or no.", "https://example.com/voice?mode=turn", "it")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if !strings.Contains(doc, "Hello there.") || !strings.Contains(doc, "Say yes or no.") {
		t.Fatalf("expected prompt text, got %s", doc)
	}
	if !strings.Contains(doc, "it-IT") {
		t.Fatalf("expected italian voice locale, got %s", doc)
	}
	if !strings.Contains(doc, "<Gather") {
		t.Fatalf("expected gather element, got %s", doc)
	}
}

func TestWaitAndPoll_PausesThenRedirects(t *testing.T) {
	doc, err := WaitAndPoll("https://example.com/voice?mode=poll")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if !strings.Contains(doc, "<Pause") || !strings.Contains(doc, "<Redirect") {
		t.Fatalf("expected pause and redirect, got %s", doc)
	}
}

func TestSayAndHangup_UnknownLanguageFallsBackToEnglish(t *testing.T) {
	doc, err := SayAndHangup("Goodbye.", "nl")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if !strings.Contains(doc, "en-US") {
		t.Fatalf("expected english fallback locale, got %s", doc)
	}
	if !strings.Contains(doc, "<Hangup") {
		t.Fatalf("expected hangup, got %s", doc)
	}
}

func TestCallbackURL_EncodesParamsAndSkipsEmpty(t *testing.T) {
	got := CallbackURL("https://example.com", VoicePath, map[string]string{
		"mode":    "turn",
		"call_id": "abc",
		"empty":   "",
	})

	if !strings.HasPrefix(got, "https://example.com"+VoicePath+"?") {
		t.Fatalf("unexpected url %s", got)
	}
	if !strings.Contains(got, "mode=turn") || !strings.Contains(got, "call_id=abc") {
		t.Fatalf("expected params encoded, got %s", got)
	}
	if strings.Contains(got, "empty=") {
		t.Fatalf("expected empty param dropped, got %s", got)
	}
}
