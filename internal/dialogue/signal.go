// Package dialogue decides what the assistant says next. The LLM proposes,
// the orchestrator disposes: model output is reduced to typed control
// signals and a deterministic state transition.
package dialogue

import (
	"regexp"
	"strings"
)

// ControlSignal is a typed instruction extracted from model output.
type ControlSignal string

const (
	SignalConsentAccepted ControlSignal = "consent_accepted"
	SignalConsentRefused  ControlSignal = "consent_refused"
	SignalMoveToNext      ControlSignal = "move_to_next_question"
	SignalRepeatQuestion  ControlSignal = "repeat_question"
	SignalAnswerCaptured  ControlSignal = "answer_captured"
	SignalSurveyComplete  ControlSignal = "survey_complete"
	SignalUnclearResponse ControlSignal = "unclear_response"
)

var signalNames = map[string]ControlSignal{
	"CONSENT_ACCEPTED":      SignalConsentAccepted,
	"CONSENT_REFUSED":       SignalConsentRefused,
	"MOVE_TO_NEXT_QUESTION": SignalMoveToNext,
	"REPEAT_QUESTION":       SignalRepeatQuestion,
	"ANSWER_CAPTURED":       SignalAnswerCaptured,
	"SURVEY_COMPLETE":       SignalSurveyComplete,
	"UNCLEAR_RESPONSE":      SignalUnclearResponse,
}

// signalPattern matches lines like "SIGNAL: ANSWER_CAPTURED: Rome".
var signalPattern = regexp.MustCompile(`(?m)^SIGNAL:\s*(\w+)(?::(.+))?$`)

// ParsedReply is model output reduced to speakable text plus signals.
type ParsedReply struct {
	Content        string
	Signals        []ControlSignal
	CapturedAnswer *string
}

// HasSignal reports whether a given signal was emitted.
func (p ParsedReply) HasSignal(signal ControlSignal) bool {
	for _, s := range p.Signals {
		if s == signal {
			return true
		}
	}
	return false
}

// ParseReply extracts control signals from raw model output and strips
// their lines from the speakable content. Unknown signal names are
// ignored. When the model emits no explicit signal, a conservative
// inference pass runs over the content; if that also finds nothing the
// reply carries no signals and the orchestrator treats the turn as a
// plain continuation.
func ParseReply(raw string) ParsedReply {
	var (
		signals  []ControlSignal
		captured *string
	)

	for _, match := range signalPattern.FindAllStringSubmatch(raw, -1) {
		name := strings.ToUpper(strings.TrimSpace(match[1]))
		signal, ok := signalNames[name]
		if !ok {
			continue
		}
		signals = append(signals, signal)

		if signal == SignalAnswerCaptured && match[2] != "" {
			answer := strings.TrimSpace(match[2])
			if answer != "" {
				captured = &answer
			}
		}
	}

	content := strings.TrimSpace(signalPattern.ReplaceAllString(raw, ""))

	if len(signals) == 0 {
		signals = inferSignals(content)
	}

	return ParsedReply{
		Content:        content,
		Signals:        signals,
		CapturedAnswer: captured,
	}
}

// inferSignals guesses signals from phrasing when the model forgot the
// SIGNAL protocol. Deliberately narrow: a wrong guess here advances the
// survey on bad data, a missing one just costs a reprompt.
func inferSignals(content string) []ControlSignal {
	var signals []ControlSignal
	lower := strings.ToLower(content)

	consentPositive := []string{
		"thank you for agreeing",
		"great, let's begin",
		"wonderful, i'll start",
		"perfect, here's the first",
	}
	consentNegative := []string{
		"thank you for your time",
		"i understand",
		"no problem",
		"have a good day",
	}

	for _, phrase := range consentPositive {
		if strings.Contains(lower, phrase) {
			signals = append(signals, SignalConsentAccepted)
			break
		}
	}
	for _, phrase := range consentNegative {
		if strings.Contains(lower, phrase) && !strings.Contains(lower, "first question") {
			signals = append(signals, SignalConsentRefused)
			break
		}
	}

	if strings.Contains(lower, "let me repeat") || strings.Contains(lower, "i'll ask again") {
		signals = append(signals, SignalRepeatQuestion)
	}

	if strings.Contains(lower, "thank you for completing") || strings.Contains(lower, "survey is complete") {
		signals = append(signals, SignalSurveyComplete)
	}

	return signals
}
