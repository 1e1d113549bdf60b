// Package telephony is the provider boundary: outbound call initiation,
// inbound webhook handling, and the voice markup the provider executes.
package telephony

import (
	"github.com/twilio/twilio-go/twiml"
)

// voiceLanguage maps a campaign language code to the provider's speech
// locale.
func voiceLanguage(language string) string {
	switch language {
	case "it":
		return "it-IT"
	case "de":
		return "de-DE"
	case "fr":
		return "fr-FR"
	case "es":
		return "es-ES"
	default:
		return "en-US"
	}
}

// ConsentPrompt plays the intro script and gathers the consent answer.
func ConsentPrompt(introScript, consentHint, actionURL, language string) (string, error) {
	lang := voiceLanguage(language)
	return twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: introScript, Language: lang},
		&twiml.VoiceGather{
			Action:        actionURL,
			Method:        "POST",
			Input:         "speech dtmf",
			Language:      lang,
			Timeout:       "5",
			SpeechTimeout: "auto",
			InnerElements: []twiml.Element{
				&twiml.VoiceSay{Message: consentHint, Language: lang},
			},
		},
	})
}

// AckAndPoll acknowledges the utterance and redirects into poll mode
// while the turn worker runs.
func AckAndPoll(ack, pollURL, language string) (string, error) {
	return twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: ack, Language: voiceLanguage(language)},
		&twiml.VoicePause{Length: "1"},
		&twiml.VoiceRedirect{Url: pollURL, Method: "POST"},
	})
}

// WaitAndPoll pauses briefly and redirects back into poll mode.
func WaitAndPoll(pollURL string) (string, error) {
	return twiml.Voice([]twiml.Element{
		&twiml.VoicePause{Length: "1"},
		&twiml.VoiceRedirect{Url: pollURL, Method: "POST"},
	})
}

// NextPrompt speaks the assistant's reply and gathers the next utterance.
func NextPrompt(assistantText, actionURL, language string) (string, error) {
	lang := voiceLanguage(language)
	return twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: assistantText, Language: lang},
		&twiml.VoiceGather{
			Action:        actionURL,
			Method:        "POST",
			Input:         "speech dtmf",
			Language:      lang,
			Timeout:       "6",
			SpeechTimeout: "auto",
		},
	})
}

// SayAndHangup speaks a closing line and ends the call. Also the safe
// fallback for any handler failure: the caller always hears something.
func SayAndHangup(message, language string) (string, error) {
	return twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: message, Language: voiceLanguage(language)},
		&twiml.VoiceHangup{},
	})
}
