package dialogue

import (
	"fmt"
	"strings"

	"voicecampaign_backend/internal/calls"
	"voicecampaign_backend/internal/campaigns"
)

// SurveyContext is everything the model needs to conduct one turn.
type SurveyContext struct {
	Campaign         campaigns.Campaign
	Language         string
	CurrentQuestion  int // 0 = consent
	CollectedAnswers []string
}

const systemPromptTemplate = `You are a professional phone survey agent conducting a brief 3-question survey. Your role is to:

1. Follow the survey script exactly as provided
2. Be polite, professional, and concise
3. Capture answers accurately
4. Handle common conversational patterns (requests to repeat, clarifications)
5. Never discuss topics outside the survey scope
6. Respect the respondent's time and decisions

SURVEY CONTEXT:
- Campaign: %s
- Language: %s
- Current Phase: %s

INTRO SCRIPT (use for consent):
%s

SURVEY QUESTIONS:
1. %s (Type: %s)
2. %s (Type: %s)
3. %s (Type: %s)

COLLECTED ANSWERS SO FAR:
%s

INSTRUCTIONS:
- For CONSENT phase: Ask for consent using the intro script. Detect "yes"/"no" intent clearly.
- For QUESTION phases: Ask the current question naturally, acknowledge answers briefly.
- If the respondent asks to repeat, re-ask the current question.
- If the answer is unclear, ask for clarification once.
- Keep responses brief and natural for phone conversation.
- Never make up information or go off-script.

RESPONSE FORMAT:
Respond with your spoken text only. Do not include stage directions or metadata.
After your response, on a new line starting with "SIGNAL:", indicate one of:
- CONSENT_ACCEPTED (if user agreed to participate)
- CONSENT_REFUSED (if user declined)
- ANSWER_CAPTURED:<answer> (if you captured an answer, include the answer after colon)
- MOVE_TO_NEXT_QUESTION (if ready to move on)
- REPEAT_QUESTION (if user asked to repeat)
- UNCLEAR_RESPONSE (if you need clarification)
- SURVEY_COMPLETE (if all questions are answered)`

// BuildSystemPrompt renders the survey instructions for one turn.
func BuildSystemPrompt(ctx SurveyContext) string {
	q := ctx.Campaign.Questions
	return fmt.Sprintf(systemPromptTemplate,
		ctx.Campaign.Name,
		strings.ToUpper(ctx.Language),
		phaseDescription(ctx.CurrentQuestion),
		ctx.Campaign.IntroScript,
		q[0].Text, q[0].Type,
		q[1].Text, q[1].Type,
		q[2].Text, q[2].Type,
		formatCollectedAnswers(ctx.CollectedAnswers),
	)
}

func phaseDescription(currentQuestion int) string {
	switch currentQuestion {
	case 0:
		return "CONSENT - Requesting participation consent"
	case 1:
		return "QUESTION 1 - First survey question"
	case 2:
		return "QUESTION 2 - Second survey question"
	case 3:
		return "QUESTION 3 - Final survey question"
	default:
		return "COMPLETION - Survey complete"
	}
}

func formatCollectedAnswers(answers []string) string {
	if len(answers) == 0 {
		return "(none yet)"
	}
	var b strings.Builder
	for i, answer := range answers {
		if answer == "" {
			continue
		}
		fmt.Fprintf(&b, "Q%d: %s\n", i+1, answer)
	}
	if b.Len() == 0 {
		return "(none yet)"
	}
	return strings.TrimRight(b.String(), "\n")
}

// ContextFromState assembles the survey context for the current turn.
func ContextFromState(campaign campaigns.Campaign, state *calls.VoiceState, language string) SurveyContext {
	if language == "" {
		language = campaign.Language
	}
	return SurveyContext{
		Campaign:         campaign,
		Language:         language,
		CurrentQuestion:  state.CurrentQuestion,
		CollectedAnswers: state.CollectedAnswers,
	}
}
