package dialogue

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"voicecampaign_backend/platform/config"
)

// OpenAIGateway implements Gateway on the OpenAI chat completions API.
type OpenAIGateway struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIGateway constructs the production gateway.
func NewOpenAIGateway(cfg config.LLMConfig) *OpenAIGateway {
	return &OpenAIGateway{
		client:  openai.NewClient(option.WithAPIKey(cfg.GetOpenAIAPIKey())),
		model:   cfg.GetLLMModel(),
		timeout: cfg.GetLLMTimeout(),
	}
}

// CompleteTurn sends the survey context plus conversation history and
// parses the model's reply into signals.
func (g *OpenAIGateway) CompleteTurn(ctx context.Context, req TurnRequest) (ParsedReply, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	messages = append(messages, openai.SystemMessage(BuildSystemPrompt(req.Context)))
	for _, m := range req.History {
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.UserText))

	completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       g.model,
		Messages:    messages,
		Temperature: openai.Float(0.2),
		MaxTokens:   openai.Int(350),
	})
	if err != nil {
		return ParsedReply{}, classifyError(err)
	}

	if len(completion.Choices) == 0 {
		return ParsedReply{}, ErrProvider
	}

	return ParseReply(completion.Choices[0].Message.Content), nil
}

// classifyError maps provider failures onto the gateway taxonomy so the
// turn worker can pick a retry policy without knowing about OpenAI.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrAuth
		case http.StatusTooManyRequests:
			return &RateLimitError{RetryAfter: retryAfter(apierr)}
		}
		return ErrProvider
	}

	return ErrProvider
}

func retryAfter(apierr *openai.Error) time.Duration {
	if apierr.Response == nil {
		return 0
	}
	raw := apierr.Response.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
