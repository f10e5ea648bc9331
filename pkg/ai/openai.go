package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIService implements CompletionService against the OpenAI chat API.
type OpenAIService struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

func NewOpenAIService(apiKey, model string, maxTokens int, logger *zap.Logger) *OpenAIService {
	return &OpenAIService{
		client:    openai.NewClient(apiKey),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

func (s *OpenAIService) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.maxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	apiReq := openai.ChatCompletionRequest{
		Model:     s.model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.JSONMode {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := s.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		s.logger.Error("openai completion failed", zap.Error(err))
		return nil, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty response")
	}

	completion := &Completion{
		Text:         strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	completion.Cost = CalculateCost(s.model, completion.InputTokens, completion.OutputTokens)

	return completion, nil
}

// classifyError maps provider failures onto the package error taxonomy so
// callers can distinguish billing problems from transient throttling.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if isQuotaExhausted(apiErr) {
			return fmt.Errorf("%w: %v", ErrInsufficientCredits, err)
		}
		if apiErr.HTTPStatusCode == 429 {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return fmt.Errorf("openai: %w", err)
	}

	// Some client paths surface plain errors; fall back to message sniffing.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "insufficient_quota") || strings.Contains(msg, "exceeded your current quota") {
		return fmt.Errorf("%w: %v", ErrInsufficientCredits, err)
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return fmt.Errorf("openai: %w", err)
}

func isQuotaExhausted(apiErr *openai.APIError) bool {
	if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "quota")
}
