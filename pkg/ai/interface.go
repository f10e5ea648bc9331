package ai

import (
	"context"
	"errors"
)

// Error taxonomy for LLM calls. Callers pick retry behavior off these:
// rate limits are retryable after a delay, exhausted credits are not and
// must surface to the billing flow, anything else is a provider fault.
var (
	ErrInsufficientCredits = errors.New("ai: insufficient credits")
	ErrRateLimited         = errors.New("ai: rate limited")
)

// CompletionRequest is a single prompt round against the configured model.
type CompletionRequest struct {
	System    string
	Prompt    string
	MaxTokens int
	JSONMode  bool // ask the provider for a JSON object response
}

// Completion carries the model output plus the token accounting needed for
// per-user cost tracking.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// CompletionService is the interface for LLM completion providers.
// Implement this interface to add new providers (OpenAI, Bedrock, Ollama, ...).
type CompletionService interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// UsageRecord is one logged LLM invocation for a user.
type UsageRecord struct {
	UserID       string
	Model        string
	Purpose      string
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// UsageRecorder persists AI usage. Injected into the pipeline instead of a
// process-wide tracker so tests can isolate and assert spend.
type UsageRecorder interface {
	Record(rec UsageRecord) error
}

// NopUsageRecorder discards usage records.
type NopUsageRecorder struct{}

func (NopUsageRecorder) Record(UsageRecord) error { return nil }
