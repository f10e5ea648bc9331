package ai

import (
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "quota code",
			err:  &openai.APIError{HTTPStatusCode: 429, Code: "insufficient_quota", Message: "you exceeded your current quota"},
			want: ErrInsufficientCredits,
		},
		{
			name: "plain rate limit",
			err:  &openai.APIError{HTTPStatusCode: 429, Code: "rate_limit_exceeded", Message: "slow down"},
			want: ErrRateLimited,
		},
		{
			name: "string quota error",
			err:  errors.New("status 429: insufficient_quota"),
			want: ErrInsufficientCredits,
		},
		{
			name: "string rate limit",
			err:  errors.New("rate limit reached for requests"),
			want: ErrRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("classifyError(%v) = %v, want errors.Is %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyErrorGeneric(t *testing.T) {
	got := classifyError(errors.New("connection refused"))
	if errors.Is(got, ErrInsufficientCredits) || errors.Is(got, ErrRateLimited) {
		t.Errorf("generic error misclassified: %v", got)
	}
}

func TestCalculateCost(t *testing.T) {
	cost := CalculateCost("gpt-3.5-turbo", 1000, 1000)
	if cost != 0.002 {
		t.Errorf("cost = %v, want 0.002", cost)
	}

	// Unknown model falls back to the default rate instead of zero.
	if CalculateCost("some-future-model", 1000, 0) == 0 {
		t.Error("unknown model should use fallback pricing")
	}
}
