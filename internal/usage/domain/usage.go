package domain

import "time"

// AIUsage is one recorded LLM invocation for a user, priced at call time.
type AIUsage struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	UserID       string    `json:"user_id" gorm:"index;not null"`
	Model        string    `json:"model" gorm:"not null"`
	Purpose      string    `json:"purpose"` // e.g. thread_analysis
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	CreatedAt    time.Time `json:"created_at"`
}

// MonthlySummary aggregates a user's spend for one calendar month.
type MonthlySummary struct {
	InputTokens  int     `json:"total_input_tokens"`
	OutputTokens int     `json:"total_output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"total_cost_usd"`
	RequestCount int     `json:"request_count"`
}
