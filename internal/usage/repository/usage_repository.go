package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/CafeIT25/pmo-agent/internal/usage/domain"
	"github.com/CafeIT25/pmo-agent/pkg/ai"
)

// UsageRepository persists per-user AI spend. Implements ai.UsageRecorder
// so it can be injected into the reconciliation pipeline.
type UsageRepository interface {
	ai.UsageRecorder
	MonthlyTotal(userID string, year int, month time.Month) (*domain.MonthlySummary, error)
}

type gormUsageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &gormUsageRepository{db: db}
}

func (r *gormUsageRepository) Record(rec ai.UsageRecord) error {
	row := &domain.AIUsage{
		ID:           uuid.New().String(),
		UserID:       rec.UserID,
		Model:        rec.Model,
		Purpose:      rec.Purpose,
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		TotalTokens:  rec.InputTokens + rec.OutputTokens,
		CostUSD:      rec.Cost,
		CreatedAt:    time.Now(),
	}
	return r.db.Create(row).Error
}

func (r *gormUsageRepository) MonthlyTotal(userID string, year int, month time.Month) (*domain.MonthlySummary, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	var summary domain.MonthlySummary
	err := r.db.Model(&domain.AIUsage{}).
		Select("COALESCE(SUM(input_tokens),0) AS input_tokens, COALESCE(SUM(output_tokens),0) AS output_tokens, COALESCE(SUM(total_tokens),0) AS total_tokens, COALESCE(SUM(cost_usd),0) AS cost_usd, COUNT(*) AS request_count").
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, start, end).
		Scan(&summary).Error
	if err != nil {
		return nil, err
	}
	return &summary, nil
}
