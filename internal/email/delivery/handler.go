package delivery

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CafeIT25/pmo-agent/internal/email/domain"
	"github.com/CafeIT25/pmo-agent/internal/email/usecase"
	"github.com/CafeIT25/pmo-agent/internal/jobs"
	usagedomain "github.com/CafeIT25/pmo-agent/internal/usage/domain"
)

// UsageReader exposes the monthly AI spend aggregate.
type UsageReader interface {
	MonthlyTotal(userID string, year int, month time.Month) (*usagedomain.MonthlySummary, error)
}

// EmailHandler handles mail account and sync HTTP requests. Sync itself is
// asynchronous: the endpoint enqueues a job and returns its id.
type EmailHandler struct {
	syncUsecase *usecase.SyncUsecase
	queue       *jobs.Queue
	usage       UsageReader
}

func NewEmailHandler(syncUsecase *usecase.SyncUsecase, queue *jobs.Queue, usage UsageReader) *EmailHandler {
	return &EmailHandler{syncUsecase: syncUsecase, queue: queue, usage: usage}
}

// ConnectAccountRequest carries the provider credentials for a new account.
// Credentials are provider-specific JSON and are encrypted before storage.
type ConnectAccountRequest struct {
	Provider    string `json:"provider" binding:"required"`
	Email       string `json:"email" binding:"required"`
	Credentials string `json:"credentials" binding:"required"`
}

// ConnectAccount registers a mail account
// POST /api/accounts
func (h *EmailHandler) ConnectAccount(c *gin.Context) {
	userID := c.GetString("userID")

	var req ConnectAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.syncUsecase.ConnectAccount(userID, domain.MailProviderType(req.Provider), req.Email, req.Credentials)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, account)
}

// GetAccounts returns the user's connected accounts
// GET /api/accounts
func (h *EmailHandler) GetAccounts(c *gin.Context) {
	userID := c.GetString("userID")

	accounts, err := h.syncUsecase.ListAccounts(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// TriggerSync queues a sync run for an account
// POST /api/accounts/:id/sync
func (h *EmailHandler) TriggerSync(c *gin.Context) {
	userID := c.GetString("userID")
	accountID := c.Param("id")

	account, err := h.syncUsecase.Account(accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if account == nil || account.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}

	jobID, err := h.queue.Enqueue(accountID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": string(jobs.StatusQueued),
	})
}

// GetJob reports the state of a queued sync job
// GET /api/jobs/:id
func (h *EmailHandler) GetJob(c *gin.Context) {
	info, ok := h.queue.Job(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":       info.ID,
		"kind":     "email_sync",
		"status":   info.Status,
		"attempts": info.Attempts,
		"error":    info.Error,
	})
}

// GetSyncJobs returns the user's recent sync runs
// GET /api/sync-jobs
func (h *EmailHandler) GetSyncJobs(c *gin.Context) {
	userID := c.GetString("userID")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	syncJobs, err := h.syncUsecase.ListSyncJobs(userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sync_jobs": syncJobs})
}

// GetMonthlyUsage returns the user's AI spend for a month, current by default
// GET /api/usage/monthly?year=2026&month=8
func (h *EmailHandler) GetMonthlyUsage(c *gin.Context) {
	userID := c.GetString("userID")

	now := time.Now().UTC()
	year, err := strconv.Atoi(c.DefaultQuery("year", strconv.Itoa(now.Year())))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
		return
	}
	month, err := strconv.Atoi(c.DefaultQuery("month", strconv.Itoa(int(now.Month()))))
	if err != nil || month < 1 || month > 12 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid month"})
		return
	}

	summary, err := h.usage.MonthlyTotal(userID, year, time.Month(month))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}
