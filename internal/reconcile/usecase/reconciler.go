package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	emaildomain "github.com/CafeIT25/pmo-agent/internal/email/domain"
	emailrepo "github.com/CafeIT25/pmo-agent/internal/email/repository"
	taskrepo "github.com/CafeIT25/pmo-agent/internal/task/repository"
	"github.com/CafeIT25/pmo-agent/pkg/ai"
)

// batchAnalyzer and decisionExecutor are the two seams of a pass; concrete
// implementations live in this package.
type batchAnalyzer interface {
	AnalyzeBatch(ctx context.Context, userID string, batch []ThreadContext) (*BatchResult, error)
}

type decisionExecutor interface {
	Apply(userID string, contexts []ThreadContext, batch *BatchResult) (*ApplyResult, error)
}

// Reconciler runs the full email-to-task pass for one user: load unanalyzed
// mail, group into threads, match against existing tasks, analyze in batches
// and execute the verdicts.
type Reconciler struct {
	emailRepo emailrepo.EmailRepository
	taskRepo  taskrepo.TaskRepository
	analyzer  batchAnalyzer
	executor  decisionExecutor
	logger    *zap.Logger

	batchSize    int
	maxRetries   int
	batchTimeout time.Duration
	baseBackoff  time.Duration

	locks *userLocks
}

func NewReconciler(emailRepo emailrepo.EmailRepository, taskRepo taskrepo.TaskRepository, analyzer batchAnalyzer, executor decisionExecutor, logger *zap.Logger, batchSize, maxRetries int, batchTimeout time.Duration) *Reconciler {
	if batchSize <= 0 {
		batchSize = 10
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if batchTimeout <= 0 {
		batchTimeout = 90 * time.Second
	}
	return &Reconciler{
		emailRepo:    emailRepo,
		taskRepo:     taskRepo,
		analyzer:     analyzer,
		executor:     executor,
		logger:       logger,
		batchSize:    batchSize,
		maxRetries:   maxRetries,
		batchTimeout: batchTimeout,
		baseBackoff:  2 * time.Second,
		locks:        newUserLocks(),
	}
}

// PassResult is the accounting for one reconciliation pass.
type PassResult struct {
	Emails           int
	Threads          int
	Created          int
	Updated          int
	Skipped          int
	MalformedBatches int
	Cost             float64
}

// Run executes one pass for a user. Passes for the same user are serialized;
// a second caller blocks until the first finishes and then sees an already
// reconciled inbox, which makes duplicate triggers harmless.
func (r *Reconciler) Run(ctx context.Context, userID string) (*PassResult, error) {
	unlock := r.locks.lock(userID)
	defer unlock()

	emails, err := r.emailRepo.FindUnanalyzedByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("load unanalyzed emails: %w", err)
	}
	result := &PassResult{Emails: len(emails)}
	if len(emails) == 0 {
		return result, nil
	}

	threads := emaildomain.GroupByThread(emails)
	result.Threads = len(threads)

	tasks, err := r.taskRepo.FindByUserID(userID)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}

	contexts := BuildThreadContexts(threads, tasks)

	for start := 0; start < len(contexts); start += r.batchSize {
		end := start + r.batchSize
		if end > len(contexts) {
			end = len(contexts)
		}
		chunk := contexts[start:end]

		batch, err := r.analyzeWithRetry(ctx, userID, chunk)
		if err != nil {
			// Unprocessed threads keep their emails unanalyzed and are
			// retried by the next pass.
			return result, err
		}
		result.Cost += batch.Cost
		if batch.Malformed {
			result.MalformedBatches++
		}

		applied, err := r.executor.Apply(userID, chunk, batch)
		if err != nil {
			return result, fmt.Errorf("apply decisions: %w", err)
		}
		result.Created += applied.Created
		result.Updated += applied.Updated
		result.Skipped += applied.Skipped
	}

	r.logger.Info("reconciliation pass finished",
		zap.String("user_id", userID),
		zap.Int("emails", result.Emails),
		zap.Int("threads", result.Threads),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Float64("cost_usd", result.Cost))
	return result, nil
}

// analyzeWithRetry retries transient analysis failures with exponential
// backoff. Insufficient credits aborts immediately; retrying cannot help
// and each attempt would be billed against an empty balance anyway.
func (r *Reconciler) analyzeWithRetry(ctx context.Context, userID string, chunk []ThreadContext) (*BatchResult, error) {
	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.baseBackoff << (attempt - 1)
			r.logger.Warn("retrying thread analysis",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		batchCtx, cancel := context.WithTimeout(ctx, r.batchTimeout)
		batch, err := r.analyzer.AnalyzeBatch(batchCtx, userID, chunk)
		cancel()
		if err == nil {
			return batch, nil
		}
		if errors.Is(err, ai.ErrInsufficientCredits) {
			return nil, err
		}
		if !retryableAnalysisError(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("thread analysis failed after %d attempts: %w", r.maxRetries, lastErr)
}

func retryableAnalysisError(err error) bool {
	return errors.Is(err, ai.ErrRateLimited) || errors.Is(err, context.DeadlineExceeded)
}
