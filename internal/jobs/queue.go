package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RetryableError marks a job failure as transient. Anything else fails the
// job permanently on the first attempt.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return fmt.Sprintf("retryable: %v", e.Err) }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps an error so the queue retries it.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// Status is the lifecycle of a queued job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Handler executes one job payload.
type Handler func(ctx context.Context, payload string) error

// JobInfo is the externally visible state of a job.
type JobInfo struct {
	ID       string `json:"id"`
	Status   Status `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

type job struct {
	id      string
	payload string
	attempt int
}

// Queue is an in-process at-least-once job queue backed by a buffered
// channel and a fixed worker pool. Jobs survive retries, not restarts;
// durable sync state lives in the SyncJob table.
type Queue struct {
	jobs        chan job
	handler     Handler
	logger      *zap.Logger
	workerWg    sync.WaitGroup
	maxAttempts int
	baseBackoff time.Duration

	mu   sync.RWMutex
	info map[string]*JobInfo

	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewQueue(handler Handler, logger *zap.Logger, buffer, maxAttempts int) *Queue {
	if buffer <= 0 {
		buffer = 1000
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		jobs:        make(chan job, buffer),
		handler:     handler,
		logger:      logger,
		maxAttempts: maxAttempts,
		baseBackoff: time.Second,
		info:        make(map[string]*JobInfo),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the worker pool. Safe to call once.
func (q *Queue) Start(workerCount int) {
	q.startOnce.Do(func() {
		if workerCount <= 0 {
			workerCount = 3
		}
		for i := 0; i < workerCount; i++ {
			q.workerWg.Add(1)
			go q.worker(i)
		}
	})
}

// Stop drains in-flight work and shuts the pool down.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.jobs)
		q.workerWg.Wait()
		q.cancel()
	})
}

// Enqueue schedules a payload and returns the job id. Returns an error when
// the buffer is full rather than blocking the caller.
func (q *Queue) Enqueue(payload string) (string, error) {
	j := job{id: uuid.New().String(), payload: payload, attempt: 1}
	select {
	case q.jobs <- j:
		q.setStatus(j.id, StatusQueued)
		return j.id, nil
	default:
		return "", errors.New("job queue full")
	}
}

// JobStatus reports a job's current state; false when the id is unknown.
func (q *Queue) JobStatus(id string) (Status, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.info[id]
	if !ok {
		return "", false
	}
	return j.Status, true
}

// Job returns the full visible state of a job.
func (q *Queue) Job(id string) (JobInfo, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.info[id]
	if !ok {
		return JobInfo{}, false
	}
	return *j, true
}

func (q *Queue) worker(workerID int) {
	defer q.workerWg.Done()

	for j := range q.jobs {
		q.update(j.id, func(info *JobInfo) {
			info.Status = StatusRunning
			info.Attempts = j.attempt
		})
		err := q.run(j)
		if err == nil {
			q.setStatus(j.id, StatusCompleted)
			continue
		}

		var retryable *RetryableError
		if errors.As(err, &retryable) && j.attempt < q.maxAttempts {
			backoff := q.baseBackoff << (j.attempt - 1)
			q.logger.Warn("job failed, retrying",
				zap.String("job_id", j.id),
				zap.Int("attempt", j.attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			q.requeue(j, backoff)
			continue
		}

		q.logger.Error("job failed permanently",
			zap.String("job_id", j.id),
			zap.Int("worker", workerID),
			zap.Int("attempts", j.attempt),
			zap.Error(err))
		q.update(j.id, func(info *JobInfo) {
			info.Status = StatusFailed
			info.Error = err.Error()
		})
	}
}

func (q *Queue) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return q.handler(q.ctx, j.payload)
}

// requeue re-submits a job after its backoff without blocking the worker.
func (q *Queue) requeue(j job, backoff time.Duration) {
	j.attempt++
	q.setStatus(j.id, StatusQueued)
	go func() {
		select {
		case <-time.After(backoff):
		case <-q.ctx.Done():
			return
		}
		defer func() {
			// The channel may close while the retry timer runs.
			if recover() != nil {
				q.setStatus(j.id, StatusFailed)
			}
		}()
		q.jobs <- j
	}()
}

func (q *Queue) setStatus(id string, s Status) {
	q.update(id, func(info *JobInfo) { info.Status = s })
}

func (q *Queue) update(id string, fn func(*JobInfo)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	info, ok := q.info[id]
	if !ok {
		info = &JobInfo{ID: id}
		q.info[id] = info
	}
	fn(info)
}
