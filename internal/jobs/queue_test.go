package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func waitForStatus(t *testing.T, q *Queue, id string, want Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := q.JobStatus(id); ok && got == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, _ := q.JobStatus(id)
	t.Fatalf("job %s status = %s, want %s", id, got, want)
}

func TestQueueRunsJobs(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	q := NewQueue(func(_ context.Context, payload string) error {
		mu.Lock()
		seen = append(seen, payload)
		mu.Unlock()
		return nil
	}, zap.NewNop(), 10, 3)
	q.Start(2)
	defer q.Stop()

	id1, err := q.Enqueue("a")
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	id2, _ := q.Enqueue("b")

	waitForStatus(t, q, id1, StatusCompleted)
	waitForStatus(t, q, id2, StatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Errorf("handler ran %d times, want 2", len(seen))
	}
}

func TestQueueRetriesRetryableErrors(t *testing.T) {
	var attempts int32
	q := NewQueue(func(_ context.Context, payload string) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return Retryable(errors.New("transient"))
		}
		return nil
	}, zap.NewNop(), 10, 3)
	q.baseBackoff = time.Millisecond
	q.Start(1)
	defer q.Stop()

	id, _ := q.Enqueue("x")
	waitForStatus(t, q, id, StatusCompleted)

	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestQueueFailsPermanentErrorsImmediately(t *testing.T) {
	var attempts int32
	q := NewQueue(func(_ context.Context, payload string) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("permanent")
	}, zap.NewNop(), 10, 3)
	q.Start(1)
	defer q.Stop()

	id, _ := q.Enqueue("x")
	waitForStatus(t, q, id, StatusFailed)

	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retry for permanent errors)", got)
	}
}

func TestQueueExhaustsRetries(t *testing.T) {
	var attempts int32
	q := NewQueue(func(_ context.Context, payload string) error {
		atomic.AddInt32(&attempts, 1)
		return Retryable(errors.New("always transient"))
	}, zap.NewNop(), 10, 2)
	q.baseBackoff = time.Millisecond
	q.Start(1)
	defer q.Stop()

	id, _ := q.Enqueue("x")
	waitForStatus(t, q, id, StatusFailed)

	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("attempts = %d, want maxAttempts", got)
	}

	info, ok := q.Job(id)
	if !ok || info.Attempts != 2 || info.Error == "" {
		t.Errorf("Job() = %+v, want 2 attempts and a recorded error", info)
	}
}

func TestQueueRecoversFromPanic(t *testing.T) {
	q := NewQueue(func(_ context.Context, payload string) error {
		panic("boom")
	}, zap.NewNop(), 10, 3)
	q.Start(1)
	defer q.Stop()

	id, _ := q.Enqueue("x")
	waitForStatus(t, q, id, StatusFailed)

	// The worker must survive the panic and keep serving.
	if _, err := q.Enqueue("y"); err != nil {
		t.Fatalf("queue should keep accepting work after a panic: %v", err)
	}
}

func TestQueueFullReturnsError(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue(func(_ context.Context, payload string) error {
		<-block
		return nil
	}, zap.NewNop(), 1, 3)
	q.Start(1)

	// One job occupies the worker, one fills the buffer.
	q.Enqueue("running")
	time.Sleep(10 * time.Millisecond)
	q.Enqueue("buffered")

	if _, err := q.Enqueue("overflow"); err == nil {
		t.Error("full buffer should reject instead of blocking")
	}
	close(block)
	q.Stop()
}
