package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	recdomain "github.com/CafeIT25/pmo-agent/internal/reconcile/domain"
	taskdomain "github.com/CafeIT25/pmo-agent/internal/task/domain"
	"github.com/CafeIT25/pmo-agent/pkg/ai"
)

func newTestAnalyzer(llm ai.CompletionService, usage ai.UsageRecorder) *ThreadAnalyzer {
	return NewThreadAnalyzer(llm, usage, zap.NewNop(), 5, 500, 2000)
}

func TestAnalyzeBatchHappyPath(t *testing.T) {
	llm := &fakeCompletionService{responses: []string{`{"results":[
		{"thread_id":"t2","action":"none","reason":"newsletter"},
		{"thread_id":"t1","action":"create","title":"Review budget","status":"todo","priority":"high"}
	]}`}}
	usage := &memUsageRecorder{}
	analyzer := newTestAnalyzer(llm, usage)

	batch := []ThreadContext{
		{Thread: testThread("t1", testEmail("e1", "a@x.com", "Review budget", time.Now()))},
		{Thread: testThread("t2", testEmail("e2", "b@x.com", "Weekly digest", time.Now()))},
	}

	result, err := analyzer.AnalyzeBatch(context.Background(), "user-1", batch)
	if err != nil {
		t.Fatalf("AnalyzeBatch() error = %v", err)
	}
	if result.Malformed {
		t.Fatal("result should not be malformed")
	}
	if llm.calls != 1 {
		t.Errorf("batch must cost exactly one completion call, got %d", llm.calls)
	}

	// Decisions come back in batch order regardless of response order.
	if len(result.Decisions) != 2 {
		t.Fatalf("got %d decisions, want 2", len(result.Decisions))
	}
	if result.Decisions[0].ThreadKey != "t1" || result.Decisions[0].Action != recdomain.ActionCreate {
		t.Errorf("first decision wrong: %+v", result.Decisions[0])
	}
	if result.Decisions[1].ThreadKey != "t2" || result.Decisions[1].Action != recdomain.ActionNone {
		t.Errorf("second decision wrong: %+v", result.Decisions[1])
	}

	if len(usage.records) != 1 || usage.records[0].Purpose != "thread_analysis" || usage.records[0].UserID != "user-1" {
		t.Errorf("usage not recorded: %+v", usage.records)
	}
}

func TestAnalyzeBatchMalformedFailsSoft(t *testing.T) {
	llm := &fakeCompletionService{responses: []string{"Sure! I think you should create a task."}}
	analyzer := newTestAnalyzer(llm, &memUsageRecorder{})

	batch := []ThreadContext{
		{Thread: testThread("t1", testEmail("e1", "a@x.com", "Hello", time.Now()))},
		{Thread: testThread("t2", testEmail("e2", "b@x.com", "World", time.Now()))},
	}

	result, err := analyzer.AnalyzeBatch(context.Background(), "user-1", batch)
	if err != nil {
		t.Fatalf("malformed payload must not be an error, got %v", err)
	}
	if !result.Malformed {
		t.Fatal("result should be marked malformed")
	}
	for _, d := range result.Decisions {
		if d.Action != recdomain.ActionNone {
			t.Errorf("malformed batch must decay to none, got %+v", d)
		}
	}
}

func TestAnalyzeBatchFillsSkippedThreads(t *testing.T) {
	llm := &fakeCompletionService{responses: []string{`{"results":[{"thread_id":"t1","action":"none"}]}`}}
	analyzer := newTestAnalyzer(llm, &memUsageRecorder{})

	batch := []ThreadContext{
		{Thread: testThread("t1", testEmail("e1", "a@x.com", "One", time.Now()))},
		{Thread: testThread("t2", testEmail("e2", "b@x.com", "Two", time.Now()))},
	}

	result, err := analyzer.AnalyzeBatch(context.Background(), "user-1", batch)
	if err != nil {
		t.Fatalf("AnalyzeBatch() error = %v", err)
	}
	if len(result.Decisions) != 2 {
		t.Fatalf("got %d decisions, want 2", len(result.Decisions))
	}
	if result.Decisions[1].ThreadKey != "t2" || result.Decisions[1].Action != recdomain.ActionNone {
		t.Errorf("skipped thread should get a filled none: %+v", result.Decisions[1])
	}
}

func TestAnalyzeBatchPropagatesLLMErrors(t *testing.T) {
	llm := &fakeCompletionService{errs: []error{ai.ErrRateLimited}}
	analyzer := newTestAnalyzer(llm, &memUsageRecorder{})

	batch := []ThreadContext{{Thread: testThread("t1", testEmail("e1", "a@x.com", "X", time.Now()))}}

	_, err := analyzer.AnalyzeBatch(context.Background(), "user-1", batch)
	if !errors.Is(err, ai.ErrRateLimited) {
		t.Errorf("AnalyzeBatch() error = %v, want ErrRateLimited", err)
	}
}

func TestAnalyzeBatchEmpty(t *testing.T) {
	llm := &fakeCompletionService{}
	analyzer := newTestAnalyzer(llm, &memUsageRecorder{})

	result, err := analyzer.AnalyzeBatch(context.Background(), "user-1", nil)
	if err != nil {
		t.Fatalf("AnalyzeBatch() error = %v", err)
	}
	if llm.calls != 0 {
		t.Error("empty batch must not reach the model")
	}
	if len(result.Decisions) != 0 {
		t.Errorf("empty batch should yield no decisions, got %d", len(result.Decisions))
	}
}

func TestDigestBounds(t *testing.T) {
	analyzer := NewThreadAnalyzer(&fakeCompletionService{}, &memUsageRecorder{}, zap.NewNop(), 2, 10, 2000)

	base := time.Now()
	thread := testThread("t1",
		testEmail("e1", "a@x.com", "First", base),
		testEmail("e2", "b@x.com", "Second", base.Add(time.Minute)),
		testEmail("e3", "c@x.com", "Third", base.Add(2*time.Minute)),
	)
	thread.Emails[0].Body = strings.Repeat("x", 100)

	existing := &taskdomain.Task{ID: "task-1", Title: "First", Status: taskdomain.StatusTodo}
	d := analyzer.digest(ThreadContext{Thread: thread, Existing: existing})

	if len(d.Emails) != 2 {
		t.Errorf("digest should cap emails at 2, got %d", len(d.Emails))
	}
	if len(d.Emails[0].Body) != 10 {
		t.Errorf("digest should cap body at 10 chars, got %d", len(d.Emails[0].Body))
	}
	if !d.HasExistingTask || d.ExistingTaskID != "task-1" {
		t.Errorf("digest should carry the matched task: %+v", d)
	}
}

func TestDigestTruncatesOnRuneBoundary(t *testing.T) {
	analyzer := NewThreadAnalyzer(&fakeCompletionService{}, &memUsageRecorder{}, zap.NewNop(), 2, 10, 2000)

	thread := testThread("t1", testEmail("e1", "a@x.com", "First", time.Now()))
	thread.Emails[0].Body = strings.Repeat("é", 100)

	d := analyzer.digest(ThreadContext{Thread: thread})

	if !utf8.ValidString(d.Emails[0].Body) {
		t.Errorf("truncated body must stay valid UTF-8: %q", d.Emails[0].Body)
	}
	if got := utf8.RuneCountInString(d.Emails[0].Body); got != 10 {
		t.Errorf("digest should cap body at 10 runes, got %d", got)
	}
}
