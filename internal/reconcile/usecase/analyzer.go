package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	recdomain "github.com/CafeIT25/pmo-agent/internal/reconcile/domain"
	"github.com/CafeIT25/pmo-agent/pkg/ai"
)

// The status heuristic lives in the prompt, not in code: phrasing that says
// work started maps to progress, phrasing that says it finished maps to
// done, everything else defaults to todo.
const analyzerSystemPrompt = `You are a project-management assistant. You are given email threads.
For each thread decide whether to create a new task, update the listed existing task, or do nothing.

Rules:
- If the thread has an existing task, only "update" or "none" are valid; use its task_id.
- If the thread has no existing task, only "create" or "none" are valid.
- Wording that says work has started ("started", "working on it", "kicked off") means status "progress".
- Wording that says work is finished ("done", "completed", "shipped") means status "done".
- Otherwise new tasks get status "todo".
- Newsletters, receipts and pure FYI mail are "none".

Respond with a single JSON object:
{"results":[{"thread_id":"...","action":"create|update|none","title":"...","description":"...","status":"todo|progress|done","priority":"high|medium|low","due_date":"YYYY-MM-DD or null","task_id":"...","summary":"...","reason":"..."}]}
Include exactly one entry per thread, in any order, keyed by the given thread_id.`

// ThreadAnalyzer turns a batch of matched threads into per-thread decisions
// with exactly one LLM round per batch. Never one request per thread: the
// batch call is the cost control.
type ThreadAnalyzer struct {
	llm    ai.CompletionService
	usage  ai.UsageRecorder
	logger *zap.Logger

	digestEmailLimit int
	digestBodyLimit  int
	maxTokens        int
}

func NewThreadAnalyzer(llm ai.CompletionService, usage ai.UsageRecorder, logger *zap.Logger, digestEmailLimit, digestBodyLimit, maxTokens int) *ThreadAnalyzer {
	if digestEmailLimit <= 0 {
		digestEmailLimit = 5
	}
	if digestBodyLimit <= 0 {
		digestBodyLimit = 500
	}
	return &ThreadAnalyzer{
		llm:              llm,
		usage:            usage,
		logger:           logger,
		digestEmailLimit: digestEmailLimit,
		digestBodyLimit:  digestBodyLimit,
		maxTokens:        maxTokens,
	}
}

// BatchResult is the outcome of one analysis round. Malformed marks the
// fail-soft path: the payload could not be trusted, every decision is a
// no-op, and affected emails stay eligible for the next pass.
type BatchResult struct {
	Decisions []recdomain.Decision // aligned with the input batch order
	Malformed bool
	Prompt    string
	Response  string
	Model     string
	Cost      float64
}

// threadDigest is the serialized per-thread block inside the prompt.
type threadDigest struct {
	ThreadID           string        `json:"thread_id"`
	HasExistingTask    bool          `json:"has_existing_task"`
	ExistingTaskID     string        `json:"existing_task_id,omitempty"`
	ExistingTaskTitle  string        `json:"existing_task_title,omitempty"`
	ExistingTaskStatus string        `json:"existing_task_status,omitempty"`
	Emails             []emailDigest `json:"emails"`
}

type emailDigest struct {
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	IsReply bool   `json:"is_reply"`
}

// AnalyzeBatch issues the single completion round for a batch of threads.
// LLM failures surface as the pkg/ai error taxonomy so the caller can pick
// between retrying, backing off, or failing the pass.
func (a *ThreadAnalyzer) AnalyzeBatch(ctx context.Context, userID string, batch []ThreadContext) (*BatchResult, error) {
	if len(batch) == 0 {
		return &BatchResult{}, nil
	}

	digests := make([]threadDigest, 0, len(batch))
	for _, tc := range batch {
		digests = append(digests, a.digest(tc))
	}

	serialized, err := json.MarshalIndent(digests, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize thread digests: %w", err)
	}
	prompt := fmt.Sprintf("Analyze the following %d email threads:\n\n%s", len(batch), serialized)

	completion, err := a.llm.Complete(ctx, ai.CompletionRequest{
		System:    analyzerSystemPrompt,
		Prompt:    prompt,
		MaxTokens: a.maxTokens,
		JSONMode:  true,
	})
	if err != nil {
		return nil, err
	}

	if recErr := a.usage.Record(ai.UsageRecord{
		UserID:       userID,
		Model:        completion.Model,
		Purpose:      "thread_analysis",
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		Cost:         completion.Cost,
	}); recErr != nil {
		a.logger.Warn("failed to record ai usage", zap.Error(recErr))
	}

	result := &BatchResult{
		Prompt:   prompt,
		Response: completion.Text,
		Model:    completion.Model,
		Cost:     completion.Cost,
	}

	decisions, parseErr := recdomain.ParseDecisions(completion.Text)
	if parseErr != nil {
		// Fail-soft: a malformed payload downgrades the whole batch to
		// no-ops. Not retried this pass; the next sync gets a fresh shot.
		a.logger.Warn("malformed analysis response, treating batch as none",
			zap.Error(parseErr),
			zap.Int("threads", len(batch)))
		result.Malformed = true
		result.Decisions = make([]recdomain.Decision, 0, len(batch))
		for _, tc := range batch {
			result.Decisions = append(result.Decisions, recdomain.NoneDecision(tc.Thread.Key, "ai response parsing failed"))
		}
		return result, nil
	}

	result.Decisions = alignDecisions(batch, decisions)
	return result, nil
}

// digest condenses a thread to a bounded block: at most digestEmailLimit
// emails and digestBodyLimit body characters each.
func (a *ThreadAnalyzer) digest(tc ThreadContext) threadDigest {
	d := threadDigest{ThreadID: tc.Thread.Key}

	if tc.Existing != nil {
		d.HasExistingTask = true
		d.ExistingTaskID = tc.Existing.ID
		d.ExistingTaskTitle = tc.Existing.Title
		d.ExistingTaskStatus = string(tc.Existing.Status)
	}

	emails := tc.Thread.Emails
	if len(emails) > a.digestEmailLimit {
		emails = emails[:a.digestEmailLimit]
	}
	for _, e := range emails {
		body := strings.TrimSpace(e.Body)
		if body == "" {
			body = e.Snippet
		}
		// Truncate on a rune boundary so multi-byte text stays valid.
		if runes := []rune(body); len(runes) > a.digestBodyLimit {
			body = string(runes[:a.digestBodyLimit])
		}
		d.Emails = append(d.Emails, emailDigest{
			From:    e.Sender,
			Subject: e.Subject,
			Body:    body,
			IsReply: e.IsReply(),
		})
	}
	return d
}

// alignDecisions reorders model output to the batch order and fills a none
// verdict for any thread the model skipped.
func alignDecisions(batch []ThreadContext, decisions []recdomain.Decision) []recdomain.Decision {
	byKey := make(map[string]recdomain.Decision, len(decisions))
	for _, d := range decisions {
		byKey[d.ThreadKey] = d
	}

	aligned := make([]recdomain.Decision, 0, len(batch))
	for _, tc := range batch {
		if d, ok := byKey[tc.Thread.Key]; ok {
			aligned = append(aligned, d)
		} else {
			aligned = append(aligned, recdomain.NoneDecision(tc.Thread.Key, "no decision returned for thread"))
		}
	}
	return aligned
}
