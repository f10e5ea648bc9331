package usecase

import (
	emaildomain "github.com/CafeIT25/pmo-agent/internal/email/domain"
	taskdomain "github.com/CafeIT25/pmo-agent/internal/task/domain"
	"github.com/CafeIT25/pmo-agent/pkg/fuzzy"
)

// similarityThreshold is the tuned cut-off for fuzzy title matches. Kept at
// the historical value on purpose; see pkg/fuzzy.
const similarityThreshold = 0.8

// MatchTask finds the existing task already tied to a thread, or nil.
//
// Source-email linkage beats any title similarity: a task created from one
// of the thread's emails is always the match. Otherwise the first task in
// iteration order whose title scores above the threshold wins — no global
// best-of search. The ordering sensitivity is an accepted property.
func MatchTask(thread *emaildomain.Thread, tasks []*taskdomain.Task) *taskdomain.Task {
	for _, task := range tasks {
		if task.SourceEmailID != "" && thread.ContainsEmailID(task.SourceEmailID) {
			return task
		}
	}

	subject := thread.Subject()
	if subject == "" {
		return nil
	}
	for _, task := range tasks {
		if fuzzy.TitleSimilarity(subject, task.Title) > similarityThreshold {
			return task
		}
	}

	return nil
}

// ThreadContext pairs a thread with its matched task (nil when the thread is
// a candidate for creation). This is the unit handed to the analyzer.
type ThreadContext struct {
	Thread   *emaildomain.Thread
	Existing *taskdomain.Task
}

// BuildThreadContexts runs the matcher over every thread.
func BuildThreadContexts(threads []*emaildomain.Thread, tasks []*taskdomain.Task) []ThreadContext {
	contexts := make([]ThreadContext, 0, len(threads))
	for _, th := range threads {
		contexts = append(contexts, ThreadContext{Thread: th, Existing: MatchTask(th, tasks)})
	}
	return contexts
}
