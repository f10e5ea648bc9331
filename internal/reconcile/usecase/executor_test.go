package usecase

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	recdomain "github.com/CafeIT25/pmo-agent/internal/reconcile/domain"
	taskdomain "github.com/CafeIT25/pmo-agent/internal/task/domain"
)

func newTestExecutor() (*ReconciliationExecutor, *fakeTaskRepo, *fakeSupportRepo, *fakeEmailRepo) {
	tasks := newFakeTaskRepo()
	supports := &fakeSupportRepo{}
	emails := newFakeEmailRepo()
	x := NewReconciliationExecutor(tasks, supports, emails, zap.NewNop())
	return x, tasks, supports, emails
}

func TestApplyCreate(t *testing.T) {
	x, tasks, supports, emailRepo := newTestExecutor()

	base := time.Now()
	reply := testEmail("e1", "bob@x.com", "Re: Launch plan", base)
	reply.InReplyTo = "<root@x.com>"
	origin := testEmail("e2", "alice@x.com", "Launch plan", base.Add(time.Minute))
	third := testEmail("e3", "carol@x.com", "Re: Launch plan", base.Add(2*time.Minute))
	fourth := testEmail("e4", "dave@x.com", "Re: Launch plan", base.Add(3*time.Minute))
	thread := testThread("t1", reply, origin, third, fourth)

	contexts := []ThreadContext{{Thread: thread}}
	batch := &BatchResult{
		Decisions: []recdomain.Decision{{
			ThreadKey: "t1",
			Action:    recdomain.ActionCreate,
			Create: &recdomain.CreateFields{
				Title:    "Launch plan",
				Status:   taskdomain.StatusTodo,
				Priority: taskdomain.PriorityHigh,
			},
		}},
		Prompt:   "prompt",
		Response: "response",
		Model:    "gpt-4o-mini",
		Cost:     0.001,
	}

	result, err := x.Apply("user-1", contexts, batch)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("Created = %d, want 1", result.Created)
	}
	if len(tasks.tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks.tasks))
	}

	var task *taskdomain.Task
	for _, v := range tasks.tasks {
		task = v
	}
	if task.CreatedBy != taskdomain.ActorAI || task.UpdatedBy != taskdomain.ActorAI {
		t.Errorf("task actor stamps wrong: created_by=%s updated_by=%s", task.CreatedBy, task.UpdatedBy)
	}
	// e2 is the earliest non-reply, so it is the provenance email even
	// though e1 arrived first.
	if task.SourceEmailID != "e2" {
		t.Errorf("SourceEmailID = %s, want e2", task.SourceEmailID)
	}
	if !strings.Contains(task.EmailSummary, "bob@x.com: Re: Launch plan") {
		t.Errorf("summary should name the first emails: %q", task.EmailSummary)
	}
	if !strings.Contains(task.EmailSummary, "and 1 more emails") {
		t.Errorf("summary should collapse the tail: %q", task.EmailSummary)
	}

	history := tasks.history[task.ID]
	if len(history) != 1 || history[0].Action != taskdomain.ActionCreated || history[0].ActedBy != taskdomain.ActorAI {
		t.Errorf("create must write exactly one created history row: %+v", history)
	}

	if len(supports.supports) != 1 || supports.supports[0].ThreadKey != "t1" {
		t.Errorf("ai support row not recorded: %+v", supports.supports)
	}
	if len(emailRepo.taskLinked) != 4 {
		t.Errorf("all thread emails should be marked task-linked, got %v", emailRepo.taskLinked)
	}
}

func TestApplyUpdate(t *testing.T) {
	x, tasks, _, emailRepo := newTestExecutor()

	existing := &taskdomain.Task{
		ID:       "task-1",
		UserID:   "user-1",
		Title:    "Fix the build",
		Status:   taskdomain.StatusProgress,
		Priority: taskdomain.PriorityMedium,
	}
	tasks.tasks[existing.ID] = existing

	done := taskdomain.StatusDone
	high := taskdomain.PriorityHigh
	thread := testThread("t1", testEmail("e1", "a@x.com", "Re: Fix the build", time.Now()))
	batch := &BatchResult{Decisions: []recdomain.Decision{{
		ThreadKey: "t1",
		Action:    recdomain.ActionUpdate,
		Update:    &recdomain.UpdateFields{TaskID: "task-1", Status: &done, Priority: &high},
	}}}

	result, err := x.Apply("user-1", []ThreadContext{{Thread: thread, Existing: existing}}, batch)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("Updated = %d, want 1", result.Updated)
	}

	got := tasks.tasks["task-1"]
	if got.Status != taskdomain.StatusDone || got.Priority != taskdomain.PriorityHigh {
		t.Errorf("task not updated: %+v", got)
	}
	if got.UpdatedBy != taskdomain.ActorAI {
		t.Errorf("UpdatedBy = %s, want ai", got.UpdatedBy)
	}
	if got.CompletedAt == nil {
		t.Error("moving to done should stamp CompletedAt")
	}

	history := tasks.history["task-1"]
	if len(history) != 2 {
		t.Fatalf("got %d history rows, want one per changed field", len(history))
	}
	fields := map[string]bool{}
	for _, h := range history {
		if h.Action != taskdomain.ActionUpdated {
			t.Errorf("history action = %s, want updated", h.Action)
		}
		fields[h.FieldName] = true
	}
	if !fields["status"] || !fields["priority"] {
		t.Errorf("history should cover status and priority: %v", fields)
	}

	if len(emailRepo.taskLinked) != 1 {
		t.Errorf("thread emails should be marked task-linked, got %v", emailRepo.taskLinked)
	}
}

func TestApplyUpdateSummaryOnly(t *testing.T) {
	x, tasks, supports, _ := newTestExecutor()

	existing := &taskdomain.Task{
		ID:        "task-1",
		UserID:    "user-1",
		Title:     "Fix the build",
		Status:    taskdomain.StatusProgress,
		UpdatedBy: taskdomain.ActorUser,
	}
	tasks.tasks[existing.ID] = existing

	thread := testThread("t1", testEmail("e1", "a@x.com", "Re: Fix the build", time.Now()))
	batch := &BatchResult{Decisions: []recdomain.Decision{{
		ThreadKey: "t1",
		Action:    recdomain.ActionUpdate,
		Update:    &recdomain.UpdateFields{TaskID: "task-1", Summary: "CI is fixed, deploy pending"},
	}}}

	result, err := x.Apply("user-1", []ThreadContext{{Thread: thread, Existing: existing}}, batch)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("Updated = %d, want 1", result.Updated)
	}

	got := tasks.tasks["task-1"]
	if got.EmailSummary != "CI is fixed, deploy pending" {
		t.Errorf("EmailSummary = %q, want the decision summary applied", got.EmailSummary)
	}
	if got.UpdatedBy != taskdomain.ActorAI {
		t.Errorf("UpdatedBy = %s, want ai", got.UpdatedBy)
	}

	history := tasks.history["task-1"]
	if len(history) != 1 || history[0].FieldName != "email_summary" {
		t.Fatalf("summary change must write its own history row: %+v", history)
	}
	if len(supports.supports) != 1 {
		t.Errorf("ai support row not recorded: %+v", supports.supports)
	}
}

func TestApplyUpdateNoChangesWritesNothing(t *testing.T) {
	x, tasks, _, emailRepo := newTestExecutor()

	progress := taskdomain.StatusProgress
	existing := &taskdomain.Task{
		ID:        "task-1",
		UserID:    "user-1",
		Title:     "Fix the build",
		Status:    taskdomain.StatusProgress,
		UpdatedBy: taskdomain.ActorUser,
	}
	tasks.tasks[existing.ID] = existing

	thread := testThread("t1", testEmail("e1", "a@x.com", "Re: Fix the build", time.Now()))
	batch := &BatchResult{Decisions: []recdomain.Decision{{
		ThreadKey: "t1",
		Action:    recdomain.ActionUpdate,
		Update:    &recdomain.UpdateFields{TaskID: "task-1", Status: &progress},
	}}}

	result, err := x.Apply("user-1", []ThreadContext{{Thread: thread, Existing: existing}}, batch)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("Updated = %d, want 1 (thread still settled)", result.Updated)
	}

	// No field changed, so the task row must not be touched at all.
	if len(tasks.history["task-1"]) != 0 {
		t.Errorf("no-op update must not append history: %+v", tasks.history["task-1"])
	}
	if tasks.tasks["task-1"].UpdatedBy != taskdomain.ActorUser {
		t.Error("no-op update must not restamp UpdatedBy")
	}
	if len(emailRepo.taskLinked) != 1 {
		t.Errorf("thread emails should still be marked task-linked, got %v", emailRepo.taskLinked)
	}
}

func TestApplyUpdateUnknownTaskSkipsDecisionOnly(t *testing.T) {
	x, tasks, _, emailRepo := newTestExecutor()

	done := taskdomain.StatusDone
	t1 := testThread("t1", testEmail("e1", "a@x.com", "One", time.Now()))
	t2 := testThread("t2", testEmail("e2", "b@x.com", "Two", time.Now()))
	batch := &BatchResult{Decisions: []recdomain.Decision{
		{ThreadKey: "t1", Action: recdomain.ActionUpdate, Update: &recdomain.UpdateFields{TaskID: "ghost", Status: &done}},
		{ThreadKey: "t2", Action: recdomain.ActionCreate, Create: &recdomain.CreateFields{Title: "Two", Status: taskdomain.StatusTodo, Priority: taskdomain.PriorityMedium}},
	}}

	result, err := x.Apply("user-1", []ThreadContext{{Thread: t1}, {Thread: t2}}, batch)
	if err != nil {
		t.Fatalf("a stale task_id must not fail the batch: %v", err)
	}
	if result.Skipped != 1 || result.Created != 1 {
		t.Errorf("result = %+v, want 1 skipped and 1 created", result)
	}
	if len(tasks.tasks) != 1 {
		t.Errorf("only the create should land, got %d tasks", len(tasks.tasks))
	}
	// The stale thread is still settled for this pass.
	if len(emailRepo.analyzed) != 1 || emailRepo.analyzed[0] != "e1" {
		t.Errorf("stale thread emails should be marked analyzed: %v", emailRepo.analyzed)
	}
}

func TestApplyNoneMarksAnalyzed(t *testing.T) {
	x, _, supports, emailRepo := newTestExecutor()

	thread := testThread("t1", testEmail("e1", "a@x.com", "Newsletter", time.Now()))
	batch := &BatchResult{Decisions: []recdomain.Decision{recdomain.NoneDecision("t1", "newsletter")}}

	result, err := x.Apply("user-1", []ThreadContext{{Thread: thread}}, batch)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
	if len(emailRepo.analyzed) != 1 {
		t.Errorf("none verdict should mark emails analyzed: %v", emailRepo.analyzed)
	}
	if len(supports.supports) != 0 {
		t.Error("none verdict must not record ai support")
	}
}

func TestApplyMalformedBatchTouchesNothing(t *testing.T) {
	x, tasks, _, emailRepo := newTestExecutor()

	thread := testThread("t1", testEmail("e1", "a@x.com", "One", time.Now()))
	batch := &BatchResult{
		Malformed: true,
		Decisions: []recdomain.Decision{recdomain.NoneDecision("t1", "ai response parsing failed")},
	}

	result, err := x.Apply("user-1", []ThreadContext{{Thread: thread}}, batch)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
	if len(emailRepo.analyzed) != 0 || len(emailRepo.taskLinked) != 0 {
		t.Error("malformed batch must not mark any email, the next pass retries them")
	}
	if len(tasks.tasks) != 0 {
		t.Error("malformed batch must not write tasks")
	}
}

func TestApplyUpdateWrongUserSkips(t *testing.T) {
	x, tasks, _, _ := newTestExecutor()

	other := &taskdomain.Task{ID: "task-1", UserID: "user-2", Title: "Theirs", Status: taskdomain.StatusTodo}
	tasks.tasks[other.ID] = other

	done := taskdomain.StatusDone
	thread := testThread("t1", testEmail("e1", "a@x.com", "One", time.Now()))
	batch := &BatchResult{Decisions: []recdomain.Decision{{
		ThreadKey: "t1",
		Action:    recdomain.ActionUpdate,
		Update:    &recdomain.UpdateFields{TaskID: "task-1", Status: &done},
	}}}

	result, err := x.Apply("user-1", []ThreadContext{{Thread: thread}}, batch)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result.Updated != 0 || result.Skipped != 1 {
		t.Errorf("cross-user update must be skipped: %+v", result)
	}
	if tasks.tasks["task-1"].Status != taskdomain.StatusTodo {
		t.Error("other user's task must not change")
	}
}
