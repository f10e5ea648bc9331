package usecase

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	emaildomain "github.com/CafeIT25/pmo-agent/internal/email/domain"
	emailrepo "github.com/CafeIT25/pmo-agent/internal/email/repository"
	recdomain "github.com/CafeIT25/pmo-agent/internal/reconcile/domain"
	taskdomain "github.com/CafeIT25/pmo-agent/internal/task/domain"
	taskrepo "github.com/CafeIT25/pmo-agent/internal/task/repository"
)

// summaryEmailLimit caps how many emails are named in a task's email summary
// before collapsing the rest into a count.
const summaryEmailLimit = 3

// ReconciliationExecutor turns validated decisions into task writes and
// email marks. One bad decision skips only itself; the rest of the batch
// still lands.
type ReconciliationExecutor struct {
	taskRepo    taskrepo.TaskRepository
	supportRepo taskrepo.AISupportRepository
	emailRepo   emailrepo.EmailRepository
	logger      *zap.Logger
}

func NewReconciliationExecutor(taskRepo taskrepo.TaskRepository, supportRepo taskrepo.AISupportRepository, emailRepo emailrepo.EmailRepository, logger *zap.Logger) *ReconciliationExecutor {
	return &ReconciliationExecutor{
		taskRepo:    taskRepo,
		supportRepo: supportRepo,
		emailRepo:   emailRepo,
		logger:      logger,
	}
}

// ApplyResult summarizes one executed batch.
type ApplyResult struct {
	Created int
	Updated int
	Skipped int
}

// Apply executes a batch's decisions against storage.
//
// A malformed batch is applied as pure no-ops: nothing is written and no
// email is marked, so the affected threads are picked up again by the next
// pass. Deliberate none verdicts DO mark their emails analyzed; that is the
// idempotence guard against re-asking about settled threads.
func (x *ReconciliationExecutor) Apply(userID string, contexts []ThreadContext, batch *BatchResult) (*ApplyResult, error) {
	result := &ApplyResult{}
	if batch.Malformed {
		result.Skipped = len(batch.Decisions)
		return result, nil
	}

	byKey := make(map[string]ThreadContext, len(contexts))
	for _, tc := range contexts {
		byKey[tc.Thread.Key] = tc
	}

	var analyzedIDs, linkedIDs []string

	for _, decision := range batch.Decisions {
		tc, ok := byKey[decision.ThreadKey]
		if !ok {
			x.logger.Warn("decision for unknown thread", zap.String("thread_key", decision.ThreadKey))
			result.Skipped++
			continue
		}

		switch decision.Action {
		case recdomain.ActionCreate:
			if err := x.applyCreate(userID, tc, decision, batch); err != nil {
				return result, fmt.Errorf("create task for thread %s: %w", decision.ThreadKey, err)
			}
			result.Created++
			linkedIDs = append(linkedIDs, emailIDs(tc.Thread)...)

		case recdomain.ActionUpdate:
			applied, err := x.applyUpdate(userID, tc, decision, batch)
			if err != nil {
				return result, fmt.Errorf("update task for thread %s: %w", decision.ThreadKey, err)
			}
			if applied {
				result.Updated++
				linkedIDs = append(linkedIDs, emailIDs(tc.Thread)...)
			} else {
				// Stale task_id. Skip this decision alone; the thread is
				// still settled for this pass.
				result.Skipped++
				analyzedIDs = append(analyzedIDs, emailIDs(tc.Thread)...)
			}

		case recdomain.ActionNone:
			result.Skipped++
			analyzedIDs = append(analyzedIDs, emailIDs(tc.Thread)...)
		}
	}

	if len(linkedIDs) > 0 {
		if err := x.emailRepo.MarkTaskLinked(linkedIDs); err != nil {
			return result, fmt.Errorf("mark emails task-linked: %w", err)
		}
	}
	if len(analyzedIDs) > 0 {
		if err := x.emailRepo.MarkAnalyzed(analyzedIDs); err != nil {
			return result, fmt.Errorf("mark emails analyzed: %w", err)
		}
	}
	return result, nil
}

func (x *ReconciliationExecutor) applyCreate(userID string, tc ThreadContext, decision recdomain.Decision, batch *BatchResult) error {
	fields := decision.Create
	now := time.Now()

	task := &taskdomain.Task{
		ID:           uuid.New().String(),
		UserID:       userID,
		Title:        fields.Title,
		Description:  fields.Description,
		Status:       fields.Status,
		Priority:     fields.Priority,
		DueDate:      fields.DueDate,
		EmailSummary: buildEmailSummary(tc.Thread),
		CreatedBy:    taskdomain.ActorAI,
		UpdatedBy:    taskdomain.ActorAI,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if primary := tc.Thread.PrimaryEmail(); primary != nil {
		task.SourceEmailID = primary.ID
	}
	if fields.Status == taskdomain.StatusDone {
		task.CompletedAt = &now
	}

	history := []*taskdomain.TaskHistory{{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		Action:    taskdomain.ActionCreated,
		NewValue:  task.Title,
		ActedBy:   taskdomain.ActorAI,
		CreatedAt: now,
	}}

	if err := x.taskRepo.Create(task, history); err != nil {
		return err
	}
	x.recordSupport(task.ID, tc.Thread.Key, batch)
	x.logger.Info("created task from thread",
		zap.String("task_id", task.ID),
		zap.String("thread_key", tc.Thread.Key),
		zap.String("title", task.Title))
	return nil
}

// applyUpdate returns false when the referenced task no longer exists.
func (x *ReconciliationExecutor) applyUpdate(userID string, tc ThreadContext, decision recdomain.Decision, batch *BatchResult) (bool, error) {
	fields := decision.Update

	task, err := x.taskRepo.FindByID(fields.TaskID)
	if err != nil {
		return false, err
	}
	if task == nil || task.UserID != userID {
		x.logger.Warn("update decision for missing task",
			zap.String("task_id", fields.TaskID),
			zap.String("thread_key", tc.Thread.Key))
		return false, nil
	}

	now := time.Now()
	var history []*taskdomain.TaskHistory
	appendChange := func(field, oldVal, newVal string) {
		history = append(history, &taskdomain.TaskHistory{
			ID:        uuid.New().String(),
			TaskID:    task.ID,
			Action:    taskdomain.ActionUpdated,
			FieldName: field,
			OldValue:  oldVal,
			NewValue:  newVal,
			ActedBy:   taskdomain.ActorAI,
			CreatedAt: now,
		})
	}

	if fields.Status != nil && *fields.Status != task.Status {
		appendChange("status", string(task.Status), string(*fields.Status))
		task.Status = *fields.Status
		if task.Status == taskdomain.StatusDone {
			task.CompletedAt = &now
		} else {
			task.CompletedAt = nil
		}
	}
	if fields.Priority != nil && *fields.Priority != task.Priority {
		appendChange("priority", string(task.Priority), string(*fields.Priority))
		task.Priority = *fields.Priority
	}
	if fields.Summary != "" && fields.Summary != task.EmailSummary {
		appendChange("email_summary", task.EmailSummary, fields.Summary)
		task.EmailSummary = fields.Summary
	}

	if len(history) == 0 {
		// Nothing actually changed. Still counts as settled.
		x.recordSupport(task.ID, tc.Thread.Key, batch)
		return true, nil
	}

	task.UpdatedBy = taskdomain.ActorAI
	task.UpdatedAt = now
	if err := x.taskRepo.Update(task, history); err != nil {
		return false, err
	}
	x.recordSupport(task.ID, tc.Thread.Key, batch)
	x.logger.Info("updated task from thread",
		zap.String("task_id", task.ID),
		zap.String("thread_key", tc.Thread.Key),
		zap.Int("changed_fields", len(history)))
	return true, nil
}

// recordSupport appends the LLM invocation record for an affected task.
// Failure to write it is logged, not fatal: the task write already landed.
func (x *ReconciliationExecutor) recordSupport(taskID, threadKey string, batch *BatchResult) {
	support := &taskdomain.AISupport{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		ThreadKey:   threadKey,
		RequestType: taskdomain.SupportThreadAnalysis,
		Prompt:      batch.Prompt,
		Response:    batch.Response,
		ModelID:     batch.Model,
		Cost:        batch.Cost,
		CreatedAt:   time.Now(),
	}
	if err := x.supportRepo.Create(support); err != nil {
		x.logger.Warn("failed to record ai support", zap.String("task_id", taskID), zap.Error(err))
	}
}

// buildEmailSummary names the first few emails and collapses the rest.
func buildEmailSummary(thread *emaildomain.Thread) string {
	summary := ""
	for i, e := range thread.Emails {
		if i >= summaryEmailLimit {
			summary += fmt.Sprintf("... and %d more emails\n", len(thread.Emails)-summaryEmailLimit)
			break
		}
		summary += fmt.Sprintf("%s: %s\n", e.Sender, e.Subject)
	}
	return summary
}

func emailIDs(thread *emaildomain.Thread) []string {
	ids := make([]string, 0, len(thread.Emails))
	for _, e := range thread.Emails {
		ids = append(ids, e.ID)
	}
	return ids
}
