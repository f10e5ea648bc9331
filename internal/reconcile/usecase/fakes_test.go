package usecase

import (
	"context"
	"time"

	emaildomain "github.com/CafeIT25/pmo-agent/internal/email/domain"
	taskdomain "github.com/CafeIT25/pmo-agent/internal/task/domain"
	"github.com/CafeIT25/pmo-agent/pkg/ai"
)

type fakeCompletionService struct {
	responses []string
	errs      []error
	calls     int
	requests  []ai.CompletionRequest
}

func (f *fakeCompletionService) Complete(_ context.Context, req ai.CompletionRequest) (*ai.Completion, error) {
	idx := f.calls
	f.calls++
	f.requests = append(f.requests, req)
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	text := ""
	if idx < len(f.responses) {
		text = f.responses[idx]
	}
	return &ai.Completion{
		Text:         text,
		Model:        "gpt-4o-mini",
		InputTokens:  100,
		OutputTokens: 50,
		Cost:         0.001,
	}, nil
}

type memUsageRecorder struct {
	records []ai.UsageRecord
}

func (m *memUsageRecorder) Record(rec ai.UsageRecord) error {
	m.records = append(m.records, rec)
	return nil
}

type fakeTaskRepo struct {
	tasks   map[string]*taskdomain.Task
	history map[string][]*taskdomain.TaskHistory
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{
		tasks:   make(map[string]*taskdomain.Task),
		history: make(map[string][]*taskdomain.TaskHistory),
	}
}

func (f *fakeTaskRepo) Create(task *taskdomain.Task, history []*taskdomain.TaskHistory) error {
	f.tasks[task.ID] = task
	f.history[task.ID] = append(f.history[task.ID], history...)
	return nil
}

func (f *fakeTaskRepo) Update(task *taskdomain.Task, history []*taskdomain.TaskHistory) error {
	f.tasks[task.ID] = task
	f.history[task.ID] = append(f.history[task.ID], history...)
	return nil
}

func (f *fakeTaskRepo) FindByID(id string) (*taskdomain.Task, error) {
	return f.tasks[id], nil
}

func (f *fakeTaskRepo) FindByUserID(userID string) ([]*taskdomain.Task, error) {
	var out []*taskdomain.Task
	for _, t := range f.tasks {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTaskRepo) Delete(id string) error {
	delete(f.tasks, id)
	delete(f.history, id)
	return nil
}

type fakeSupportRepo struct {
	supports []*taskdomain.AISupport
}

func (f *fakeSupportRepo) Create(s *taskdomain.AISupport) error {
	f.supports = append(f.supports, s)
	return nil
}

func (f *fakeSupportRepo) FindByTaskID(taskID string) ([]*taskdomain.AISupport, error) {
	var out []*taskdomain.AISupport
	for _, s := range f.supports {
		if s.TaskID == taskID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeEmailRepo struct {
	emails     map[string]*emaildomain.Email
	analyzed   []string
	taskLinked []string
}

func newFakeEmailRepo() *fakeEmailRepo {
	return &fakeEmailRepo{emails: make(map[string]*emaildomain.Email)}
}

func (f *fakeEmailRepo) Create(e *emaildomain.Email) error {
	f.emails[e.ID] = e
	return nil
}

func (f *fakeEmailRepo) ExistsByProviderID(providerID string) (bool, error) {
	for _, e := range f.emails {
		if e.ProviderID == providerID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEmailRepo) FindByID(id string) (*emaildomain.Email, error) {
	return f.emails[id], nil
}

func (f *fakeEmailRepo) FindUnanalyzedByUser(userID string) ([]*emaildomain.Email, error) {
	var out []*emaildomain.Email
	for _, e := range f.emails {
		if e.UserID == userID && !e.Analyzed {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEmailRepo) MarkAnalyzed(ids []string) error {
	f.analyzed = append(f.analyzed, ids...)
	for _, id := range ids {
		if e, ok := f.emails[id]; ok {
			e.Analyzed = true
		}
	}
	return nil
}

func (f *fakeEmailRepo) MarkTaskLinked(ids []string) error {
	f.taskLinked = append(f.taskLinked, ids...)
	for _, id := range ids {
		if e, ok := f.emails[id]; ok {
			e.Analyzed = true
			e.TaskLinked = true
		}
	}
	return nil
}

func testThread(key string, emails ...*emaildomain.Email) *emaildomain.Thread {
	return &emaildomain.Thread{Key: key, Emails: emails}
}

func testEmail(id, sender, subject string, sentAt time.Time) *emaildomain.Email {
	return &emaildomain.Email{
		ID:      id,
		UserID:  "user-1",
		Sender:  sender,
		Subject: subject,
		Body:    "body of " + subject,
		SentAt:  sentAt,
	}
}
