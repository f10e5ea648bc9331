package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	taskdomain "github.com/CafeIT25/pmo-agent/internal/task/domain"
)

// Action is the per-thread verdict of one analysis round.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionNone   Action = "none"
)

// Decision is a validated, tagged variant: exactly one of Create/Update is
// non-nil, matching Action. Raw model output never leaves this package
// unvalidated; a payload that fails to parse is one explicit error, not a
// scatter of field-access failures downstream.
type Decision struct {
	ThreadKey string
	Action    Action
	Reason    string
	Create    *CreateFields
	Update    *UpdateFields
}

// CreateFields carries everything needed to open a new task.
type CreateFields struct {
	Title       string
	Description string
	Status      taskdomain.Status
	Priority    taskdomain.Priority
	DueDate     *time.Time
}

// UpdateFields is a partial update: nil pointers mean "leave untouched".
type UpdateFields struct {
	TaskID   string
	Status   *taskdomain.Status
	Priority *taskdomain.Priority
	Summary  string
}

// NoneDecision builds a fail-soft no-op verdict for a thread.
func NoneDecision(threadKey, reason string) Decision {
	return Decision{ThreadKey: threadKey, Action: ActionNone, Reason: reason}
}

// rawDecision mirrors the JSON shape the model is asked to produce.
type rawDecision struct {
	ThreadID    string `json:"thread_id"`
	Action      string `json:"action"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	DueDate     string `json:"due_date"`
	TaskID      string `json:"task_id"`
	Summary     string `json:"summary"`
	Reason      string `json:"reason"`
}

type rawResponse struct {
	Results []rawDecision `json:"results"`
}

// ParseDecisions validates one completion payload into Decisions. Any
// structural problem returns an error; the caller treats the whole batch as
// no-ops rather than trusting part of a malformed payload.
func ParseDecisions(payload string) ([]Decision, error) {
	var resp rawResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		// Some models return a bare array despite the object instruction.
		if arrErr := json.Unmarshal([]byte(payload), &resp.Results); arrErr != nil {
			return nil, fmt.Errorf("decode decisions: %w", err)
		}
	}
	if resp.Results == nil {
		return nil, fmt.Errorf("decode decisions: missing results")
	}

	decisions := make([]Decision, 0, len(resp.Results))
	for i, raw := range resp.Results {
		d, err := raw.validate()
		if err != nil {
			return nil, fmt.Errorf("decision %d: %w", i, err)
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

func (raw rawDecision) validate() (Decision, error) {
	if raw.ThreadID == "" {
		return Decision{}, fmt.Errorf("missing thread_id")
	}

	switch Action(raw.Action) {
	case ActionNone:
		return NoneDecision(raw.ThreadID, raw.Reason), nil

	case ActionCreate:
		if strings.TrimSpace(raw.Title) == "" {
			return Decision{}, fmt.Errorf("create without title")
		}
		return Decision{
			ThreadKey: raw.ThreadID,
			Action:    ActionCreate,
			Reason:    raw.Reason,
			Create: &CreateFields{
				Title:       strings.TrimSpace(raw.Title),
				Description: raw.Description,
				Status:      taskdomain.ParseStatus(raw.Status),
				Priority:    taskdomain.ParsePriority(raw.Priority),
				DueDate:     parseDueDate(raw.DueDate),
			},
		}, nil

	case ActionUpdate:
		if raw.TaskID == "" {
			return Decision{}, fmt.Errorf("update without task_id")
		}
		fields := &UpdateFields{TaskID: raw.TaskID, Summary: raw.Summary}
		if raw.Status != "" {
			s := taskdomain.ParseStatus(raw.Status)
			fields.Status = &s
		}
		if raw.Priority != "" {
			p := taskdomain.ParsePriority(raw.Priority)
			fields.Priority = &p
		}
		return Decision{
			ThreadKey: raw.ThreadID,
			Action:    ActionUpdate,
			Reason:    raw.Reason,
			Update:    fields,
		}, nil

	default:
		return Decision{}, fmt.Errorf("unknown action %q", raw.Action)
	}
}

// parseDueDate is lenient: the date is optional metadata, a bad one is
// dropped rather than poisoning the whole batch.
func parseDueDate(s string) *time.Time {
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
