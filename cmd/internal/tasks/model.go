package tasks

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
)

// AllStatuses lists statuses in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusInProgress, StatusCompleted}

// Label is the human-readable form used in tool output.
func (s Status) Label() string {
	if s == StatusInProgress {
		return "In Progress"
	}
	return string(s)
}

// ParseStatus accepts the canonical names plus common spellings ("in progress", "in_progress").
func ParseStatus(raw string) (Status, bool) {
	switch normalizeEnum(raw) {
	case "pending":
		return StatusPending, true
	case "inprogress":
		return StatusInProgress, true
	case "completed", "complete", "done":
		return StatusCompleted, true
	}
	return "", false
}

// Priority orders tasks by urgency.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// AllPriorities lists priorities from lowest to highest.
var AllPriorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

// ParsePriority is case-insensitive.
func ParsePriority(raw string) (Priority, bool) {
	switch normalizeEnum(raw) {
	case "low":
		return PriorityLow, true
	case "medium":
		return PriorityMedium, true
	case "high":
		return PriorityHigh, true
	}
	return "", false
}

func normalizeEnum(raw string) string {
	r := strings.NewReplacer(" ", "", "_", "", "-", "")
	return strings.ToLower(r.Replace(strings.TrimSpace(raw)))
}

// Task is one unit of work tracked by the assistant.
type Task struct {
	ID          int64
	Title       string
	Description string
	Status      Status
	Priority    Priority
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Filter narrows Search results. Zero values match everything.
type Filter struct {
	Status   Status
	Priority Priority
}

func (f Filter) matches(t Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	return true
}

// CanTransition reports whether a task may move from one status to another.
// A completed task must pass through InProgress before it is Pending again.
func CanTransition(from, to Status) bool {
	return !(from == StatusCompleted && to == StatusPending)
}

// SetStatus applies a status change and maintains CompletedAt.
func (t *Task) SetStatus(to Status, now time.Time) error {
	if !CanTransition(t.Status, to) {
		return OpError{Op: "tasks.SetStatus", Kind: ErrBusinessRule, Msg: "completed tasks cannot move directly back to pending"}
	}
	if to == StatusCompleted && t.Status != StatusCompleted {
		at := now
		t.CompletedAt = &at
	}
	if to != StatusCompleted {
		t.CompletedAt = nil
	}
	t.Status = to
	t.UpdatedAt = now
	return nil
}
