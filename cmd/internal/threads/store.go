// Package threads persists conversation turns and the per-thread metadata derived from them.
package threads

import (
	"context"
	"time"

	"taskchat/cmd/internal/ids"
)

// Store persists turns and thread metadata.
//
// Requirements:
//   - Append writes all turns and the derived metadata atomically.
//     It is not idempotent: two calls append twice.
//   - Read returns turns in timestamp order and skips undecodable content.
//   - ListThreads returns only active threads.
//   - DeleteThread deactivates metadata and hard-deletes turns in one operation.
type Store interface {
	Append(ctx context.Context, in AppendInput) error
	EnsureThread(ctx context.Context, in EnsureInput) error
	Read(ctx context.Context, threadID string) ([]Turn, error)
	IsActive(ctx context.Context, threadID string) (bool, error)
	ListThreads(ctx context.Context, in ListInput) (ThreadPage, error)
	DeleteThread(ctx context.Context, threadID string, now time.Time) (bool, error)
	Close() error
}

// AppendInput describes one finalized exchange.
type AppendInput struct {
	ThreadID        string
	Turns           []Turn
	SerializedState string
	Now             time.Time
}

// EnsureInput creates an empty thread if it does not exist yet.
type EnsureInput struct {
	ThreadID        string
	SerializedState string
	Now             time.Time
}

// SortField is a column threads can be ordered by.
type SortField string

const (
	SortByCreatedAt SortField = "createdAt"
	SortByUpdatedAt SortField = "updatedAt"
)

// SortOrder is the ordering direction.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// DefaultMaxPageSize bounds ListInput.PageSize unless configured otherwise.
const DefaultMaxPageSize = 100

// ListInput describes a thread listing request.
type ListInput struct {
	Page      int
	PageSize  int
	SortBy    SortField
	SortOrder SortOrder
}

// ThreadPage is one page of active thread metadata.
type ThreadPage struct {
	Items      []Metadata `json:"items"`
	Page       int        `json:"page"`
	PageSize   int        `json:"pageSize"`
	TotalCount int64      `json:"totalCount"`
	TotalPages int        `json:"totalPages"`
}

// Normalize applies defaults for empty sort fields and validates bounds.
func (in ListInput) Normalize(maxPageSize int) (ListInput, error) {
	const op = "threads.ListThreads"
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	if in.Page < 1 {
		return in, invalid(op, "page must be >= 1")
	}
	if in.PageSize < 1 || in.PageSize > maxPageSize {
		return in, invalid(op, "pageSize out of range")
	}
	switch in.SortBy {
	case "":
		in.SortBy = SortByUpdatedAt
	case SortByCreatedAt, SortByUpdatedAt:
	default:
		return in, invalid(op, "sortBy must be createdAt or updatedAt")
	}
	switch in.SortOrder {
	case "":
		in.SortOrder = SortDesc
	case SortAsc, SortDesc:
	default:
		return in, invalid(op, "sortOrder must be asc or desc")
	}
	return in, nil
}

// Offset returns the zero-based index of the first item on the page.
func (in ListInput) Offset() int { return (in.Page - 1) * in.PageSize }

func totalPages(total int64, pageSize int) int {
	if total == 0 || pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

// prepareAppend validates in and returns turns stamped with thread id and
// strictly increasing timestamps.
func prepareAppend(in AppendInput) ([]Turn, time.Time, error) {
	const op = "threads.Append"
	if !ids.IsThreadID(in.ThreadID) {
		return nil, time.Time{}, invalid(op, "malformed thread id")
	}
	if len(in.Turns) == 0 {
		return nil, time.Time{}, invalid(op, "no turns")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	out := make([]Turn, len(in.Turns))
	var prev time.Time
	for i, t := range in.Turns {
		if t.ID == "" {
			return nil, time.Time{}, invalid(op, "missing turn id")
		}
		if !t.Role.Valid() {
			return nil, time.Time{}, invalid(op, "unknown role")
		}
		t.ThreadID = in.ThreadID
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.CreatedAt = t.CreatedAt.UTC().Truncate(time.Microsecond)
		if i > 0 && !t.CreatedAt.After(prev) {
			t.CreatedAt = prev.Add(time.Microsecond)
		}
		prev = t.CreatedAt
		out[i] = t
	}
	if prev.After(now) {
		now = prev
	}
	return out, now, nil
}

// placeAfter shifts turns forward so the batch sorts strictly after latest,
// the thread's newest stored timestamp, keeping 1µs steps inside the batch.
// It returns the batch's newest timestamp.
func placeAfter(turns []Turn, latest time.Time) time.Time {
	prev := latest
	for i := range turns {
		if !turns[i].CreatedAt.After(prev) {
			turns[i].CreatedAt = prev.Add(time.Microsecond)
		}
		prev = turns[i].CreatedAt
	}
	return prev
}
