package threads

import (
	"context"
	"sort"
	"sync"
	"time"

	"taskchat/cmd/internal/ids"
)

// InMemoryStore is a dev-only fallback when DB is not configured.
// It is process-local, so it is unsuitable for multi-instance deployments.
type InMemoryStore struct {
	mu      sync.Mutex
	threads map[string]*memThread
}

type memThread struct {
	meta  Metadata
	turns []memTurn // ordered by CreatedAt
}

// memTurn keeps content encoded so reads exercise the same decode path as Postgres.
type memTurn struct {
	id        string
	role      Role
	raw       string
	createdAt time.Time
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{threads: make(map[string]*memThread)}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Append persists turns and updates the thread metadata.
func (s *InMemoryStore) Append(ctx context.Context, in AppendInput) error {
	turns, now, err := prepareAppend(in)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	raws := make([]string, len(turns))
	for i, t := range turns {
		raw, err := EncodeContent(t.Content)
		if err != nil {
			return OpError{Op: "threads.Append", Kind: ErrInvalidInput, Msg: err.Error()}
		}
		raws[i] = raw
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	th := s.threadLocked(in.ThreadID, in.SerializedState, now)
	if !th.meta.Active {
		return OpError{Op: "threads.Append", Kind: ErrNotActive}
	}

	if n := len(th.turns); n > 0 {
		if newest := placeAfter(turns, th.turns[n-1].createdAt); newest.After(now) {
			now = newest
		}
	}
	for i, t := range turns {
		th.turns = append(th.turns, memTurn{id: t.ID, role: t.Role, raw: raws[i], createdAt: t.CreatedAt})
	}
	sort.SliceStable(th.turns, func(i, j int) bool { return th.turns[i].createdAt.Before(th.turns[j].createdAt) })

	if th.meta.Title == "" {
		th.meta.Title = deriveTitle(turns)
	}
	if p := derivePreview(turns); p != "" {
		th.meta.Preview = p
	}
	th.meta.MessageCount = int64(len(th.turns))
	if in.SerializedState != "" {
		th.meta.SerializedState = in.SerializedState
	}
	if now.After(th.meta.UpdatedAt) {
		th.meta.UpdatedAt = now
	}
	return nil
}

// EnsureThread creates an empty active thread if none exists.
func (s *InMemoryStore) EnsureThread(ctx context.Context, in EnsureInput) error {
	if !ids.IsThreadID(in.ThreadID) {
		return invalid("threads.EnsureThread", "malformed thread id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadLocked(in.ThreadID, in.SerializedState, now)
	return nil
}

func (s *InMemoryStore) threadLocked(id, state string, now time.Time) *memThread {
	th := s.threads[id]
	if th == nil {
		th = &memThread{meta: Metadata{
			ThreadID:        id,
			CreatedAt:       now,
			UpdatedAt:       now,
			Active:          true,
			SerializedState: state,
		}}
		s.threads[id] = th
	}
	return th
}

// Read returns the thread's turns in timestamp order, skipping undecodable content.
func (s *InMemoryStore) Read(ctx context.Context, threadID string) ([]Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	th := s.threads[threadID]
	var snap []memTurn
	if th != nil {
		snap = append([]memTurn(nil), th.turns...)
	}
	s.mu.Unlock()

	out := make([]Turn, 0, len(snap))
	for _, r := range snap {
		c, err := DecodeContent(r.raw)
		if err != nil {
			continue
		}
		out = append(out, Turn{ID: r.id, ThreadID: threadID, Role: r.role, Content: c, CreatedAt: r.createdAt})
	}
	return out, nil
}

// IsActive reports whether threadID has active metadata.
func (s *InMemoryStore) IsActive(ctx context.Context, threadID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	th := s.threads[threadID]
	return th != nil && th.meta.Active, nil
}

// ListThreads returns one page of active threads.
func (s *InMemoryStore) ListThreads(ctx context.Context, in ListInput) (ThreadPage, error) {
	in, err := in.Normalize(0)
	if err != nil {
		return ThreadPage{}, err
	}
	if err := ctx.Err(); err != nil {
		return ThreadPage{}, err
	}

	s.mu.Lock()
	all := make([]Metadata, 0, len(s.threads))
	for _, th := range s.threads {
		if th.meta.Active {
			all = append(all, th.meta)
		}
	}
	s.mu.Unlock()

	key := func(m Metadata) time.Time {
		if in.SortBy == SortByCreatedAt {
			return m.CreatedAt
		}
		return m.UpdatedAt
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := key(all[i]), key(all[j])
		if a.Equal(b) {
			a2, b2 := all[i].ThreadID, all[j].ThreadID
			if in.SortOrder == SortAsc {
				return a2 < b2
			}
			return a2 > b2
		}
		if in.SortOrder == SortAsc {
			return a.Before(b)
		}
		return a.After(b)
	})

	page := ThreadPage{
		Page:       in.Page,
		PageSize:   in.PageSize,
		TotalCount: int64(len(all)),
		TotalPages: totalPages(int64(len(all)), in.PageSize),
		Items:      []Metadata{},
	}
	start := in.Offset()
	if start >= len(all) {
		return page, nil
	}
	end := start + in.PageSize
	if end > len(all) {
		end = len(all)
	}
	page.Items = append(page.Items, all[start:end]...)
	return page, nil
}

// DeleteThread deactivates the thread and drops its turns.
// It returns false if the thread is absent or already inactive.
func (s *InMemoryStore) DeleteThread(ctx context.Context, threadID string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	th := s.threads[threadID]
	if th == nil || !th.meta.Active {
		return false, nil
	}
	th.meta.Active = false
	th.meta.UpdatedAt = now
	th.turns = nil
	return true, nil
}
