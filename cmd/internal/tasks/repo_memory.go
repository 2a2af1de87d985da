package tasks

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore keeps tasks in process memory. Dev and test use only.
type InMemoryStore struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]Task
}

// NewInMemoryStore constructs an empty in-memory Store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{tasks: make(map[int64]Task)}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Begin opens a unit of work that stages changes until SaveChanges.
func (s *InMemoryStore) Begin(ctx context.Context) (Repository, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memUnit{
		store:   s,
		upserts: make(map[int64]Task),
		deletes: make(map[int64]struct{}),
	}, nil
}

type memUnit struct {
	store   *InMemoryStore
	upserts map[int64]Task
	deletes map[int64]struct{}
	done    bool
}

// view returns the task as seen by this unit, including staged changes.
func (u *memUnit) view(id int64) (Task, bool) {
	if _, gone := u.deletes[id]; gone {
		return Task{}, false
	}
	if t, ok := u.upserts[id]; ok {
		return t, true
	}
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	t, ok := u.store.tasks[id]
	return t, ok
}

func (u *memUnit) GetByID(ctx context.Context, id int64) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	t, ok := u.view(id)
	if !ok {
		return Task{}, NotFoundError{Op: "tasks.GetByID", ID: id}
	}
	return t, nil
}

func (u *memUnit) Search(ctx context.Context, f Filter) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u.store.mu.Lock()
	merged := make(map[int64]Task, len(u.store.tasks)+len(u.upserts))
	for id, t := range u.store.tasks {
		merged[id] = t
	}
	u.store.mu.Unlock()

	for id, t := range u.upserts {
		merged[id] = t
	}
	for id := range u.deletes {
		delete(merged, id)
	}

	out := make([]Task, 0, len(merged))
	for _, t := range merged {
		if f.matches(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (u *memUnit) Add(ctx context.Context, t *Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u.store.mu.Lock()
	u.store.nextID++
	t.ID = u.store.nextID
	u.store.mu.Unlock()

	u.upserts[t.ID] = *t
	return nil
}

func (u *memUnit) Update(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := u.view(t.ID); !ok {
		return NotFoundError{Op: "tasks.Update", ID: t.ID}
	}
	u.upserts[t.ID] = t
	return nil
}

func (u *memUnit) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := u.view(id); !ok {
		return NotFoundError{Op: "tasks.Delete", ID: id}
	}
	delete(u.upserts, id)
	u.deletes[id] = struct{}{}
	return nil
}

func (u *memUnit) SaveChanges(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if u.done {
		return OpError{Op: "tasks.SaveChanges", Kind: ErrInvalidInput, Msg: "unit already finished"}
	}
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	for id, t := range u.upserts {
		u.store.tasks[id] = t
	}
	for id := range u.deletes {
		delete(u.store.tasks, id)
	}
	u.done = true
	return nil
}

func (u *memUnit) Discard(context.Context) { u.done = true }
