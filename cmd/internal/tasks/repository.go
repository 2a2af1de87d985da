package tasks

import "context"

// Repository is one unit of work over the task table.
//
// Changes made through a Repository become durable only after SaveChanges.
// Discard releases the unit without saving and is safe to call after SaveChanges.
type Repository interface {
	GetByID(ctx context.Context, id int64) (Task, error)
	Search(ctx context.Context, f Filter) ([]Task, error)
	Add(ctx context.Context, t *Task) error
	Update(ctx context.Context, t Task) error
	Delete(ctx context.Context, id int64) error
	SaveChanges(ctx context.Context) error
	Discard(ctx context.Context)
}

// Store opens units of work. Each tool call gets its own unit.
type Store interface {
	Begin(ctx context.Context) (Repository, error)
	Close() error
}
