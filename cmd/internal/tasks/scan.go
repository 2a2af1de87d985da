package tasks

import "time"

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const taskColumns = `id, title, description, status, priority, created_at, updated_at, completed_at`

func scanTask(r rowScanner) (Task, error) {
	var (
		t                Task
		status, priority string
		completedAt      *time.Time
	)
	if err := r.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &t.CreatedAt, &t.UpdatedAt, &completedAt); err != nil {
		return Task{}, err
	}
	t.Status = Status(status)
	t.Priority = Priority(priority)
	t.CompletedAt = completedAt
	return t, nil
}
