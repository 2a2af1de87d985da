package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore is a task Store backed by a local SQLite file.
// It owns its *sql.DB.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens path, applies the schema, and returns the store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("tasks: open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection keeps units of work serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tasks: ping sqlite: %w", err)
	}

	st := &SQLiteStore{db: db}
	if err := st.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tasks: init sqlite schema: %w", err)
	}
	return st, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
    CREATE TABLE IF NOT EXISTS tasks (
        id           INTEGER PRIMARY KEY AUTOINCREMENT,
        title        TEXT NOT NULL,
        description  TEXT NOT NULL DEFAULT '',
        status       TEXT NOT NULL CHECK (status IN ('Pending', 'InProgress', 'Completed')),
        priority     TEXT NOT NULL CHECK (priority IN ('Low', 'Medium', 'High')),
        created_at   TEXT NOT NULL,
        updated_at   TEXT NOT NULL,
        completed_at TEXT NULL
    );
    CREATE INDEX IF NOT EXISTS tasks_status_priority_idx ON tasks (status, priority);
    `)
	return err
}

// Begin opens a transaction-scoped unit of work.
func (s *SQLiteStore) Begin(ctx context.Context) (Repository, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteUnit{tx: tx}, nil
}

type sqliteUnit struct {
	tx *sql.Tx
}

// sqliteTime stores timestamps as RFC 3339 text so the driver never guesses a layout.
type sqliteTime struct{ t *time.Time }

func (st sqliteTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		return st.parse(v)
	case []byte:
		return st.parse(string(v))
	case time.Time:
		*st.t = v.UTC()
		return nil
	}
	return fmt.Errorf("tasks: unsupported time value %T", src)
}

func (st sqliteTime) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*st.t = parsed.UTC()
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanSQLiteTask(r rowScanner) (Task, error) {
	var (
		t                Task
		status, priority string
		completed        sql.NullString
	)
	if err := r.Scan(&t.ID, &t.Title, &t.Description, &status, &priority,
		sqliteTime{&t.CreatedAt}, sqliteTime{&t.UpdatedAt}, &completed); err != nil {
		return Task{}, err
	}
	t.Status = Status(status)
	t.Priority = Priority(priority)
	if completed.Valid {
		var at time.Time
		if err := (sqliteTime{&at}).parse(completed.String); err != nil {
			return Task{}, err
		}
		t.CompletedAt = &at
	}
	return t, nil
}

func (u *sqliteUnit) GetByID(ctx context.Context, id int64) (Task, error) {
	t, err := scanSQLiteTask(u.tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, NotFoundError{Op: "tasks.GetByID", ID: id}
	}
	return t, err
}

func (u *sqliteUnit) Search(ctx context.Context, f Filter) ([]Task, error) {
	rows, err := u.tx.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		  WHERE (?1 = '' OR status = ?1) AND (?2 = '' OR priority = ?2)
		  ORDER BY id ASC`,
		string(f.Status), string(f.Priority),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanSQLiteTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (u *sqliteUnit) Add(ctx context.Context, t *Task) error {
	res, err := u.tx.ExecContext(ctx,
		`INSERT INTO tasks (title, description, status, priority, created_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Title, t.Description, string(t.Status), string(t.Priority),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), formatTimePtr(t.CompletedAt),
	)
	if err != nil {
		return err
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (u *sqliteUnit) Update(ctx context.Context, t Task) error {
	res, err := u.tx.ExecContext(ctx,
		`UPDATE tasks
		    SET title = ?, description = ?, status = ?, priority = ?, updated_at = ?, completed_at = ?
		  WHERE id = ?`,
		t.Title, t.Description, string(t.Status), string(t.Priority),
		formatTime(t.UpdatedAt), formatTimePtr(t.CompletedAt), t.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFoundError{Op: "tasks.Update", ID: t.ID}
	}
	return nil
}

func (u *sqliteUnit) Delete(ctx context.Context, id int64) error {
	res, err := u.tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFoundError{Op: "tasks.Delete", ID: id}
	}
	return nil
}

func (u *sqliteUnit) SaveChanges(context.Context) error { return u.tx.Commit() }

func (u *sqliteUnit) Discard(context.Context) { _ = u.tx.Rollback() }
