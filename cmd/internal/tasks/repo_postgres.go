package tasks

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// PostgresStore is a task Store backed by PostgreSQL.
// It does NOT own the pgx pool; Close is a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "taskchat").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("tasks: empty schema")
		}
		if !pgIdentRE.MatchString(schema) {
			return errors.New("tasks: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewPostgresStore constructs a Postgres-backed task Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "taskchat"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("tasks: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// ApplySchema creates the tasks table if it does not exist.
func (s *PostgresStore) ApplySchema(ctx context.Context) error {
	sql := strings.ReplaceAll(postgresSchemaSQL, "{{schema}}", pgx.Identifier{s.schema}.Sanitize())
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("tasks: apply schema: %w", err)
	}
	return nil
}

// Begin opens a transaction-scoped unit of work.
func (s *PostgresStore) Begin(ctx context.Context) (Repository, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, err
	}
	return &pgUnit{tx: tx, table: pgx.Identifier{s.schema, "tasks"}.Sanitize()}, nil
}

type pgUnit struct {
	tx    pgx.Tx
	table string
}

func (u *pgUnit) GetByID(ctx context.Context, id int64) (Task, error) {
	t, err := scanTask(u.tx.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM `+u.table+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, NotFoundError{Op: "tasks.GetByID", ID: id}
	}
	return t, err
}

func (u *pgUnit) Search(ctx context.Context, f Filter) ([]Task, error) {
	rows, err := u.tx.Query(ctx,
		`SELECT `+taskColumns+` FROM `+u.table+`
		  WHERE ($1::text = '' OR status = $1::text) AND ($2::text = '' OR priority = $2::text)
		  ORDER BY id ASC`,
		string(f.Status), string(f.Priority),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (u *pgUnit) Add(ctx context.Context, t *Task) error {
	return u.tx.QueryRow(ctx,
		`INSERT INTO `+u.table+` (title, description, status, priority, created_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		t.Title, t.Description, string(t.Status), string(t.Priority), t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	).Scan(&t.ID)
}

func (u *pgUnit) Update(ctx context.Context, t Task) error {
	tag, err := u.tx.Exec(ctx,
		`UPDATE `+u.table+`
		    SET title = $2, description = $3, status = $4, priority = $5, updated_at = $6, completed_at = $7
		  WHERE id = $1`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), t.UpdatedAt, t.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: "tasks.Update", ID: t.ID}
	}
	return nil
}

func (u *pgUnit) Delete(ctx context.Context, id int64) error {
	tag, err := u.tx.Exec(ctx, `DELETE FROM `+u.table+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: "tasks.Delete", ID: id}
	}
	return nil
}

func (u *pgUnit) SaveChanges(ctx context.Context) error { return u.tx.Commit(ctx) }

func (u *pgUnit) Discard(ctx context.Context) { _ = u.tx.Rollback(ctx) }
