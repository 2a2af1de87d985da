package threads

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskchat/cmd/internal/ids"
)

//go:embed schema_postgres.sql
var schemaSQL string

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - Append locks the thread row for the duration of its transaction, so
//     concurrent appends to one thread serialize. Metadata is last-writer-wins.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "taskchat").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("threads: empty schema")
		}
		if !IsValidPGIdent(schema) {
			return errors.New("threads: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "taskchat",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("threads: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// ApplySchema creates the schema, tables and indexes if they do not exist.
func (s *PostgresStore) ApplySchema(ctx context.Context) error {
	sql := strings.ReplaceAll(schemaSQL, "{{schema}}", pgx.Identifier{s.schema}.Sanitize())
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("threads: apply schema: %w", err)
	}
	return nil
}

// Append writes turns and recomputes metadata in one transaction.
func (s *PostgresStore) Append(ctx context.Context, in AppendInput) error {
	if s == nil || s.pool == nil {
		return errors.New("threads: nil store")
	}
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	threadsTbl := pgIdent(s.schema, "threads")
	messagesTbl := pgIdent(s.schema, "messages")

	// The no-op DO UPDATE takes the row lock and returns the existing row.
	var active bool
	if err := tx.QueryRow(ctx,
		`INSERT INTO `+threadsTbl+` (id, serialized_state, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		 RETURNING is_active`,
		in.ThreadID, in.SerializedState, now,
	).Scan(&active); err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}
	if !active {
		return OpError{Op: "threads.Append", Kind: ErrNotActive}
	}

	// Still under the thread row lock: the batch must sort after every stored turn.
	var latest *time.Time
	if err := tx.QueryRow(ctx,
		`SELECT max(created_at) FROM `+messagesTbl+` WHERE thread_id = $1`,
		in.ThreadID,
	).Scan(&latest); err != nil {
		return fmt.Errorf("latest turn: %w", err)
	}
	if latest != nil {
		if newest := placeAfter(turns, latest.UTC()); newest.After(now) {
			now = newest
		}
	}

	rows := make([][]any, len(turns))
	for i, t := range turns {
		rows[i] = []any{t.ID, t.ThreadID, string(t.Role), raws[i], t.CreatedAt}
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{s.schema, "messages"},
		[]string{"id", "thread_id", "role", "content", "created_at"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("insert messages: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+threadsTbl+`
		    SET title = CASE WHEN title = '' THEN $2 ELSE title END,
		        preview = CASE WHEN $3 <> '' THEN $3 ELSE preview END,
		        message_count = (SELECT count(*) FROM `+messagesTbl+` WHERE thread_id = $1),
		        serialized_state = CASE WHEN $4 <> '' THEN $4 ELSE serialized_state END,
		        updated_at = GREATEST(updated_at, $5)
		  WHERE id = $1`,
		in.ThreadID, deriveTitle(turns), derivePreview(turns), in.SerializedState, now,
	); err != nil {
		return fmt.Errorf("update thread: %w", err)
	}

	return tx.Commit(ctx)
}

// EnsureThread creates an empty active thread if none exists.
func (s *PostgresStore) EnsureThread(ctx context.Context, in EnsureInput) error {
	if !ids.IsThreadID(in.ThreadID) {
		return invalid("threads.EnsureThread", "malformed thread id")
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "threads")+` (id, serialized_state, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (id) DO NOTHING`,
		in.ThreadID, in.SerializedState, now,
	)
	return err
}

// Read returns the thread's turns in timestamp order, skipping undecodable content.
func (s *PostgresStore) Read(ctx context.Context, threadID string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, created_at
		   FROM `+pgIdent(s.schema, "messages")+`
		  WHERE thread_id = $1
		  ORDER BY created_at ASC, id ASC`,
		threadID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var (
			t    Turn
			role string
			raw  string
		)
		if err := rows.Scan(&t.ID, &role, &raw, &t.CreatedAt); err != nil {
			return nil, err
		}
		c, err := DecodeContent(raw)
		if err != nil {
			continue
		}
		t.ThreadID = threadID
		t.Role = Role(role)
		t.Content = c
		out = append(out, t)
	}
	return out, rows.Err()
}

// IsActive reports whether threadID has active metadata.
func (s *PostgresStore) IsActive(ctx context.Context, threadID string) (bool, error) {
	var active bool
	err := s.pool.QueryRow(ctx,
		`SELECT is_active FROM `+pgIdent(s.schema, "threads")+` WHERE id = $1`,
		threadID,
	).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return active, err
}

// ListThreads returns one page of active threads.
func (s *PostgresStore) ListThreads(ctx context.Context, in ListInput) (ThreadPage, error) {
	in, err := in.Normalize(0)
	if err != nil {
		return ThreadPage{}, err
	}
	threadsTbl := pgIdent(s.schema, "threads")

	var total int64
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+threadsTbl+` WHERE is_active`,
	).Scan(&total); err != nil {
		return ThreadPage{}, err
	}

	// Column and direction come from a closed set, never from raw input.
	col := "updated_at"
	if in.SortBy == SortByCreatedAt {
		col = "created_at"
	}
	dir := "DESC"
	if in.SortOrder == SortAsc {
		dir = "ASC"
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, title, preview, message_count, serialized_state, created_at, updated_at
		   FROM `+threadsTbl+`
		  WHERE is_active
		  ORDER BY `+col+` `+dir+`, id `+dir+`
		  LIMIT $1 OFFSET $2`,
		in.PageSize, in.Offset(),
	)
	if err != nil {
		return ThreadPage{}, err
	}
	defer rows.Close()

	items := make([]Metadata, 0, in.PageSize)
	for rows.Next() {
		m := Metadata{Active: true}
		if err := rows.Scan(&m.ThreadID, &m.Title, &m.Preview, &m.MessageCount, &m.SerializedState, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return ThreadPage{}, err
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return ThreadPage{}, err
	}

	return ThreadPage{
		Items:      items,
		Page:       in.Page,
		PageSize:   in.PageSize,
		TotalCount: total,
		TotalPages: totalPages(total, in.PageSize),
	}, nil
}

// DeleteThread deactivates the thread and hard-deletes its turns in one transaction.
// It returns false if the thread is absent or already inactive.
func (s *PostgresStore) DeleteThread(ctx context.Context, threadID string, now time.Time) (bool, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "threads")+`
		    SET is_active = false, updated_at = $2
		  WHERE id = $1 AND is_active`,
		threadID, now,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM `+pgIdent(s.schema, "messages")+` WHERE thread_id = $1`,
		threadID,
	); err != nil {
		return false, fmt.Errorf("delete messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// IsValidPGIdent reports whether s is a plain, unquoted Postgres identifier.
func IsValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
