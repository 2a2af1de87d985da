package app

import (
	"context"
	"fmt"

	"taskchat/cmd/internal/tasks"
	"taskchat/cmd/internal/threads"
)

// Serve is the entrypoint used by `taskchat serve`. It loads config, wires the
// app and blocks until ctx is canceled.
func Serve(ctx context.Context) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// Migrate creates the Postgres schema used by the thread store and, when
// TASKCHAT_TASKS_BACKEND=postgres, the task store. It is idempotent.
// Model and safety settings are not required.
func Migrate(ctx context.Context) error {
	cfg := readConfig()
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("%w: TASKCHAT_DATABASE_URL is required for migrate", ErrConfig)
	}
	if !threads.IsValidPGIdent(cfg.DBSchema) {
		return fmt.Errorf("%w: TASKCHAT_DB_SCHEMA %q is not a valid identifier", ErrConfig, cfg.DBSchema)
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	ts, err := threads.NewPostgresStore(pool, threads.WithSchema(cfg.DBSchema))
	if err != nil {
		return err
	}
	if err := ts.ApplySchema(ctx); err != nil {
		return fmt.Errorf("migrate threads: %w", err)
	}
	log.Info("migrate.threads.ok", "schema", cfg.DBSchema)

	if cfg.TasksBackend != "postgres" {
		log.Info("migrate.tasks.skip", "backend", cfg.TasksBackend)
		return nil
	}
	tk, err := tasks.NewPostgresStore(pool, tasks.WithSchema(cfg.DBSchema))
	if err != nil {
		return err
	}
	if err := tk.ApplySchema(ctx); err != nil {
		return fmt.Errorf("migrate tasks: %w", err)
	}
	log.Info("migrate.tasks.ok", "schema", cfg.DBSchema)
	return nil
}
