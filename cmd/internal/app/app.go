// Package app wires the taskchat server runtime: config, logging, storage,
// the chat pipeline and its HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"taskchat/cmd/internal/api"
	"taskchat/cmd/internal/chat"
	"taskchat/cmd/internal/completion"
	"taskchat/cmd/internal/metrics"
	"taskchat/cmd/internal/ratelimit"
	"taskchat/cmd/internal/safety"
	"taskchat/cmd/internal/tasks"
	"taskchat/cmd/internal/threads"
)

// App is the taskchat server runtime. It owns every long-lived resource.
type App struct {
	cfg Config
	log *slog.Logger

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	dbPool *pgxpool.Pool
	redis  *redis.Client

	threads threads.Store
	tasks   tasks.Store
	model   completion.Model

	api *api.Handler

	closers []func() error
}

// New constructs a fully wired App. On error every resource opened so far is released.
func New(ctx context.Context, cfg Config, log *slog.Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}

	limiter, err := a.newLimiter(ctx)
	if err != nil {
		return nil, err
	}

	screener, err := a.newScreener()
	if err != nil {
		return nil, err
	}

	if err := a.openModel(ctx); err != nil {
		return nil, err
	}

	dispatcher, err := tasks.NewDispatcher(a.tasks,
		tasks.WithLogger(log.With("component", "tasks")),
		tasks.WithObserver(a.metrics.ObserveTool),
	)
	if err != nil {
		return nil, err
	}

	orch, err := chat.New(chat.Deps{
		Screener: screener,
		Model:    a.model,
		Tools:    dispatcher,
		Store:    a.threads,
		Codec:    threads.NewCodec(cfg.StateKey()),
	},
		chat.WithLogger(log.With("component", "chat")),
		chat.WithMetrics(a.metrics),
		chat.WithMaxToolRounds(cfg.MaxToolRounds),
		chat.WithGenerationTimeout(cfg.LLMTimeout),
		chat.WithSystemPrompt(cfg.SystemPrompt),
	)
	if err != nil {
		return nil, err
	}

	a.api, err = api.NewHandler(log.With("component", "api"), api.Config{
		MaxBodyBytes:     cfg.MaxBodyBytes,
		MaxPageSize:      cfg.ThreadsMaxPageSize,
		TrustProxy:       cfg.TrustProxy,
		WSOriginPatterns: cfg.WSOriginPatterns,
	}, orch, a.threads,
		api.WithAuthenticator(api.NewAuthenticator(cfg.JWTSecret)),
		api.WithLimiter(limiter),
	)
	if err != nil {
		return nil, err
	}

	if cfg.StateHMACKey == "" {
		log.Warn("state.unsigned", "hint", "set TASKCHAT_STATE_HMAC_KEY to sign resumption tokens")
	}
	if cfg.JWTSecret == "" {
		log.Warn("auth.disabled", "hint", "set TASKCHAT_JWT_SECRET to require bearer tokens")
	}
	return a, nil
}

// openStores picks Postgres-backed persistence when a database URL is set,
// otherwise in-memory stores for development.
func (a *App) openStores(ctx context.Context) error {
	if a.cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return fmt.Errorf("app: open postgres: %w", err)
		}
		a.dbPool = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })

		st, err := threads.NewPostgresStore(pool, threads.WithSchema(a.cfg.DBSchema))
		if err != nil {
			return err
		}
		a.threads = st
		a.log.Info("threads.store", "backend", "postgres", "schema", a.cfg.DBSchema)
	} else {
		a.threads = threads.NewInMemoryStore()
		a.log.Info("threads.store", "backend", "memory")
	}
	a.closers = append(a.closers, a.threads.Close)

	switch a.cfg.TasksBackend {
	case "postgres":
		st, err := tasks.NewPostgresStore(a.dbPool, tasks.WithSchema(a.cfg.DBSchema))
		if err != nil {
			return err
		}
		a.tasks = st
	case "sqlite":
		st, err := tasks.NewSQLiteStore(a.cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.tasks = st
	default:
		a.tasks = tasks.NewInMemoryStore()
	}
	a.closers = append(a.closers, a.tasks.Close)
	a.log.Info("tasks.store", "backend", a.cfg.TasksBackend)
	return nil
}

func (a *App) newLimiter(ctx context.Context) (ratelimit.Limiter, error) {
	if a.cfg.RedisAddr == "" {
		return ratelimit.NewSlidingWindow(a.cfg.RateLimitEvents, a.cfg.RateLimitWindow), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	a.redis = rdb
	a.closers = append(a.closers, rdb.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("app: ping redis: %w", err)
	}
	a.log.Info("ratelimit.backend", "backend", "redis", "addr", a.cfg.RedisAddr)
	return ratelimit.NewRedisLimiter(rdb, a.cfg.RateLimitEvents, a.cfg.RateLimitWindow)
}

func (a *App) newScreener() (*safety.Screener, error) {
	opts := []safety.Option{
		safety.WithLogger(a.log.With("component", "safety")),
		safety.WithTimeout(a.cfg.SafetyTimeout),
		safety.WithSeverityThreshold(a.cfg.SafetySeverityThreshold),
	}
	if a.cfg.SafetyDisabled {
		a.log.Warn("safety.disabled", "hint", "every input is treated as safe")
		return safety.NewScreener(safety.AllowAll{}, safety.AllowAll{}, opts...)
	}

	client, err := safety.NewContentSafetyClient(a.cfg.SafetyEndpoint, a.cfg.SafetyKey,
		safety.WithHTTPClient(&http.Client{Timeout: a.cfg.SafetyTimeout}),
	)
	if err != nil {
		return nil, err
	}
	return safety.NewScreener(client, client, opts...)
}

func (a *App) openModel(ctx context.Context) error {
	var (
		m   completion.Model
		err error
	)
	switch a.cfg.LLMProvider {
	case "openai":
		m, err = completion.NewOpenAI(a.cfg.OpenAIAPIKey, a.cfg.OpenAIBaseURL, a.cfg.OpenAIModel)
	default:
		m, err = completion.NewGemini(ctx, a.cfg.GeminiAPIKey, a.cfg.GeminiModel)
	}
	if err != nil {
		return err
	}
	a.model = m
	a.closers = append(a.closers, m.Close)
	a.log.Info("llm.provider", "provider", a.cfg.LLMProvider)
	return nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"chat_url", base+"/api/chat",
		"ws_url", wsBaseURL(base)+"/api/chat/ws",
		"db_enabled", a.dbPool != nil,
		"redis_enabled", a.redis != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	// Shutdown waits for in-flight streams; their request contexts stay live until they finish.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error("resource.close.fail", "err", err)
		}
	}
	a.closers = nil
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
