// Package api serves the chat stream and the thread management endpoints.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"taskchat/cmd/internal/chat"
	"taskchat/cmd/internal/ratelimit"
	"taskchat/cmd/internal/threads"
	"taskchat/cmd/internal/transport"
	v1 "taskchat/shared/contracts/chatstream/v1"
)

// Runner executes one chat request.
type Runner interface {
	Run(ctx context.Context, req v1.RunRequest, emit chat.Emitter) chat.Outcome
}

// Config controls HTTP-facing limits.
type Config struct {
	MaxBodyBytes     int64
	MaxPageSize      int
	DefaultPageSize  int
	TrustProxy       bool
	WSOriginPatterns []string
	WSReadTimeout    time.Duration
	WSWriteTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = threads.DefaultMaxPageSize
	}
	if c.DefaultPageSize <= 0 || c.DefaultPageSize > c.MaxPageSize {
		c.DefaultPageSize = min(20, c.MaxPageSize)
	}
	if c.WSReadTimeout <= 0 {
		c.WSReadTimeout = 30 * time.Second
	}
	if c.WSWriteTimeout <= 0 {
		c.WSWriteTimeout = transport.DefaultWSWriteTimeout
	}
	return c
}

// Handler owns the /api routes.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	runner  Runner
	store   threads.Store
	auth    *Authenticator
	limiter ratelimit.Limiter
	now     func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithAuthenticator enables bearer auth on every /api route.
func WithAuthenticator(a *Authenticator) Option {
	return func(h *Handler) { h.auth = a }
}

// WithLimiter rate-limits the chat endpoints.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(h *Handler) { h.limiter = l }
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler wires the API handler.
func NewHandler(log *slog.Logger, cfg Config, runner Runner, store threads.Store, opts ...Option) (*Handler, error) {
	if runner == nil {
		return nil, errors.New("api: nil runner")
	}
	if store == nil {
		return nil, errors.New("api: nil thread store")
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	h := &Handler{
		log:    log,
		cfg:    cfg.withDefaults(),
		runner: runner,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.auth.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(h.rateLimited)
			r.Post("/chat", h.handleChat)
			r.Get("/chat/ws", h.handleChatWS)
		})

		r.Get("/threads", h.handleListThreads)
		r.Get("/threads/{threadID}/messages", h.handleThreadMessages)
		r.Delete("/threads/{threadID}", h.handleDeleteThread)
	})
}

// ---- streaming ----

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req v1.RunRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	h.stream(r.Context(), transport.NewSSE(w), req, "sse")
}

func (h *Handler) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.WSOriginPatterns,
	})
	if err != nil {
		h.log.Info("ws.accept.fail", "err", err, "origin", r.Header.Get("Origin"))
		return
	}
	defer func() { _ = conn.CloseNow() }()

	conn.SetReadLimit(h.cfg.MaxBodyBytes)

	readCtx, cancel := context.WithTimeout(r.Context(), h.cfg.WSReadTimeout)
	var req v1.RunRequest
	err = wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		h.log.Info("ws.read.fail", "close_status", websocket.CloseStatus(err), "err", err)
		_ = conn.Close(websocket.StatusUnsupportedData, "invalid request")
		return
	}
	if err := req.Validate(); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, truncateReason(err.Error()))
		return
	}

	if h.stream(r.Context(), transport.NewWS(conn, h.cfg.WSWriteTimeout), req, "ws") {
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}
}

// stream runs req through the orchestrator and reports whether the terminal
// marker was written.
func (h *Handler) stream(ctx context.Context, w transport.Writer, req v1.RunRequest, via string) bool {
	var outcome chat.Outcome
	err := transport.Pump(ctx, w, transport.DefaultQueueSize, func(ctx context.Context, emit func(context.Context, any) error) {
		outcome = h.runner.Run(ctx, req, emit)
	})
	switch {
	case err == nil:
		h.log.Debug("chat.stream.done", "via", via, "outcome", outcome)
		return true
	case transport.IsDisconnect(err):
		h.log.Info("chat.stream.disconnect", "via", via, "outcome", outcome)
	default:
		h.log.Warn("chat.stream.write_fail", "via", via, "outcome", outcome, "err", err)
	}
	return false
}

// Close reasons are limited to 123 bytes by the protocol.
func truncateReason(s string) string {
	if len(s) > 120 {
		return s[:120]
	}
	return s
}

// ---- management ----

type deleteResponse struct {
	Deleted bool `json:"deleted"`
}

func (h *Handler) handleListThreads(w http.ResponseWriter, r *http.Request) {
	in, ok := h.listInput(w, r)
	if !ok {
		return
	}
	in.SortBy = threads.SortField(r.URL.Query().Get("sortBy"))
	in.SortOrder = threads.SortOrder(r.URL.Query().Get("sortOrder"))

	in, err := in.Normalize(h.cfg.MaxPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	page, err := h.store.ListThreads(r.Context(), in)
	if err != nil {
		h.storeError(w, "threads.list", err)
		return
	}
	if page.Items == nil {
		page.Items = []threads.Metadata{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	in, ok := h.listInput(w, r)
	if !ok {
		return
	}
	threadID := chi.URLParam(r, "threadID")

	var turns []threads.Turn
	active, err := h.store.IsActive(r.Context(), threadID)
	if err == nil && active {
		turns, err = h.store.Read(r.Context(), threadID)
	}
	if err != nil {
		h.storeError(w, "threads.messages", err)
		return
	}

	page, err := threads.Transcript(turns, in, h.cfg.MaxPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	deleted, err := h.store.DeleteThread(r.Context(), threadID, h.now())
	if err != nil {
		h.storeError(w, "threads.delete", err)
		return
	}
	if deleted {
		h.log.Info("threads.deleted", "thread_id", threadID)
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: deleted})
}

// listInput parses page and pageSize. Bounds are checked by Normalize.
func (h *Handler) listInput(w http.ResponseWriter, r *http.Request) (threads.ListInput, bool) {
	q := r.URL.Query()
	in := threads.ListInput{Page: 1, PageSize: h.cfg.DefaultPageSize}

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "page must be an integer")
			return in, false
		}
		in.Page = n
	}
	if v := q.Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "pageSize must be an integer")
			return in, false
		}
		in.PageSize = n
	}
	return in, true
}

func (h *Handler) storeError(w http.ResponseWriter, op string, err error) {
	if threads.IsInvalidInput(err) {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	h.log.Error(op+".fail", "err", err)
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}
