// Package chat drives one streaming conversation request from screening to finalization.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"taskchat/cmd/internal/completion"
	"taskchat/cmd/internal/ids"
	"taskchat/cmd/internal/metrics"
	"taskchat/cmd/internal/safety"
	"taskchat/cmd/internal/tasks"
	"taskchat/cmd/internal/threads"
	v1 "taskchat/shared/contracts/chatstream/v1"
)

const (
	DefaultMaxToolRounds     = 10
	DefaultGenerationTimeout = 2 * time.Minute
)

// Outcome is the terminal state of one request.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeFiltered  Outcome = "filtered"
	OutcomeError     Outcome = "error"
	OutcomeCanceled  Outcome = "canceled"
)

// Emitter delivers one event payload from the shared/contracts/chatstream/v1
// package to the transport. It fails when the consumer has gone away.
type Emitter func(ctx context.Context, ev any) error

// Screener classifies the newest user text.
type Screener interface {
	Screen(ctx context.Context, text string) safety.Verdict
}

// ToolDispatcher executes tools by name and never fails outward.
type ToolDispatcher interface {
	Tools() []tasks.Tool
	Call(ctx context.Context, name string, args json.RawMessage) (display string, ok bool)
}

// Deps are the collaborators an Orchestrator requires.
type Deps struct {
	Screener Screener
	Model    completion.Model
	Tools    ToolDispatcher
	Store    threads.Store
	Codec    *threads.Codec
}

// Orchestrator is stateless between requests; every request is reconstructed
// from its resumption token.
type Orchestrator struct {
	deps Deps

	log        *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	maxRounds  int
	genTimeout time.Duration
	system     string
	toolDefs   []completion.ToolDef
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger used for lifecycle and failure logs.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics records outcomes and screening verdicts on m. A nil m records nothing.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the time source for turn ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMaxToolRounds bounds how many consecutive rounds may request tools.
func WithMaxToolRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithGenerationTimeout bounds the whole generation phase of one request.
func WithGenerationTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.genTimeout = d
		}
	}
}

// WithSystemPrompt replaces the default system prompt. Blank values are ignored.
func WithSystemPrompt(s string) Option {
	return func(o *Orchestrator) {
		if strings.TrimSpace(s) != "" {
			o.system = s
		}
	}
}

// New validates deps and returns an Orchestrator.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Screener == nil:
		return nil, errors.New("chat: nil screener")
	case deps.Model == nil:
		return nil, errors.New("chat: nil model")
	case deps.Tools == nil:
		return nil, errors.New("chat: nil tool dispatcher")
	case deps.Store == nil:
		return nil, errors.New("chat: nil thread store")
	case deps.Codec == nil:
		return nil, errors.New("chat: nil codec")
	}

	o := &Orchestrator{
		deps:       deps,
		log:        slog.New(slog.NewJSONHandler(io.Discard, nil)),
		now:        func() time.Time { return time.Now().UTC() },
		maxRounds:  DefaultMaxToolRounds,
		genTimeout: DefaultGenerationTimeout,
		system:     DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.toolDefs = toolDefs(deps.Tools.Tools())
	return o, nil
}

// run is the per-request state.
type run struct {
	o    *Orchestrator
	emit Emitter

	threadID  string
	prevToken string // valid token the request arrived with, if any
	resumed   bool

	history  []completion.Message
	userTurn threads.Turn
	produced []threads.Turn
	openMsg  bool
}

// Run processes req, emitting events through emit in order. It does not write
// the terminal marker; the transport does that once Run returns.
func (o *Orchestrator) Run(ctx context.Context, req v1.RunRequest, emit Emitter) Outcome {
	start := o.now()
	outcome := o.run(ctx, req, emit)
	o.metrics.ObserveChat(string(outcome), o.now().Sub(start))
	return outcome
}

func (o *Orchestrator) run(ctx context.Context, req v1.RunRequest, emit Emitter) Outcome {
	r := &run{o: o, emit: emit}
	if err := req.Validate(); err != nil {
		return r.fail(ctx, fmt.Errorf("invalid request: %w", err))
	}

	// Received
	if err := r.resolveThread(ctx, req.SerializedState); err != nil {
		return r.fail(ctx, err)
	}
	userText := req.Messages[len(req.Messages)-1].Content

	// Screening
	verdict := o.deps.Screener.Screen(ctx, userText)
	o.metrics.ObserveVerdict(verdict.Label())
	if ctx.Err() != nil {
		return OutcomeCanceled
	}
	if !verdict.Safe {
		return r.blocked(ctx, verdict)
	}

	// Cleared
	if err := r.buildHistory(ctx, req); err != nil {
		return r.fail(ctx, err)
	}
	r.userTurn = threads.Turn{
		ID:        ids.MustULID(o.now()),
		Role:      threads.RoleUser,
		Content:   threads.Content{Text: userText},
		CreatedAt: o.now(),
	}

	// Generating / ToolLoop
	if err := r.generate(ctx); err != nil {
		return r.fail(ctx, err)
	}

	// Finalizing
	return r.finalize(ctx)
}

// resolveThread decodes the token. An undecodable token, or one naming an
// inactive thread, starts a fresh thread.
func (r *run) resolveThread(ctx context.Context, token string) error {
	if id, ok := r.o.deps.Codec.Decode(token); ok {
		active, err := r.o.deps.Store.IsActive(ctx, id)
		if err != nil {
			// Keep the token so the client can retry on the same thread.
			r.prevToken = token
			return fmt.Errorf("check thread: %w", err)
		}
		if active {
			r.threadID, r.prevToken, r.resumed = id, token, true
			return nil
		}
	}

	id, err := ids.NewThreadID()
	if err != nil {
		return err
	}
	r.threadID = id
	return nil
}

func (r *run) blocked(ctx context.Context, v safety.Verdict) Outcome {
	r.o.log.Warn("chat.blocked",
		"thread_id", r.threadID,
		"verdict", v.Label(),
		"attack_type", v.AttackType,
		"violations", v.Violations,
	)

	token := r.prevToken
	if !r.resumed {
		token = r.o.deps.Codec.Encode(r.threadID)
		err := r.o.deps.Store.EnsureThread(ctx, threads.EnsureInput{
			ThreadID:        r.threadID,
			SerializedState: token,
			Now:             r.o.now(),
		})
		if err != nil {
			return r.fail(ctx, fmt.Errorf("ensure thread: %w", err))
		}
		r.prevToken = token
	}

	if err := r.send(ctx, v1.ContentFilter{
		Type:      v1.TypeContentFilter,
		Message:   BlockedMessage,
		MessageID: ids.MustULID(r.o.now()),
	}); err != nil {
		return OutcomeCanceled
	}
	if err := r.send(ctx, v1.ThreadState{Type: v1.TypeThreadState, SerializedState: token}); err != nil {
		return OutcomeCanceled
	}
	return OutcomeBlocked
}

func (r *run) buildHistory(ctx context.Context, req v1.RunRequest) error {
	if !r.resumed {
		for _, m := range req.Messages {
			role := completion.RoleUser
			if m.Role == v1.RoleAssistant {
				role = completion.RoleAssistant
			}
			r.history = append(r.history, completion.Message{Role: role, Text: m.Content})
		}
		return nil
	}

	turns, err := r.o.deps.Store.Read(ctx, r.threadID)
	if err != nil {
		return fmt.Errorf("read thread: %w", err)
	}
	r.history = historyFromTurns(turns)
	r.history = append(r.history, completion.Message{
		Role: completion.RoleUser,
		Text: req.Messages[len(req.Messages)-1].Content,
	})
	return nil
}

// generate bounds model and tool work by the generation timeout. Events go out
// on ctx, which the timeout does not cover.
func (r *run) generate(ctx context.Context) error {
	genCtx, cancel := context.WithTimeout(ctx, r.o.genTimeout)
	defer cancel()

	toolRounds := 0
	for {
		turnID := ids.MustULID(r.o.now())
		createdAt := r.o.now()

		onDelta := func(delta string) error {
			if delta == "" {
				return nil
			}
			if !r.openMsg {
				if err := r.send(ctx, v1.TextMessageStart{
					Type:      v1.TypeTextMessageStart,
					MessageID: turnID,
					CreatedAt: createdAt,
				}); err != nil {
					return err
				}
				r.openMsg = true
			}
			return r.send(ctx, v1.TextMessageContent{Type: v1.TypeTextMessageContent, Delta: delta})
		}

		round, err := r.o.deps.Model.Stream(genCtx, completion.Request{
			System:   r.o.system,
			Messages: r.history,
			Tools:    r.o.toolDefs,
		}, onDelta)
		if err != nil {
			return &roundError{turnID: turnID, err: err}
		}
		if err := r.closeMessage(ctx); err != nil {
			return err
		}

		if round.Text == "" && len(round.ToolCalls) == 0 {
			break
		}
		r.recordAssistant(turnID, createdAt, round)
		if len(round.ToolCalls) == 0 {
			break
		}

		toolRounds++
		if toolRounds > r.o.maxRounds {
			return fmt.Errorf("%w: more than %d rounds", ErrToolLoopExceeded, r.o.maxRounds)
		}
		for _, call := range round.ToolCalls {
			if err := genCtx.Err(); err != nil {
				return &roundError{turnID: turnID, err: err}
			}
			if err := r.callTool(ctx, genCtx, call); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) recordAssistant(turnID string, createdAt time.Time, round completion.Round) {
	content := threads.Content{Text: round.Text}
	for _, c := range round.ToolCalls {
		content.ToolCalls = append(content.ToolCalls, threads.ToolCall{ID: c.ID, Name: c.Name, Args: c.Args})
	}
	r.produced = append(r.produced, threads.Turn{
		ID:        turnID,
		Role:      threads.RoleAssistant,
		Content:   content,
		CreatedAt: createdAt,
	})
	r.history = append(r.history, completion.Message{
		Role:      completion.RoleAssistant,
		Text:      round.Text,
		ToolCalls: round.ToolCalls,
	})
}

// callTool dispatches one call under callCtx. Tool failures come back as
// display text.
func (r *run) callTool(ctx, callCtx context.Context, call completion.ToolCall) error {
	if err := r.send(ctx, v1.ToolCallStart{
		Type:       v1.TypeToolCallStart,
		ToolName:   call.Name,
		ToolCallID: call.ID,
	}); err != nil {
		return err
	}

	result, _ := r.o.deps.Tools.Call(callCtx, call.Name, call.Args)

	if err := r.send(ctx, v1.ToolCallResult{
		Type:       v1.TypeToolCallResult,
		ToolCallID: call.ID,
		Result:     result,
	}); err != nil {
		return err
	}

	r.produced = append(r.produced, threads.Turn{
		ID:        ids.MustULID(r.o.now()),
		Role:      threads.RoleTool,
		CreatedAt: r.o.now(),
		Content: threads.Content{ToolResult: &threads.ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Result: result,
		}},
	})
	r.history = append(r.history, completion.Message{
		Role:       completion.RoleTool,
		ToolResult: &completion.ToolResult{CallID: call.ID, Name: call.Name, Content: result},
	})
	return nil
}

func (r *run) finalize(ctx context.Context) Outcome {
	if ctx.Err() != nil {
		return OutcomeCanceled
	}

	token := r.o.deps.Codec.Encode(r.threadID)
	turns := make([]threads.Turn, 0, len(r.produced)+1)
	turns = append(turns, r.userTurn)
	turns = append(turns, r.produced...)

	err := r.o.deps.Store.Append(ctx, threads.AppendInput{
		ThreadID:        r.threadID,
		Turns:           turns,
		SerializedState: token,
		Now:             r.o.now(),
	})
	if err != nil {
		return r.fail(ctx, fmt.Errorf("append turns: %w", err))
	}

	r.o.log.Info("chat.finalized", "thread_id", r.threadID, "turns", len(turns), "resumed", r.resumed)

	if err := r.send(ctx, v1.ThreadState{Type: v1.TypeThreadState, SerializedState: token}); err != nil {
		return OutcomeCanceled
	}
	return OutcomeCompleted
}

// fail maps err to terminal events and re-emits the prior token when one exists.
func (r *run) fail(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil || errors.Is(err, errEmit) {
		r.o.log.Info("chat.canceled", "thread_id", r.threadID, "err", err)
		return OutcomeCanceled
	}

	// Balance an open text message before the terminal event.
	if cerr := r.closeMessage(ctx); cerr != nil {
		return OutcomeCanceled
	}

	outcome := OutcomeError
	var ev any
	var rerr *roundError
	switch {
	case errors.As(err, &rerr) && errors.Is(rerr.err, completion.ErrContentFiltered):
		r.o.log.Warn("chat.filtered", "thread_id", r.threadID)
		outcome = OutcomeFiltered
		ev = v1.ContentFilter{Type: v1.TypeContentFilter, Message: FilteredMessage, MessageID: rerr.turnID}
	case errors.Is(err, context.DeadlineExceeded):
		r.o.log.Warn("chat.timeout", "thread_id", r.threadID, "err", err)
		ev = v1.RunError{Type: v1.TypeRunError, Message: TimeoutMessage}
	default:
		r.o.log.Error("chat.run_error", "thread_id", r.threadID, "err", err)
		ev = v1.RunError{Type: v1.TypeRunError, Message: ErrorMessage}
	}

	if r.send(ctx, ev) != nil {
		return OutcomeCanceled
	}
	if r.prevToken != "" {
		if r.send(ctx, v1.ThreadState{Type: v1.TypeThreadState, SerializedState: r.prevToken}) != nil {
			return OutcomeCanceled
		}
	}
	return outcome
}

func (r *run) closeMessage(ctx context.Context) error {
	if !r.openMsg {
		return nil
	}
	r.openMsg = false
	return r.send(ctx, v1.TextMessageEnd{Type: v1.TypeTextMessageEnd})
}

// errEmit marks failures to hand an event to the transport.
var errEmit = errors.New("chat: emit failed")

func (r *run) send(ctx context.Context, ev any) error {
	if err := r.emit(ctx, ev); err != nil {
		return fmt.Errorf("%w: %w", errEmit, err)
	}
	return nil
}

// roundError carries the id of the turn whose generation failed.
type roundError struct {
	turnID string
	err    error
}

func (e *roundError) Error() string { return "generate: " + e.err.Error() }
func (e *roundError) Unwrap() error { return e.err }
