// Package tasks implements the task domain and the function tools the assistant calls on it.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Param describes one tool argument for the model.
type Param struct {
	Name        string
	Type        string // "string" or "integer"
	Description string
	Enum        []string
	Required    bool
	Default     string
}

// Tool is a named, schema-described operation.
type Tool struct {
	Name        string
	Description string
	Params      []Param

	call func(context.Context, json.RawMessage) Result
}

// Observer receives one notification per tool call. outcome is "ok" or "fail".
type Observer func(tool, outcome string)

// Dispatcher maps stable tool names to typed handlers over a task Store.
type Dispatcher struct {
	store   Store
	log     *slog.Logger
	now     func() time.Time
	observe Observer

	tools  []Tool
	byName map[string]int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithObserver registers a per-call observer (metrics).
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observe = o }
}

// NewDispatcher builds the tool registry. The tool list is fixed at construction.
func NewDispatcher(store Store, opts ...Option) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil task store", ErrInvalidInput)
	}
	d := &Dispatcher{
		store: store,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.tools = d.registry()
	d.byName = make(map[string]int, len(d.tools))
	for i, t := range d.tools {
		if _, dup := d.byName[t.Name]; dup {
			return nil, fmt.Errorf("tasks: duplicate tool %q", t.Name)
		}
		d.byName[t.Name] = i
	}
	return d, nil
}

// Tools returns the tool descriptors in registration order.
func (d *Dispatcher) Tools() []Tool {
	out := make([]Tool, len(d.tools))
	copy(out, d.tools)
	return out
}

// Call runs the named tool and returns its display string.
// It never returns an error; unknown tools, bad arguments and panics become failure text.
func (d *Dispatcher) Call(ctx context.Context, name string, args json.RawMessage) (display string, ok bool) {
	res := d.call(ctx, name, args)

	outcome := "ok"
	if !res.OK() {
		outcome = "fail"
	}
	if d.observe != nil {
		d.observe(name, outcome)
	}
	d.log.Info("tool.call", "tool", name, "outcome", outcome)
	return res.Display(), res.OK()
}

func (d *Dispatcher) call(ctx context.Context, name string, args json.RawMessage) (res Result) {
	i, ok := d.byName[name]
	if !ok {
		return Failf("unknown tool %q", name)
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("tool.panic", "tool", name, "panic", fmt.Sprint(r))
			res = Fail("the tool failed unexpectedly")
		}
	}()
	return d.tools[i].call(ctx, args)
}

// bind adapts a typed handler to the raw-argument calling convention.
func bind[T any](fn func(context.Context, T) Result) func(context.Context, json.RawMessage) Result {
	return func(ctx context.Context, raw json.RawMessage) Result {
		var in T
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
			dec := json.NewDecoder(bytes.NewReader(trimmed))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&in); err != nil {
				return Failf("invalid arguments: %v", err)
			}
		}
		return fn(ctx, in)
	}
}

// withUnit runs fn inside a fresh unit of work. fn decides whether to save.
func (d *Dispatcher) withUnit(ctx context.Context, op string, fn func(Repository) Result) Result {
	repo, err := d.store.Begin(ctx)
	if err != nil {
		d.log.Error("tool.begin_failed", "op", op, "err", err)
		return Fail("the task store is unavailable, please try again")
	}
	defer repo.Discard(context.WithoutCancel(ctx))
	return fn(repo)
}

func (d *Dispatcher) storeFailure(op string, err error) Result {
	d.log.Error("tool.store_failed", "op", op, "err", err)
	return Fail("the task store could not complete the request")
}

// TaskID accepts a JSON number or a numeric string; models emit both.
type TaskID int64

func (id *TaskID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		*id = TaskID(int64(f))
		return nil
	}
	return fmt.Errorf("taskId must be an integer, got %s", string(b))
}
