// Package completion defines the language-model capability the chat pipeline drives,
// and its provider backends.
package completion

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrContentFiltered is returned when the provider refuses to produce output
// because of its own safety policy.
var ErrContentFiltered = errors.New("completion: response blocked by provider content filter")

// Role of a message in the model history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolResult answers one ToolCall.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
}

// Message is one entry of the model history.
type Message struct {
	Role       Role
	Text       string
	ToolCalls  []ToolCall  // assistant only
	ToolResult *ToolResult // tool only
}

// Param describes one function argument.
type Param struct {
	Name        string
	Type        string // "string" or "integer"
	Description string
	Enum        []string
	Required    bool
	Default     string
}

// ToolDef describes a function the model may call.
type ToolDef struct {
	Name        string
	Description string
	Params      []Param
}

// Request is one generation round.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolDef
}

// Round is the outcome of one generation round: text, tool calls, or both.
type Round struct {
	Text      string
	ToolCalls []ToolCall
}

// Model produces one round. onDelta receives text fragments in order as they
// arrive; their concatenation equals Round.Text. A non-nil error from onDelta
// aborts the round and is returned as is.
type Model interface {
	Stream(ctx context.Context, req Request, onDelta func(string) error) (Round, error)
	Close() error
}

// jsonSchema renders params as a JSON Schema object.
func jsonSchema(params []Param) map[string]any {
	props := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != "" {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
