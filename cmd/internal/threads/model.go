package threads

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Visible reports whether turns with this role belong in a human-facing transcript.
func (r Role) Visible() bool {
	return r == RoleUser || r == RoleAssistant
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ToolResult is the display result of a tool invocation.
type ToolResult struct {
	CallID string `json:"callId"`
	Name   string `json:"name"`
	Result string `json:"result"`
}

// Content is the structured payload of a turn.
type Content struct {
	Text       string      `json:"text,omitempty"`
	ToolCalls  []ToolCall  `json:"toolCalls,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
}

// Turn is one immutable message within a thread.
type Turn struct {
	ID        string
	ThreadID  string
	Role      Role
	Content   Content
	CreatedAt time.Time
}

// contentVersion is bumped when the stored payload shape changes incompatibly.
const contentVersion = 1

type storedContent struct {
	V int `json:"v"`
	Content
}

var errContentVersion = errors.New("unsupported content version")

// EncodeContent renders c as the stored payload.
func EncodeContent(c Content) (string, error) {
	b, err := json.Marshal(storedContent{V: contentVersion, Content: c})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeContent parses a stored payload. Readers skip turns that fail here.
func DecodeContent(raw string) (Content, error) {
	var sc storedContent
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		return Content{}, err
	}
	if sc.V != contentVersion {
		return Content{}, fmt.Errorf("%w: %d", errContentVersion, sc.V)
	}
	return sc.Content, nil
}

// Metadata summarizes one thread.
type Metadata struct {
	ThreadID        string    `json:"threadId"`
	Title           string    `json:"title"`
	Preview         string    `json:"preview"`
	MessageCount    int64     `json:"messageCount"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Active          bool      `json:"-"`
	SerializedState string    `json:"serializedState"`
}

const (
	TitleMaxRunes   = 50
	PreviewMaxRunes = 100
)

// Truncate collapses whitespace and cuts s to at most max runes, marking the cut with "...".
func Truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max])) + "..."
}

// deriveTitle returns the truncated text of the first user turn with text.
func deriveTitle(turns []Turn) string {
	for _, t := range turns {
		if t.Role == RoleUser && strings.TrimSpace(t.Content.Text) != "" {
			return Truncate(t.Content.Text, TitleMaxRunes)
		}
	}
	return ""
}

// derivePreview returns the truncated text of the last assistant turn with text.
func derivePreview(turns []Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Role == RoleAssistant && strings.TrimSpace(t.Content.Text) != "" {
			return Truncate(t.Content.Text, PreviewMaxRunes)
		}
	}
	return ""
}
