// Package v1 defines the taskchat streaming contract.
//
// It is shared between the server and clients so the event grammar has a
// single authoritative definition. Keep it dependency-light.
package v1

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version identifies this contract revision.
const Version = "v1"

// Done is the payload of the terminal frame. It is sent verbatim, not as JSON.
const Done = "[DONE]"

// Event type constants (wire-stable).
const (
	// TypeTextMessageStart opens an assistant turn.
	TypeTextMessageStart = "TEXT_MESSAGE_START"
	// TypeTextMessageContent carries one incremental text fragment.
	TypeTextMessageContent = "TEXT_MESSAGE_CONTENT"
	// TypeTextMessageEnd closes the assistant turn opened last.
	TypeTextMessageEnd = "TEXT_MESSAGE_END"

	// TypeToolCallStart announces a tool invocation.
	TypeToolCallStart = "TOOL_CALL_START"
	// TypeToolCallResult carries the display result of a tool invocation.
	TypeToolCallResult = "TOOL_CALL_RESULT"

	// TypeContentFilter replaces the text of a turn that was blocked.
	TypeContentFilter = "CONTENT_FILTER"
	// TypeThreadState carries the resumption token for the next request.
	TypeThreadState = "THREAD_STATE"
	// TypeRunError reports a non-sensitive failure description.
	TypeRunError = "RUN_ERROR"
)

// Client-facing roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// ---- Events (server -> client) ----

type TextMessageStart struct {
	Type      string    `json:"type"`
	MessageID string    `json:"messageId"`
	CreatedAt time.Time `json:"createdAt"`
}

type TextMessageContent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

type TextMessageEnd struct {
	Type string `json:"type"`
}

type ToolCallStart struct {
	Type       string `json:"type"`
	ToolName   string `json:"toolName"`
	ToolCallID string `json:"toolCallId"`
}

type ToolCallResult struct {
	Type       string `json:"type"`
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result"`
}

type ContentFilter struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}

type ThreadState struct {
	Type            string `json:"type"`
	SerializedState string `json:"serializedState"`
}

type RunError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ---- Ingress (client -> server) ----

// Message is one client-visible turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RunRequest is the body of a streaming request. SerializedState is the
// token from the last THREAD_STATE event, passed back verbatim.
type RunRequest struct {
	Messages        []Message `json:"messages"`
	SerializedState string    `json:"serializedState,omitempty"`
}

// MaxMessageChars bounds a single message's content.
const MaxMessageChars = 8000

// Validate performs structural validation of a RunRequest.
func (r RunRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("missing field: messages")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleUser, RoleAssistant:
		case RoleSystem, RoleTool:
			return fmt.Errorf("messages[%d]: role %q is not accepted from clients", i, m.Role)
		default:
			return fmt.Errorf("messages[%d]: unknown role %q", i, m.Role)
		}
		if len([]rune(m.Content)) > MaxMessageChars {
			return fmt.Errorf("messages[%d]: content exceeds %d characters", i, MaxMessageChars)
		}
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role != RoleUser {
		return errors.New("last message must have role user")
	}
	if strings.TrimSpace(last.Content) == "" {
		return errors.New("last message content is blank")
	}
	return nil
}
