package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultOpenAIModel is used when no model name is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI talks to any OpenAI-compatible chat endpoint through langchaingo.
//
// Text streams as it arrives. langchaingo hands tool-call deltas to the same
// callback as JSON, so those chunks are held back from onDelta.
type OpenAI struct {
	llm *openai.LLM
}

// NewOpenAI builds the client. baseURL may be empty for api.openai.com.
func NewOpenAI(token, baseURL, model string) (*OpenAI, error) {
	if strings.TrimSpace(model) == "" {
		model = DefaultOpenAIModel
	}
	opts := []openai.Option{openai.WithToken(token), openai.WithModel(model)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("completion: create openai client: %w", err)
	}
	return &OpenAI{llm: llm}, nil
}

// Close is a no-op; the HTTP client needs no teardown.
func (o *OpenAI) Close() error { return nil }

// Stream runs one round.
func (o *OpenAI) Stream(ctx context.Context, req Request, onDelta func(string) error) (Round, error) {
	msgs := openAIMessages(req)
	if len(msgs) == 0 {
		return Round{}, errors.New("completion: empty history")
	}

	var (
		streamed strings.Builder
		emitErr  error
	)
	callOpts := []llms.CallOption{llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 || isToolCallChunk(chunk) {
			return nil
		}
		if err := onDelta(string(chunk)); err != nil {
			emitErr = err
			return err
		}
		streamed.Write(chunk)
		return nil
	})}
	if len(req.Tools) > 0 {
		callOpts = append(callOpts, llms.WithTools(openAITools(req.Tools)))
	}

	resp, err := o.llm.GenerateContent(ctx, msgs, callOpts...)
	if emitErr != nil {
		return Round{}, emitErr
	}
	if err != nil {
		if strings.Contains(err.Error(), "content_filter") || strings.Contains(err.Error(), "content management policy") {
			return Round{}, fmt.Errorf("%w: %v", ErrContentFiltered, err)
		}
		return Round{}, fmt.Errorf("completion: openai generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Round{}, errors.New("completion: openai returned no choices")
	}

	choice := resp.Choices[0]
	if choice.StopReason == "content_filter" {
		return Round{}, ErrContentFiltered
	}

	// Deltas already sent must add up to the round text.
	round := Round{Text: streamed.String()}
	if rest, ok := strings.CutPrefix(choice.Content, round.Text); ok && rest != "" {
		if err := onDelta(rest); err != nil {
			return Round{}, err
		}
		round.Text = choice.Content
	}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		args := json.RawMessage(tc.FunctionCall.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage("{}")
		}
		round.ToolCalls = append(round.ToolCalls, ToolCall{ID: id, Name: tc.FunctionCall.Name, Args: args})
	}
	return round, nil
}

// isToolCallChunk reports whether a streamed chunk is langchaingo's JSON
// rendering of a tool-call or function-call delta.
func isToolCallChunk(chunk []byte) bool {
	switch chunk[0] {
	case '[':
		var calls []struct {
			Function *struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function"`
		}
		if json.Unmarshal(chunk, &calls) != nil || len(calls) == 0 {
			return false
		}
		for _, c := range calls {
			if c.Function == nil {
				return false
			}
		}
		return true
	case '{':
		var fc map[string]json.RawMessage
		if json.Unmarshal(chunk, &fc) != nil {
			return false
		}
		_, hasName := fc["name"]
		_, hasArgs := fc["arguments"]
		return hasName && hasArgs && len(fc) == 2
	}
	return false
}

func openAITools(tools []ToolDef) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  jsonSchema(t.Params),
			},
		})
	}
	return out
}

func openAIMessages(req Request) []llms.MessageContent {
	var out []llms.MessageContent
	if req.System != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Text))
		case RoleAssistant:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Text != "" {
				mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Text})
			}
			for _, tc := range m.ToolCalls {
				args := string(tc.Args)
				if args == "" {
					args = "{}"
				}
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:           tc.ID,
					Type:         "function",
					FunctionCall: &llms.FunctionCall{Name: tc.Name, Arguments: args},
				})
			}
			if len(mc.Parts) > 0 {
				out = append(out, mc)
			}
		case RoleTool:
			if m.ToolResult == nil {
				continue
			}
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolResult.CallID,
					Name:       m.ToolResult.Name,
					Content:    m.ToolResult.Content,
				}},
			})
		}
	}
	return out
}
