package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is used when no model name is configured.
const DefaultGeminiModel = "gemini-1.5-flash"

// Gemini streams rounds from the Google Generative AI API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a client authenticated with apiKey.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("completion: missing gemini api key")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("completion: create genai client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error { return g.client.Close() }

// Stream runs one round with SendMessageStream, forwarding text parts as they arrive.
func (g *Gemini) Stream(ctx context.Context, req Request, onDelta func(string) error) (Round, error) {
	m := g.client.GenerativeModel(g.model)
	if req.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if len(req.Tools) > 0 {
		m.Tools = []*genai.Tool{{FunctionDeclarations: geminiDeclarations(req.Tools)}}
	}

	contents, err := geminiContents(req.Messages)
	if err != nil {
		return Round{}, err
	}
	last := contents[len(contents)-1]
	if last.Role != "user" {
		return Round{}, errors.New("completion: history must end with a user or tool message")
	}

	cs := m.StartChat()
	cs.History = contents[:len(contents)-1]
	it := cs.SendMessageStream(ctx, last.Parts...)

	var (
		round Round
		text  strings.Builder
	)
	for {
		resp, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			var blocked *genai.BlockedError
			if errors.As(err, &blocked) {
				return Round{}, fmt.Errorf("%w: %v", ErrContentFiltered, err)
			}
			return Round{}, fmt.Errorf("completion: gemini stream: %w", err)
		}
		for _, cand := range resp.Candidates {
			if cand.FinishReason == genai.FinishReasonSafety {
				return Round{}, ErrContentFiltered
			}
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				switch p := part.(type) {
				case genai.Text:
					if p == "" {
						continue
					}
					text.WriteString(string(p))
					if err := onDelta(string(p)); err != nil {
						return Round{}, err
					}
				case genai.FunctionCall:
					args, err := json.Marshal(p.Args)
					if err != nil {
						return Round{}, fmt.Errorf("completion: encode function args: %w", err)
					}
					round.ToolCalls = append(round.ToolCalls, ToolCall{
						// Gemini does not assign call ids.
						ID:   uuid.NewString(),
						Name: p.Name,
						Args: args,
					})
				}
			}
		}
	}
	round.Text = text.String()
	return round, nil
}

func geminiDeclarations(tools []ToolDef) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		fd := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
		if len(t.Params) > 0 {
			s := &genai.Schema{Type: genai.TypeObject, Properties: make(map[string]*genai.Schema, len(t.Params))}
			for _, p := range t.Params {
				ps := &genai.Schema{Description: p.Description}
				switch p.Type {
				case "integer":
					ps.Type = genai.TypeInteger
				default:
					ps.Type = genai.TypeString
				}
				if len(p.Enum) > 0 {
					ps.Format = "enum"
					ps.Enum = p.Enum
				}
				s.Properties[p.Name] = ps
				if p.Required {
					s.Required = append(s.Required, p.Name)
				}
			}
			fd.Parameters = s
		}
		out = append(out, fd)
	}
	return out
}

// geminiContents maps history onto user/model contents, merging adjacent
// entries with the same role. Tool results travel as user-role function responses.
func geminiContents(msgs []Message) ([]*genai.Content, error) {
	var out []*genai.Content
	push := func(role string, parts ...genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			return
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}

	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			if m.Text != "" {
				push("user", genai.Text(m.Text))
			}
		case RoleAssistant:
			var parts []genai.Part
			if m.Text != "" {
				parts = append(parts, genai.Text(m.Text))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if len(tc.Args) > 0 {
					if err := json.Unmarshal(tc.Args, &args); err != nil {
						return nil, fmt.Errorf("completion: decode stored tool args: %w", err)
					}
				}
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: args})
			}
			push("model", parts...)
		case RoleTool:
			if m.ToolResult == nil {
				continue
			}
			push("user", genai.FunctionResponse{
				Name:     m.ToolResult.Name,
				Response: map[string]any{"result": m.ToolResult.Content},
			})
		}
	}
	if len(out) == 0 {
		return nil, errors.New("completion: empty history")
	}
	return out, nil
}
