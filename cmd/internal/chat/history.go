package chat

import (
	"taskchat/cmd/internal/completion"
	"taskchat/cmd/internal/tasks"
	"taskchat/cmd/internal/threads"
)

// historyFromTurns rebuilds the model history from stored turns.
// System turns and empty turns are dropped.
func historyFromTurns(turns []threads.Turn) []completion.Message {
	out := make([]completion.Message, 0, len(turns)+1)
	for _, t := range turns {
		switch t.Role {
		case threads.RoleUser:
			if t.Content.Text == "" {
				continue
			}
			out = append(out, completion.Message{Role: completion.RoleUser, Text: t.Content.Text})

		case threads.RoleAssistant:
			if t.Content.Text == "" && len(t.Content.ToolCalls) == 0 {
				continue
			}
			m := completion.Message{Role: completion.RoleAssistant, Text: t.Content.Text}
			for _, c := range t.Content.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, completion.ToolCall{ID: c.ID, Name: c.Name, Args: c.Args})
			}
			out = append(out, m)

		case threads.RoleTool:
			tr := t.Content.ToolResult
			if tr == nil {
				continue
			}
			out = append(out, completion.Message{
				Role:       completion.RoleTool,
				ToolResult: &completion.ToolResult{CallID: tr.CallID, Name: tr.Name, Content: tr.Result},
			})
		}
	}
	return out
}

func toolDefs(ts []tasks.Tool) []completion.ToolDef {
	out := make([]completion.ToolDef, 0, len(ts))
	for _, t := range ts {
		d := completion.ToolDef{Name: t.Name, Description: t.Description}
		for _, p := range t.Params {
			d.Params = append(d.Params, completion.Param{
				Name:        p.Name,
				Type:        p.Type,
				Description: p.Description,
				Enum:        p.Enum,
				Required:    p.Required,
				Default:     p.Default,
			})
		}
		out = append(out, d)
	}
	return out
}
