package chat

import (
	"encoding/json"
	"testing"

	"taskchat/cmd/internal/completion"
	"taskchat/cmd/internal/threads"
)

func TestHistoryFromTurns(t *testing.T) {
	t.Parallel()

	turns := []threads.Turn{
		{Role: threads.RoleSystem, Content: threads.Content{Text: "ignored"}},
		{Role: threads.RoleUser, Content: threads.Content{Text: "add milk"}},
		{Role: threads.RoleAssistant, Content: threads.Content{ToolCalls: []threads.ToolCall{{
			ID: "c1", Name: "create_task", Args: json.RawMessage(`{"title":"milk"}`),
		}}}},
		{Role: threads.RoleTool, Content: threads.Content{ToolResult: &threads.ToolResult{
			CallID: "c1", Name: "create_task", Result: "Task created successfully.",
		}}},
		{Role: threads.RoleTool}, // corrupt: no result
		{Role: threads.RoleAssistant, Content: threads.Content{Text: "Done."}},
		{Role: threads.RoleUser}, // skipped on read
	}

	got := historyFromTurns(turns)
	want := []completion.Role{completion.RoleUser, completion.RoleAssistant, completion.RoleTool, completion.RoleAssistant}
	if len(got) != len(want) {
		t.Fatalf("len=%d want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Role != want[i] {
			t.Fatalf("[%d] role=%s want %s", i, got[i].Role, want[i])
		}
	}
	if got[1].ToolCalls[0].ID != "c1" || got[2].ToolResult.Content != "Task created successfully." {
		t.Fatalf("tool exchange not carried: %+v", got)
	}
}
