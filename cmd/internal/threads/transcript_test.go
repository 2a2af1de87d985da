package threads

import (
	"testing"
	"time"
)

func TestTranscript_FiltersAndPages(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	turns := []Turn{
		{ID: "1", Role: RoleUser, Content: Content{Text: "add milk"}, CreatedAt: base},
		{ID: "2", Role: RoleAssistant, Content: Content{ToolCalls: []ToolCall{{ID: "c", Name: "create_task"}}}, CreatedAt: base.Add(time.Second)},
		{ID: "3", Role: RoleTool, Content: Content{ToolResult: &ToolResult{CallID: "c", Result: "ok"}}, CreatedAt: base.Add(2 * time.Second)},
		{ID: "4", Role: RoleAssistant, Content: Content{Text: "Added."}, CreatedAt: base.Add(3 * time.Second)},
		{ID: "5", Role: RoleSystem, Content: Content{Text: "hidden"}, CreatedAt: base.Add(4 * time.Second)},
		{ID: "6", Role: RoleUser, Content: Content{Text: "thanks"}, CreatedAt: base.Add(5 * time.Second)},
	}

	p1, err := Transcript(turns, ListInput{Page: 1, PageSize: 2}, 0)
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if p1.TotalCount != 3 || p1.TotalPages != 2 || len(p1.Items) != 2 {
		t.Fatalf("page 1=%+v", p1)
	}
	if p1.Items[0].ID != "1" || p1.Items[1].ID != "4" {
		t.Fatalf("page 1 items=%+v", p1.Items)
	}

	p2, _ := Transcript(turns, ListInput{Page: 2, PageSize: 2}, 0)
	if len(p2.Items) != 1 || p2.Items[0].Content != "thanks" {
		t.Fatalf("page 2=%+v", p2)
	}

	p3, _ := Transcript(turns, ListInput{Page: 3, PageSize: 2}, 0)
	if p3.Items == nil || len(p3.Items) != 0 {
		t.Fatalf("page past end=%+v", p3)
	}
}

func TestTranscript_Bounds(t *testing.T) {
	t.Parallel()

	if _, err := Transcript(nil, ListInput{Page: 0, PageSize: 10}, 0); !IsInvalidInput(err) {
		t.Fatalf("page 0 err=%v", err)
	}
	if _, err := Transcript(nil, ListInput{Page: 1, PageSize: 101}, 100); !IsInvalidInput(err) {
		t.Fatalf("pageSize 101 err=%v", err)
	}
	empty, err := Transcript(nil, ListInput{Page: 1, PageSize: 10}, 0)
	if err != nil || empty.TotalCount != 0 || len(empty.Items) != 0 {
		t.Fatalf("empty=%+v err=%v", empty, err)
	}
}
