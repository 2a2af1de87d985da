package tasks

import (
	"fmt"
	"strings"
)

const timeLayout = "2006-01-02 15:04 UTC"

func formatCreated(t Task) string {
	return fmt.Sprintf("Task created successfully.\nID: %d\nTitle: %s\nStatus: %s\nPriority: %s",
		t.ID, t.Title, t.Status.Label(), t.Priority)
}

func formatUpdated(t Task) string {
	return fmt.Sprintf("Task %d updated.\nTitle: %s\nStatus: %s\nPriority: %s",
		t.ID, t.Title, t.Status.Label(), t.Priority)
}

func formatList(list []Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d task(s):", len(list))
	for _, t := range list {
		fmt.Fprintf(&b, "\n- #%d %s [%s, %s priority]", t.ID, t.Title, t.Status.Label(), t.Priority)
	}
	return b.String()
}

func formatNoneFound(f Filter) string {
	var parts []string
	if f.Status != "" {
		parts = append(parts, "status "+f.Status.Label())
	}
	if f.Priority != "" {
		parts = append(parts, "priority "+string(f.Priority))
	}
	if len(parts) == 0 {
		return "No tasks found. There are no tasks yet."
	}
	return "No tasks found with " + strings.Join(parts, " and ") + "."
}

func formatDetails(t Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task #%d\nTitle: %s\n", t.ID, t.Title)
	if t.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", t.Description)
	} else {
		b.WriteString("Description: (none)\n")
	}
	fmt.Fprintf(&b, "Status: %s\nPriority: %s\nCreated: %s\nUpdated: %s",
		t.Status.Label(), t.Priority, t.CreatedAt.UTC().Format(timeLayout), t.UpdatedAt.UTC().Format(timeLayout))
	if t.CompletedAt != nil {
		fmt.Fprintf(&b, "\nCompleted: %s", t.CompletedAt.UTC().Format(timeLayout))
	}
	return b.String()
}

func formatSummary(s Summary) string {
	if s.Total == 0 {
		return "Task summary: there are no tasks yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Task summary:\nTotal: %d", s.Total)
	for _, st := range AllStatuses {
		fmt.Fprintf(&b, "\n%s: %d", st.Label(), s.ByStatus[st])
	}
	fmt.Fprintf(&b, "\nCompletion rate: %d%%\nHigh-priority tasks not completed: %d", s.CompletionRate, s.OpenHigh)
	return b.String()
}
