package tasks

import (
	"context"
	"errors"
	"strings"
)

// Stable tool names exposed to the model.
const (
	ToolCreateTask     = "create_task"
	ToolListTasks      = "list_tasks"
	ToolGetTaskDetails = "get_task_details"
	ToolUpdateTask     = "update_task"
	ToolDeleteTask     = "delete_task"
	ToolGetTaskSummary = "get_task_summary"
)

const maxTitleRunes = 200

var (
	statusEnum   = []string{string(StatusPending), string(StatusInProgress), string(StatusCompleted)}
	priorityEnum = []string{string(PriorityLow), string(PriorityMedium), string(PriorityHigh)}
)

type createTaskArgs struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

type listTasksArgs struct {
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

type taskIDArgs struct {
	TaskID TaskID `json:"taskId"`
}

type updateTaskArgs struct {
	TaskID   TaskID `json:"taskId"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

type noArgs struct{}

func (d *Dispatcher) registry() []Tool {
	taskIDParam := Param{Name: "taskId", Type: "integer", Description: "The numeric task identifier.", Required: true}
	return []Tool{
		{
			Name:        ToolCreateTask,
			Description: "Create a new task. New tasks start in Pending status.",
			Params: []Param{
				{Name: "title", Type: "string", Description: "Short task title.", Required: true},
				{Name: "description", Type: "string", Description: "Optional longer description."},
				{Name: "priority", Type: "string", Description: "Task priority.", Enum: priorityEnum, Default: string(PriorityMedium)},
			},
			call: bind(d.createTask),
		},
		{
			Name:        ToolListTasks,
			Description: "List tasks, optionally filtered by status and/or priority.",
			Params: []Param{
				{Name: "status", Type: "string", Description: "Only tasks in this status.", Enum: statusEnum},
				{Name: "priority", Type: "string", Description: "Only tasks with this priority.", Enum: priorityEnum},
			},
			call: bind(d.listTasks),
		},
		{
			Name:        ToolGetTaskDetails,
			Description: "Get the full details of one task.",
			Params:      []Param{taskIDParam},
			call:        bind(d.getTaskDetails),
		},
		{
			Name:        ToolUpdateTask,
			Description: "Change the status and/or priority of a task. A completed task cannot go straight back to Pending; move it to InProgress first.",
			Params: []Param{
				taskIDParam,
				{Name: "status", Type: "string", Description: "New status.", Enum: statusEnum},
				{Name: "priority", Type: "string", Description: "New priority.", Enum: priorityEnum},
			},
			call: bind(d.updateTask),
		},
		{
			Name:        ToolDeleteTask,
			Description: "Delete a task permanently.",
			Params:      []Param{taskIDParam},
			call:        bind(d.deleteTask),
		},
		{
			Name:        ToolGetTaskSummary,
			Description: "Summarize all tasks: counts per status, completion rate, and open high-priority tasks.",
			call:        bind(d.getTaskSummary),
		},
	}
}

func (d *Dispatcher) createTask(ctx context.Context, in createTaskArgs) Result {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Fail("a task title is required")
	}
	if len([]rune(title)) > maxTitleRunes {
		return Failf("the task title must be at most %d characters", maxTitleRunes)
	}

	priority := PriorityMedium
	if strings.TrimSpace(in.Priority) != "" {
		p, ok := ParsePriority(in.Priority)
		if !ok {
			return Failf("invalid priority %q; use Low, Medium or High", in.Priority)
		}
		priority = p
	}

	return d.withUnit(ctx, ToolCreateTask, func(repo Repository) Result {
		now := d.now()
		t := Task{
			Title:       title,
			Description: strings.TrimSpace(in.Description),
			Status:      StatusPending,
			Priority:    priority,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := repo.Add(ctx, &t); err != nil {
			return d.storeFailure(ToolCreateTask, err)
		}
		if err := repo.SaveChanges(ctx); err != nil {
			return d.storeFailure(ToolCreateTask, err)
		}
		return Ok(formatCreated(t))
	})
}

func (d *Dispatcher) listTasks(ctx context.Context, in listTasksArgs) Result {
	var f Filter
	if strings.TrimSpace(in.Status) != "" {
		s, ok := ParseStatus(in.Status)
		if !ok {
			return Failf("invalid status %q; use Pending, InProgress or Completed", in.Status)
		}
		f.Status = s
	}
	if strings.TrimSpace(in.Priority) != "" {
		p, ok := ParsePriority(in.Priority)
		if !ok {
			return Failf("invalid priority %q; use Low, Medium or High", in.Priority)
		}
		f.Priority = p
	}

	return d.withUnit(ctx, ToolListTasks, func(repo Repository) Result {
		list, err := repo.Search(ctx, f)
		if err != nil {
			return d.storeFailure(ToolListTasks, err)
		}
		if len(list) == 0 {
			return Ok(formatNoneFound(f))
		}
		return Ok(formatList(list))
	})
}

func (d *Dispatcher) getTaskDetails(ctx context.Context, in taskIDArgs) Result {
	if in.TaskID <= 0 {
		return Fail("a positive taskId is required")
	}
	return d.withUnit(ctx, ToolGetTaskDetails, func(repo Repository) Result {
		t, err := repo.GetByID(ctx, int64(in.TaskID))
		if IsNotFound(err) {
			return Failf("task %d was not found", in.TaskID)
		}
		if err != nil {
			return d.storeFailure(ToolGetTaskDetails, err)
		}
		return Ok(formatDetails(t))
	})
}

func (d *Dispatcher) updateTask(ctx context.Context, in updateTaskArgs) Result {
	if in.TaskID <= 0 {
		return Fail("a positive taskId is required")
	}
	if strings.TrimSpace(in.Status) == "" && strings.TrimSpace(in.Priority) == "" {
		return Fail("provide a new status or priority to update")
	}

	var (
		status   Status
		priority Priority
	)
	if strings.TrimSpace(in.Status) != "" {
		s, ok := ParseStatus(in.Status)
		if !ok {
			return Failf("invalid status %q; use Pending, InProgress or Completed", in.Status)
		}
		status = s
	}
	if strings.TrimSpace(in.Priority) != "" {
		p, ok := ParsePriority(in.Priority)
		if !ok {
			return Failf("invalid priority %q; use Low, Medium or High", in.Priority)
		}
		priority = p
	}

	return d.withUnit(ctx, ToolUpdateTask, func(repo Repository) Result {
		t, err := repo.GetByID(ctx, int64(in.TaskID))
		if IsNotFound(err) {
			return Failf("task %d was not found", in.TaskID)
		}
		if err != nil {
			return d.storeFailure(ToolUpdateTask, err)
		}

		now := d.now()
		if status != "" {
			if err := t.SetStatus(status, now); err != nil {
				if errors.Is(err, ErrBusinessRule) {
					return Failf("task %d is Completed and cannot move directly back to Pending; set it to InProgress first", t.ID)
				}
				return d.storeFailure(ToolUpdateTask, err)
			}
		}
		if priority != "" {
			t.Priority = priority
			t.UpdatedAt = now
		}

		if err := repo.Update(ctx, t); err != nil {
			return d.storeFailure(ToolUpdateTask, err)
		}
		if err := repo.SaveChanges(ctx); err != nil {
			return d.storeFailure(ToolUpdateTask, err)
		}
		return Ok(formatUpdated(t))
	})
}

func (d *Dispatcher) deleteTask(ctx context.Context, in taskIDArgs) Result {
	if in.TaskID <= 0 {
		return Fail("a positive taskId is required")
	}
	return d.withUnit(ctx, ToolDeleteTask, func(repo Repository) Result {
		t, err := repo.GetByID(ctx, int64(in.TaskID))
		if IsNotFound(err) {
			return Failf("task %d was not found", in.TaskID)
		}
		if err != nil {
			return d.storeFailure(ToolDeleteTask, err)
		}
		if err := repo.Delete(ctx, t.ID); err != nil {
			if IsNotFound(err) {
				return Failf("task %d was not found", in.TaskID)
			}
			return d.storeFailure(ToolDeleteTask, err)
		}
		if err := repo.SaveChanges(ctx); err != nil {
			return d.storeFailure(ToolDeleteTask, err)
		}
		return Okf("Task %d (%q) was deleted.", t.ID, t.Title)
	})
}

func (d *Dispatcher) getTaskSummary(ctx context.Context, _ noArgs) Result {
	return d.withUnit(ctx, ToolGetTaskSummary, func(repo Repository) Result {
		all, err := repo.Search(ctx, Filter{})
		if err != nil {
			return d.storeFailure(ToolGetTaskSummary, err)
		}
		return Ok(formatSummary(Summarize(all)))
	})
}

// Summary aggregates task counts.
type Summary struct {
	Total          int
	ByStatus       map[Status]int
	CompletionRate int // percent, truncated
	OpenHigh       int // high-priority tasks not completed
}

// Summarize computes counts per status, the truncated completion percentage,
// and the number of open high-priority tasks.
func Summarize(list []Task) Summary {
	s := Summary{Total: len(list), ByStatus: make(map[Status]int, len(AllStatuses))}
	for _, t := range list {
		s.ByStatus[t.Status]++
		if t.Priority == PriorityHigh && t.Status != StatusCompleted {
			s.OpenHigh++
		}
	}
	if s.Total > 0 {
		s.CompletionRate = s.ByStatus[StatusCompleted] * 100 / s.Total
	}
	return s
}
