package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/user/agentcouncil/internal/runtime"
	"github.com/user/agentcouncil/internal/taskgraph"
	"github.com/user/agentcouncil/internal/types"
)

func statusIcon(s types.TaskStatus) string {
	switch s {
	case types.TaskCompleted:
		return "✅"
	case types.TaskInProgress:
		return "🔄"
	}
	return "⏳"
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

type createTaskInput struct {
	Title        string `json:"title" jsonschema_description:"Short task title"`
	Description  string `json:"description,omitempty"`
	Priority     int    `json:"priority,omitempty" jsonschema_description:"Higher runs first"`
	ParentTaskID string `json:"parent_task_id,omitempty" jsonschema_description:"Goal this task belongs to"`
}

type decomposeTaskInput struct {
	Goal        string                   `json:"goal" jsonschema_description:"The overall goal"`
	Description string                   `json:"description,omitempty"`
	Subtasks    []taskgraph.SubtaskInput `json:"subtasks" jsonschema_description:"Ordered subtasks; priority defaults to position"`
}

type listTasksInput struct {
	Status     string `json:"status,omitempty" jsonschema_description:"pending, in_progress or completed"`
	ParentOnly bool   `json:"parent_only,omitempty" jsonschema_description:"Only top-level goals"`
}

type taskIDInput struct {
	TaskID string `json:"task_id"`
}

type updateTaskInput struct {
	TaskID string  `json:"task_id"`
	Status string  `json:"status,omitempty" jsonschema_description:"New status; may only move forward"`
	Result *string `json:"result,omitempty" jsonschema_description:"Outcome of the task"`
}

// NewTaskTools returns the task graph tools in catalog order.
func NewTaskTools(engine *taskgraph.Engine) []runtime.Tool {
	return []runtime.Tool{
		runtime.NewTool("create_task", "Create a task, optionally under a goal", nil,
			func(ctx context.Context, agentID types.AgentID, in createTaskInput) (string, error) {
				task, err := engine.CreateTask(ctx, agentID, taskgraph.CreateInput{
					Title:        in.Title,
					Description:  in.Description,
					Priority:     in.Priority,
					ParentTaskID: types.TaskID(in.ParentTaskID),
				})
				if err != nil {
					return "", err
				}
				out := fmt.Sprintf("[Task Created]\nID: %s\nTitle: %s\nPriority: %d\nStatus: %s",
					task.ID, task.Title, task.Priority, task.Status)
				if task.ParentTaskID != "" {
					out += "\nParent Task: " + string(task.ParentTaskID)
				}
				return out, nil
			}),

		runtime.NewTool("decompose_task", "Break a goal into ordered subtasks", nil,
			func(ctx context.Context, agentID types.AgentID, in decomposeTaskInput) (string, error) {
				d, err := engine.DecomposeTask(ctx, agentID, taskgraph.DecomposeInput{
					Goal:        in.Goal,
					Description: in.Description,
					Subtasks:    in.Subtasks,
				})
				if err != nil {
					if d != nil && d.Parent != nil {
						return "", fmt.Errorf("goal %s created but subtasks failed: %w", d.Parent.ID, err)
					}
					return "", err
				}
				var b strings.Builder
				fmt.Fprintf(&b, "[Task Decomposed]\nGoal: %s\nID: %s\n\nSubtasks created (%d):",
					d.Parent.Title, d.Parent.ID, len(d.Subtasks))
				for i, st := range d.Subtasks {
					fmt.Fprintf(&b, "\n  %d. %s (ID: %s)", i+1, st.Title, st.ID)
				}
				return b.String(), nil
			}),

		runtime.NewTool("list_tasks", "List the agent's tasks", nil,
			func(ctx context.Context, agentID types.AgentID, in listTasksInput) (string, error) {
				tasks, err := engine.ListTasks(ctx, agentID, taskgraph.ListOptions{
					Status:     types.TaskStatus(in.Status),
					ParentOnly: in.ParentOnly,
				})
				if err != nil {
					return "", err
				}
				if len(tasks) == 0 {
					return "No tasks found.", nil
				}
				entries := make([]string, len(tasks))
				for i, t := range tasks {
					e := fmt.Sprintf("%d. %s %s\n   ID: %s\n   Status: %s", i+1, statusIcon(t.Status), t.Title, t.ID, t.Status)
					if t.IsSubtask() {
						e += "\n   (subtask)"
					}
					entries[i] = e
				}
				return "[Current Tasks]\n" + strings.Join(entries, "\n\n"), nil
			}),

		runtime.NewTool("get_task", "Show a task and its subtasks", nil,
			func(ctx context.Context, agentID types.AgentID, in taskIDInput) (string, error) {
				if in.TaskID == "" {
					return "", types.Invalid("task_id", "is required")
				}
				d, err := engine.GetTask(ctx, agentID, types.TaskID(in.TaskID))
				if err != nil {
					return "", err
				}
				t := d.Task
				var b strings.Builder
				fmt.Fprintf(&b, "[Task Details]\n%s %s\nID: %s\nStatus: %s\nPriority: %d\nDescription: %s",
					statusIcon(t.Status), t.Title, t.ID, t.Status, t.Priority, orNone(t.Description))
				if t.Result != "" {
					fmt.Fprintf(&b, "\nResult: %s", t.Result)
				}
				if len(d.Subtasks) > 0 {
					fmt.Fprintf(&b, "\n\nSubtasks (%d/%d completed):", d.CompletedSubtasks, len(d.Subtasks))
					for i, st := range d.Subtasks {
						fmt.Fprintf(&b, "\n  %d. %s %s", i+1, statusIcon(st.Status), st.Title)
					}
				}
				return b.String(), nil
			}),

		runtime.NewTool("update_task", "Move a task forward or record its result", nil,
			func(ctx context.Context, agentID types.AgentID, in updateTaskInput) (string, error) {
				if in.TaskID == "" {
					return "", types.Invalid("task_id", "is required")
				}
				upd := taskgraph.UpdateInput{Result: in.Result}
				if in.Status != "" {
					s := types.TaskStatus(in.Status)
					upd.Status = &s
				}
				res, err := engine.UpdateTask(ctx, agentID, types.TaskID(in.TaskID), upd)
				if err != nil {
					return "", err
				}
				out := fmt.Sprintf("[Task Updated]\nID: %s\nNew Status: %s", res.Task.ID, res.Task.Status)
				if res.Task.CompletedAt != nil {
					out += "\nCompleted: " + res.Task.CompletedAt.Format(time.RFC3339)
				}
				if res.ParentCompleted() {
					out += "\n\n✅ All subtasks complete - parent task marked as completed!"
				}
				return out, nil
			}),

		runtime.NewTool("get_next_task", "Claim the highest priority pending task", nil,
			func(ctx context.Context, agentID types.AgentID, _ struct{}) (string, error) {
				task, ok, err := engine.GetNextTask(ctx, agentID)
				if err != nil {
					return "", err
				}
				if !ok {
					return "No pending tasks found. All tasks are complete or none exist.", nil
				}
				return FormatNextTask(task), nil
			}),
	}
}

// FormatNextTask renders a claimed task the way get_next_task reports it.
func FormatNextTask(t *types.Task) string {
	return fmt.Sprintf("[Next Task to Work On]\nTitle: %s\nID: %s\nPriority: %d\nDescription: %s\n\nTask is now marked as in_progress.",
		t.Title, t.ID, t.Priority, orNone(t.Description))
}
