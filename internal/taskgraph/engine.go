// Package taskgraph implements the two-level goal/subtask graph: creation,
// decomposition, forward-only status changes, completion roll-up and
// atomic claiming of the next pending task.
package taskgraph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/agentcouncil/internal/types"
)

const defaultListLimit = 20

// Engine applies task graph rules on top of a TaskStore.
type Engine struct {
	store types.TaskStore
	now   func() time.Time
}

func New(store types.TaskStore) *Engine {
	return &Engine{store: store, now: time.Now}
}

type CreateInput struct {
	Title        string
	Description  string
	Priority     int
	ParentTaskID types.TaskID
}

func (e *Engine) CreateTask(ctx context.Context, agentID types.AgentID, in CreateInput) (*types.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, types.Invalid("title", "is required")
	}
	if in.ParentTaskID != "" {
		parent, err := e.store.Get(ctx, in.ParentTaskID)
		if err != nil {
			return nil, fmt.Errorf("load parent task: %w", err)
		}
		if parent.IsSubtask() {
			return nil, types.Invalid("parent_task_id", "task %s is already a subtask; nesting is limited to two levels", parent.ID)
		}
	}

	task := &types.Task{
		ID:           types.NewTaskID(),
		Title:        title,
		Description:  strings.TrimSpace(in.Description),
		Status:       types.TaskPending,
		Priority:     in.Priority,
		ParentTaskID: in.ParentTaskID,
		AgentID:      agentID,
		CreatedAt:    e.now().UTC(),
	}
	if err := e.store.Insert(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

type SubtaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    *int   `json:"priority,omitempty"`
}

type DecomposeInput struct {
	Goal        string
	Description string
	Subtasks    []SubtaskInput
}

type Decomposition struct {
	Parent   *types.Task   `json:"parent"`
	Subtasks []*types.Task `json:"subtasks"`
}

// DecomposeTask creates an in-progress parent and its pending subtasks. When
// the subtasks cannot be written the parent is kept and returned alongside
// the error so the caller can retry against its id.
func (e *Engine) DecomposeTask(ctx context.Context, agentID types.AgentID, in DecomposeInput) (*Decomposition, error) {
	goal := strings.TrimSpace(in.Goal)
	if goal == "" {
		return nil, types.Invalid("goal", "is required")
	}
	if len(in.Subtasks) == 0 {
		return nil, types.Invalid("subtasks", "at least one subtask is required")
	}
	for i, st := range in.Subtasks {
		if strings.TrimSpace(st.Title) == "" {
			return nil, types.Invalid(fmt.Sprintf("subtasks[%d].title", i), "is required")
		}
	}

	now := e.now().UTC()
	parent := &types.Task{
		ID:          types.NewTaskID(),
		Title:       goal,
		Description: strings.TrimSpace(in.Description),
		Status:      types.TaskInProgress,
		Priority:    1,
		AgentID:     agentID,
		CreatedAt:   now,
	}
	if err := e.store.Insert(ctx, parent); err != nil {
		return nil, fmt.Errorf("create goal: %w", err)
	}

	subtasks := make([]*types.Task, len(in.Subtasks))
	for i, st := range in.Subtasks {
		priority := i
		if st.Priority != nil {
			priority = *st.Priority
		}
		subtasks[i] = &types.Task{
			ID:           types.NewTaskID(),
			Title:        strings.TrimSpace(st.Title),
			Description:  strings.TrimSpace(st.Description),
			Status:       types.TaskPending,
			Priority:     priority,
			ParentTaskID: parent.ID,
			AgentID:      agentID,
			CreatedAt:    now,
		}
	}
	if err := e.store.InsertBatch(ctx, subtasks); err != nil {
		slog.Warn("subtask creation failed, goal kept", "task_id", parent.ID, "error", err)
		return &Decomposition{Parent: parent}, fmt.Errorf("create subtasks for %s: %w", parent.ID, err)
	}
	return &Decomposition{Parent: parent, Subtasks: subtasks}, nil
}

type ListOptions struct {
	Status     types.TaskStatus
	ParentOnly bool
	Limit      int
}

func (e *Engine) ListTasks(ctx context.Context, agentID types.AgentID, opts ListOptions) ([]*types.Task, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, types.Invalid("status", "unknown status %q", opts.Status)
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	tasks, err := e.store.List(ctx, types.TaskFilter{
		AgentID:    agentID,
		Status:     opts.Status,
		ParentOnly: opts.ParentOnly,
		Limit:      opts.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Detail is a task with its direct subtasks.
type Detail struct {
	Task              *types.Task   `json:"task"`
	Subtasks          []*types.Task `json:"subtasks"`
	CompletedSubtasks int           `json:"completed_subtasks"`
}

// GetTask loads one of agentID's tasks. Tasks owned by other agents are
// reported as not found.
func (e *Engine) GetTask(ctx context.Context, agentID types.AgentID, id types.TaskID) (*Detail, error) {
	task, err := e.owned(ctx, agentID, id)
	if err != nil {
		return nil, err
	}
	children, err := e.store.Children(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load subtasks: %w", err)
	}
	d := &Detail{Task: task, Subtasks: children}
	for _, c := range children {
		if c.Status == types.TaskCompleted {
			d.CompletedSubtasks++
		}
	}
	return d, nil
}

type UpdateInput struct {
	Status *types.TaskStatus
	Result *string
}

type UpdateResult struct {
	Task *types.Task `json:"task"`
	// Parent is set when this update completed the last open sibling.
	Parent *types.Task `json:"parent,omitempty"`
}

func (r *UpdateResult) ParentCompleted() bool { return r.Parent != nil }

// UpdateTask applies a forward-only status change and/or a result. Completing
// the last open subtask of a goal completes the goal as a second write.
func (e *Engine) UpdateTask(ctx context.Context, agentID types.AgentID, id types.TaskID, in UpdateInput) (*UpdateResult, error) {
	current, err := e.owned(ctx, agentID, id)
	if err != nil {
		return nil, err
	}

	status := current.Status
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, types.Invalid("status", "unknown status %q", *in.Status)
		}
		if in.Status.Rank() < current.Status.Rank() {
			return nil, types.Invalid("status", "cannot move task from %s back to %s", current.Status, *in.Status)
		}
		status = *in.Status
	}
	if in.Status == nil && in.Result == nil {
		return &UpdateResult{Task: current}, nil
	}

	now := e.now().UTC()
	ok, err := e.store.SetStatus(ctx, id, status, in.Result, now)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if !ok {
		// Lost a race with a concurrent forward move, or the row vanished.
		latest, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, types.Invalid("status", "cannot move task from %s back to %s", latest.Status, status)
	}

	updated, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &UpdateResult{Task: updated}

	completedNow := status == types.TaskCompleted && current.Status != types.TaskCompleted
	if completedNow && updated.IsSubtask() {
		rolled, err := e.store.RollUp(ctx, updated.ParentTaskID, now)
		if err != nil {
			return res, fmt.Errorf("roll up %s: %w", updated.ParentTaskID, err)
		}
		if rolled {
			parent, err := e.store.Get(ctx, updated.ParentTaskID)
			if err != nil {
				return res, err
			}
			slog.Info("goal completed by roll-up", "task_id", parent.ID, "last_subtask", id)
			res.Parent = parent
		}
	}
	return res, nil
}

func (e *Engine) owned(ctx context.Context, agentID types.AgentID, id types.TaskID) (*types.Task, error) {
	task, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.AgentID != agentID {
		return nil, types.NotFound("task", id)
	}
	return task, nil
}

// GetNextTask claims the agent's best pending task. ok is false when there is none.
func (e *Engine) GetNextTask(ctx context.Context, agentID types.AgentID) (*types.Task, bool, error) {
	task, err := e.store.ClaimNext(ctx, agentID, e.now().UTC())
	if err != nil {
		return nil, false, err
	}
	return task, task != nil, nil
}
