package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/user/agentcouncil/internal/runtime/tools"
	"github.com/user/agentcouncil/internal/taskgraph"
	"github.com/user/agentcouncil/internal/types"
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskAddCmd, taskDecomposeCmd, taskListCmd, taskShowCmd, taskNextCmd, taskStartCmd, taskDoneCmd)
	taskCmd.PersistentFlags().String("agent", "", "agent the tasks belong to (default: default_agent)")

	taskAddCmd.Flags().String("description", "", "task description")
	taskAddCmd.Flags().Int("priority", 0, "priority, higher runs first")
	taskAddCmd.Flags().String("parent", "", "parent task id")

	taskDecomposeCmd.Flags().String("description", "", "goal description")
	taskDecomposeCmd.Flags().StringArrayP("subtask", "s", nil, "subtask title (repeatable)")
	_ = taskDecomposeCmd.MarkFlagRequired("subtask")

	taskListCmd.Flags().String("status", "", "filter by status (pending, in_progress, completed)")
	taskListCmd.Flags().Bool("parents", false, "only top-level tasks")
	taskListCmd.Flags().Int("limit", 50, "maximum tasks to show")

	taskDoneCmd.Flags().String("result", "", "result text to record")
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage an agent's task graph",
}

// withTasks opens the task engine for the duration of fn.
func withTasks(cmd *cobra.Command, fn func(ctx context.Context, e *taskgraph.Engine, agent types.AgentID) error) error {
	cfg := loadConfig()
	svc, err := newServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	agent, _ := cmd.Flags().GetString("agent")
	if agent == "" {
		agent = cfg.DefaultAgent
	}
	a, ok := svc.roster.Resolve(agent)
	if !ok {
		return types.NotFound("agent", agent)
	}
	return fn(cmd.Context(), svc.tasks, a.ID)
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetInt("priority")
		parent, _ := cmd.Flags().GetString("parent")
		return withTasks(cmd, func(ctx context.Context, e *taskgraph.Engine, agent types.AgentID) error {
			t, err := e.CreateTask(ctx, agent, taskgraph.CreateInput{
				Title:        args[0],
				Description:  desc,
				Priority:     priority,
				ParentTaskID: types.TaskID(parent),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Task %s created for %s.\n", t.ID, agent)
			return nil
		})
	},
}

var taskDecomposeCmd = &cobra.Command{
	Use:   "decompose <goal>",
	Short: "Create a goal with subtasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, _ := cmd.Flags().GetString("description")
		titles, _ := cmd.Flags().GetStringArray("subtask")
		subtasks := make([]taskgraph.SubtaskInput, len(titles))
		for i, title := range titles {
			subtasks[i] = taskgraph.SubtaskInput{Title: title}
		}
		return withTasks(cmd, func(ctx context.Context, e *taskgraph.Engine, agent types.AgentID) error {
			d, err := e.DecomposeTask(ctx, agent, taskgraph.DecomposeInput{
				Goal:        args[0],
				Description: desc,
				Subtasks:    subtasks,
			})
			if err != nil {
				if d != nil {
					return fmt.Errorf("goal %s created but subtasks failed: %w", d.Parent.ID, err)
				}
				return err
			}
			fmt.Fprintf(os.Stdout, "Goal %s created with %d subtasks.\n", d.Parent.ID, len(d.Subtasks))
			return nil
		})
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		parents, _ := cmd.Flags().GetBool("parents")
		limit, _ := cmd.Flags().GetInt("limit")
		return withTasks(cmd, func(ctx context.Context, e *taskgraph.Engine, agent types.AgentID) error {
			tasks, err := e.ListTasks(ctx, agent, taskgraph.ListOptions{
				Status:     types.TaskStatus(status),
				ParentOnly: parents,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("No tasks found.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPRI\tTITLE\tCREATED")
			for _, t := range tasks {
				title := t.Title
				if t.IsSubtask() {
					title = "  └ " + title
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", t.ID, t.Status, t.Priority, title, humanize.Time(t.CreatedAt))
			}
			return w.Flush()
		})
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task and its subtasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTasks(cmd, func(ctx context.Context, e *taskgraph.Engine, agent types.AgentID) error {
			d, err := e.GetTask(ctx, agent, types.TaskID(args[0]))
			if err != nil {
				return err
			}
			t := d.Task
			fmt.Printf("%s\n  id:       %s\n  status:   %s\n  priority: %d\n  agent:    %s\n  created:  %s\n",
				t.Title, t.ID, t.Status, t.Priority, t.AgentID, humanize.Time(t.CreatedAt))
			if t.Description != "" {
				fmt.Printf("  description: %s\n", t.Description)
			}
			if t.CompletedAt != nil {
				fmt.Printf("  completed: %s\n", humanize.Time(*t.CompletedAt))
			}
			if t.Result != "" {
				fmt.Printf("  result: %s\n", t.Result)
			}
			if len(d.Subtasks) > 0 {
				fmt.Printf("\nSubtasks (%d/%d completed):\n", d.CompletedSubtasks, len(d.Subtasks))
				for _, s := range d.Subtasks {
					fmt.Printf("  [%s] %s (%s)\n", s.Status, s.Title, s.ID)
				}
			}
			return nil
		})
	},
}

var taskNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Claim the next pending task",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTasks(cmd, func(ctx context.Context, e *taskgraph.Engine, agent types.AgentID) error {
			t, ok, err := e.GetNextTask(ctx, agent)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("No pending tasks found.")
				return nil
			}
			fmt.Println(tools.FormatNextTask(t))
			return nil
		})
	},
}

func setStatus(cmd *cobra.Command, id string, status types.TaskStatus, result *string) error {
	return withTasks(cmd, func(ctx context.Context, e *taskgraph.Engine, agent types.AgentID) error {
		res, err := e.UpdateTask(ctx, agent, types.TaskID(id), taskgraph.UpdateInput{Status: &status, Result: result})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Task %s is %s.\n", res.Task.ID, res.Task.Status)
		if res.ParentCompleted() {
			fmt.Fprintf(os.Stdout, "All subtasks complete; %q marked completed.\n", res.Parent.Title)
		}
		return nil
	})
}

var taskStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Mark a task in progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setStatus(cmd, args[0], types.TaskInProgress, nil)
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result *string
		if cmd.Flags().Changed("result") {
			r, _ := cmd.Flags().GetString("result")
			result = &r
		}
		return setStatus(cmd, args[0], types.TaskCompleted, result)
	},
}
