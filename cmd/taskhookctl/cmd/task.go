package cmd

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/austindbirch/taskhook/internal/model"
)

// taskCmd represents the task command
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
	Long:  `Create tasks, move them through their lifecycle and pick the next ready one.`,
}

var createTaskCmd = &cobra.Command{
	Use:   "create [project-id] [title]",
	Short: "Create a task",
	Long: `Create a pending task in a project. Webhooks subscribed to
task.created are notified.

Example:
  taskhookctl task create prj_123 "Write release notes" --priority high --depends-on tsk_1`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetString("priority")
		order, _ := cmd.Flags().GetInt("order")
		dependsOn, _ := cmd.Flags().GetStringSlice("depends-on")

		req := map[string]interface{}{
			"project_id":  args[0],
			"title":       args[1],
			"description": description,
			"priority":    priority,
			"order_index": order,
			"depends_on":  dependsOn,
		}

		var t model.Task
		if err := callAPI("POST", "/v1/tasks", req, &t); err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			printOutput(out, t)
			return nil
		}
		fmt.Fprintf(out, "Created task: %s\n", t.ID)
		printTask(out, t)
		return nil
	},
}

var listTasksCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")

		path := "/v1/tasks"
		if projectID != "" {
			path += "?project_id=" + url.QueryEscape(projectID)
		}

		var list []model.Task
		if err := callAPI("GET", path, nil, &list); err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			printOutput(out, list)
			return nil
		}
		if len(list) == 0 {
			fmt.Fprintln(out, "No tasks found")
			return nil
		}
		for _, t := range list {
			fmt.Fprintf(out, "%s  %-12s %-8s %s\n", t.ID, t.Status, t.Priority, t.Title)
		}
		return nil
	},
}

var getTaskCmd = &cobra.Command{
	Use:   "get [task-id]",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var t model.Task
		if err := callAPI("GET", "/v1/tasks/"+url.PathEscape(args[0]), nil, &t); err != nil {
			return fmt.Errorf("failed to get task: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			printOutput(out, t)
			return nil
		}
		fmt.Fprintf(out, "Task %s\n", t.ID)
		printTask(out, t)
		return nil
	},
}

var taskStatusCmd = &cobra.Command{
	Use:   "status [task-id] [status]",
	Short: "Move a task to a new status",
	Long: `Move a task to a new status. Allowed moves:

  pending     -> in_progress
  in_progress -> blocked, testing, completed, failed
  blocked     -> in_progress
  testing     -> completed, failed

Completing a task notifies webhooks subscribed to task.completed.

Example:
  taskhookctl task status tsk_123 completed --note "shipped"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		note, _ := cmd.Flags().GetString("note")

		req := map[string]string{"status": args[1], "note": note}
		var t model.Task
		if err := callAPI("POST", "/v1/tasks/"+url.PathEscape(args[0])+"/status", req, &t); err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			printOutput(out, t)
			return nil
		}
		fmt.Fprintf(out, "Task %s is now %s\n", t.ID, t.Status)
		return nil
	},
}

// nextTaskResponse is either a task or a message when nothing is ready
type nextTaskResponse struct {
	model.Task
	Message string `json:"message"`
}

var nextTaskCmd = &cobra.Command{
	Use:   "next",
	Short: "Show the next task that is ready to start",
	Long: `Show the highest priority pending task whose dependencies are all completed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")

		path := "/v1/tasks/next"
		if projectID != "" {
			path += "?project_id=" + url.QueryEscape(projectID)
		}

		var resp nextTaskResponse
		if err := callAPI("GET", path, nil, &resp); err != nil {
			return fmt.Errorf("failed to get next task: %w", err)
		}

		out := cmd.OutOrStdout()
		if resp.Message != "" {
			if outputJSON {
				printOutput(out, map[string]string{"message": resp.Message})
			} else {
				fmt.Fprintln(out, resp.Message)
			}
			return nil
		}
		if outputJSON {
			printOutput(out, resp.Task)
			return nil
		}
		fmt.Fprintf(out, "Next task: %s\n", resp.ID)
		printTask(out, resp.Task)
		return nil
	},
}

var taskHistoryCmd = &cobra.Command{
	Use:   "history [task-id]",
	Short: "Show the status history of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var history []model.AuditRecord
		if err := callAPI("GET", "/v1/tasks/"+url.PathEscape(args[0])+"/history", nil, &history); err != nil {
			return fmt.Errorf("failed to get history: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			printOutput(out, history)
			return nil
		}
		if len(history) == 0 {
			fmt.Fprintln(out, "No status changes recorded")
			return nil
		}
		for _, rec := range history {
			actor := rec.Actor
			if actor == "" {
				actor = "System"
			}
			fmt.Fprintf(out, "%s  %s -> %s  by %s", formatTime(&rec.CreatedAt), rec.OldValue, rec.NewValue, actor)
			if rec.Note != "" {
				fmt.Fprintf(out, "  (%s)", rec.Note)
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

var deleteTaskCmd = &cobra.Command{
	Use:   "delete [task-id]",
	Short: "Delete a task",
	Long: `Delete a task and its status history. Tasks that depend on it
are kept but will not be picked by "task next" again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := callAPI("DELETE", "/v1/tasks/"+url.PathEscape(args[0]), nil, nil); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted task: %s\n", args[0])
		return nil
	},
}

func printTask(w io.Writer, t model.Task) {
	fmt.Fprintf(w, "  Title: %s\n", t.Title)
	fmt.Fprintf(w, "  Project: %s\n", t.ProjectID)
	fmt.Fprintf(w, "  Status: %s\n", t.Status)
	fmt.Fprintf(w, "  Priority: %s\n", t.Priority)
	if len(t.DependsOn) > 0 {
		fmt.Fprintf(w, "  Depends on: %s\n", strings.Join(t.DependsOn, ", "))
	}
	fmt.Fprintf(w, "  Created: %s\n", formatTime(&t.CreatedAt))
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(createTaskCmd)
	taskCmd.AddCommand(listTasksCmd)
	taskCmd.AddCommand(getTaskCmd)
	taskCmd.AddCommand(taskStatusCmd)
	taskCmd.AddCommand(nextTaskCmd)
	taskCmd.AddCommand(taskHistoryCmd)
	taskCmd.AddCommand(deleteTaskCmd)

	createTaskCmd.Flags().String("description", "", "task description")
	createTaskCmd.Flags().String("priority", "medium", "priority (low, medium, high, critical)")
	createTaskCmd.Flags().Int("order", 0, "order index used to break priority ties")
	createTaskCmd.Flags().StringSlice("depends-on", nil, "ids of tasks that must complete first")

	listTasksCmd.Flags().String("project", "", "only list tasks in this project")
	nextTaskCmd.Flags().String("project", "", "only consider tasks in this project")

	taskStatusCmd.Flags().String("note", "", "note recorded with the status change")
}
