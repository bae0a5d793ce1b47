package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aveline-ai/recal/internal/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and update tasks",
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiGet("/tasks/" + args[0])
		if err != nil {
			return err
		}

		var task models.Task
		if err := json.Unmarshal(body, &task); err != nil {
			return err
		}
		printTask(&task)
		return nil
	},
}

var taskStatusCmd = &cobra.Command{
	Use:   "status <task-id> <pending|in_progress|completed>",
	Short: "Update a task's status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiPost("/tasks/"+args[0]+"/status", map[string]string{"status": args[1]})
		if err != nil {
			return err
		}

		var task models.Task
		if err := json.Unmarshal(body, &task); err != nil {
			return err
		}
		fmt.Println(titleStyle.Render("Task updated"))
		printTask(&task)
		return nil
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiPost("/tasks/"+args[0]+"/status", map[string]string{"status": string(models.TaskStatusCompleted)})
		if err != nil {
			return err
		}

		var task models.Task
		if err := json.Unmarshal(body, &task); err != nil {
			return err
		}
		fmt.Printf("%s %s\n", completedStyle.Render("Completed:"), task.Title)
		return nil
	},
}

func printTask(t *models.Task) {
	fmt.Printf("%s %s\n", titleStyle.Render(t.Title), mutedStyle.Render(t.ID))
	fmt.Printf("  Status: %s\n", renderStatus(t.Status))
	fmt.Printf("  Type:   %s\n", t.Type)
	fmt.Printf("  Week:   %d (%s)\n", t.WeekNumber, t.PhaseName)
	fmt.Printf("  Due:    %s\n", t.DueAt.Format("2006-01-02"))
	if t.CompletedAt != nil {
		fmt.Printf("  Done:   %s\n", t.CompletedAt.Format("2006-01-02"))
	}
}

func init() {
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskStatusCmd)
	taskCmd.AddCommand(taskCompleteCmd)
}
