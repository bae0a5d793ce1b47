package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aveline-ai/recal/internal/models"
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Progress snapshots and rebalance decisions",
}

var progressShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show a fresh progress snapshot for the active roadmap",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiGet("/users/" + args[0] + "/progress")
		if err != nil {
			return err
		}

		var snap models.ProgressSnapshot
		if err := json.Unmarshal(body, &snap); err != nil {
			return err
		}

		fmt.Println(titleStyle.Render("Progress"))
		fmt.Printf("  Completed:   %s\n", completedStyle.Render(fmt.Sprintf("%d/%d (%.0f%%)", snap.Completed, snap.Total, snap.CompletionPercent())))
		missedLine := fmt.Sprintf("%d", snap.Missed)
		if snap.Missed > 0 {
			missedLine = missedStyle.Render(missedLine)
		}
		fmt.Printf("  Missed:      %s\n", missedLine)
		fmt.Printf("  In progress: %d\n", snap.InProgress)
		fmt.Printf("  Elapsed:     %d week(s)\n", snap.ElapsedWeeks)
		fmt.Printf("  Pace ratio:  %.2f\n", snap.PaceRatio)
		return nil
	},
}

var progressDecisionCmd = &cobra.Command{
	Use:   "decision <user-id>",
	Short: "Run the rebalance rules without acting on them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiGet("/users/" + args[0] + "/decision")
		if err != nil {
			return err
		}

		var decision models.RebalanceDecision
		if err := json.Unmarshal(body, &decision); err != nil {
			return err
		}

		if decision.Triggered {
			fmt.Printf("%s %s\n", warnStyle.Render("Rebalance recommended:"), decision.Reason)
		} else {
			fmt.Println(completedStyle.Render("On track, no rebalance needed"))
		}
		return nil
	},
}

var progressAuditCmd = &cobra.Command{
	Use:   "audit <user-id>",
	Short: "Show the user's rebalance decision records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiGet("/users/" + args[0] + "/decisions")
		if err != nil {
			return err
		}

		var records []models.DecisionRecord
		if err := json.Unmarshal(body, &records); err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println(mutedStyle.Render("No decision records"))
			return nil
		}
		for _, r := range records {
			outcome := completedStyle.Render(r.Outcome)
			if r.Outcome != "success" {
				outcome = missedStyle.Render(r.Outcome)
			}
			fmt.Printf("%s  %-20s %s  %s\n", r.Timestamp.Format("2006-01-02 15:04"), r.Action, outcome, mutedStyle.Render(r.Details))
		}
		return nil
	},
}

func init() {
	progressCmd.AddCommand(progressShowCmd)
	progressCmd.AddCommand(progressDecisionCmd)
	progressCmd.AddCommand(progressAuditCmd)
}
