package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aveline-ai/recal/internal/models"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var (
	userName          string
	userGoal          string
	userLevel         string
	userWeeklyHours   int
	userDeadlineWeeks int
	userSituation     string
)

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new user profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiPost("/users", map[string]interface{}{
			"name":           userName,
			"goal":           userGoal,
			"current_level":  userLevel,
			"weekly_hours":   userWeeklyHours,
			"deadline_weeks": userDeadlineWeeks,
			"situation":      userSituation,
		})
		if err != nil {
			return err
		}

		var user models.UserProfile
		if err := json.Unmarshal(body, &user); err != nil {
			return err
		}

		fmt.Println(titleStyle.Render("User created"))
		fmt.Printf("  ID:   %s\n", user.ID)
		fmt.Printf("  Name: %s\n", user.Name)
		fmt.Printf("  Goal: %s\n", user.Goal)
		fmt.Println(mutedStyle.Render(fmt.Sprintf("  Generate a roadmap with: recal roadmap generate %s", user.ID)))
		return nil
	},
}

var userShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show a user profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiGet("/users/" + args[0])
		if err != nil {
			return err
		}

		var user models.UserProfile
		if err := json.Unmarshal(body, &user); err != nil {
			return err
		}

		fmt.Println(titleStyle.Render(user.Name))
		fmt.Printf("  Goal:         %s\n", user.Goal)
		if user.CurrentLevel != "" {
			fmt.Printf("  Level:        %s\n", user.CurrentLevel)
		}
		fmt.Printf("  Weekly hours: %d\n", user.WeeklyHours)
		if user.DeadlineWeeks > 0 {
			fmt.Printf("  Deadline:     %d weeks\n", user.DeadlineWeeks)
		}
		return nil
	},
}

func init() {
	userCreateCmd.Flags().StringVar(&userName, "name", "", "User name (required)")
	userCreateCmd.Flags().StringVar(&userGoal, "goal", "", "Career goal (required)")
	userCreateCmd.Flags().StringVar(&userLevel, "level", "", "Current skill level")
	userCreateCmd.Flags().IntVar(&userWeeklyHours, "hours", 10, "Available hours per week")
	userCreateCmd.Flags().IntVar(&userDeadlineWeeks, "deadline", 0, "Deadline in weeks (0 = flexible)")
	userCreateCmd.Flags().StringVar(&userSituation, "situation", "", "Current situation or constraints")
	userCreateCmd.MarkFlagRequired("name")
	userCreateCmd.MarkFlagRequired("goal")

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userShowCmd)
}
