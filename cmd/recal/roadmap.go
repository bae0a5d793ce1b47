package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aveline-ai/recal/internal/models"
)

var roadmapCmd = &cobra.Command{
	Use:   "roadmap",
	Short: "Generate, view and rebalance roadmaps",
}

var roadmapGenerateCmd = &cobra.Command{
	Use:   "generate <user-id>",
	Short: "Generate the first roadmap version for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(mutedStyle.Render("Generating roadmap, this can take a minute..."))
		body, err := apiPost("/users/"+args[0]+"/roadmap", nil)
		if err != nil {
			return err
		}

		var version models.RoadmapVersion
		if err := json.Unmarshal(body, &version); err != nil {
			return err
		}
		printVersion(&version)
		return nil
	},
}

var roadmapShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show the active roadmap with task status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiGet("/users/" + args[0] + "/roadmap")
		if err != nil {
			return err
		}

		var view struct {
			Version *models.RoadmapVersion `json:"version"`
			Tasks   []models.Task          `json:"tasks"`
		}
		if err := json.Unmarshal(body, &view); err != nil {
			return err
		}

		printVersion(view.Version)

		// Index tasks by week for display under the plan structure.
		byWeek := make(map[int][]models.Task)
		for _, task := range view.Tasks {
			byWeek[task.WeekNumber] = append(byWeek[task.WeekNumber], task)
		}

		for _, phase := range view.Version.Phases {
			fmt.Println(headerStyle.Render("Phase: " + phase.Name))
			for _, week := range phase.Weeks {
				line := fmt.Sprintf("  Week %d", week.Number)
				if week.FocusSkill != "" {
					line += mutedStyle.Render(" - " + week.FocusSkill)
				}
				fmt.Println(line)
				for _, task := range byWeek[week.Number] {
					fmt.Printf("    [%s] %s %s\n", renderStatus(task.Status), task.Title, mutedStyle.Render(task.ID))
				}
			}
		}
		return nil
	},
}

var roadmapHistoryCmd = &cobra.Command{
	Use:   "history <user-id>",
	Short: "Show the version chain, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiGet("/users/" + args[0] + "/history")
		if err != nil {
			return err
		}

		var versions []models.RoadmapVersion
		if err := json.Unmarshal(body, &versions); err != nil {
			return err
		}

		if len(versions) == 0 {
			fmt.Println(mutedStyle.Render("No roadmap versions yet"))
			return nil
		}
		for _, v := range versions {
			status := mutedStyle.Render(string(v.Status))
			if v.Status == models.VersionStatusActive {
				status = completedStyle.Render(string(v.Status))
			}
			fmt.Printf("v%d  %s  %s  %s  %s\n",
				v.Sequence, v.ID, status, v.Reason, v.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var roadmapRebalanceCmd = &cobra.Command{
	Use:   "rebalance <user-id>",
	Short: "Request a manual rebalance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(mutedStyle.Render("Rebalancing, this can take a minute..."))
		body, err := apiPost("/users/"+args[0]+"/rebalance", nil)
		if err != nil {
			return err
		}

		var version models.RoadmapVersion
		if err := json.Unmarshal(body, &version); err != nil {
			return err
		}
		fmt.Println(titleStyle.Render("Rebalance complete"))
		printVersion(&version)
		return nil
	},
}

func printVersion(v *models.RoadmapVersion) {
	fmt.Printf("%s %s\n", titleStyle.Render(fmt.Sprintf("Roadmap v%d", v.Sequence)), mutedStyle.Render(v.ID))
	fmt.Printf("  Status:  %s\n", v.Status)
	fmt.Printf("  Reason:  %s\n", v.Reason)
	fmt.Printf("  Weeks:   %d\n", v.TotalWeeks)
	fmt.Printf("  Created: %s\n", v.CreatedAt.Format("2006-01-02 15:04"))
}

func init() {
	roadmapCmd.AddCommand(roadmapGenerateCmd)
	roadmapCmd.AddCommand(roadmapShowCmd)
	roadmapCmd.AddCommand(roadmapHistoryCmd)
	roadmapCmd.AddCommand(roadmapRebalanceCmd)
}
