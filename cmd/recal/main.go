package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "recal",
	Short: "recal - adaptive roadmap recalibration",
	Long:  `recal keeps personal learning roadmaps honest: it tracks task progress against the plan, detects drift, and regenerates the plan when reality has moved too far from it.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr    string
	configPath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7380", "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (YAML)")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(roadmapCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(progressCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
