package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agp",
	Short: "Personal assistant gateway",
	Long:  "agp runs a personal AI assistant behind chat channels, with scheduled jobs and a heartbeat.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
