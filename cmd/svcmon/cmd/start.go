package cmd

import (
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the installed svcmon service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return control(cmd, "start", "svcmon started")
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the installed svcmon service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return control(cmd, "stop", "svcmon stopped")
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
}
