package cmd

import (
	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install svcmon as a system service",
	Long: "Registers svcmon with the host service manager (Windows SCM, systemd, ...).\n" +
		"The service is started with the --config path given here.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return control(cmd, "install", "svcmon installed successfully")
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
}
