package cmd

import (
	"github.com/spf13/cobra"
)

var uninstallCmd = &cobra.Command{
	Use:     "uninstall",
	Aliases: []string{"remove"},
	Short:   "Remove the svcmon system service",
	Long:    "Removes the service registration. The database and log files are kept.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return control(cmd, "uninstall", "svcmon uninstalled successfully")
	},
}

func init() {
	rootCmd.AddCommand(uninstallCmd)
}
