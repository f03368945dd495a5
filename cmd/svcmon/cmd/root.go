// Package cmd implements the svcmon CLI commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stone-age-io/svcmon/internal/config"
)

var cfgFile string

// Build info set from main.
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersionInfo sets the version info from build-time ldflags.
func SetVersionInfo(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("svcmon version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

var rootCmd = &cobra.Command{
	Use:   "svcmon",
	Short: "svcmon watches host services and keeps them in their expected state",
	Long: "svcmon periodically enumerates the services installed on this host, records new\n" +
		"ones in its database, logs services that drift from their expected state and,\n" +
		"where the operator asked for it, starts or stops them to correct the drift.\n\n" +
		"Run without a subcommand to start the monitor, either under the service manager\n" +
		"or interactively from a console.",
	SilenceUsage: true,
	RunE:         runMonitor,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.GetDefaultConfigPath(), "config file path")

	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("svcmon version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
