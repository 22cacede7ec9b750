package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the drover application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "drover",
	Short: "Drive declaratively described resources toward their desired state",
	Long: `drover is a resource reconciliation control-loop framework: a watcher
polls a resource store for changes, a leader-elected controller dispatches
phase handlers to converge each resource on its declared spec, and finalizers
gate physical deletion. Progress is bookmarked so a restarted process resumes
where it left off.`,
	// SilenceUsage prevents cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from the main
// package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "drover version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
