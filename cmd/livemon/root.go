package main

import (
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	configFile string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "livemon",
		Short: "Watch log files and commands, and ship the events they produce",
		Long: `livemon follows log files and periodically runs shell commands, extracts
structured events with named regular expressions, and forwards each event to
Elasticsearch, Kafka, S3 or stdout.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Force debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
