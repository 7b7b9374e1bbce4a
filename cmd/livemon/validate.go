package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/livemon/internal/config"
	"github.com/therealutkarshpriyadarshi/livemon/internal/pipeline"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and list the watchers it defines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		return printSummary(cmd.OutOrStdout(), cfg)
	},
}

// printSummary writes one line per watcher the configuration expands to
func printSummary(w io.Writer, cfg *config.Config) error {
	fmt.Fprintf(w, "Configuration %s is valid\n", configFile)

	for _, lc := range cfg.LogConfigs {
		paths, err := pipeline.ExpandPaths(lc.Path)
		if err != nil {
			return err
		}

		names := make([]string, len(lc.Events))
		for i, e := range lc.Events {
			names[i] = e.Name
		}

		fmt.Fprintf(w, "log %s: %d file(s), events [%s]\n", lc.Path, len(paths), strings.Join(names, ", "))
		for _, p := range paths {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}

	for _, cc := range cfg.CmdConfigs {
		for _, e := range cc.Events {
			schedule := "once"
			if e.Repeat != nil {
				schedule = fmt.Sprintf("every %v", e.RepeatInterval())
			}
			fmt.Fprintf(w, "command %s: %q %s, %d target(s)\n", e.Name, e.Command, schedule, len(e.Targets))
		}
	}

	kinds := cfg.TargetKinds()
	sinks := make([]string, len(kinds))
	for i, k := range kinds {
		sinks[i] = string(k)
	}
	fmt.Fprintf(w, "sinks: [%s]\n", strings.Join(sinks, ", "))

	return nil
}
