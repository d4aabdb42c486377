package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath  string
	definitions []string
	jsonOutput  bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "workflowctl",
		Short: "Inspect and drive entity workflows",
		Long: `workflowctl loads workflow definitions from YAML files and runs
transitions for entities against the configured state store.

Entities are addressed by their canonical id "provider::identifier" and are
stored as plain key/value documents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the config file")
	cmd.PersistentFlags().StringArrayVarP(&opts.definitions, "definition", "d", nil, "Workflow definition file (repeatable, adds to the config list)")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Print JSON instead of tables")

	cmd.AddCommand(
		newWorkflowsCommand(opts),
		newValidateCommand(opts),
		newTransitionsCommand(opts),
		newTransitCommand(opts),
		newHistoryCommand(opts),
	)
	return cmd
}
