package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/songzhibin97/entity-workflow/internal/config"
	"github.com/songzhibin97/entity-workflow/types"
	"github.com/songzhibin97/entity-workflow/workflow"
)

func newWorkflowsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "workflows",
		Short: "List the workflows of the loaded definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			workflows, err := loadWorkflows(cfg, config.NewLogger(cfg.Log, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			type row struct {
				Name     string   `json:"name"`
				Label    string   `json:"label"`
				Provider string   `json:"provider"`
				Start    string   `json:"start"`
				Steps    []string `json:"steps"`
			}
			rows := make([]row, 0, len(workflows))
			for _, wf := range workflows {
				r := row{Name: wf.Name(), Label: wf.Label(), Provider: wf.ProviderName()}
				if start, err := wf.StartTransition(); err == nil {
					r.Start = start.Name()
				}
				for _, step := range wf.Steps() {
					r.Steps = append(r.Steps, step.Name())
				}
				rows = append(rows, r)
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "NAME\tLABEL\tPROVIDER\tSTART\tSTEPS")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Label, r.Provider, r.Start, strings.Join(r.Steps, ","))
			}
			return w.Flush()
		},
	}
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that the definitions build into workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			workflows, err := loadWorkflows(cfg, config.NewLogger(cfg.Log, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[OK] %d workflow(s) in %d file(s)\n", len(workflows), len(cfg.Definitions))
			return nil
		},
	}
}

func newTransitionsCommand(opts *rootOptions) *cobra.Command {
	var entityFlag string

	cmd := &cobra.Command{
		Use:     "transitions",
		Short:   "List the transitions available for an entity",
		Example: `  workflowctl -d review.yaml transitions --entity document::42`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := types.ParseEntityID(entityFlag)
			if err != nil {
				return err
			}
			env, err := openEnvironment(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := cmd.Context()
			item, err := env.loadItem(ctx, id)
			if err != nil {
				return err
			}
			wf, err := env.workflowOf(item)
			if err != nil {
				return err
			}
			available, err := wf.AvailableTransitions(item, workflow.NewContext(nil))
			if err != nil {
				return err
			}

			type row struct {
				Name     string   `json:"name"`
				To       string   `json:"to"`
				Requires []string `json:"requires,omitempty"`
			}
			rows := make([]row, 0, len(available))
			for _, t := range available {
				rows = append(rows, row{
					Name:     t.Name(),
					To:       t.StepTo().WorkflowName() + ":" + t.StepTo().Name(),
					Requires: t.RequiredPayloadProperties(item),
				})
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintf(w, "workflow %s, step %q\n", wf.Name(), item.CurrentStepName())
			fmt.Fprintln(w, "TRANSITION\tTO\tREQUIRES")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.To, strings.Join(r.Requires, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&entityFlag, "entity", "e", "", "Entity id, provider::identifier")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func newTransitCommand(opts *rootOptions) *cobra.Command {
	var (
		entityFlag     string
		transitionFlag string
		payloadFlags   []string
		dataFlags      []string
	)

	cmd := &cobra.Command{
		Use:   "transit",
		Short: "Run a transition for an entity",
		Long: `Transit validates the payload against the transition and records the new
state. Without --transition the start transition of the claiming workflow runs.

Values given with --payload and --data are parsed as YAML scalars, so
"true" is a boolean and "7" an integer.`,
		Example: `  workflowctl -d review.yaml transit -e document::42 --data title=Draft
  workflowctl -d review.yaml transit -e document::42 -t submit -p confirm=true`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := types.ParseEntityID(entityFlag)
			if err != nil {
				return err
			}
			payload, err := parseAssignments(payloadFlags)
			if err != nil {
				return fmt.Errorf("invalid --payload: %w", err)
			}
			data, err := parseAssignments(dataFlags)
			if err != nil {
				return fmt.Errorf("invalid --data: %w", err)
			}

			env, err := openEnvironment(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := cmd.Context()
			item, err := env.loadItem(ctx, id)
			if err != nil {
				return err
			}
			if len(data) > 0 {
				doc, _ := item.Entity().(entity)
				for k, v := range data {
					doc[k] = v
				}
				item.SetEntity(doc)
			}

			h, err := env.manager.Handle(ctx, item, transitionFlag)
			if err != nil {
				return err
			}
			if h == nil {
				return fmt.Errorf("no workflow claims %s", id)
			}
			if !h.Validate(payload) {
				return fmt.Errorf("transition %q is not allowed: %s", h.Transition().Name(), h.ErrorCollection())
			}
			state, err := h.Transit(ctx)
			if err != nil {
				return err
			}
			return printStates(cmd.OutOrStdout(), opts.jsonOutput, []workflow.State{state})
		},
	}
	cmd.Flags().StringVarP(&entityFlag, "entity", "e", "", "Entity id, provider::identifier")
	cmd.Flags().StringVarP(&transitionFlag, "transition", "t", "", "Transition name, default the start transition")
	cmd.Flags().StringArrayVarP(&payloadFlags, "payload", "p", nil, "Payload property key=value (repeatable)")
	cmd.Flags().StringArrayVar(&dataFlags, "data", nil, "Entity field key=value stored before the transition (repeatable)")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var entityFlag string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the recorded states of an entity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := types.ParseEntityID(entityFlag)
			if err != nil {
				return err
			}
			env, err := openEnvironment(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.Close()

			states, err := env.store.Find(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printStates(cmd.OutOrStdout(), opts.jsonOutput, states)
		},
	}
	cmd.Flags().StringVarP(&entityFlag, "entity", "e", "", "Entity id, provider::identifier")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

// parseAssignments turns key=value pairs into properties.
func parseAssignments(values []string) (types.Properties, error) {
	props := types.Properties{}
	for _, v := range values {
		key, raw, ok := strings.Cut(v, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", v)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		props.Set(key, value)
	}
	return props, nil
}

func printStates(out io.Writer, asJSON bool, states []workflow.State) error {
	if asJSON {
		records := make([]workflow.StateRecord, 0, len(states))
		for _, s := range states {
			records = append(records, s.Record())
		}
		return writeJSON(out, records)
	}
	w := newTable(out)
	fmt.Fprintln(w, "REACHED\tWORKFLOW\tTRANSITION\tSTEP\tOK\tERRORS")
	for _, s := range states {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			s.ReachedAt().Format(time.RFC3339),
			s.WorkflowName(),
			s.TransitionName(),
			s.StepName(),
			s.IsSuccessful(),
			errorCodes(s.Errors()),
		)
	}
	return w.Flush()
}

func errorCodes(records []types.ErrorRecord) string {
	codes := make([]string, 0, len(records))
	for _, r := range records {
		codes = append(codes, r.Code)
	}
	sort.Strings(codes)
	return strings.Join(codes, ",")
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
