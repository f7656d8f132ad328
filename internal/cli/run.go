package cli

import (
	"github.com/AnatoleLucet/ripple/internal"
	"github.com/AnatoleLucet/ripple/internal/observability"
	"github.com/AnatoleLucet/ripple/internal/scenario"
	"github.com/spf13/cobra"
)

type RunOptions struct {
	*RootOptions

	Pretty bool
	Values bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario and print its trace",
		Long: `Run a scenario: create its cells, register its subscribers and apply its
steps, printing every commit, notification and failure in order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Pretty, "pretty", false, "style the trace for a terminal")
	cmd.Flags().BoolVar(&opts.Values, "values", false, "print final cell values")

	return cmd
}

func runScenario(opts *RunOptions, path string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr())

	sc, err := scenario.Load(path)
	if err != nil {
		return err
	}

	logger.Debug("running scenario", "name", sc.Name, "cells", len(sc.Cells), "steps", len(sc.Steps))

	result, err := scenario.Run(sc,
		internal.WithLogger(logger),
		internal.WithObserver(observability.NewSlogObserver(logger)),
	)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	writeTrace(out, result.Trace, opts.Pretty)
	if opts.Values {
		writeValues(out, result.Values, opts.Pretty)
	}

	return nil
}
