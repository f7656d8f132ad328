package cli

import (
	"fmt"
	"os"

	"github.com/AnatoleLucet/ripple/internal/config"
	"github.com/AnatoleLucet/ripple/internal/scenario"
	"github.com/spf13/cobra"
)

type ValidateOptions struct {
	*RootOptions

	Scenario bool
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <file.yaml>",
		Short: "Validate a config file or, with --scenario, a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Scenario, "scenario", false, "validate a scenario instead of a config file")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	if opts.Scenario {
		sc, err := scenario.Load(path)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), success(fmt.Sprintf("scenario %q valid", sc.Name), false))
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := config.Validate(data); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), success("config valid", false))
	return nil
}
