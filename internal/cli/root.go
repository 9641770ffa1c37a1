package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/config"
)

const (
	ExitSuccess    = 0
	ExitFailure    = 1
	ExitViolations = 2
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// RootOptions holds global flags and the configuration loaded from them.
type RootOptions struct {
	EnvFile string
	Version string
	Config  *config.Config
}

// NewRootCommand creates the fern command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: version}

	cmd := &cobra.Command{
		Use:           "fern",
		Short:         "Fern - an observation-sourced entity graph",
		Long:          "Fern stores append-only observations about entities and relationships and reduces them into snapshots.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.EnvFile)
			if err != nil {
				return err
			}
			opts.Config = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the environment")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))

	return cmd
}
