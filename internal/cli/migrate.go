package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply the embedded migrations for DB_DRIVER.

DB_MIGRATION_VERSION pins a target version, DB_MIGRATION_FORCE clears a dirty
state before migrating.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), root.Config, runtimeOptions{Migrate: true})
			if err != nil {
				return err
			}
			rt.Close(context.Background())
			return nil
		},
	}
}
