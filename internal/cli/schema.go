package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/schema"
)

// SchemaOptions holds flags for the schema subcommands.
type SchemaOptions struct {
	*RootOptions
	File string
}

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand(root *RootOptions) *cobra.Command {
	opts := &SchemaOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage entity and relationship schemas",
	}
	cmd.PersistentFlags().StringVarP(&opts.File, "file", "f", "", "YAML schema file (required)")
	_ = cmd.MarkPersistentFlagRequired("file")

	cmd.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Upsert every schema in a YAML file",
		Long: `Upsert every schema in a YAML file. Each changed schema gets a new version.

Example:
  fern schema apply -f schemas.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemaApply(cmd.Context(), opts, cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Parse a YAML schema file without touching the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := schema.LoadFile(opts.File)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d schemas\n", opts.File, len(file.Schemas))
			return nil
		},
	})

	return cmd
}

func runSchemaApply(ctx context.Context, opts *SchemaOptions, out io.Writer) error {
	file, err := schema.LoadFile(opts.File)
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx, opts.Config, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	stored, err := rt.services.Schemas.Apply(ctx, file)
	for _, s := range stored {
		owner := s.Owner
		if owner == "" {
			owner = "global"
		}
		fmt.Fprintf(out, "%s %s/%s v%d\n", owner, s.SubjectKind, s.TypeName, s.Version)
	}
	return err
}
