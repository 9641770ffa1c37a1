package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Owner string
	JSON  bool
}

// NewScanCommand creates the scan command.
func NewScanCommand(root *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Report dangling relationships and cycles",
		Long: `Run a read-only integrity scan over the relationship graph.

The command exits with status 2 when the scan finds violations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "scan one owner instead of all")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the full report as JSON")

	return cmd
}

func runScan(ctx context.Context, opts *ScanOptions, out io.Writer) error {
	rt, err := newRuntime(ctx, opts.Config, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	report, err := rt.services.Scanner.Scan(ctx, opts.Owner)
	if err != nil {
		return err
	}

	if err := printReport(out, report, opts.JSON); err != nil {
		return err
	}

	if !report.OK() {
		return &ExitError{
			Code:    ExitViolations,
			Message: fmt.Sprintf("integrity scan found %d dangling relationships and %d cycles", report.DanglingCount, report.CycleCount),
		}
	}
	return nil
}

func printReport(out io.Writer, report *models.IntegrityReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(out, "relationships: %d\n", report.RelationshipCount)
	fmt.Fprintf(out, "dangling:      %d\n", report.DanglingCount)
	for _, d := range report.Dangling {
		fmt.Fprintf(out, "  %s (%s) %s endpoint %s is missing\n", d.RelationshipID, d.Owner, d.Endpoint, d.EntityID)
	}
	fmt.Fprintf(out, "cycles:        %d\n", report.CycleCount)
	for _, cycle := range report.Cycles {
		fmt.Fprintf(out, "  %v\n", cycle)
	}
	return nil
}
