package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/agrisim/internal/cli/output"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

// RunsOptions holds options for the runs command.
type RunsOptions struct {
	List   int
	Issues bool
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	opts := &RunsOptions{}
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show the latest rebuild report",
		Example: `  # Latest report
  agrisim runs

  # Every issue recorded by the latest run
  agrisim runs --issues

  # The ten most recent runs
  agrisim runs --list 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRuns(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.List, "list", 0, "List the N most recent runs instead")
	cmd.Flags().BoolVar(&opts.Issues, "issues", false, "Print every issue of the latest run")
	return cmd
}

func runRuns(cmd *cobra.Command, opts *RunsOptions) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()
	r := cc.Renderer

	if opts.List > 0 {
		runs, err := cc.Store.ListRuns(ctx, opts.List)
		if err != nil {
			return err
		}
		if r.EffectiveMode() == output.ModeJSON {
			return r.JSON(runs)
		}
		return r.Table([]string{"run_id", "status", "started", "completed"}, summaryRows(runs))
	}

	report, err := cc.Store.LatestRun(ctx)
	if errors.Is(err, core.ErrNotFound) {
		r.Muted("No rebuilds yet. Run `agrisim rebuild` first.")
		return nil
	}
	if err != nil {
		return err
	}
	if !opts.Issues {
		return renderReport(r, report)
	}

	issues, err := cc.Store.RunIssues(ctx, report.RunID)
	if err != nil {
		return err
	}
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(issues)
	}
	rows := make([][]string, 0, len(issues))
	for _, is := range issues {
		line := ""
		if is.Line > 0 {
			line = strconv.Itoa(is.Line)
		}
		rows = append(rows, []string{is.Source, line, string(is.Kind), is.RawName, is.Message})
	}
	if r.EffectiveMode() == output.ModeText {
		r.Header(1, fmt.Sprintf("Issues of %s", report.RunID))
	}
	return r.Table([]string{"source", "line", "kind", "raw_name", "message"}, rows)
}
