package commands

import (
	"errors"

	"github.com/spf13/cobra"
)

// NewRebuildCommand creates the rebuild command.
func NewRebuildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the normalized store from the configured sources",
		Long: `Load every configured source, resolve district names to canonical
districts and replace each normalized table.

Rows that fail to resolve or validate are excluded and counted in the run
report. A table whose source fails to load keeps its previous contents.
Running rebuild twice on the same inputs produces identical tables.`,
		Example: `  # Rebuild using ./agrisim.yaml
  agrisim rebuild

  # Override the match threshold for this run
  agrisim rebuild --threshold 0.92

  # Machine-readable report
  agrisim rebuild -o json`,
		Args: cobra.NoArgs,
		RunE: runRebuild,
	}
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if len(cc.Cfg.Sources) == 0 {
		return errors.New("no sources configured\nHint: add a sources list to agrisim.yaml")
	}
	rb, err := cc.Rebuilder()
	if err != nil {
		return err
	}
	report, err := rb.Rebuild(cmd.Context(), cc.Cfg.Sources)
	if err != nil {
		return err
	}
	return renderReport(cc.Renderer, report)
}
