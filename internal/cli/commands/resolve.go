package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/agrisim/internal/cli/output"
	"github.com/leapstack-labs/agrisim/internal/resolve"
)

// NewResolveCommand creates the resolve command.
func NewResolveCommand() *cobra.Command {
	var state, source string
	cmd := &cobra.Command{
		Use:   "resolve <name>",
		Short: "Show how a raw district name would resolve",
		Long: `Dry-run district name resolution against the current store. Nothing is
written: use this to tune resolver.threshold or to find names that need a
manual merge.`,
		Example: `  agrisim resolve "Ahmadnagar" --state Maharashtra
  agrisim resolve "PUNE " -o json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			rb, err := cc.Rebuilder()
			if err != nil {
				return err
			}
			res, err := rb.Explain(cmd.Context(), strings.Join(args, " "), resolve.Origin{Source: source, State: state})
			if err != nil {
				return err
			}
			return renderResolution(cc.Renderer, res)
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "State the name was observed under")
	cmd.Flags().StringVar(&source, "source", "cli", "Source name to attribute the lookup to")
	return cmd
}

func renderResolution(r *output.Renderer, res resolve.Resolution) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(res)
	}
	if r.EffectiveMode() == output.ModeText {
		r.Header(1, fmt.Sprintf("Resolve %q", res.Raw))
		r.KeyValue("Normalized", res.Normalized)
		if res.Scope != "" {
			r.KeyValue("Scope", res.Scope)
		}
		r.KeyValue("Outcome", res.Outcome)
		if res.DistrictID != "" {
			r.KeyValue("District", res.DistrictID)
			r.KeyValue("Score", fmt.Sprintf("%.3f", res.Score))
		}
		if len(res.Candidates) == 0 {
			return nil
		}
		r.Println("")
		r.Header(2, "Candidates")
	}
	rows := make([][]string, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		rows = append(rows, []string{c.DistrictID, c.Name, c.State, fmt.Sprintf("%.3f", c.Score)})
	}
	return r.Table([]string{"district_id", "name", "state", "score"}, rows)
}
