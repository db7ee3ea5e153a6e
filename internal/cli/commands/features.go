package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/agrisim/internal/cli/output"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

// NewFeaturesCommand creates the features command.
func NewFeaturesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "features <district_id> <year> <crop>",
		Short: "Print the feature vector of one ABT row",
		Long: `Derive the feature vector for one (district, year, crop): base features
from the ABT plus rainfall anomalies against the district's prior years,
growing-season totals and interactions. Features without enough history are
empty.`,
		Example: `  agrisim features 5d1e... 2010 rice
  agrisim features 5d1e... 2010 rice -o json`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKeyArgs(args)
			if err != nil {
				return err
			}
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			_, p, err := cc.Pipeline()
			if err != nil {
				return err
			}
			v, err := p.Vector(cmd.Context(), key)
			if err != nil {
				return err
			}
			return renderVector(cc.Renderer, v)
		},
	}
}

func parseKeyArgs(args []string) (core.Key, error) {
	year, err := strconv.Atoi(args[1])
	if err != nil {
		return core.Key{}, fmt.Errorf("year must be an integer, got %q", args[1])
	}
	return core.Key{DistrictID: args[0], Year: year, Crop: args[2]}, nil
}

func renderVector(r *output.Renderer, v core.FeatureVector) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(v)
	}
	if r.EffectiveMode() == output.ModeText {
		r.Header(1, "Features "+v.Key.String())
	}
	names := v.Names()
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, cell(v.Get(name))})
	}
	return r.Table([]string{"feature", "value"}, rows)
}
