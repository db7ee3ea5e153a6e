package commands

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/agrisim/internal/cli/output"
	"github.com/leapstack-labs/agrisim/internal/scenario"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

// SimulateOptions holds options for the simulate command.
type SimulateOptions struct {
	Predict   bool
	Attribute bool
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand() *cobra.Command {
	opts := &SimulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate <request.yaml|request.json>",
		Short: "Run a what-if scenario against one base row",
		Long: `Apply the adjustments of a scenario request to a base feature vector and
recompute every derived feature that depends on them. With a model
configured (model.url) the base and scenario are also scored.

A request looks like:

  base_key: {district_id: 5d1e..., year: 2010, crop: rice}
  adjustments:
    rainfall: {mode: relative, value: -20}
    irrigation_share: {mode: absolute, value: 0.1}
  predict: true`,
		Example: `  agrisim simulate drought.yaml
  agrisim simulate drought.yaml --predict --model-url http://localhost:9000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Predict, "predict", false, "Score base and scenario with the configured model")
	cmd.Flags().BoolVar(&opts.Attribute, "attribute", false, "Ask the model for feature attributions")
	cmd.Flags().String("model-url", "", "Remote scorer base URL (overrides model.url)")
	return cmd
}

func runSimulate(cmd *cobra.Command, path string, opts *SimulateOptions) error {
	req, err := scenario.ReadRequestFile(path)
	if err != nil {
		return err
	}
	req.Predict = req.Predict || opts.Predict
	req.Attribute = req.Attribute || opts.Attribute

	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	_, svc, _, err := cc.Service()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	resp, err := svc.Run(ctx, req)
	if err != nil {
		return err
	}
	r := cc.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(resp)
	}
	base, err := svc.Base(ctx, resp.BaseKey)
	if err != nil {
		return err
	}
	return renderScenario(r, base, resp)
}

func renderScenario(r *output.Renderer, base core.FeatureVector, resp *scenario.Response) error {
	if r.EffectiveMode() == output.ModeText {
		r.Header(1, "Scenario "+resp.BaseKey.String())
	}
	rows := make([][]string, 0, len(resp.Adjusted)+len(resp.Recomputed))
	for _, group := range [][]string{resp.Adjusted, resp.Recomputed} {
		for _, name := range group {
			before, after := base.Get(name), resp.Features.Get(name)
			rows = append(rows, []string{name, cell(before), cell(after), delta(before, after)})
		}
	}
	if err := r.Table([]string{"feature", "base", "scenario", "change"}, rows); err != nil {
		return err
	}
	if r.EffectiveMode() != output.ModeText {
		return nil
	}

	if resp.Prediction != nil {
		r.Println("")
		if resp.BasePrediction != nil {
			r.KeyValue("Base prediction", formatFloat(*resp.BasePrediction))
		}
		r.KeyValue("Scenario prediction", formatFloat(*resp.Prediction))
		if resp.BasePrediction != nil {
			r.KeyValue("Change", fmt.Sprintf("%+.4g", *resp.Prediction-*resp.BasePrediction))
		}
	}
	if len(resp.Attribution) > 0 {
		r.Println("")
		r.Header(2, "Attribution")
		attr := make([][]string, 0, len(resp.Attribution))
		for _, name := range slices.Sorted(maps.Keys(resp.Attribution)) {
			attr = append(attr, []string{name, formatFloat(resp.Attribution[name])})
		}
		return r.Table([]string{"feature", "contribution"}, attr)
	}
	return nil
}

func delta(before, after core.Value) string {
	if !before.Valid || !after.Valid {
		return ""
	}
	return fmt.Sprintf("%+.4g", after.Float-before.Float)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
