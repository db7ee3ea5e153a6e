package feature

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/agrisim/pkg/core"
)

// Base feature names.
const (
	AvgTempC          = "avg_temp_c"
	SoilPH            = "soil_ph"
	SoilNitrogen      = "soil_nitrogen"
	SoilPhosphorus    = "soil_phosphorus"
	SoilPotassium     = "soil_potassium"
	SoilOrganicCarbon = "soil_organic_carbon"
	IrrigationShare   = "irrigation_share"
	FertilizerKgPerHa = "fertilizer_kg_per_ha"
	AreaHa            = "area_ha"
)

// Fixed input names.
const (
	WeatherMonths        = "weather_months"
	AnnualHistMean       = "annual_rain_hist_mean"
	AnnualHistStd        = "annual_rain_hist_std"
	SeasonHistMean       = "gs_rain_hist_mean"
	SeasonHistStd        = "gs_rain_hist_std"
	NormalAnnualRainfall = "normal_annual_rainfall_mm"
)

// Derived feature names.
const (
	AnnualRainfall       = "annual_rainfall_mm"
	SeasonRainfall       = "growing_season_rainfall_mm"
	RainfallAnomaly      = "rainfall_anomaly"
	GrowingSeasonAnomaly = "growing_season_anomaly"
	RainfallDeparture    = "rainfall_departure_pct"
)

// Feature groups.
const (
	GroupRainfall      = "rainfall"
	GroupSoilNutrients = "soil_nutrients"
)

const interactionSeparator = "_x_"

// DefaultGrowingSeason is used when no season is configured.
var DefaultGrowingSeason = []int{6, 7, 8, 9}

// DefaultInteractions are used when none are configured.
var DefaultInteractions = []Interaction{
	{Left: RainfallAnomaly, Right: IrrigationShare},
	{Left: SeasonRainfall, Right: FertilizerKgPerHa},
}

// Rain names the monthly rainfall base feature of month.
func Rain(month int) string { return fmt.Sprintf("rain_m%02d", month) }

// RainHistMean names the prior-year mean of a month's rainfall.
func RainHistMean(month int) string { return Rain(month) + "_hist_mean" }

// RainHistStd names the prior-year deviation of a month's rainfall.
func RainHistStd(month int) string { return Rain(month) + "_hist_std" }

// RainAnomaly names the z-score of a month's rainfall.
func RainAnomaly(month int) string { return fmt.Sprintf("rain_anomaly_m%02d", month) }

// Interaction is a product term of two features.
type Interaction struct {
	Left  string `koanf:"left" json:"left" yaml:"left"`
	Right string `koanf:"right" json:"right" yaml:"right"`
	Name  string `koanf:"name" json:"name,omitempty" yaml:"name,omitempty"`
}

// FeatureName returns Name or left_x_right.
func (i Interaction) FeatureName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Left + interactionSeparator + i.Right
}

// Config selects growing seasons and interaction terms.
type Config struct {
	GrowingSeasonMonths []int            `koanf:"growing_season_months" json:"growing_season_months"`
	GrowingSeasonByCrop map[string][]int `koanf:"growing_season_by_crop" json:"growing_season_by_crop,omitempty"`
	Interactions        []Interaction    `koanf:"interactions" json:"interactions,omitempty"`
}

// Season returns the growing-season months for crop, sorted.
func (c Config) Season(crop string) []int {
	for k, months := range c.GrowingSeasonByCrop {
		if strings.EqualFold(strings.TrimSpace(k), crop) && len(months) > 0 {
			return sortedMonths(months)
		}
	}
	if len(c.GrowingSeasonMonths) > 0 {
		return sortedMonths(c.GrowingSeasonMonths)
	}
	return slices.Clone(DefaultGrowingSeason)
}

func sortedMonths(months []int) []int {
	out := slices.Clone(months)
	slices.Sort(out)
	return slices.Compact(out)
}

// interactions returns the configured terms or the defaults.
func (c Config) interactions() []Interaction {
	if c.Interactions == nil {
		return DefaultInteractions
	}
	return c.Interactions
}

// Validate checks month ranges and interaction operands.
func (c Config) Validate() error {
	check := func(what string, months []int) error {
		for _, m := range months {
			if m < 1 || m > 12 {
				return fmt.Errorf("%s: month %d out of range 1..12", what, m)
			}
		}
		return nil
	}
	if err := check("growing_season_months", c.GrowingSeasonMonths); err != nil {
		return err
	}
	for crop, months := range c.GrowingSeasonByCrop {
		if err := check("growing_season_by_crop."+crop, months); err != nil {
			return err
		}
	}
	for i, in := range c.interactions() {
		if in.Left == "" || in.Right == "" {
			return fmt.Errorf("interactions[%d]: left and right are required", i)
		}
	}
	return nil
}

// BaseFeatures lists the adjustable base features, sorted.
func BaseFeatures() []string {
	names := []string{
		AvgTempC,
		SoilPH, SoilNitrogen, SoilPhosphorus, SoilPotassium, SoilOrganicCarbon,
		IrrigationShare, FertilizerKgPerHa, AreaHa,
	}
	for m := 1; m <= 12; m++ {
		names = append(names, Rain(m))
	}
	slices.Sort(names)
	return names
}

// FixedFeatures lists the inputs observed from history for a season, sorted.
// Scenarios read them but never adjust them.
func FixedFeatures(season []int) []string {
	names := []string{WeatherMonths, AnnualHistMean, AnnualHistStd, SeasonHistMean, SeasonHistStd, NormalAnnualRainfall}
	for _, m := range season {
		names = append(names, RainHistMean(m), RainHistStd(m))
	}
	slices.Sort(names)
	return names
}

func hasWeather(v core.Value) bool { return v.Valid && v.Float > 0 }

// StandardRegistry compiles the base, derived and group features for one
// growing season.
func StandardRegistry(season []int, interactions []Interaction) (*Registry, error) {
	r := NewRegistry()
	if err := r.Base(BaseFeatures()...); err != nil {
		return nil, err
	}
	if err := r.Fixed(FixedFeatures(season)...); err != nil {
		return nil, err
	}

	rain := make([]string, 12)
	for m := 1; m <= 12; m++ {
		rain[m-1] = Rain(m)
	}
	monthly := func(args []core.Value) ([12]core.Value, core.Value) {
		var out [12]core.Value
		copy(out[:], args[:12])
		return out, args[12]
	}

	defs := []Definition{
		{
			Name:   AnnualRainfall,
			Inputs: append(slices.Clone(rain), WeatherMonths),
			Compute: func(args []core.Value) core.Value {
				months, wm := monthly(args)
				return SeasonSum(months, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, hasWeather(wm))
			},
		},
		{
			Name:   SeasonRainfall,
			Inputs: append(slices.Clone(rain), WeatherMonths),
			Compute: func(args []core.Value) core.Value {
				months, wm := monthly(args)
				return SeasonSum(months, season, hasWeather(wm))
			},
		},
		{
			Name:    RainfallAnomaly,
			Inputs:  []string{AnnualRainfall, AnnualHistMean, AnnualHistStd},
			Compute: func(a []core.Value) core.Value { return Anomaly(a[0], a[1], a[2]) },
		},
		{
			Name:    GrowingSeasonAnomaly,
			Inputs:  []string{SeasonRainfall, SeasonHistMean, SeasonHistStd},
			Compute: func(a []core.Value) core.Value { return Anomaly(a[0], a[1], a[2]) },
		},
		{
			Name:    RainfallDeparture,
			Inputs:  []string{AnnualRainfall, NormalAnnualRainfall},
			Compute: func(a []core.Value) core.Value { return Departure(a[0], a[1]) },
		},
	}
	for _, m := range season {
		defs = append(defs, Definition{
			Name:    RainAnomaly(m),
			Inputs:  []string{Rain(m), RainHistMean(m), RainHistStd(m)},
			Compute: func(a []core.Value) core.Value { return Anomaly(a[0], a[1], a[2]) },
		})
	}
	for _, in := range interactions {
		defs = append(defs, Definition{
			Name:    in.FeatureName(),
			Inputs:  []string{in.Left, in.Right},
			Compute: func(a []core.Value) core.Value { return Product(a[0], a[1]) },
		})
	}
	for _, def := range defs {
		if err := r.Define(def); err != nil {
			return nil, err
		}
	}

	if err := r.Group(GroupRainfall, rain...); err != nil {
		return nil, err
	}
	if err := r.Group(GroupSoilNutrients, SoilNitrogen, SoilPhosphorus, SoilPotassium); err != nil {
		return nil, err
	}
	if err := r.Compile(); err != nil {
		return nil, err
	}
	return r, nil
}
