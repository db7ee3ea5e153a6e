package scenario

import (
	"math"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/agrisim/internal/feature"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

const soilIrrigation = "soil_ph_x_irrigation_share"

func testRegistry(t *testing.T) *feature.Registry {
	t.Helper()
	interactions := append(slices.Clone(feature.DefaultInteractions),
		feature.Interaction{Left: feature.SoilPH, Right: feature.IrrigationShare})
	reg, err := feature.StandardRegistry(feature.DefaultGrowingSeason, interactions)
	require.NoError(t, err)
	return reg
}

func baseVector(t *testing.T, reg *feature.Registry) core.FeatureVector {
	t.Helper()
	v := core.NewFeatureVector(core.Key{DistrictID: "pune", Year: 2004, Crop: "rice"})
	for _, name := range append(reg.BaseNames(), reg.FixedNames()...) {
		v.Values[name] = core.Null()
	}
	for m := 2; m <= 12; m++ {
		v.Values[feature.Rain(m)] = core.Some(float64(10 * m))
	}
	v.Values[feature.WeatherMonths] = core.Some(11)
	v.Values[feature.SoilPH] = core.Some(7)
	v.Values[feature.IrrigationShare] = core.Some(0.5)
	v.Values[feature.FertilizerKgPerHa] = core.Some(120)
	v.Values[feature.AnnualHistMean] = core.Some(700)
	v.Values[feature.AnnualHistStd] = core.Some(50)
	v.Values[feature.SeasonHistMean] = core.Some(280)
	v.Values[feature.SeasonHistStd] = core.Some(20)
	v.Values[feature.NormalAnnualRainfall] = core.Some(800)
	require.NoError(t, reg.Evaluate(v))
	return v
}

func TestSimulateEmptyEqualsBase(t *testing.T) {
	reg := testRegistry(t)
	base := baseVector(t, reg)
	sim := NewSimulator(reg)

	for _, adj := range []Adjustments{nil, {}} {
		out, err := sim.Simulate(base, adj)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(base, out))
	}
}

func TestSimulateRelativeRainfall(t *testing.T) {
	reg := testRegistry(t)
	base := baseVector(t, reg)
	before := base.Clone()
	sim := NewSimulator(reg)
	adj := Adjustments{}.Set(feature.GroupRainfall, ModeRelative, -20)

	first, err := sim.Simulate(base, adj)
	require.NoError(t, err)
	second, err := sim.Simulate(base, adj)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(first, second), "simulation must be deterministic")
	assert.Empty(t, cmp.Diff(before, base), "base must not be mutated")

	assert.InDelta(t, 48.0, first.Get(feature.Rain(6)).Float, 1e-9)
	assert.Equal(t, core.Null(), first.Get(feature.Rain(1)), "null stays null")
	// 0.8 * (20+30+...+120)
	assert.InDelta(t, 0.8*770, first.Get(feature.AnnualRainfall).Float, 1e-9)
	assert.InDelta(t, (0.8*770-700)/50, first.Get(feature.RainfallAnomaly).Float, 1e-9)
	assert.NotEqual(t, base.Get(feature.RainfallAnomaly), first.Get(feature.RainfallAnomaly))

	// nothing downstream of rainfall moves
	for _, name := range []string{feature.SoilPH, feature.IrrigationShare, soilIrrigation, feature.AnnualHistMean} {
		assert.Equal(t, base.Get(name), first.Get(name), name)
	}
	affected := reg.Affected(reg.Expand(feature.GroupRainfall))
	for _, name := range reg.DerivedNames() {
		if !slices.Contains(affected, name) {
			assert.Equal(t, base.Get(name), first.Get(name), name)
		}
	}
}

func TestSimulateRecomputesDepartureAgainstFixedNormal(t *testing.T) {
	reg := testRegistry(t)
	base := baseVector(t, reg)
	sim := NewSimulator(reg)
	// 770 against a normal of 800
	assert.InDelta(t, -3.75, base.Get(feature.RainfallDeparture).Float, 1e-9)

	out, err := sim.Simulate(base, Adjustments{}.Set(feature.GroupRainfall, ModeRelative, 20))
	require.NoError(t, err)
	assert.InDelta(t, (1.2*770-800)/8, out.Get(feature.RainfallDeparture).Float, 1e-9)
	assert.Equal(t, base.Get(feature.NormalAnnualRainfall), out.Get(feature.NormalAnnualRainfall))

	_, err = sim.Plan(Adjustments{}.Set(feature.NormalAnnualRainfall, ModeRelative, 10))
	assert.Equal(t, core.KindUnknownFeature, core.KindOf(err))
}

func TestPlanRecomputesOnceInOrder(t *testing.T) {
	reg := testRegistry(t)
	sim := NewSimulator(reg)

	p, err := sim.Plan(Adjustments{}.
		Set(feature.GroupRainfall, ModeRelative, 10).
		Set(feature.IrrigationShare, ModeAbsolute, 0.1))
	require.NoError(t, err)

	rec := p.Recomputed()
	seen := make(map[string]bool)
	for _, name := range rec {
		assert.False(t, seen[name], "%s recomputed twice", name)
		seen[name] = true
	}
	term := "rainfall_anomaly_x_irrigation_share"
	require.Contains(t, rec, term)
	assert.Less(t, slices.Index(rec, feature.AnnualRainfall), slices.Index(rec, feature.RainfallAnomaly))
	assert.Less(t, slices.Index(rec, feature.RainfallAnomaly), slices.Index(rec, term))
	assert.Contains(t, rec, soilIrrigation)
	assert.Len(t, p.Adjusted(), 13)
}

func TestSimulateAbsolute(t *testing.T) {
	reg := testRegistry(t)
	base := baseVector(t, reg)
	sim := NewSimulator(reg)

	p, err := sim.Plan(Adjustments{}.Set(feature.IrrigationShare, ModeAbsolute, 0.25))
	require.NoError(t, err)
	assert.Equal(t, []string{"rainfall_anomaly_x_irrigation_share", soilIrrigation}, p.Recomputed())

	res, err := sim.Apply(base, p)
	require.NoError(t, err)
	assert.Equal(t, core.Some(0.75), res.Vector.Get(feature.IrrigationShare))
	assert.Equal(t, core.Some(7*0.75), res.Vector.Get(soilIrrigation))
	assert.Equal(t, base.Get(feature.AnnualRainfall), res.Vector.Get(feature.AnnualRainfall))
	assert.Equal(t, []string{feature.IrrigationShare}, res.Adjusted)
}

func TestPlanRejects(t *testing.T) {
	reg := testRegistry(t)
	sim := NewSimulator(reg)

	tests := []struct {
		name     string
		adj      Adjustments
		kind     core.ErrorKind
		features []string
	}{
		{
			name:     "same feature twice",
			adj:      Adjustments{}.Set("rain_m06", ModeRelative, 10).Set("rain_m06", ModeAbsolute, 5),
			kind:     core.KindConflictingAdjustment,
			features: []string{"rain_m06"},
		},
		{
			name:     "group overlaps member",
			adj:      Adjustments{}.Set("rain_m07", ModeAbsolute, 5).Set(feature.GroupRainfall, ModeRelative, -20),
			kind:     core.KindConflictingAdjustment,
			features: []string{"rain_m07"},
		},
		{
			name:     "unknown feature",
			adj:      Adjustments{}.Set("humidity", ModeRelative, 10),
			kind:     core.KindUnknownFeature,
			features: []string{"humidity"},
		},
		{
			name:     "derived feature",
			adj:      Adjustments{}.Set(feature.RainfallAnomaly, ModeAbsolute, 1),
			kind:     core.KindUnknownFeature,
			features: []string{feature.RainfallAnomaly},
		},
		{
			name:     "history statistic",
			adj:      Adjustments{}.Set(feature.AnnualHistMean, ModeRelative, 10),
			kind:     core.KindUnknownFeature,
			features: []string{feature.AnnualHistMean},
		},
		{
			name:     "weather month count",
			adj:      Adjustments{}.Set(feature.WeatherMonths, ModeAbsolute, 1),
			kind:     core.KindUnknownFeature,
			features: []string{feature.WeatherMonths},
		},
		{
			name: "conflict before unknown",
			adj: Adjustments{}.Set("humidity", ModeRelative, 10).
				Set("rain_m06", ModeRelative, 10).Set(feature.GroupRainfall, ModeRelative, 5),
			kind:     core.KindConflictingAdjustment,
			features: []string{"rain_m06"},
		},
		{
			name:     "unknown before bad mode",
			adj:      Adjustments{}.Set(feature.SoilPH, Mode("multiply"), 2).Set("humidity", ModeRelative, 10),
			kind:     core.KindUnknownFeature,
			features: []string{"humidity"},
		},
		{
			name:     "bad mode",
			adj:      Adjustments{}.Set(feature.SoilPH, Mode("multiply"), 2),
			kind:     core.KindInvalidAdjustment,
			features: []string{feature.SoilPH},
		},
		{
			name:     "not a number",
			adj:      Adjustments{}.Set(feature.SoilPH, ModeAbsolute, math.NaN()),
			kind:     core.KindInvalidAdjustment,
			features: []string{feature.SoilPH},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sim.Plan(tt.adj)
			require.Error(t, err)
			assert.Equal(t, tt.kind, core.KindOf(err))
			assert.Equal(t, tt.features, core.FeaturesOf(err))
		})
	}
}
