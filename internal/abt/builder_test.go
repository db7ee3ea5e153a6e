package abt

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/agrisim/internal/etl"
	"github.com/leapstack-labs/agrisim/internal/loader"
	"github.com/leapstack-labs/agrisim/internal/metrics"
	"github.com/leapstack-labs/agrisim/internal/resolve"
	"github.com/leapstack-labs/agrisim/internal/store"
	"github.com/leapstack-labs/agrisim/internal/testutil"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

var (
	puneID   = resolve.DistrictID("Maharashtra", "Pune")
	sataraID = resolve.DistrictID("Maharashtra", "Satara")
	rampurID = resolve.DistrictID("Uttar Pradesh", "Rampur")
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st := store.New(testutil.NewTestLogger(t))
	require.NoError(t, st.Open(filepath.Join(t.TempDir(), "agrisim.db")))
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ReplaceDistricts(ctx, []core.District{
		{ID: puneID, CanonicalName: "Pune", State: "Maharashtra"},
		{ID: sataraID, CanonicalName: "Satara", State: "Maharashtra"},
		{ID: rampurID, CanonicalName: "Rampur", State: "Uttar Pradesh"},
	}, nil))
	_, err := st.ReplaceYields(ctx, []core.YieldRecord{
		{DistrictID: puneID, Year: 2001, Crop: "rice", YieldKgPerHa: 2100, AreaHa: core.Some(50)},
		{DistrictID: puneID, Year: 2001, Crop: "wheat", YieldKgPerHa: 1500},
		{DistrictID: puneID, Year: 2002, Crop: "rice", YieldKgPerHa: 2200},
		{DistrictID: sataraID, Year: 2001, Crop: "rice", YieldKgPerHa: 1800},
		{DistrictID: rampurID, Year: 2002, Crop: "wheat", YieldKgPerHa: 3000},
	})
	require.NoError(t, err)
	_, err = st.ReplaceWeather(ctx, []core.WeatherObservation{
		{DistrictID: puneID, Year: 2001, Month: 6, RainfallMM: 100, AvgTempC: core.Some(28)},
		{DistrictID: puneID, Year: 2001, Month: 7, RainfallMM: 250, AvgTempC: core.Some(26)},
		{DistrictID: puneID, Year: 2002, Month: 6, RainfallMM: 80},
		{DistrictID: puneID, Year: 2003, Month: 6, RainfallMM: 120},
		{DistrictID: rampurID, Year: 2002, Month: 1, RainfallMM: 10},
	})
	require.NoError(t, err)
	_, err = st.ReplaceSoil(ctx, []core.SoilProfile{
		{DistrictID: puneID, SoilType: "black", PH: 7.2, Nitrogen: core.Some(1)},
	})
	require.NoError(t, err)
	_, err = st.ReplaceInputs(ctx, []core.InputRecord{
		{DistrictID: puneID, Year: 2001, IrrigationShare: core.Some(0.4)},
	})
	require.NoError(t, err)
	return st
}

func byKey(rows []Row) map[core.Key]Row {
	out := make(map[core.Key]Row, len(rows))
	for _, r := range rows {
		out[r.Key] = r
	}
	return out
}

func TestBuildJoinsAtYieldGrain(t *testing.T) {
	st := setupTestStore(t)
	b := New(st.DB(), testutil.NewTestLogger(t))

	rows, err := b.Collect(context.Background(), Filter{})
	require.NoError(t, err)
	// One row per crop_yields row even with several weather months joined.
	require.Len(t, rows, 5)

	got := byKey(rows)
	pune := got[core.Key{DistrictID: puneID, Year: 2001, Crop: "rice"}]
	assert.Equal(t, "Pune", pune.DistrictName)
	assert.Equal(t, "Maharashtra", pune.State)
	assert.Equal(t, 2100.0, pune.YieldKgPerHa)
	assert.Equal(t, core.Some(50), pune.AreaHa)
	assert.Equal(t, 2, pune.WeatherMonths)
	assert.True(t, pune.HasWeather())
	assert.Equal(t, core.Some(350), pune.AnnualRainfall)
	assert.Equal(t, core.Some(27), pune.AvgTempC)
	assert.Equal(t, core.Some(100), pune.Rain(6))
	assert.Equal(t, core.Some(250), pune.Rain(7))
	assert.Equal(t, core.Null(), pune.Rain(1))
	assert.Equal(t, core.Null(), pune.Rain(13))
	assert.Equal(t, "black", pune.SoilType)
	assert.Equal(t, core.Some(7.2), pune.SoilPH)
	assert.Equal(t, core.Some(1), pune.Nitrogen)
	assert.Equal(t, core.Null(), pune.Potassium)
	assert.Equal(t, core.Some(0.4), pune.IrrigationShare)
	assert.Equal(t, core.Null(), pune.FertilizerKgPerHa)

	satara := got[core.Key{DistrictID: sataraID, Year: 2001, Crop: "rice"}]
	assert.False(t, satara.HasWeather())
	assert.Equal(t, core.Null(), satara.AnnualRainfall)
	assert.Equal(t, core.Null(), satara.AvgTempC)
	assert.Equal(t, "", satara.SoilType)
	assert.Equal(t, core.Null(), satara.SoilPH)
	assert.Equal(t, core.Null(), satara.IrrigationShare)

	pune02 := got[core.Key{DistrictID: puneID, Year: 2002, Crop: "rice"}]
	assert.Equal(t, 1, pune02.WeatherMonths)
	assert.Equal(t, core.Some(80), pune02.AnnualRainfall)
	assert.Equal(t, core.Null(), pune02.AvgTempC)
	assert.Equal(t, core.Null(), pune02.IrrigationShare)
}

func TestBuildOrdering(t *testing.T) {
	st := setupTestStore(t)
	b := New(st.DB(), nil)

	rows, err := b.Collect(context.Background(), Filter{})
	require.NoError(t, err)
	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1].Key, rows[i].Key
		ordered := prev.DistrictID < cur.DistrictID ||
			(prev.DistrictID == cur.DistrictID && (prev.Year < cur.Year ||
				(prev.Year == cur.Year && prev.Crop < cur.Crop)))
		assert.True(t, ordered, "%s before %s", prev, cur)
	}
}

func TestBuildIsRestartable(t *testing.T) {
	st := setupTestStore(t)
	b := New(st.DB(), nil)
	ctx := context.Background()

	seq := b.Build(ctx, Filter{Crop: "rice"})
	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}
	assert.Equal(t, 3, count())
	assert.Equal(t, 3, count())

	_, err := st.ReplaceYields(ctx, []core.YieldRecord{
		{DistrictID: puneID, Year: 2001, Crop: "rice", YieldKgPerHa: 2100},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count(), "each iteration must see the current store")
}

func TestBuildStopsEarly(t *testing.T) {
	st := setupTestStore(t)
	b := New(st.DB(), nil)

	n := 0
	for _, err := range b.Build(context.Background(), Filter{}) {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestBuildFilters(t *testing.T) {
	st := setupTestStore(t)
	b := New(st.DB(), nil)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{name: "all", filter: Filter{}, want: 5},
		{name: "state display form", filter: Filter{State: "Maharashtra"}, want: 4},
		{name: "state normalized form", filter: Filter{State: "uttar pradesh"}, want: 1},
		{name: "crop any case", filter: Filter{Crop: "Wheat"}, want: 2},
		{name: "year from", filter: Filter{YearFrom: 2002}, want: 2},
		{name: "year to", filter: Filter{YearTo: 2001}, want: 3},
		{name: "district", filter: Filter{DistrictID: puneID}, want: 3},
		{name: "combined", filter: Filter{DistrictID: puneID, Crop: "rice", YearFrom: 2002, YearTo: 2002}, want: 1},
		{name: "no match", filter: Filter{Crop: "millet"}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := b.Collect(context.Background(), tt.filter)
			require.NoError(t, err)
			assert.Len(t, rows, tt.want)
		})
	}
}

func TestBuildRejectsInvertedRange(t *testing.T) {
	st := setupTestStore(t)
	b := New(st.DB(), nil)

	_, err := b.Collect(context.Background(), Filter{YearFrom: 2005, YearTo: 2001})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2005..2001")
}

func TestGet(t *testing.T) {
	st := setupTestStore(t)
	b := New(st.DB(), nil)
	ctx := context.Background()

	r, err := b.Get(ctx, core.Key{DistrictID: puneID, Year: 2002, Crop: "rice"})
	require.NoError(t, err)
	assert.Equal(t, 2200.0, r.YieldKgPerHa)

	_, err = b.Get(ctx, core.Key{DistrictID: puneID, Year: 1999, Crop: "rice"})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestHistory(t *testing.T) {
	st := setupTestStore(t)
	b := New(st.DB(), nil)

	hist, err := b.History(context.Background(), puneID)
	require.NoError(t, err)
	// 2003 has weather but no yield row and is still part of the series.
	require.Len(t, hist, 3)
	assert.Equal(t, 2001, hist[0].Year)
	assert.Equal(t, 2, hist[0].Months)
	assert.Equal(t, 350.0, hist[0].Annual)
	assert.Equal(t, core.Some(27), hist[0].AvgTempC)
	assert.Equal(t, core.Some(250), hist[0].Monthly[6])
	assert.Equal(t, 2002, hist[1].Year)
	assert.Equal(t, 80.0, hist[1].Annual)
	assert.Equal(t, 2003, hist[2].Year)

	empty, err := b.History(context.Background(), sataraID)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBuildJoinsAnnualNormal(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t)
	var normals []core.RainfallNormal
	for m := 1; m <= 12; m++ {
		normals = append(normals, core.RainfallNormal{DistrictID: puneID, Month: m, NormalMM: 60})
	}
	// Satara lacks eleven months, so it has no annual normal.
	normals = append(normals, core.RainfallNormal{DistrictID: sataraID, Month: 6, NormalMM: 120})
	_, err := st.ReplaceNormals(ctx, normals)
	require.NoError(t, err)

	rows, err := New(st.DB(), testutil.NewTestLogger(t)).Collect(ctx, Filter{Crop: "rice"})
	require.NoError(t, err)
	require.Len(t, rows, 3, "normals never fan out the yield grain")
	got := byKey(rows)
	assert.Equal(t, core.Some(720), got[core.Key{DistrictID: puneID, Year: 2001, Crop: "rice"}].NormalAnnualRainfall)
	assert.Equal(t, core.Some(720), got[core.Key{DistrictID: puneID, Year: 2002, Crop: "rice"}].NormalAnnualRainfall)
	assert.Equal(t, core.Null(), got[core.Key{DistrictID: sataraID, Year: 2001, Crop: "rice"}].NormalAnnualRainfall)
}

func TestRecord(t *testing.T) {
	r := Row{
		Key:          core.Key{DistrictID: "d1", Year: 2001, Crop: "rice"},
		DistrictName: "Pune",
		YieldKgPerHa: 2100.5,
		AreaHa:       core.Null(),
	}
	r.MonthlyRainfall[5] = core.Some(100)
	rec := r.Record()
	cols := Columns()
	require.Len(t, rec, len(cols))
	require.Len(t, columnTypes(), len(cols))

	at := func(name string) string {
		for i, c := range cols {
			if c == name {
				return rec[i]
			}
		}
		t.Fatalf("no column %s", name)
		return ""
	}
	assert.Equal(t, "d1", at("district_id"))
	assert.Equal(t, "2001", at("year"))
	assert.Equal(t, "2100.5", at("yield_kg_per_ha"))
	assert.Equal(t, "", at("area_ha"))
	assert.Equal(t, "", at("soil_type"))
	assert.Equal(t, "100", at("rain_m06"))
	assert.Equal(t, "0", at("weather_months"))
}

func TestExport(t *testing.T) {
	st := setupTestStore(t)
	b := New(st.DB(), testutil.NewTestLogger(t))
	ctx := context.Background()
	dir := t.TempDir()

	out := filepath.Join(dir, "abt.parquet")
	n, err := b.Export(ctx, Filter{}, out)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	duck, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	defer func() { _ = duck.Close() }()

	var count int
	var rain sql.NullFloat64
	require.NoError(t, duck.QueryRowContext(ctx,
		"SELECT COUNT(*), SUM(annual_rainfall_mm) FROM read_parquet('"+out+"')").Scan(&count, &rain))
	assert.Equal(t, 5, count)
	// 350 + 350 (pune 2001 rice and wheat) + 80 + 10
	assert.InDelta(t, 790.0, rain.Float64, 1e-9)

	csvOut := filepath.Join(dir, "abt.csv")
	n, err = b.Export(ctx, Filter{Crop: "wheat"}, csvOut)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = b.Export(ctx, Filter{Crop: "millet"}, filepath.Join(dir, "empty.parquet"))
	require.ErrorIs(t, err, ErrEmpty)

	_, err = b.Export(ctx, Filter{}, filepath.Join(dir, "abt.xlsx"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".xlsx")
}

func TestEndToEndAliasVariantsJoinWeather(t *testing.T) {
	dir := t.TempDir()
	logger := testutil.NewTestLogger(t)
	st := store.New(logger)
	require.NoError(t, st.Open(filepath.Join(dir, "agrisim.db")))
	t.Cleanup(func() { _ = st.Close() })

	sources := []core.SourceConfig{
		{Name: "districts", Kind: core.SourceDistricts, Path: testutil.WriteFile(t, dir, "districts.csv",
			"district,state\nPune,Maharashtra\n")},
		{Name: "yield", Kind: core.SourceYield, Path: testutil.WriteFile(t, dir, "yield.csv",
			"district,state,year,crop,yield\npune ,Maharashtra,2001,Rice,2100\n")},
		{Name: "weather", Kind: core.SourceWeather, Path: testutil.WriteFile(t, dir, "weather.csv",
			"district,year,month,rainfall\nPUNE,2001,6,100\nPUNE,2001,7,250\n")},
	}
	rb := etl.NewRebuilder(st, loader.New(logger), resolve.Config{Threshold: 0.9, ScopeByState: true}, metrics.New(), logger)
	report, err := rb.Rebuild(context.Background(), sources)
	require.NoError(t, err)
	require.Equal(t, core.RunStatusCompleted, report.Status)

	rows, err := New(st.DB(), logger).Collect(context.Background(), Filter{Crop: "rice"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, puneID, rows[0].Key.DistrictID)
	assert.Equal(t, core.Some(350), rows[0].AnnualRainfall)
	assert.Equal(t, 2, rows[0].WeatherMonths)
}
