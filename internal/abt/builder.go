// Package abt builds the Analytical Base Table: crop yields left-joined to
// districts, soil, yearly weather aggregates, rainfall normals and farm
// inputs. Monthly weather
// is aggregated to one row per district-year before the join, so the yield
// grain is never fanned out.
package abt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/agrisim/internal/loader"
	"github.com/leapstack-labs/agrisim/internal/resolve"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

// Filter narrows an ABT build. Zero fields do not filter.
type Filter struct {
	DistrictID string `json:"district_id,omitempty"`
	State      string `json:"state,omitempty"`
	Crop       string `json:"crop,omitempty"`
	YearFrom   int    `json:"year_from,omitempty"`
	YearTo     int    `json:"year_to,omitempty"`
}

// Validate rejects inverted year ranges.
func (f Filter) Validate() error {
	if f.YearFrom != 0 && f.YearTo != 0 && f.YearFrom > f.YearTo {
		return fmt.Errorf("year range %d..%d is empty", f.YearFrom, f.YearTo)
	}
	return nil
}

// Builder runs ABT queries against the normalized store.
type Builder struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a builder over db. A nil logger discards output.
func New(db *sql.DB, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{db: db, logger: logger}
}

// weatherAgg aggregates monthly_weather to district-year grain.
func weatherAgg(where string) string {
	var b strings.Builder
	b.WriteString(`SELECT district_id, year,
		COUNT(*) AS months,
		SUM(rainfall_mm) AS annual_rainfall_mm,
		AVG(avg_temp_c) AS avg_temp_c`)
	for m := 1; m <= 12; m++ {
		fmt.Fprintf(&b, ",\n\t\tMAX(CASE WHEN month = %d THEN rainfall_mm END) AS %s", m, RainColumn(m))
	}
	b.WriteString("\n\tFROM monthly_weather")
	if where != "" {
		b.WriteString("\n\tWHERE " + where)
	}
	b.WriteString("\n\tGROUP BY district_id, year")
	return b.String()
}

// normalsAgg sums monthly normals to an annual normal. A district missing any
// month has no annual normal.
const normalsAgg = `SELECT district_id,
		CASE WHEN COUNT(*) = 12 THEN SUM(normal_mm) END AS normal_annual_rainfall_mm
	FROM normal_rainfall
	GROUP BY district_id`

func rainColumns(alias string) string {
	cols := make([]string, 12)
	for m := 1; m <= 12; m++ {
		cols[m-1] = alias + "." + RainColumn(m)
	}
	return strings.Join(cols, ", ")
}

// query returns the ABT SQL and its arguments for f.
func query(f Filter) (string, []any) {
	var (
		conds, wconds []string
		args, wargs   []any
	)
	if f.DistrictID != "" {
		conds = append(conds, "y.district_id = ?")
		args = append(args, f.DistrictID)
		wconds = append(wconds, "district_id = ?")
		wargs = append(wargs, f.DistrictID)
	}
	if f.State != "" {
		conds = append(conds, "d.normalized_state = ?")
		args = append(args, resolve.Normalize(f.State))
	}
	if f.Crop != "" {
		conds = append(conds, "y.crop = ?")
		args = append(args, loader.NormalizeCrop(f.Crop))
	}
	if f.YearFrom != 0 {
		conds = append(conds, "y.year >= ?")
		args = append(args, f.YearFrom)
		wconds = append(wconds, "year >= ?")
		wargs = append(wargs, f.YearFrom)
	}
	if f.YearTo != 0 {
		conds = append(conds, "y.year <= ?")
		args = append(args, f.YearTo)
		wconds = append(wconds, "year <= ?")
		wargs = append(wargs, f.YearTo)
	}

	q := `WITH weather AS (
	` + weatherAgg(strings.Join(wconds, " AND ")) + `
), normals AS (
	` + normalsAgg + `
)
SELECT y.district_id, y.year, y.crop, y.yield_kg_per_ha, y.area_ha, y.production_tonnes,
	d.canonical_name, d.state,
	s.soil_type, s.ph_level, s.nitrogen, s.phosphorus, s.potassium, s.organic_carbon,
	w.months, w.annual_rainfall_mm, w.avg_temp_c, ` + rainColumns("w") + `,
	n.normal_annual_rainfall_mm,
	i.irrigation_share, i.fertilizer_kg_per_ha
FROM crop_yields y
LEFT JOIN districts d ON d.district_id = y.district_id
LEFT JOIN soil_properties s ON s.district_id = y.district_id
LEFT JOIN weather w ON w.district_id = y.district_id AND w.year = y.year
LEFT JOIN normals n ON n.district_id = y.district_id
LEFT JOIN district_inputs i ON i.district_id = y.district_id AND i.year = y.year`
	if len(conds) > 0 {
		q += "\nWHERE " + strings.Join(conds, " AND ")
	}
	q += "\nORDER BY y.district_id, y.year, y.crop"
	return q, append(wargs, args...)
}

// Build returns the ABT rows matching f in (district_id, year, crop) order.
// The sequence is lazy and restartable: every iteration runs a fresh query
// against the current store contents.
func (b *Builder) Build(ctx context.Context, f Filter) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		if err := f.Validate(); err != nil {
			yield(Row{}, err)
			return
		}
		q, args := query(f)
		rows, err := b.db.QueryContext(ctx, q, args...)
		if err != nil {
			yield(Row{}, fmt.Errorf("failed to query abt: %w", err))
			return
		}
		defer func() { _ = rows.Close() }()

		n := 0
		for rows.Next() {
			r, err := scanRow(rows)
			if err != nil {
				yield(Row{}, err)
				return
			}
			n++
			if !yield(r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Row{}, fmt.Errorf("failed to read abt: %w", err))
			return
		}
		b.logger.Debug("abt built", "rows", n, "state", f.State, "crop", f.Crop)
	}
}

// Collect runs Build to completion.
func (b *Builder) Collect(ctx context.Context, f Filter) ([]Row, error) {
	var out []Row
	for r, err := range b.Build(ctx, f) {
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Get returns the single row for key, or core.ErrNotFound.
func (b *Builder) Get(ctx context.Context, key core.Key) (Row, error) {
	f := Filter{DistrictID: key.DistrictID, Crop: key.Crop, YearFrom: key.Year, YearTo: key.Year}
	for r, err := range b.Build(ctx, f) {
		if err != nil {
			return Row{}, err
		}
		return r, nil
	}
	return Row{}, fmt.Errorf("abt row %s: %w", key, core.ErrNotFound)
}

type scanner interface {
	Scan(dest ...any) error
}

func value(n sql.NullFloat64) core.Value {
	if !n.Valid {
		return core.Null()
	}
	return core.Some(n.Float64)
}

func scanRow(s scanner) (Row, error) {
	var (
		r                     Row
		area, prod            sql.NullFloat64
		name, state, soilType sql.NullString
		ph, n, p, k, oc       sql.NullFloat64
		months                sql.NullInt64
		annual, temp          sql.NullFloat64
		rain                  [12]sql.NullFloat64
		normal                sql.NullFloat64
		irr, fert             sql.NullFloat64
	)
	dest := []any{
		&r.Key.DistrictID, &r.Key.Year, &r.Key.Crop, &r.YieldKgPerHa, &area, &prod,
		&name, &state,
		&soilType, &ph, &n, &p, &k, &oc,
		&months, &annual, &temp,
	}
	for i := range rain {
		dest = append(dest, &rain[i])
	}
	dest = append(dest, &normal, &irr, &fert)
	if err := s.Scan(dest...); err != nil {
		return Row{}, fmt.Errorf("failed to scan abt row: %w", err)
	}

	r.AreaHa, r.ProductionTonnes = value(area), value(prod)
	r.DistrictName, r.State, r.SoilType = name.String, state.String, soilType.String
	r.SoilPH, r.Nitrogen, r.Phosphorus, r.Potassium, r.OrganicCarbon = value(ph), value(n), value(p), value(k), value(oc)
	r.WeatherMonths = int(months.Int64)
	r.AnnualRainfall, r.AvgTempC = value(annual), value(temp)
	for i := range rain {
		r.MonthlyRainfall[i] = value(rain[i])
	}
	r.NormalAnnualRainfall = value(normal)
	r.IrrigationShare, r.FertilizerKgPerHa = value(irr), value(fert)
	return r, nil
}

// History returns the yearly weather of a district in year order. It covers
// every year with observations, whether or not a yield row exists for it.
func (b *Builder) History(ctx context.Context, districtID string) ([]YearWeather, error) {
	q := weatherAgg("district_id = ?") + "\n\tORDER BY year"
	rows, err := b.db.QueryContext(ctx, q, districtID)
	if err != nil {
		return nil, fmt.Errorf("failed to query weather history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []YearWeather
	for rows.Next() {
		var (
			id     string
			yw     YearWeather
			annual sql.NullFloat64
			temp   sql.NullFloat64
			rain   [12]sql.NullFloat64
		)
		dest := []any{&id, &yw.Year, &yw.Months, &annual, &temp}
		for i := range rain {
			dest = append(dest, &rain[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan weather history: %w", err)
		}
		yw.Annual = annual.Float64
		yw.AvgTempC = value(temp)
		for i := range rain {
			yw.Monthly[i] = value(rain[i])
		}
		out = append(out, yw)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ErrEmpty is returned by exports when the filter matches no rows.
var ErrEmpty = errors.New("abt is empty for this filter")
