package store

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/leapstack-labs/agrisim/internal/resolve"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

// tableSpec describes how one child table is replaced.
type tableSpec[T any] struct {
	table    string
	insert   string
	district func(T) string
	compare  func(a, b T) int
	args     func(T) []any
}

var soilSpec = tableSpec[core.SoilProfile]{
	table: core.TableSoilProperties,
	insert: `INSERT INTO soil_properties
		(district_id, soil_type, ph_level, nitrogen, phosphorus, potassium, organic_carbon)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
	district: func(r core.SoilProfile) string { return r.DistrictID },
	compare:  func(a, b core.SoilProfile) int { return cmp.Compare(a.DistrictID, b.DistrictID) },
	args: func(r core.SoilProfile) []any {
		return []any{r.DistrictID, r.SoilType, r.PH, nullable(r.Nitrogen), nullable(r.Phosphorus),
			nullable(r.Potassium), nullable(r.OrganicCarbon)}
	},
}

var weatherSpec = tableSpec[core.WeatherObservation]{
	table: core.TableMonthlyWeather,
	insert: `INSERT INTO monthly_weather (district_id, year, month, rainfall_mm, avg_temp_c)
		VALUES (?, ?, ?, ?, ?)`,
	district: func(r core.WeatherObservation) string { return r.DistrictID },
	compare: func(a, b core.WeatherObservation) int {
		return cmp.Or(cmp.Compare(a.DistrictID, b.DistrictID), cmp.Compare(a.Year, b.Year), cmp.Compare(a.Month, b.Month))
	},
	args: func(r core.WeatherObservation) []any {
		return []any{r.DistrictID, r.Year, r.Month, r.RainfallMM, nullable(r.AvgTempC)}
	},
}

var yieldSpec = tableSpec[core.YieldRecord]{
	table: core.TableCropYields,
	insert: `INSERT INTO crop_yields
		(district_id, year, crop, yield_kg_per_ha, area_ha, production_tonnes)
		VALUES (?, ?, ?, ?, ?, ?)`,
	district: func(r core.YieldRecord) string { return r.DistrictID },
	compare: func(a, b core.YieldRecord) int {
		return cmp.Or(cmp.Compare(a.DistrictID, b.DistrictID), cmp.Compare(a.Year, b.Year), cmp.Compare(a.Crop, b.Crop))
	},
	args: func(r core.YieldRecord) []any {
		return []any{r.DistrictID, r.Year, r.Crop, r.YieldKgPerHa, nullable(r.AreaHa), nullable(r.ProductionTonnes)}
	},
}

var inputSpec = tableSpec[core.InputRecord]{
	table: core.TableDistrictInputs,
	insert: `INSERT INTO district_inputs (district_id, year, irrigation_share, fertilizer_kg_per_ha)
		VALUES (?, ?, ?, ?)`,
	district: func(r core.InputRecord) string { return r.DistrictID },
	compare: func(a, b core.InputRecord) int {
		return cmp.Or(cmp.Compare(a.DistrictID, b.DistrictID), cmp.Compare(a.Year, b.Year))
	},
	args: func(r core.InputRecord) []any {
		return []any{r.DistrictID, r.Year, nullable(r.IrrigationShare), nullable(r.FertilizerKgPerHa)}
	},
}

var normalSpec = tableSpec[core.RainfallNormal]{
	table:    core.TableNormalRainfall,
	insert:   `INSERT INTO normal_rainfall (district_id, month, normal_mm) VALUES (?, ?, ?)`,
	district: func(r core.RainfallNormal) string { return r.DistrictID },
	compare: func(a, b core.RainfallNormal) int {
		return cmp.Or(cmp.Compare(a.DistrictID, b.DistrictID), cmp.Compare(a.Month, b.Month))
	},
	args: func(r core.RainfallNormal) []any { return []any{r.DistrictID, r.Month, r.NormalMM} },
}

// ReplaceSoil replaces soil_properties with rows.
func (s *Store) ReplaceSoil(ctx context.Context, rows []core.SoilProfile) (int, error) {
	return replaceTable(ctx, s, soilSpec, rows)
}

// ReplaceWeather replaces monthly_weather with rows.
func (s *Store) ReplaceWeather(ctx context.Context, rows []core.WeatherObservation) (int, error) {
	return replaceTable(ctx, s, weatherSpec, rows)
}

// ReplaceYields replaces crop_yields with rows.
func (s *Store) ReplaceYields(ctx context.Context, rows []core.YieldRecord) (int, error) {
	return replaceTable(ctx, s, yieldSpec, rows)
}

// ReplaceInputs replaces district_inputs with rows.
func (s *Store) ReplaceInputs(ctx context.Context, rows []core.InputRecord) (int, error) {
	return replaceTable(ctx, s, inputSpec, rows)
}

// ReplaceNormals replaces normal_rainfall with rows.
func (s *Store) ReplaceNormals(ctx context.Context, rows []core.RainfallNormal) (int, error) {
	return replaceTable(ctx, s, normalSpec, rows)
}

// replaceTable swaps the whole table for rows in one transaction. Rows must
// have unique keys. If any district_id is unknown nothing is written and a
// *core.ReferentialIntegrityError lists the offenders.
func replaceTable[T any](ctx context.Context, s *Store, spec tableSpec[T], rows []T) (int, error) {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, spec.compare)
	for i := 1; i < len(sorted); i++ {
		if spec.compare(sorted[i-1], sorted[i]) == 0 {
			return 0, fmt.Errorf("%s: duplicate key for district %s", spec.table, spec.district(sorted[i]))
		}
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		known, err := districtIDs(ctx, tx)
		if err != nil {
			return err
		}
		var missing []string
		for _, r := range sorted {
			id := spec.district(r)
			if _, ok := known[id]; !ok {
				known[id] = false
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			slices.Sort(missing)
			return &core.ReferentialIntegrityError{Table: spec.table, DistrictIDs: missing}
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM "+spec.table); err != nil { //nolint:gosec // table names are constants
			return fmt.Errorf("failed to clear %s: %w", spec.table, err)
		}
		stmt, err := tx.PrepareContext(ctx, spec.insert)
		if err != nil {
			return fmt.Errorf("failed to prepare insert into %s: %w", spec.table, err)
		}
		defer func() { _ = stmt.Close() }()
		for _, r := range sorted {
			if _, err := stmt.ExecContext(ctx, spec.args(r)...); err != nil {
				return fmt.Errorf("failed to insert into %s: %w", spec.table, err)
			}
		}
		return bumpGeneration(ctx, tx)
	})
	if err != nil {
		return 0, err
	}
	s.logger.Debug("replaced table", "table", spec.table, "rows", len(sorted))
	return len(sorted), nil
}

// districtIDs returns the known district ids mapped to true.
func districtIDs(ctx context.Context, tx *sql.Tx) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT district_id FROM districts ORDER BY district_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list districts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	known := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan district id: %w", err)
		}
		known[id] = true
	}
	return known, rows.Err()
}

// ReplaceDistricts upserts districts and replaces the alias table with
// aliases. Districts absent from the input are kept, since child rows from
// earlier rebuilds may still reference them.
func (s *Store) ReplaceDistricts(ctx context.Context, districts []core.District, aliases []core.Alias) error {
	ds := slices.Clone(districts)
	slices.SortFunc(ds, func(a, b core.District) int { return cmp.Compare(a.ID, b.ID) })
	as := slices.Clone(aliases)
	slices.SortFunc(as, func(a, b core.Alias) int {
		return cmp.Or(cmp.Compare(a.Normalized, b.Normalized), cmp.Compare(a.Scope, b.Scope))
	})

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		upsert, err := tx.PrepareContext(ctx, `INSERT INTO districts
			(district_id, canonical_name, normalized_name, state, normalized_state)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (district_id) DO UPDATE SET
				canonical_name = excluded.canonical_name,
				normalized_name = excluded.normalized_name,
				state = excluded.state,
				normalized_state = excluded.normalized_state`)
		if err != nil {
			return fmt.Errorf("failed to prepare district upsert: %w", err)
		}
		defer func() { _ = upsert.Close() }()
		for _, d := range ds {
			if _, err := upsert.ExecContext(ctx, d.ID, d.CanonicalName, resolve.Normalize(d.CanonicalName),
				d.State, resolve.Normalize(d.State)); err != nil {
				return fmt.Errorf("failed to upsert district %s: %w", d.ID, err)
			}
		}

		known, err := districtIDs(ctx, tx)
		if err != nil {
			return err
		}
		var missing []string
		for _, a := range as {
			if !known[a.DistrictID] {
				missing = append(missing, a.DistrictID)
			}
		}
		if len(missing) > 0 {
			return &core.ReferentialIntegrityError{Table: core.TableAliases, DistrictIDs: slices.Compact(slices.Sorted(slices.Values(missing)))}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM district_aliases`); err != nil {
			return fmt.Errorf("failed to clear aliases: %w", err)
		}
		ins, err := tx.PrepareContext(ctx, `INSERT INTO district_aliases (normalized, scope, raw, district_id, source)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare alias insert: %w", err)
		}
		defer func() { _ = ins.Close() }()
		for _, a := range as {
			if _, err := ins.ExecContext(ctx, a.Normalized, a.Scope, a.Raw, a.DistrictID, a.Source); err != nil {
				return fmt.Errorf("failed to insert alias %q: %w", a.Raw, err)
			}
		}
		return bumpGeneration(ctx, tx)
	})
	if err != nil {
		return err
	}
	s.logger.Debug("replaced districts", "districts", len(ds), "aliases", len(as))
	return nil
}

// Snapshot returns every district with its aliases, sorted by id. It seeds
// resolver state for a rebuild.
func (s *Store) Snapshot(ctx context.Context) ([]core.District, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT district_id, canonical_name, state FROM districts ORDER BY district_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list districts: %w", err)
	}
	var out []core.District
	index := make(map[string]int)
	for rows.Next() {
		var d core.District
		if err := rows.Scan(&d.ID, &d.CanonicalName, &d.State); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan district: %w", err)
		}
		index[d.ID] = len(out)
		out = append(out, d)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	arows, err := s.db.QueryContext(ctx, `SELECT normalized, scope, raw, district_id, source
		FROM district_aliases ORDER BY normalized, scope`)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	defer func() { _ = arows.Close() }()
	for arows.Next() {
		var a core.Alias
		if err := arows.Scan(&a.Normalized, &a.Scope, &a.Raw, &a.DistrictID, &a.Source); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		if i, ok := index[a.DistrictID]; ok {
			out[i].Aliases = append(out[i].Aliases, a)
		}
	}
	return out, arows.Err()
}
