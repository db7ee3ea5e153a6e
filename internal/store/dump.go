package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/agrisim/pkg/core"
)

// dumpOrder is the canonical row order of each dumpable table.
var dumpOrder = map[string]string{
	core.TableDistricts:      "district_id",
	core.TableAliases:        "normalized, scope",
	core.TableSoilProperties: "district_id",
	core.TableMonthlyWeather: "district_id, year, month",
	core.TableCropYields:     "district_id, year, crop",
	core.TableDistrictInputs: "district_id, year",
	core.TableNormalRainfall: "district_id, month",
}

// DumpTables lists the tables Dump accepts, in load order.
var DumpTables = []string{
	core.TableDistricts,
	core.TableAliases,
	core.TableSoilProperties,
	core.TableMonthlyWeather,
	core.TableCropYields,
	core.TableDistrictInputs,
	core.TableNormalRainfall,
}

// Dump renders table as tab-separated text in key order, with a header line
// and \N for NULL. Identical contents always produce identical dumps.
func (s *Store) Dump(ctx context.Context, table string) (string, error) {
	order, ok := dumpOrder[table]
	if !ok {
		return "", fmt.Errorf("unknown table %q", table)
	}
	if s.db == nil {
		return "", fmt.Errorf("database not opened")
	}
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+table+" ORDER BY "+order) //nolint:gosec // whitelisted table
	if err != nil {
		return "", fmt.Errorf("failed to dump %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(strings.Join(cols, "\t"))
	b.WriteByte('\n')

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", fmt.Errorf("failed to scan %s: %w", table, err)
		}
		for i, v := range vals {
			if i > 0 {
				b.WriteByte('\t')
			}
			b.WriteString(dumpValue(v))
		}
		b.WriteByte('\n')
	}
	return b.String(), rows.Err()
}

func dumpValue(v any) string {
	switch x := v.(type) {
	case nil:
		return `\N`
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

// Count returns the number of rows in a dumpable table.
func (s *Store) Count(ctx context.Context, table string) (int, error) {
	if _, ok := dumpOrder[table]; !ok {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil { //nolint:gosec // whitelisted table
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
