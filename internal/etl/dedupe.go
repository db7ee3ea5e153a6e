package etl

import (
	"fmt"

	"github.com/leapstack-labs/agrisim/pkg/core"
)

type weatherK struct {
	district    string
	year, month int
}

type yieldK struct {
	district string
	year     int
	crop     string
}

type inputK struct {
	district string
	year     int
}

type normalK struct {
	district string
	month    int
}

func soilKey(r core.SoilProfile) string { return r.DistrictID }

func weatherKey(r core.WeatherObservation) weatherK {
	return weatherK{district: r.DistrictID, year: r.Year, month: r.Month}
}

func yieldKey(r core.YieldRecord) yieldK {
	return yieldK{district: r.DistrictID, year: r.Year, crop: r.Crop}
}

func inputKey(r core.InputRecord) inputK {
	return inputK{district: r.DistrictID, year: r.Year}
}

func normalKey(r core.RainfallNormal) normalK {
	return normalK{district: r.DistrictID, month: r.Month}
}

// dedupe collapses rows sharing a key. The last row in input order wins, in
// the position of the first; every collapsed row is reported.
func dedupe[T any, K comparable](u *run, table string, rows []T, key func(T) K) []T {
	index := make(map[K]int, len(rows))
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		k := key(r)
		if i, ok := index[k]; ok {
			out[i] = r
			u.report.Table(table).Duplicates++
			u.report.AddIssue(core.Issue{
				Table:   table,
				Kind:    core.KindDuplicateKey,
				Message: fmt.Sprintf("duplicate key %+v; last row wins", k),
			})
			u.metrics.RowExcluded(table, string(core.KindDuplicateKey))
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}
