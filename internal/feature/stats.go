package feature

import (
	"gonum.org/v1/gonum/stat"

	"github.com/leapstack-labs/agrisim/pkg/core"
)

// HistoryStats returns the mean and sample standard deviation of history.
// The mean is null for an empty history and the deviation is null with fewer
// than two observations.
func HistoryStats(history []float64) (mean, std core.Value) {
	switch len(history) {
	case 0:
		return core.Null(), core.Null()
	case 1:
		return core.Some(history[0]), core.Null()
	}
	m, s := stat.MeanStdDev(history, nil)
	return core.Some(m), core.Some(s)
}

// Anomaly is the z-score of value against a precomputed mean and deviation.
// It is null when any operand is null or the deviation is zero.
func Anomaly(value, mean, std core.Value) core.Value {
	if !value.Valid || !mean.Valid || !std.Valid || std.Float == 0 {
		return core.Null()
	}
	return core.Some((value.Float - mean.Float) / std.Float)
}

// ZScore scores value against a district's prior-year history.
func ZScore(value core.Value, history []float64) core.Value {
	mean, std := HistoryStats(history)
	return Anomaly(value, mean, std)
}

// Departure is the percentage by which value departs from normal. It is null
// when either is null or the normal is not positive.
func Departure(value, normal core.Value) core.Value {
	if !value.Valid || !normal.Valid || normal.Float <= 0 {
		return core.Null()
	}
	return core.Some((value.Float - normal.Float) / normal.Float * 100)
}

// SeasonSum adds the rainfall of the season months (1..12). Months without an
// observation contribute zero; the sum is null only when the district-year
// has no weather at all.
func SeasonSum(monthly [12]core.Value, season []int, hasWeather bool) core.Value {
	if !hasWeather {
		return core.Null()
	}
	var sum float64
	for _, m := range season {
		if m >= 1 && m <= 12 && monthly[m-1].Valid {
			sum += monthly[m-1].Float
		}
	}
	return core.Some(sum)
}

// Product multiplies two values, null if either is null.
func Product(a, b core.Value) core.Value {
	if !a.Valid || !b.Valid {
		return core.Null()
	}
	return core.Some(a.Float * b.Float)
}
