package loader

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/leapstack-labs/agrisim/pkg/core"
)

// nullMarkers are cell values read as missing.
var nullMarkers = map[string]bool{
	"": true, "na": true, "n/a": true, "nan": true, "null": true, "-": true, "unknown": true,
}

func isNull(cell string) bool {
	return nullMarkers[strings.ToLower(strings.TrimSpace(cell))]
}

func parseFloat(column, cell string) (float64, error) {
	if isNull(cell) {
		return 0, fmt.Errorf("%s is empty", column)
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(cell), ",", ""), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s: %q is not a number", column, cell)
	}
	return f, nil
}

func parseOptional(column, cell string) (core.Value, error) {
	if isNull(cell) {
		return core.Null(), nil
	}
	f, err := parseFloat(column, cell)
	if err != nil {
		return core.Null(), err
	}
	return core.Some(f), nil
}

// parseInt accepts integral floats ("2001.0") as some exporters write years
// that way.
func parseInt(column, cell string) (int, error) {
	f, err := parseFloat(column, cell)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("%s: %q is not an integer", column, cell)
	}
	return int(f), nil
}

var monthNames = map[string]int{
	"january": 1, "february": 2, "march": 3, "april": 4, "may": 5, "june": 6,
	"july": 7, "august": 8, "september": 9, "october": 10, "november": 11, "december": 12,
	"sept": 9,
}

func init() {
	for i, m := range MonthColumns {
		monthNames[m] = i + 1
	}
}

// parseMonth accepts 1..12 or an English month name or abbreviation.
func parseMonth(cell string) (int, error) {
	if m, ok := monthNames[strings.ToLower(strings.TrimSpace(cell))]; ok {
		return m, nil
	}
	return parseInt(ColMonth, cell)
}

// NormalizeCrop is the canonical crop spelling stored and queried.
func NormalizeCrop(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
