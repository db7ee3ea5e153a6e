package resolve

import (
	"fmt"

	edlib "github.com/hbollon/go-edlib"
)

// Metric names a string-similarity function in [0,1].
type Metric string

// Supported metrics.
const (
	MetricJaroWinkler Metric = "jaro_winkler"
	MetricLevenshtein Metric = "levenshtein"
)

// ParseMetric validates a configured metric name; "" selects Jaro-Winkler.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", MetricJaroWinkler:
		return MetricJaroWinkler, nil
	case MetricLevenshtein:
		return MetricLevenshtein, nil
	}
	return "", fmt.Errorf("unknown similarity metric %q (expected %s or %s)", s, MetricJaroWinkler, MetricLevenshtein)
}

func (m Metric) algorithm() edlib.Algorithm {
	if m == MetricLevenshtein {
		return edlib.Levenshtein
	}
	return edlib.JaroWinkler
}

// Similarity scores two normalized strings with metric m.
// Identical strings score 1, including two empty strings.
func Similarity(m Metric, a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	score, err := edlib.StringsSimilarity(a, b, m.algorithm())
	if err != nil {
		return 0
	}
	return float64(score)
}
