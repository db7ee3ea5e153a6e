package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries(names ...string) []Entry {
	out := make([]Entry, 0, len(names))
	for _, n := range names {
		out = append(out, Entry{DistrictID: "id-" + n, Name: n, State: "s", DisplayName: n, DisplayState: "S"})
	}
	return out
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		entries []Entry
		opts    Options
		outcome Outcome
		id      string
		nCands  int
	}{
		{
			name:    "unique match above threshold",
			input:   "aurangabd",
			entries: entries("aurangabad", "pune", "satara"),
			opts:    Options{Threshold: 0.9},
			outcome: OutcomeMatched,
			id:      "id-aurangabad",
			nCands:  1,
		},
		{
			name:    "nothing above threshold",
			input:   "kolhapur",
			entries: entries("pune", "satara"),
			opts:    Options{Threshold: 0.95},
			outcome: OutcomeNoMatch,
			nCands:  2,
		},
		{
			name:    "exact tie is ambiguous",
			input:   "karin",
			entries: entries("karan", "karen", "pune"),
			opts:    Options{Threshold: 0.7, Metric: MetricLevenshtein},
			outcome: OutcomeAmbiguous,
			nCands:  2,
		},
		{
			name:    "tie below threshold is no match",
			input:   "karin",
			entries: entries("karan", "karen"),
			opts:    Options{Threshold: 0.9, Metric: MetricLevenshtein},
			outcome: OutcomeNoMatch,
			nCands:  2,
		},
		{
			name:    "near tie within margin is ambiguous",
			input:   "satar",
			entries: entries("satara", "sataru"),
			opts:    Options{Threshold: 0.5, TieMargin: 0.05, Metric: MetricLevenshtein},
			outcome: OutcomeAmbiguous,
			nCands:  2,
		},
		{
			name:    "no entries",
			input:   "pune",
			opts:    Options{Threshold: 0.5},
			outcome: OutcomeNoMatch,
			nCands:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(tt.input, tt.entries, tt.opts)
			assert.Equal(t, tt.outcome, got.Outcome)
			assert.Equal(t, tt.id, got.DistrictID)
			assert.Len(t, got.Candidates, tt.nCands)
		})
	}
}

func TestMatchCandidatesSortedAndLimited(t *testing.T) {
	got := Match("zzz", entries("a", "b", "c", "d", "e", "f", "g"), Options{Threshold: 0.99, Limit: 3})
	require.Equal(t, OutcomeNoMatch, got.Outcome)
	require.Len(t, got.Candidates, 3)
	for i := 1; i < len(got.Candidates); i++ {
		assert.GreaterOrEqual(t, got.Candidates[i-1].Score, got.Candidates[i].Score)
	}
}

func TestMatchIsDeterministic(t *testing.T) {
	es := entries("karan", "karen", "kiran")
	first := Match("karin", es, Options{Threshold: 0.7, Metric: MetricLevenshtein})
	for range 10 {
		assert.Equal(t, first, Match("karin", es, Options{Threshold: 0.7, Metric: MetricLevenshtein}))
	}
}
