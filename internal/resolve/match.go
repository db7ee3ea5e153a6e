package resolve

import (
	"cmp"
	"slices"

	"github.com/leapstack-labs/agrisim/pkg/core"
)

// Outcome classifies how a raw name was (or was not) resolved.
type Outcome string

// Resolution outcomes.
const (
	OutcomeAlias     Outcome = "alias"
	OutcomeExact     Outcome = "exact"
	OutcomeMatched   Outcome = "matched"
	OutcomeAmbiguous Outcome = "ambiguous"
	OutcomeNoMatch   Outcome = "no_match"
)

// Resolved reports whether the outcome produced a district id.
func (o Outcome) Resolved() bool {
	return o == OutcomeAlias || o == OutcomeExact || o == OutcomeMatched
}

// DefaultCandidateLimit bounds the candidates reported for a no-match.
const DefaultCandidateLimit = 5

// Entry is one canonical district offered to Match.
// Name and State are normalized; the display fields are reported back in
// candidates.
type Entry struct {
	DistrictID   string
	Name         string
	State        string
	DisplayName  string
	DisplayState string
}

// Options controls fuzzy matching.
type Options struct {
	Threshold float64
	TieMargin float64
	Metric    Metric
	Limit     int
}

// MatchResult is exactly one of: a unique match (DistrictID set), an
// ambiguous tie (Candidates are the tied entries), or no match (Candidates
// are the best entries below the threshold).
type MatchResult struct {
	Outcome    Outcome
	DistrictID string
	Score      float64
	Candidates []core.Candidate
}

// Match scores normalized against every entry and picks a unique winner.
// Two or more entries at or above the threshold whose scores are within
// TieMargin of the best are a tie and never resolved.
func Match(normalized string, entries []Entry, opts Options) MatchResult {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	scored := make([]core.Candidate, 0, len(entries))
	for _, e := range entries {
		scored = append(scored, core.Candidate{
			DistrictID: e.DistrictID,
			Name:       e.DisplayName,
			State:      e.DisplayState,
			Score:      Similarity(opts.Metric, normalized, e.Name),
		})
	}
	slices.SortFunc(scored, func(a, b core.Candidate) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(a.State, b.State),
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.DistrictID, b.DistrictID),
		)
	})

	if len(scored) == 0 || scored[0].Score < opts.Threshold {
		return MatchResult{Outcome: OutcomeNoMatch, Candidates: scored[:min(limit, len(scored))]}
	}

	best := scored[0].Score
	tied := 1
	for tied < len(scored) {
		s := scored[tied].Score
		if s < opts.Threshold || best-s > opts.TieMargin {
			break
		}
		tied++
	}
	if tied > 1 {
		return MatchResult{Outcome: OutcomeAmbiguous, Score: best, Candidates: scored[:tied]}
	}
	return MatchResult{
		Outcome:    OutcomeMatched,
		DistrictID: scored[0].DistrictID,
		Score:      best,
		Candidates: scored[:1],
	}
}
