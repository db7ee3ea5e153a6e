package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies domain errors and data-quality issues.
type ErrorKind string

// Error kinds.
const (
	KindUnresolvedEntity      ErrorKind = "unresolved_entity"
	KindReferentialIntegrity  ErrorKind = "referential_integrity_violation"
	KindMissingHistory        ErrorKind = "missing_history"
	KindConflictingAdjustment ErrorKind = "conflicting_adjustment"
	KindSchemaMismatch        ErrorKind = "schema_mismatch"
	KindUnknownFeature        ErrorKind = "unknown_feature"
	KindInvalidAdjustment     ErrorKind = "invalid_adjustment"
	KindInvalidValue          ErrorKind = "invalid_value"
	KindDuplicateKey          ErrorKind = "duplicate_key"
	KindNotFound              ErrorKind = "not_found"
)

// ErrNotFound is returned when a requested key or district does not exist.
var ErrNotFound = errors.New("not found")

// KindOf returns the kind carried by err, or "" for errors outside the domain.
func KindOf(err error) ErrorKind {
	var k interface{ Kind() ErrorKind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return ""
}

// Candidate is a canonical district considered while resolving a raw name.
type Candidate struct {
	DistrictID string  `json:"district_id"`
	Name       string  `json:"name"`
	State      string  `json:"state"`
	Score      float64 `json:"score"`
}

// UnresolvedEntityError reports a raw name that could not be canonicalized.
// Ambiguous is set when several candidates tied above the threshold.
type UnresolvedEntityError struct {
	RawName    string
	Source     string
	Ambiguous  bool
	Candidates []Candidate
}

// Kind implements the kinded error contract.
func (e *UnresolvedEntityError) Kind() ErrorKind { return KindUnresolvedEntity }

func (e *UnresolvedEntityError) Error() string {
	reason := "no candidate above threshold"
	if e.Ambiguous {
		reason = "ambiguous match"
	}
	msg := fmt.Sprintf("unresolved district %q from source %q: %s", e.RawName, e.Source, reason)
	if len(e.Candidates) > 0 {
		names := make([]string, 0, len(e.Candidates))
		for _, c := range e.Candidates {
			names = append(names, fmt.Sprintf("%s/%s (%.3f)", c.State, c.Name, c.Score))
		}
		msg += "; candidates: " + strings.Join(names, ", ")
	}
	return msg
}

// ReferentialIntegrityError reports rows whose district_id has no districts row.
type ReferentialIntegrityError struct {
	Table       string
	DistrictIDs []string
}

// Kind implements the kinded error contract.
func (e *ReferentialIntegrityError) Kind() ErrorKind { return KindReferentialIntegrity }

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("referential integrity violation in %s: %d unknown district_id(s): %s",
		e.Table, len(e.DistrictIDs), strings.Join(e.DistrictIDs, ", "))
}

// SchemaMismatchError reports a source that lacks required columns.
type SchemaMismatchError struct {
	Source  string
	Missing []string
}

// Kind implements the kinded error contract.
func (e *SchemaMismatchError) Kind() ErrorKind { return KindSchemaMismatch }

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("source %q is missing required column(s): %s", e.Source, strings.Join(e.Missing, ", "))
}

// ConflictingAdjustmentError reports a scenario that adjusts one base feature twice.
type ConflictingAdjustmentError struct {
	Features []string
}

// Kind implements the kinded error contract.
func (e *ConflictingAdjustmentError) Kind() ErrorKind { return KindConflictingAdjustment }

func (e *ConflictingAdjustmentError) Error() string {
	return "conflicting adjustments on feature(s): " + strings.Join(e.Features, ", ")
}

// UnknownFeatureError reports an adjustment target that is not an adjustable
// base feature.
type UnknownFeatureError struct {
	Feature string
	Reason  string
}

// Kind implements the kinded error contract.
func (e *UnknownFeatureError) Kind() ErrorKind { return KindUnknownFeature }

func (e *UnknownFeatureError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("feature %q cannot be adjusted: %s", e.Feature, e.Reason)
	}
	return fmt.Sprintf("unknown feature %q", e.Feature)
}

// InvalidAdjustmentError reports a malformed adjustment (bad mode or value).
type InvalidAdjustmentError struct {
	Feature string
	Reason  string
}

// Kind implements the kinded error contract.
func (e *InvalidAdjustmentError) Kind() ErrorKind { return KindInvalidAdjustment }

func (e *InvalidAdjustmentError) Error() string {
	return fmt.Sprintf("invalid adjustment for %q: %s", e.Feature, e.Reason)
}

// FeaturesOf returns the feature names carried by a scenario error.
func FeaturesOf(err error) []string {
	var conflict *ConflictingAdjustmentError
	if errors.As(err, &conflict) {
		return conflict.Features
	}
	var unknown *UnknownFeatureError
	if errors.As(err, &unknown) {
		return []string{unknown.Feature}
	}
	var invalid *InvalidAdjustmentError
	if errors.As(err, &invalid) {
		return []string{invalid.Feature}
	}
	return nil
}
