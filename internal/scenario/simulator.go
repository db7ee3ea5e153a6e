// Package scenario runs what-if simulations: adjust base features of a
// cached feature vector and recompute only the derived features downstream
// of the change, in dependency order.
package scenario

import (
	"fmt"
	"math"
	"slices"

	"github.com/leapstack-labs/agrisim/internal/feature"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

// Plan is a validated set of adjustments, keyed by base feature.
type Plan struct {
	changes    map[string]Adjustment
	adjusted   []string
	recomputed []string
}

// Adjusted returns the base features the plan changes, sorted.
func (p *Plan) Adjusted() []string { return slices.Clone(p.adjusted) }

// Recomputed returns the derived features the plan recomputes, in
// evaluation order.
func (p *Plan) Recomputed() []string { return slices.Clone(p.recomputed) }

// Result is a simulated vector and what changed to produce it.
type Result struct {
	Vector     core.FeatureVector `json:"features"`
	Adjusted   []string           `json:"adjusted"`
	Recomputed []string           `json:"recomputed"`
}

// Simulator applies plans against one feature registry.
type Simulator struct {
	reg *feature.Registry
}

// NewSimulator creates a simulator for reg, which must be compiled.
func NewSimulator(reg *feature.Registry) *Simulator {
	return &Simulator{reg: reg}
}

// Plan validates adj. Groups expand to their members; a base feature reached
// twice, directly or through a group, is a conflict. Conflicts are reported
// before unknown targets, and targets before modes and values. Nothing is
// computed.
func (s *Simulator) Plan(adj Adjustments) (*Plan, error) {
	seen := make(map[string]int)
	for _, a := range adj {
		for _, name := range s.reg.Expand(a.Feature) {
			seen[name]++
		}
	}
	var conflicts []string
	for name, n := range seen {
		if n > 1 {
			conflicts = append(conflicts, name)
		}
	}
	if len(conflicts) > 0 {
		slices.Sort(conflicts)
		return nil, &core.ConflictingAdjustmentError{Features: conflicts}
	}

	for _, a := range adj {
		for _, name := range s.reg.Expand(a.Feature) {
			switch {
			case s.reg.IsDerived(name):
				return nil, &core.UnknownFeatureError{Feature: name, Reason: "derived features are recomputed, not adjusted"}
			case s.reg.IsFixed(name):
				return nil, &core.UnknownFeatureError{Feature: name, Reason: "observed from prior years, not adjustable"}
			case !s.reg.IsBase(name):
				return nil, &core.UnknownFeatureError{Feature: name}
			}
		}
	}

	changes := make(map[string]Adjustment)
	for _, a := range adj {
		if a.Mode != ModeRelative && a.Mode != ModeAbsolute {
			return nil, &core.InvalidAdjustmentError{
				Feature: a.Feature,
				Reason:  fmt.Sprintf("mode %q must be %s or %s", a.Mode, ModeRelative, ModeAbsolute),
			}
		}
		if math.IsNaN(a.Value) || math.IsInf(a.Value, 0) {
			return nil, &core.InvalidAdjustmentError{Feature: a.Feature, Reason: "value must be a finite number"}
		}
		for _, name := range s.reg.Expand(a.Feature) {
			changes[name] = Adjustment{Feature: name, Mode: a.Mode, Value: a.Value}
		}
	}

	p := &Plan{changes: changes}
	for name := range changes {
		p.adjusted = append(p.adjusted, name)
	}
	slices.Sort(p.adjusted)
	p.recomputed = s.reg.Affected(p.adjusted)
	return p, nil
}

// Apply runs a plan on a copy of base. Null base values stay null.
func (s *Simulator) Apply(base core.FeatureVector, p *Plan) (*Result, error) {
	out := base.Clone()
	for _, name := range p.adjusted {
		out.Values[name] = apply(base.Values[name], p.changes[name])
	}
	if err := s.reg.Recompute(out, p.recomputed); err != nil {
		return nil, err
	}
	return &Result{Vector: out, Adjusted: p.Adjusted(), Recomputed: p.Recomputed()}, nil
}

// Simulate plans and applies adj to base. base is never modified.
func (s *Simulator) Simulate(base core.FeatureVector, adj Adjustments) (core.FeatureVector, error) {
	p, err := s.Plan(adj)
	if err != nil {
		return core.FeatureVector{}, err
	}
	res, err := s.Apply(base, p)
	if err != nil {
		return core.FeatureVector{}, err
	}
	return res.Vector, nil
}

func apply(old core.Value, a Adjustment) core.Value {
	if !old.Valid {
		return old
	}
	switch a.Mode {
	case ModeRelative:
		return core.Some(old.Float * (1 + a.Value/100))
	case ModeAbsolute:
		return core.Some(old.Float + a.Value)
	}
	return old
}
