package feature

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/leapstack-labs/agrisim/internal/dag"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

// Registry errors.
var (
	ErrDuplicateFeature = errors.New("duplicate feature")
	ErrUnknownInput     = errors.New("unknown input feature")
	ErrCycle            = errors.New("feature dependency cycle")
	ErrNotCompiled      = errors.New("registry is not compiled")
)

// Compute derives one value from its inputs, passed in Definition.Inputs order.
type Compute func(args []core.Value) core.Value

// Definition is a named derived feature with its formula and declared inputs.
type Definition struct {
	Name    string
	Inputs  []string
	Compute Compute
}

// Registry holds base features, fixed inputs, derived definitions and
// feature groups, and the dependency graph between them. Build it with Base,
// Fixed, Define and Group, then Compile. A compiled registry is read-only and safe for concurrent use.
type Registry struct {
	base   map[string]bool
	fixed  map[string]bool
	defs   map[string]Definition
	groups map[string][]string

	graph *dag.Graph
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		base:   make(map[string]bool),
		fixed:  make(map[string]bool),
		defs:   make(map[string]Definition),
		groups: make(map[string][]string),
	}
}

func (r *Registry) taken(name string) bool {
	_, def := r.defs[name]
	_, group := r.groups[name]
	return r.base[name] || r.fixed[name] || def || group
}

// Base registers adjustable base features.
func (r *Registry) Base(names ...string) error {
	for _, name := range names {
		if r.taken(name) {
			return fmt.Errorf("%w: %s", ErrDuplicateFeature, name)
		}
		r.base[name] = true
	}
	r.graph = nil
	return nil
}

// Fixed registers inputs that formulas read but scenarios may not adjust,
// such as statistics over prior years.
func (r *Registry) Fixed(names ...string) error {
	for _, name := range names {
		if r.taken(name) {
			return fmt.Errorf("%w: %s", ErrDuplicateFeature, name)
		}
		r.fixed[name] = true
	}
	r.graph = nil
	return nil
}

// Define registers a derived feature. Inputs may be defined later; they are
// checked by Compile.
func (r *Registry) Define(def Definition) error {
	if def.Name == "" || def.Compute == nil {
		return fmt.Errorf("feature definition %q needs a name and a formula", def.Name)
	}
	if r.taken(def.Name) {
		return fmt.Errorf("%w: %s", ErrDuplicateFeature, def.Name)
	}
	def.Inputs = slices.Clone(def.Inputs)
	r.defs[def.Name] = def
	r.graph = nil
	return nil
}

// Group registers a name that expands to several base features.
func (r *Registry) Group(name string, members ...string) error {
	if r.taken(name) {
		return fmt.Errorf("%w: %s", ErrDuplicateFeature, name)
	}
	r.groups[name] = slices.Clone(members)
	r.graph = nil
	return nil
}

// Compile validates inputs and group members, builds the dependency graph and
// fixes the evaluation order.
func (r *Registry) Compile() error {
	g := dag.NewGraph()
	for name := range r.base {
		g.AddNode(name)
	}
	for name := range r.fixed {
		g.AddNode(name)
	}
	for name := range r.defs {
		g.AddNode(name)
	}
	for _, name := range slices.Sorted(maps.Keys(r.defs)) {
		for _, in := range r.defs[name].Inputs {
			if !g.HasNode(in) {
				return fmt.Errorf("%w: %s reads %s", ErrUnknownInput, name, in)
			}
			if err := g.AddEdge(in, name); err != nil {
				return fmt.Errorf("%w: %v", ErrCycle, err)
			}
		}
	}
	for _, name := range slices.Sorted(maps.Keys(r.groups)) {
		for _, m := range r.groups[name] {
			if !r.base[m] {
				return fmt.Errorf("group %s: %w: %s is not a base feature", name, ErrUnknownInput, m)
			}
		}
	}
	if cyclic, path := g.HasCycle(); cyclic {
		return fmt.Errorf("%w: %s", ErrCycle, strings.Join(path, " -> "))
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return err
	}
	r.graph, r.order = g, order
	return nil
}

// Order returns every feature in evaluation order.
func (r *Registry) Order() []string { return slices.Clone(r.order) }

// IsBase reports whether name is an adjustable base feature.
func (r *Registry) IsBase(name string) bool { return r.base[name] }

// IsFixed reports whether name is an input that cannot be adjusted.
func (r *Registry) IsFixed(name string) bool { return r.fixed[name] }

// IsDerived reports whether name is computed by a registered formula.
func (r *Registry) IsDerived(name string) bool {
	_, ok := r.defs[name]
	return ok
}

// BaseNames returns the base features, sorted.
func (r *Registry) BaseNames() []string { return slices.Sorted(maps.Keys(r.base)) }

// FixedNames returns the fixed inputs, sorted.
func (r *Registry) FixedNames() []string { return slices.Sorted(maps.Keys(r.fixed)) }

// DerivedNames returns the derived features in evaluation order.
func (r *Registry) DerivedNames() []string {
	out := make([]string, 0, len(r.defs))
	for _, name := range r.order {
		if r.IsDerived(name) {
			out = append(out, name)
		}
	}
	return out
}

// Groups returns the group names, sorted.
func (r *Registry) Groups() []string { return slices.Sorted(maps.Keys(r.groups)) }

// Expand resolves a group to its members. Any other name expands to itself.
func (r *Registry) Expand(name string) []string {
	if members, ok := r.groups[name]; ok {
		return slices.Clone(members)
	}
	return []string{name}
}

// Affected returns the derived features downstream of changed, in evaluation
// order. Each appears once.
func (r *Registry) Affected(changed []string) []string {
	if r.graph == nil {
		return nil
	}
	var out []string
	for _, name := range dag.OrderOf(r.order, r.graph.Affected(changed)) {
		if r.IsDerived(name) {
			out = append(out, name)
		}
	}
	return out
}

// Evaluate computes every derived feature of v in place.
func (r *Registry) Evaluate(v core.FeatureVector) error {
	return r.Recompute(v, r.DerivedNames())
}

// Recompute evaluates the named derived features of v in the given order.
// Callers pass names already in evaluation order (see Affected).
func (r *Registry) Recompute(v core.FeatureVector, names []string) error {
	if r.graph == nil {
		return ErrNotCompiled
	}
	for _, name := range names {
		def, ok := r.defs[name]
		if !ok {
			continue
		}
		args := make([]core.Value, len(def.Inputs))
		for i, in := range def.Inputs {
			args[i] = v.Values[in]
		}
		v.Values[name] = def.Compute(args)
	}
	return nil
}
