// Package resolve canonicalizes raw district names into stable district ids.
//
// A Resolver holds the alias table for one rebuild. Reads go through an
// immutable snapshot swapped atomically, so lookups never block; every write
// (new district or new alias) is serialized by a mutex and publishes a
// fresh snapshot.
package resolve

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/leapstack-labs/agrisim/pkg/core"
)

// districtNamespace seeds the name-based district ids.
var districtNamespace = uuid.MustParse("6f9b8c1e-3d2a-5b7e-9c41-a8d0e2f4b613")

// DistrictID returns the id assigned to a canonical (state, name) pair.
// Both parts are normalized first, so casing and spacing never change the id.
func DistrictID(state, name string) string {
	return uuid.NewSHA1(districtNamespace, []byte(Normalize(state)+"/"+Normalize(name))).String()
}

// Config holds resolver settings.
type Config struct {
	Threshold    float64
	TieMargin    float64
	Metric       Metric
	ScopeByState bool
	// Observer, when set, is called once per Resolve with its outcome.
	Observer func(Outcome)
}

// Origin is where a raw name was observed.
type Origin struct {
	Source string
	State  string
}

// Resolution explains how a raw name resolves against the current snapshot.
type Resolution struct {
	Raw        string           `json:"raw"`
	Normalized string           `json:"normalized"`
	Scope      string           `json:"scope,omitempty"`
	Outcome    Outcome          `json:"outcome"`
	DistrictID string           `json:"district_id,omitempty"`
	Score      float64          `json:"score"`
	Candidates []core.Candidate `json:"candidates,omitempty"`
	// Merged is set when the name reached its district through an alias
	// left behind by a district merge.
	Merged bool `json:"merged,omitempty"`
}

type aliasKey struct {
	name  string
	scope string
}

type nameKey struct {
	state string
	name  string
}

// MergeSource is the alias source recorded for a merged-away district name.
const MergeSource = "merge"

// snapshot is never modified after it is published.
type snapshot struct {
	districts map[string]core.District
	aliases   map[aliasKey]core.Alias
	byName    map[nameKey]string
	entries   []Entry
	// scopes indexes alias keys by normalized name for unscoped lookups.
	scopes map[string][]aliasKey
}

func emptySnapshot() *snapshot {
	return &snapshot{
		districts: make(map[string]core.District),
		aliases:   make(map[aliasKey]core.Alias),
		byName:    make(map[nameKey]string),
		scopes:    make(map[string][]aliasKey),
	}
}

func (s *snapshot) clone() *snapshot {
	return &snapshot{
		districts: maps.Clone(s.districts),
		aliases:   maps.Clone(s.aliases),
		byName:    maps.Clone(s.byName),
		entries:   slices.Clone(s.entries),
		scopes:    maps.Clone(s.scopes),
	}
}

// putAlias must only be called on a snapshot that is not yet published.
func (s *snapshot) putAlias(a core.Alias) {
	key := aliasKey{name: a.Normalized, scope: a.Scope}
	if _, ok := s.aliases[key]; !ok {
		// Clip so the append never writes into a published snapshot's array.
		s.scopes[key.name] = append(slices.Clip(s.scopes[key.name]), key)
	}
	s.aliases[key] = a
}

// registered returns the district a canonical (state, name) pair already
// belongs to: its own district, or the survivor of a merge that left the
// name behind as an alias.
func (s *snapshot) registered(key nameKey) (string, bool) {
	if id, ok := s.byName[key]; ok {
		return id, true
	}
	if a, ok := s.aliases[aliasKey{name: key.name, scope: key.state}]; ok {
		if _, live := s.districts[a.DistrictID]; live {
			return a.DistrictID, true
		}
	}
	if a, ok := s.aliases[aliasKey{name: key.name}]; ok {
		if d, live := s.districts[a.DistrictID]; live && Normalize(d.State) == key.state {
			return a.DistrictID, true
		}
	}
	return "", false
}

// Resolver maps raw district names to district ids.
type Resolver struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	current atomic.Pointer[snapshot]
	pending []core.Alias
}

// New creates an empty resolver. Call Init to seed it from the store.
func New(cfg Config, logger *slog.Logger) (*Resolver, error) {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("resolver threshold must be in (0,1], got %v", cfg.Threshold)
	}
	if cfg.TieMargin < 0 {
		return nil, fmt.Errorf("resolver tie margin must not be negative, got %v", cfg.TieMargin)
	}
	metric, err := ParseMetric(string(cfg.Metric))
	if err != nil {
		return nil, err
	}
	cfg.Metric = metric
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Resolver{cfg: cfg, logger: logger}
	r.current.Store(emptySnapshot())
	return r, nil
}

// Init replaces all resolver state with districts (and their aliases), as
// read from the store. Aliases recorded before Init are forgotten.
func (r *Resolver) Init(districts []core.District) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := emptySnapshot()
	for _, d := range districts {
		if d.ID == "" {
			return fmt.Errorf("district %q has no id", d.CanonicalName)
		}
		key := nameKey{state: Normalize(d.State), name: Normalize(d.CanonicalName)}
		if other, ok := next.byName[key]; ok && other != d.ID {
			return fmt.Errorf("districts %s and %s share canonical name %q in state %q", other, d.ID, d.CanonicalName, d.State)
		}
		aliases := d.Aliases
		d.Aliases = nil
		next.add(d, key)
		for _, a := range aliases {
			a.DistrictID = d.ID
			next.putAlias(a)
		}
	}
	r.pending = nil
	r.current.Store(next)
	r.logger.Debug("resolver initialized", "districts", len(next.districts), "aliases", len(next.aliases))
	return nil
}

func (s *snapshot) add(d core.District, key nameKey) {
	s.districts[d.ID] = d
	s.byName[key] = d.ID
	s.entries = append(s.entries, Entry{
		DistrictID:   d.ID,
		Name:         key.name,
		State:        key.state,
		DisplayName:  d.CanonicalName,
		DisplayState: d.State,
	})
}

// Register returns the canonical district for (name, state), creating it on
// first sight. The raw name is recorded as an alias scoped to the state. A
// name merged into another district returns the surviving district.
func (r *Resolver) Register(name, state, source string) (core.District, error) {
	key := nameKey{state: Normalize(state), name: Normalize(name)}
	if key.name == "" {
		return core.District{}, &core.UnresolvedEntityError{RawName: name, Source: source}
	}

	if id, ok := r.current.Load().registered(key); ok {
		r.recordAlias(name, key.name, key.state, id, source)
		return r.current.Load().districts[id], nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.current.Load()
	if id, ok := cur.registered(key); ok {
		r.addAliasLocked(name, key.name, key.state, id, source)
		return r.current.Load().districts[id], nil
	}

	d := core.District{
		ID:            DistrictID(state, name),
		CanonicalName: displayName(name),
		State:         displayName(state),
	}
	next := cur.clone()
	next.add(d, key)
	r.current.Store(next)
	r.addAliasLocked(name, key.name, key.state, d.ID, source)
	r.logger.Debug("registered district", "district_id", d.ID, "raw_name", name, "state", state, "source", source)
	return d, nil
}

// displayName trims and collapses whitespace, keeping the original casing.
func displayName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (r *Resolver) scope(origin Origin) string {
	if !r.cfg.ScopeByState {
		return ""
	}
	return Normalize(origin.State)
}

// Explain resolves raw against the current snapshot without recording
// anything.
func (r *Resolver) Explain(raw string, origin Origin) Resolution {
	return r.explain(r.current.Load(), raw, origin)
}

func (r *Resolver) explain(s *snapshot, raw string, origin Origin) Resolution {
	res := Resolution{Raw: raw, Normalized: Normalize(raw), Scope: r.scope(origin)}
	if res.Normalized == "" {
		res.Outcome = OutcomeNoMatch
		return res
	}

	if a, ok := s.aliases[aliasKey{name: res.Normalized, scope: res.Scope}]; ok {
		return res.viaAlias(a)
	}
	if res.Scope != "" {
		if a, ok := s.aliases[aliasKey{name: res.Normalized}]; ok && Normalize(s.districts[a.DistrictID].State) == res.Scope {
			return res.viaAlias(a)
		}
		if id, ok := s.byName[nameKey{state: res.Scope, name: res.Normalized}]; ok {
			return res.resolved(OutcomeExact, id)
		}
	} else {
		// The same canonical name can exist in several states.
		var exact []core.Candidate
		for _, e := range s.entries {
			if e.Name == res.Normalized {
				exact = append(exact, core.Candidate{DistrictID: e.DistrictID, Name: e.DisplayName, State: e.DisplayState, Score: 1})
			}
		}
		switch {
		case len(exact) == 1:
			return res.resolved(OutcomeExact, exact[0].DistrictID)
		case len(exact) > 1:
			slices.SortFunc(exact, func(a, b core.Candidate) int { return cmp.Compare(a.State, b.State) })
			res.Outcome = OutcomeAmbiguous
			res.Score = 1
			res.Candidates = exact
			return res
		}
		if a, ok := s.scopedAlias(res.Normalized); ok {
			return res.viaAlias(a)
		}
	}

	entries := s.entries
	if res.Scope != "" {
		entries = make([]Entry, 0, len(s.entries))
		for _, e := range s.entries {
			if e.State == res.Scope {
				entries = append(entries, e)
			}
		}
	}
	m := Match(res.Normalized, entries, Options{
		Threshold: r.cfg.Threshold,
		TieMargin: r.cfg.TieMargin,
		Metric:    r.cfg.Metric,
	})
	res.Outcome = m.Outcome
	res.DistrictID = m.DistrictID
	res.Score = m.Score
	res.Candidates = m.Candidates
	return res
}

// scopedAlias finds a state-scoped alias for an unscoped name. It only
// answers when every such alias points at the same district.
func (s *snapshot) scopedAlias(normalized string) (core.Alias, bool) {
	var found core.Alias
	for _, key := range s.scopes[normalized] {
		a := s.aliases[key]
		if found.DistrictID != "" && found.DistrictID != a.DistrictID {
			return core.Alias{}, false
		}
		if found.DistrictID == "" || a.Source == MergeSource {
			found = a
		}
	}
	return found, found.DistrictID != ""
}

func (res Resolution) viaAlias(a core.Alias) Resolution {
	res = res.resolved(OutcomeAlias, a.DistrictID)
	res.Merged = a.Source == MergeSource
	return res
}

func (res Resolution) resolved(o Outcome, id string) Resolution {
	res.Outcome = o
	res.DistrictID = id
	res.Score = 1
	return res
}

// Resolve returns the district id for raw. Names that cannot be resolved
// uniquely yield *core.UnresolvedEntityError with the candidate list. A
// fuzzy or exact-name hit records raw as a new alias.
func (r *Resolver) Resolve(ctx context.Context, raw string, origin Origin) (string, error) {
	res, err := r.ResolveDetail(ctx, raw, origin)
	return res.DistrictID, err
}

// ResolveDetail is Resolve returning how the name was resolved.
func (r *Resolver) ResolveDetail(ctx context.Context, raw string, origin Origin) (Resolution, error) {
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}
	res := r.Explain(raw, origin)
	if r.cfg.Observer != nil {
		r.cfg.Observer(res.Outcome)
	}
	if !res.Outcome.Resolved() {
		return Resolution{}, &core.UnresolvedEntityError{
			RawName:    raw,
			Source:     origin.Source,
			Ambiguous:  res.Outcome == OutcomeAmbiguous,
			Candidates: res.Candidates,
		}
	}
	if res.Outcome != OutcomeAlias {
		r.recordAlias(raw, res.Normalized, res.Scope, res.DistrictID, origin.Source)
		if res.Outcome == OutcomeMatched {
			r.logger.Debug("fuzzy match registered alias",
				"raw_name", raw, "district_id", res.DistrictID, "score", res.Score, "source", origin.Source)
		}
	}
	return res, nil
}

func (r *Resolver) recordAlias(raw, normalized, scope, id, source string) {
	if _, ok := r.current.Load().aliases[aliasKey{name: normalized, scope: scope}]; ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addAliasLocked(raw, normalized, scope, id, source)
}

// addAliasLocked must be called with r.mu held. The first writer of an alias
// key wins; later writers see it and keep it.
func (r *Resolver) addAliasLocked(raw, normalized, scope, id, source string) {
	cur := r.current.Load()
	key := aliasKey{name: normalized, scope: scope}
	if _, ok := cur.aliases[key]; ok {
		return
	}
	a := core.Alias{Raw: displayName(raw), Normalized: normalized, Scope: scope, DistrictID: id, Source: source}
	next := cur.clone()
	next.putAlias(a)
	r.current.Store(next)
	r.pending = append(r.pending, a)
}

// Districts returns the canonical districts without aliases, sorted by id.
func (r *Resolver) Districts() []core.District {
	s := r.current.Load()
	out := slices.Collect(maps.Values(s.districts))
	slices.SortFunc(out, func(a, b core.District) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Aliases returns every known alias in canonical order.
func (r *Resolver) Aliases() []core.Alias {
	out := slices.Collect(maps.Values(r.current.Load().aliases))
	sortAliases(out)
	return out
}

// NewAliases returns the aliases recorded since Init.
func (r *Resolver) NewAliases() []core.Alias {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(r.pending)
	sortAliases(out)
	return out
}

func sortAliases(as []core.Alias) {
	slices.SortFunc(as, func(a, b core.Alias) int {
		return cmp.Or(cmp.Compare(a.Normalized, b.Normalized), cmp.Compare(a.Scope, b.Scope))
	})
}

// Snapshot returns every district with its aliases, sorted by id.
func (r *Resolver) Snapshot() []core.District {
	s := r.current.Load()
	byDistrict := make(map[string][]core.Alias)
	for _, a := range s.aliases {
		byDistrict[a.DistrictID] = append(byDistrict[a.DistrictID], a)
	}
	out := r.Districts()
	for i := range out {
		as := byDistrict[out[i].ID]
		sortAliases(as)
		out[i].Aliases = as
	}
	return out
}
