// Package etl rebuilds the normalized store from raw extracts: load every
// source, canonicalize district names, then replace each table wholesale.
package etl

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/leapstack-labs/agrisim/internal/loader"
	"github.com/leapstack-labs/agrisim/internal/metrics"
	"github.com/leapstack-labs/agrisim/internal/resolve"
	"github.com/leapstack-labs/agrisim/internal/store"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

// Rebuilder runs full-refresh rebuilds. Rebuilds against one store must not
// overlap.
type Rebuilder struct {
	store    *store.Store
	loader   *loader.Loader
	resolver resolve.Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewRebuilder wires a rebuilder. m may be nil.
func NewRebuilder(st *store.Store, ld *loader.Loader, cfg resolve.Config, m *metrics.Metrics, logger *slog.Logger) *Rebuilder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Rebuilder{store: st, loader: ld, resolver: cfg, metrics: m, logger: logger}
}

type run struct {
	*Rebuilder
	report   *core.RunReport
	resolver *resolve.Resolver
	sources  map[string]*core.SourceResult
}

// Rebuild loads sources and replaces the normalized tables. Data-quality
// problems are counted in the returned report; a table whose sources failed
// to load, or whose rows violate referential integrity, keeps its prior
// contents while the other tables are still rebuilt.
func (r *Rebuilder) Rebuild(ctx context.Context, sources []core.SourceConfig) (*core.RunReport, error) {
	report, err := r.store.CreateRun(ctx)
	if err != nil {
		return nil, err
	}
	log := r.logger.With("run_id", report.RunID)
	log.Info("rebuild started", "sources", len(sources))

	cfg := r.resolver
	if cfg.Observer == nil && r.metrics != nil {
		cfg.Observer = func(o resolve.Outcome) { r.metrics.Resolution(string(o)) }
	}
	res, err := resolve.New(cfg, log)
	if err != nil {
		return r.abort(ctx, report, err)
	}
	snap, err := r.store.Snapshot(ctx)
	if err != nil {
		return r.abort(ctx, report, err)
	}
	if err := res.Init(snap); err != nil {
		return r.abort(ctx, report, fmt.Errorf("failed to initialize resolver: %w", err))
	}

	results, err := r.loader.LoadAll(ctx, sources)
	if err != nil {
		return r.abort(ctx, report, err)
	}

	u := &run{Rebuilder: r, report: report, resolver: res, sources: make(map[string]*core.SourceResult)}
	batches := u.collect(sources, results)
	if err := u.register(ctx, batches); err != nil {
		return r.abort(ctx, report, err)
	}
	tables, err := u.resolveAll(ctx, batches)
	if err != nil {
		return r.abort(ctx, report, err)
	}

	u.writeDistricts(ctx)
	failed := u.failedKinds(sources, results)
	u.write(ctx, core.SourceSoil, failed, func(ctx context.Context) (int, error) {
		return r.store.ReplaceSoil(ctx, dedupe(u, core.TableSoilProperties, tables.soil.ordered(), soilKey))
	})
	u.write(ctx, core.SourceWeather, failed, func(ctx context.Context) (int, error) {
		return r.store.ReplaceWeather(ctx, dedupe(u, core.TableMonthlyWeather, tables.weather.ordered(), weatherKey))
	})
	u.write(ctx, core.SourceYield, failed, func(ctx context.Context) (int, error) {
		return r.store.ReplaceYields(ctx, dedupe(u, core.TableCropYields, tables.yields.ordered(), yieldKey))
	})
	u.write(ctx, core.SourceInputs, failed, func(ctx context.Context) (int, error) {
		return r.store.ReplaceInputs(ctx, dedupe(u, core.TableDistrictInputs, tables.inputs.ordered(), inputKey))
	})
	u.write(ctx, core.SourceNormals, failed, func(ctx context.Context) (int, error) {
		return r.store.ReplaceNormals(ctx, dedupe(u, core.TableNormalRainfall, tables.normals.ordered(), normalKey))
	})

	report.Finish(time.Now().UTC())
	if err := ctx.Err(); err != nil {
		report.Status = core.RunStatusFailed
	}
	if err := r.store.RecordIssues(context.WithoutCancel(ctx), report.RunID, report.Samples); err != nil {
		log.Warn("failed to record issues", "error", err)
	}
	if err := r.store.CompleteRun(context.WithoutCancel(ctx), report); err != nil {
		return report, err
	}
	log.Info("rebuild finished", "status", report.Status, "issues", report.TotalIssues(),
		"new_aliases", len(res.NewAliases()))
	return report, ctx.Err()
}

// abort marks the run failed before any table was touched.
func (r *Rebuilder) abort(ctx context.Context, report *core.RunReport, err error) (*core.RunReport, error) {
	report.Finish(time.Now().UTC())
	report.Status = core.RunStatusFailed
	if cerr := r.store.CompleteRun(context.WithoutCancel(ctx), report); cerr != nil {
		r.logger.Warn("failed to record aborted run", "run_id", report.RunID, "error", cerr)
	}
	r.logger.Error("rebuild aborted", "run_id", report.RunID, "error", err)
	return report, err
}

// collect records per-source results and returns the batches that loaded.
func (u *run) collect(sources []core.SourceConfig, results []loader.Result) []*loader.Batch {
	var batches []*loader.Batch
	for i, src := range sources {
		sr := &core.SourceResult{Source: src.Name, Kind: string(src.Kind)}
		u.report.Sources = append(u.report.Sources, sr)
		u.sources[src.Name] = sr
		if err := results[i].Err; err != nil {
			sr.Error = err.Error()
			kind := core.KindOf(err)
			if kind == "" {
				kind = core.KindSchemaMismatch
			}
			u.report.AddIssue(core.Issue{Source: src.Name, Table: src.Kind.Table(), Kind: kind, Message: err.Error()})
			continue
		}
		b := results[i].Batch
		sr.Rows = b.Rows
		for _, is := range b.Issues {
			u.issue(is)
		}
		batches = append(batches, b)
	}
	return batches
}

func (u *run) issue(is core.Issue) {
	u.report.AddIssue(is)
	if sr, ok := u.sources[is.Source]; ok {
		sr.Issues++
	}
	if is.Table != "" {
		u.report.Table(is.Table).Excluded++
		u.metrics.RowExcluded(is.Table, string(is.Kind))
	}
}

// failedKinds returns the source kinds with at least one failed source.
func (u *run) failedKinds(sources []core.SourceConfig, results []loader.Result) map[core.SourceKind]string {
	failed := make(map[core.SourceKind]string)
	for i, src := range sources {
		if results[i].Err != nil {
			if _, seen := failed[src.Kind]; !seen {
				failed[src.Kind] = src.Name
			}
		}
	}
	return failed
}

// register creates canonical districts from every registering source, in
// source order, before any name is resolved.
func (u *run) register(ctx context.Context, batches []*loader.Batch) error {
	for _, b := range batches {
		if !b.Source.Registers() {
			continue
		}
		for _, n := range names(b) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := u.resolver.Register(n.District, n.State, b.Source.Name); err != nil {
				u.issue(core.Issue{
					Source: b.Source.Name, Table: core.TableDistricts, Kind: core.KindOf(err),
					Line: n.Line, RawName: n.District, Message: err.Error(),
				})
			}
		}
	}
	return nil
}

func names(b *loader.Batch) []loader.RawName {
	out := append([]loader.RawName(nil), b.Names...)
	for _, r := range b.Yields {
		out = append(out, r.Name)
	}
	for _, r := range b.Weather {
		out = append(out, r.Name)
	}
	for _, r := range b.Soil {
		out = append(out, r.Name)
	}
	for _, r := range b.Inputs {
		out = append(out, r.Name)
	}
	for _, r := range b.Normals {
		out = append(out, r.Name)
	}
	return out
}

// tableRows holds the records of one table. Records that reached their district
// through a merge alias are kept apart so the surviving district's own
// records win key collisions.
type tableRows[T any] struct {
	direct []T
	merged []T
}

// ordered returns merged records first; dedupe keeps the last of a key.
func (r tableRows[T]) ordered() []T {
	return append(slices.Clip(r.merged), r.direct...)
}

type resolved struct {
	soil    tableRows[core.SoilProfile]
	weather tableRows[core.WeatherObservation]
	yields  tableRows[core.YieldRecord]
	inputs  tableRows[core.InputRecord]
	normals tableRows[core.RainfallNormal]
}

// resolveAll assigns district ids to every record in source order.
// Unresolvable rows are excluded and reported.
func (u *run) resolveAll(ctx context.Context, batches []*loader.Batch) (*resolved, error) {
	out := &resolved{}
	var err error
	for _, b := range batches {
		switch b.Source.Kind {
		case core.SourceSoil:
			err = resolveRows(ctx, u, b.Source, b.Soil, &out.soil, func(r *core.SoilProfile, id string) { r.DistrictID = id })
		case core.SourceWeather:
			err = resolveRows(ctx, u, b.Source, b.Weather, &out.weather, func(r *core.WeatherObservation, id string) { r.DistrictID = id })
		case core.SourceYield:
			err = resolveRows(ctx, u, b.Source, b.Yields, &out.yields, func(r *core.YieldRecord, id string) { r.DistrictID = id })
		case core.SourceInputs:
			err = resolveRows(ctx, u, b.Source, b.Inputs, &out.inputs, func(r *core.InputRecord, id string) { r.DistrictID = id })
		case core.SourceNormals:
			err = resolveRows(ctx, u, b.Source, b.Normals, &out.normals, func(r *core.RainfallNormal, id string) { r.DistrictID = id })
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func resolveRows[T any](ctx context.Context, u *run, src core.SourceConfig, raw []loader.Raw[T], out *tableRows[T], set func(*T, string)) error {
	for _, row := range raw {
		res, err := u.resolver.ResolveDetail(ctx, row.Name.District, resolve.Origin{Source: src.Name, State: row.Name.State})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			u.issue(core.Issue{
				Source: src.Name, Table: src.Kind.Table(), Kind: core.KindUnresolvedEntity,
				Line: row.Name.Line, RawName: row.Name.District, Message: err.Error(),
			})
			continue
		}
		rec := row.Record
		set(&rec, res.DistrictID)
		if res.Merged {
			out.merged = append(out.merged, rec)
		} else {
			out.direct = append(out.direct, rec)
		}
	}
	return nil
}

// writeDistricts persists the resolver's districts and the full alias set.
func (u *run) writeDistricts(ctx context.Context) {
	tr := u.report.Table(core.TableDistricts)
	districts := u.resolver.Districts()
	aliases := u.resolver.Aliases()
	if err := u.store.ReplaceDistricts(ctx, districts, aliases); err != nil {
		u.fail(tr, err)
		u.report.Table(core.TableAliases).Error = tr.Error
		return
	}
	tr.Loaded = len(districts)
	u.report.Table(core.TableAliases).Loaded = len(aliases)
	u.metrics.RowsLoaded(core.TableDistricts, len(districts))
	u.metrics.RowsLoaded(core.TableAliases, len(aliases))
}

func (u *run) fail(tr *core.TableResult, err error) {
	tr.Error = err.Error()
	kind := core.KindOf(err)
	u.report.AddIssue(core.Issue{Table: tr.Table, Kind: cmp.Or(kind, core.ErrorKind("store_error")), Message: err.Error()})
	u.metrics.TableFailed(tr.Table, string(kind))
	u.logger.Warn("table kept prior state", "run_id", u.report.RunID, "table", tr.Table, "error", err)
}

// write replaces the table fed by kind unless a source of that kind failed
// or no source of that kind was configured.
func (u *run) write(ctx context.Context, kind core.SourceKind, failed map[core.SourceKind]string, replace func(context.Context) (int, error)) {
	tr := u.report.Table(kind.Table())
	if name, ok := failed[kind]; ok {
		tr.Skipped = true
		tr.Error = fmt.Sprintf("source %q failed to load", name)
		u.metrics.TableFailed(tr.Table, string(core.KindSchemaMismatch))
		return
	}
	if !u.configured(kind) {
		tr.Skipped = true
		return
	}
	if err := ctx.Err(); err != nil {
		tr.Skipped = true
		tr.Error = err.Error()
		return
	}
	n, err := replace(ctx)
	if err != nil {
		u.fail(tr, err)
		return
	}
	tr.Loaded = n
	u.metrics.RowsLoaded(tr.Table, n)
}

func (u *run) configured(kind core.SourceKind) bool {
	for _, sr := range u.report.Sources {
		if sr.Kind == string(kind) {
			return true
		}
	}
	return false
}
