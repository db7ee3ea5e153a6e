// Package feature derives FeatureVectors from ABT rows: base covariates,
// prior-year history statistics, anomalies, growing-season aggregates and
// interaction terms. Derivations are pure functions registered in a
// dependency graph so scenarios can recompute only what an adjustment
// touches.
package feature

import (
	"context"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/agrisim/internal/abt"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

// DefaultWorkers bounds parallel district partitions in Vectors.
const DefaultWorkers = 4

// Source is the ABT surface the pipeline reads. *abt.Builder implements it.
type Source interface {
	Build(ctx context.Context, f abt.Filter) iter.Seq2[abt.Row, error]
	Get(ctx context.Context, key core.Key) (abt.Row, error)
	History(ctx context.Context, districtID string) ([]abt.YearWeather, error)
}

// Pipeline computes feature vectors on demand from the current store.
type Pipeline struct {
	src     Source
	cfg     Config
	workers int
	logger  *slog.Logger

	mu         sync.Mutex
	registries map[string]*Registry // keyed by season, e.g. "6,7,8,9"
}

// NewPipeline validates cfg and compiles the default registry.
func NewPipeline(src Source, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		src:        src,
		cfg:        cfg,
		workers:    DefaultWorkers,
		logger:     logger,
		registries: make(map[string]*Registry),
	}
	if _, err := p.registry(cfg.Season("")); err != nil {
		return nil, err
	}
	for crop := range cfg.GrowingSeasonByCrop {
		if _, err := p.registry(cfg.Season(crop)); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// SetWorkers sets how many district partitions Vectors derives at once.
func (p *Pipeline) SetWorkers(n int) {
	if n > 0 {
		p.workers = n
	}
}

func seasonKey(season []int) string {
	parts := make([]string, len(season))
	for i, m := range season {
		parts[i] = strconv.Itoa(m)
	}
	return strings.Join(parts, ",")
}

func (p *Pipeline) registry(season []int) (*Registry, error) {
	key := seasonKey(season)
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.registries[key]; ok {
		return r, nil
	}
	r, err := StandardRegistry(season, p.cfg.interactions())
	if err != nil {
		return nil, err
	}
	p.registries[key] = r
	return r, nil
}

// Registry returns the compiled registry used for crop.
func (p *Pipeline) Registry(crop string) (*Registry, error) {
	return p.registry(p.cfg.Season(crop))
}

// Season returns the growing season used for crop.
func (p *Pipeline) Season(crop string) []int { return p.cfg.Season(crop) }

// Vector derives the feature vector for key. A missing ABT row is
// core.ErrNotFound.
func (p *Pipeline) Vector(ctx context.Context, key core.Key) (core.FeatureVector, error) {
	row, err := p.src.Get(ctx, key)
	if err != nil {
		return core.FeatureVector{}, err
	}
	hist, err := p.src.History(ctx, key.DistrictID)
	if err != nil {
		return core.FeatureVector{}, err
	}
	return p.Derive(row, hist)
}

// Vectors derives the vectors of every ABT row matching f, in ABT order.
// Districts are independent partitions and derive in parallel.
func (p *Pipeline) Vectors(ctx context.Context, f abt.Filter) ([]core.FeatureVector, error) {
	var rows []abt.Row
	for r, err := range p.src.Build(ctx, f) {
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}

	out := make([]core.FeatureVector, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for start := 0; start < len(rows); {
		end := start + 1
		for end < len(rows) && rows[end].Key.DistrictID == rows[start].Key.DistrictID {
			end++
		}
		part, lo := rows[start:end], start
		g.Go(func() error {
			hist, err := p.src.History(gctx, part[0].Key.DistrictID)
			if err != nil {
				return err
			}
			for i, r := range part {
				v, err := p.Derive(r, hist)
				if err != nil {
					return err
				}
				out[lo+i] = v
			}
			return nil
		})
		start = end
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	p.logger.Debug("feature vectors derived", "rows", len(out))
	return out, nil
}

// Derive builds the vector for one ABT row from the district's weather
// history. Only years strictly before the row's year count as history.
func (p *Pipeline) Derive(row abt.Row, history []abt.YearWeather) (core.FeatureVector, error) {
	season := p.cfg.Season(row.Key.Crop)
	reg, err := p.registry(season)
	if err != nil {
		return core.FeatureVector{}, err
	}

	v := core.NewFeatureVector(row.Key)
	for m := 1; m <= 12; m++ {
		v.Values[Rain(m)] = row.Rain(m)
	}
	v.Values[AvgTempC] = row.AvgTempC
	v.Values[WeatherMonths] = core.Some(float64(row.WeatherMonths))
	v.Values[SoilPH] = row.SoilPH
	v.Values[SoilNitrogen] = row.Nitrogen
	v.Values[SoilPhosphorus] = row.Phosphorus
	v.Values[SoilPotassium] = row.Potassium
	v.Values[SoilOrganicCarbon] = row.OrganicCarbon
	v.Values[IrrigationShare] = row.IrrigationShare
	v.Values[FertilizerKgPerHa] = row.FertilizerKgPerHa
	v.Values[AreaHa] = row.AreaHa
	v.Values[NormalAnnualRainfall] = row.NormalAnnualRainfall

	var annual, seasonal []float64
	monthly := make(map[int][]float64, len(season))
	for _, yw := range history {
		if yw.Year >= row.Key.Year {
			continue
		}
		annual = append(annual, yw.Annual)
		seasonal = append(seasonal, SeasonSum(yw.Monthly, season, yw.Months > 0).Float)
		for _, m := range season {
			if x := yw.Monthly[m-1]; x.Valid {
				monthly[m] = append(monthly[m], x.Float)
			}
		}
	}
	v.Values[AnnualHistMean], v.Values[AnnualHistStd] = HistoryStats(annual)
	v.Values[SeasonHistMean], v.Values[SeasonHistStd] = HistoryStats(seasonal)
	for _, m := range season {
		v.Values[RainHistMean(m)], v.Values[RainHistStd(m)] = HistoryStats(monthly[m])
	}
	if len(annual) < 2 {
		p.logger.Debug("short weather history", "key", row.Key.String(), "years", len(annual))
	}

	if err := reg.Evaluate(v); err != nil {
		return core.FeatureVector{}, err
	}
	return v, nil
}
