// Package loader reads raw agricultural extracts into typed records.
//
// Column mapping is configuration: each source kind has a fixed set of
// logical columns, and a source maps them onto its own headers. Rows are not
// cleaned beyond trimming and parsing; district names are left raw for the
// resolver.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/agrisim/pkg/core"
)

// RawName is the unresolved district identity carried by a row.
type RawName struct {
	District string
	State    string
	Line     int
}

// Raw pairs a parsed record with its unresolved district name.
// Record.DistrictID is empty until the name is resolved.
type Raw[T any] struct {
	Name   RawName
	Record T
}

// Batch holds the parsed rows of one source. Only the slice matching the
// source kind is populated; district sources fill Names only.
type Batch struct {
	Source  core.SourceConfig
	Rows    int
	Names   []RawName
	Yields  []Raw[core.YieldRecord]
	Weather []Raw[core.WeatherObservation]
	Soil    []Raw[core.SoilProfile]
	Inputs  []Raw[core.InputRecord]
	Normals []Raw[core.RainfallNormal]
	Issues  []core.Issue
}

// Result is the outcome of loading one source in LoadAll.
type Result struct {
	Batch *Batch
	Err   error
}

// DefaultConcurrency bounds the sources LoadAll reads at once.
const DefaultConcurrency = 4

// Loader reads extracts.
type Loader struct {
	logger      *slog.Logger
	validate    *validator.Validate
	concurrency int
}

// New creates a Loader. A nil logger discards output.
func New(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{logger: logger, validate: newValidator(), concurrency: DefaultConcurrency}
}

// SetConcurrency changes how many sources LoadAll reads in parallel.
func (l *Loader) SetConcurrency(n int) {
	if n > 0 {
		l.concurrency = n
	}
}

// Load reads one source. Structural failures (unreadable file, unknown
// format, missing columns) are returned as errors; bad rows are collected
// in Batch.Issues and skipped.
func (l *Loader) Load(ctx context.Context, src core.SourceConfig) (*Batch, error) {
	if !src.Kind.Valid() {
		return nil, fmt.Errorf("source %q: unknown kind %q", src.Name, src.Kind)
	}
	cur, err := openExtract(ctx, src.Format, src.Path)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", src.Name, err)
	}
	defer func() { _ = cur.Close() }()

	cols, err := mapColumns(src, cur.Header())
	if err != nil {
		return nil, err
	}

	b := &Batch{Source: src}
	p := rowParser{loader: l, batch: b, cols: cols}
	for {
		row, err := cur.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", src.Name, err)
		}
		b.Rows++
		p.parse(row)
	}

	l.logger.Debug("loaded source",
		"source", src.Name, "kind", src.Kind, "rows", b.Rows, "issues", len(b.Issues), "wide", cols.wide)
	return b, nil
}

// LoadAll reads sources concurrently. Results are in source order; a failed
// source does not stop the others.
func (l *Loader) LoadAll(ctx context.Context, sources []core.SourceConfig) ([]Result, error) {
	results := make([]Result, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, src := range sources {
		g.Go(func() error {
			b, err := l.Load(gctx, src)
			results[i] = Result{Batch: b, Err: err}
			if err != nil {
				l.logger.Warn("source failed to load", "source", src.Name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

type rowParser struct {
	loader *Loader
	batch  *Batch
	cols   columnMap
}

func (p *rowParser) issue(row Row, name string, kind core.ErrorKind, msg string) {
	p.batch.Issues = append(p.batch.Issues, core.Issue{
		Source:  p.batch.Source.Name,
		Table:   p.batch.Source.Kind.Table(),
		Kind:    kind,
		Line:    row.Line,
		RawName: name,
		Message: msg,
	})
}

func (p *rowParser) parse(row Row) {
	name := RawName{
		District: p.cols.cell(row, ColDistrict),
		State:    p.cols.cell(row, ColState),
		Line:     row.Line,
	}
	if isNull(name.District) {
		p.issue(row, "", core.KindInvalidValue, "district is empty")
		return
	}

	var err error
	switch p.batch.Source.Kind {
	case core.SourceDistricts:
		p.batch.Names = append(p.batch.Names, name)
	case core.SourceYield:
		err = p.yield(row, name)
	case core.SourceWeather:
		if p.cols.wide {
			err = p.wideWeather(row, name)
		} else {
			err = p.weather(row, name)
		}
	case core.SourceSoil:
		err = p.soil(row, name)
	case core.SourceInputs:
		err = p.inputs(row, name)
	case core.SourceNormals:
		if p.cols.wide {
			p.wideNormals(row, name)
		} else {
			err = p.normals(row, name)
		}
	}
	if err != nil {
		p.issue(row, name.District, core.KindInvalidValue, err.Error())
	}
}

func (p *rowParser) check(record any) error {
	if err := p.loader.validate.Struct(record); err != nil {
		return errors.New(describeValidation(err))
	}
	return nil
}

func (p *rowParser) yield(row Row, name RawName) error {
	var (
		rec core.YieldRecord
		err error
	)
	if rec.Year, err = parseInt(ColYear, p.cols.cell(row, ColYear)); err != nil {
		return err
	}
	rec.Crop = NormalizeCrop(p.cols.cell(row, ColCrop))
	if rec.YieldKgPerHa, err = parseFloat(ColYield, p.cols.cell(row, ColYield)); err != nil {
		return err
	}
	if rec.AreaHa, err = parseOptional(ColArea, p.cols.cell(row, ColArea)); err != nil {
		return err
	}
	if rec.ProductionTonnes, err = parseOptional(ColProduction, p.cols.cell(row, ColProduction)); err != nil {
		return err
	}
	if err := p.check(rec); err != nil {
		return err
	}
	p.batch.Yields = append(p.batch.Yields, Raw[core.YieldRecord]{Name: name, Record: rec})
	return nil
}

func (p *rowParser) weather(row Row, name RawName) error {
	var (
		rec core.WeatherObservation
		err error
	)
	if rec.Year, err = parseInt(ColYear, p.cols.cell(row, ColYear)); err != nil {
		return err
	}
	if rec.Month, err = parseMonth(p.cols.cell(row, ColMonth)); err != nil {
		return err
	}
	if rec.RainfallMM, err = parseFloat(ColRainfall, p.cols.cell(row, ColRainfall)); err != nil {
		return err
	}
	if rec.AvgTempC, err = parseOptional(ColTemperature, p.cols.cell(row, ColTemperature)); err != nil {
		return err
	}
	if err := p.check(rec); err != nil {
		return err
	}
	p.batch.Weather = append(p.batch.Weather, Raw[core.WeatherObservation]{Name: name, Record: rec})
	return nil
}

// wideWeather fans one row with jan..dec columns out into monthly
// observations. Empty month cells are skipped, not zero.
func (p *rowParser) wideWeather(row Row, name RawName) error {
	year, err := parseInt(ColYear, p.cols.cell(row, ColYear))
	if err != nil {
		return err
	}
	for i, mc := range MonthColumns {
		if !p.cols.has(mc) {
			continue
		}
		cell := p.cols.cell(row, mc)
		if isNull(cell) {
			continue
		}
		rain, err := parseFloat(mc, cell)
		if err != nil {
			p.issue(row, name.District, core.KindInvalidValue, err.Error())
			continue
		}
		rec := core.WeatherObservation{Year: year, Month: i + 1, RainfallMM: rain}
		if err := p.check(rec); err != nil {
			p.issue(row, name.District, core.KindInvalidValue, mc+": "+err.Error())
			continue
		}
		p.batch.Weather = append(p.batch.Weather, Raw[core.WeatherObservation]{Name: name, Record: rec})
	}
	return nil
}

func (p *rowParser) soil(row Row, name RawName) error {
	var (
		rec core.SoilProfile
		err error
	)
	rec.SoilType = p.cols.cell(row, ColSoilType)
	if isNull(rec.SoilType) {
		rec.SoilType = ""
	}
	if rec.PH, err = parseFloat(ColPH, p.cols.cell(row, ColPH)); err != nil {
		return err
	}
	for _, f := range []struct {
		col string
		dst *core.Value
	}{
		{ColNitrogen, &rec.Nitrogen},
		{ColPhosphorus, &rec.Phosphorus},
		{ColPotassium, &rec.Potassium},
		{ColOrganicCarbon, &rec.OrganicCarbon},
	} {
		if *f.dst, err = parseOptional(f.col, p.cols.cell(row, f.col)); err != nil {
			return err
		}
	}
	if err := p.check(rec); err != nil {
		return err
	}
	p.batch.Soil = append(p.batch.Soil, Raw[core.SoilProfile]{Name: name, Record: rec})
	return nil
}

func (p *rowParser) inputs(row Row, name RawName) error {
	var (
		rec core.InputRecord
		err error
	)
	if rec.Year, err = parseInt(ColYear, p.cols.cell(row, ColYear)); err != nil {
		return err
	}
	if rec.IrrigationShare, err = parseOptional(ColIrrigationShare, p.cols.cell(row, ColIrrigationShare)); err != nil {
		return err
	}
	if rec.FertilizerKgPerHa, err = parseOptional(ColFertilizer, p.cols.cell(row, ColFertilizer)); err != nil {
		return err
	}
	if err := p.check(rec); err != nil {
		return err
	}
	p.batch.Inputs = append(p.batch.Inputs, Raw[core.InputRecord]{Name: name, Record: rec})
	return nil
}

func (p *rowParser) normals(row Row, name RawName) error {
	var (
		rec core.RainfallNormal
		err error
	)
	if rec.Month, err = parseMonth(p.cols.cell(row, ColMonth)); err != nil {
		return err
	}
	if rec.NormalMM, err = parseFloat(ColNormal, p.cols.cell(row, ColNormal)); err != nil {
		return err
	}
	if err := p.check(rec); err != nil {
		return err
	}
	p.batch.Normals = append(p.batch.Normals, Raw[core.RainfallNormal]{Name: name, Record: rec})
	return nil
}

// wideNormals reads one row of jan..dec normals. Empty months are skipped.
func (p *rowParser) wideNormals(row Row, name RawName) {
	for i, mc := range MonthColumns {
		if !p.cols.has(mc) {
			continue
		}
		cell := p.cols.cell(row, mc)
		if isNull(cell) {
			continue
		}
		normal, err := parseFloat(mc, cell)
		if err != nil {
			p.issue(row, name.District, core.KindInvalidValue, err.Error())
			continue
		}
		rec := core.RainfallNormal{Month: i + 1, NormalMM: normal}
		if err := p.check(rec); err != nil {
			p.issue(row, name.District, core.KindInvalidValue, mc+": "+err.Error())
			continue
		}
		p.batch.Normals = append(p.batch.Normals, Raw[core.RainfallNormal]{Name: name, Record: rec})
	}
}
