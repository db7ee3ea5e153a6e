package loader

import (
	"strings"

	"github.com/leapstack-labs/agrisim/pkg/core"
)

// Logical column names.
const (
	ColDistrict        = "district"
	ColState           = "state"
	ColYear            = "year"
	ColMonth           = "month"
	ColCrop            = "crop"
	ColYield           = "yield"
	ColArea            = "area"
	ColProduction      = "production"
	ColRainfall        = "rainfall"
	ColTemperature     = "temperature"
	ColSoilType        = "soil_type"
	ColPH              = "ph"
	ColNitrogen        = "nitrogen"
	ColPhosphorus      = "phosphorus"
	ColPotassium       = "potassium"
	ColOrganicCarbon   = "organic_carbon"
	ColIrrigationShare = "irrigation_share"
	ColFertilizer      = "fertilizer"
	ColNormal          = "normal"
)

// MonthColumns are the logical columns of a wide monthly weather or normals
// extract.
var MonthColumns = [12]string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

type kindSchema struct {
	required []string
	optional []string
}

var schemas = map[core.SourceKind]kindSchema{
	core.SourceDistricts: {
		required: []string{ColDistrict},
		optional: []string{ColState},
	},
	core.SourceYield: {
		required: []string{ColDistrict, ColYear, ColCrop, ColYield},
		optional: []string{ColState, ColArea, ColProduction},
	},
	core.SourceWeather: {
		required: []string{ColDistrict, ColYear, ColMonth, ColRainfall},
		optional: []string{ColState, ColTemperature},
	},
	core.SourceSoil: {
		required: []string{ColDistrict, ColSoilType, ColPH},
		optional: []string{ColState, ColNitrogen, ColPhosphorus, ColPotassium, ColOrganicCarbon},
	},
	core.SourceInputs: {
		required: []string{ColDistrict, ColYear},
		optional: []string{ColState, ColIrrigationShare, ColFertilizer},
	},
	core.SourceNormals: {
		required: []string{ColDistrict, ColMonth, ColNormal},
		optional: []string{ColState},
	},
}

// wideRequired lists what a kind still requires when read in wide layout.
var wideRequired = map[core.SourceKind][]string{
	core.SourceWeather: {ColDistrict, ColYear},
	core.SourceNormals: {ColDistrict},
}

// NormalizeHeader lower-cases a header, trims it and replaces spaces with
// underscores ("District Name" -> "district_name").
func NormalizeHeader(h string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_")
}

// columnMap maps logical columns to cell positions.
type columnMap struct {
	idx  map[string]int
	wide bool
}

func (m columnMap) has(logical string) bool {
	_, ok := m.idx[logical]
	return ok
}

// cell returns the trimmed cell for logical, "" when unmapped or short.
func (m columnMap) cell(r Row, logical string) string {
	i, ok := m.idx[logical]
	if !ok || i >= len(r.Cells) {
		return ""
	}
	return strings.TrimSpace(r.Cells[i])
}

// mapColumns binds the logical columns of src.Kind to header positions.
// A weather or normals source without a month column but with month-named
// columns is read in wide layout.
func mapColumns(src core.SourceConfig, header []string) (columnMap, error) {
	schema, ok := schemas[src.Kind]
	if !ok {
		return columnMap{}, &core.SchemaMismatchError{Source: src.Name, Missing: []string{"<unknown kind " + string(src.Kind) + ">"}}
	}

	positions := make(map[string]int, len(header))
	for i, h := range header {
		n := NormalizeHeader(h)
		if _, dup := positions[n]; !dup {
			positions[n] = i
		}
	}
	find := func(logical string) (int, bool) {
		physical := logical
		if p, ok := src.Columns[logical]; ok && p != "" {
			physical = p
		}
		i, ok := positions[NormalizeHeader(physical)]
		return i, ok
	}

	m := columnMap{idx: make(map[string]int)}
	required := schema.required
	if wide, ok := wideRequired[src.Kind]; ok {
		if _, ok := find(ColMonth); !ok {
			for _, mc := range MonthColumns {
				if i, ok := find(mc); ok {
					m.idx[mc] = i
					m.wide = true
				}
			}
			if m.wide {
				required = wide
			}
		}
	}

	var missing []string
	for _, logical := range required {
		i, ok := find(logical)
		if !ok {
			missing = append(missing, describe(src, logical))
			continue
		}
		m.idx[logical] = i
	}
	if len(missing) > 0 {
		return columnMap{}, &core.SchemaMismatchError{Source: src.Name, Missing: missing}
	}
	for _, logical := range schema.optional {
		if i, ok := find(logical); ok {
			m.idx[logical] = i
		}
	}
	return m, nil
}

func describe(src core.SourceConfig, logical string) string {
	if p, ok := src.Columns[logical]; ok && p != "" && NormalizeHeader(p) != logical {
		return logical + " (" + p + ")"
	}
	return logical
}
