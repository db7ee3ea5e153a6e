package abt

import (
	"fmt"
	"strconv"

	"github.com/leapstack-labs/agrisim/pkg/core"
)

// Row is one wide ABT row at (district, year, crop) grain. Covariates from
// optional joins are null when the joined table has no matching row.
type Row struct {
	Key              core.Key   `json:"key"`
	DistrictName     string     `json:"district_name"`
	State            string     `json:"state"`
	YieldKgPerHa     float64    `json:"yield_kg_per_ha"`
	AreaHa           core.Value `json:"area_ha"`
	ProductionTonnes core.Value `json:"production_tonnes"`

	SoilType      string     `json:"soil_type,omitempty"`
	SoilPH        core.Value `json:"soil_ph"`
	Nitrogen      core.Value `json:"soil_nitrogen"`
	Phosphorus    core.Value `json:"soil_phosphorus"`
	Potassium     core.Value `json:"soil_potassium"`
	OrganicCarbon core.Value `json:"soil_organic_carbon"`

	// WeatherMonths is 0 when the district-year has no weather at all.
	WeatherMonths   int            `json:"weather_months"`
	AnnualRainfall  core.Value     `json:"annual_rainfall_mm"`
	AvgTempC        core.Value     `json:"avg_temp_c"`
	MonthlyRainfall [12]core.Value `json:"monthly_rainfall_mm"`

	// NormalAnnualRainfall is null unless all twelve monthly normals exist.
	NormalAnnualRainfall core.Value `json:"normal_annual_rainfall_mm"`

	IrrigationShare   core.Value `json:"irrigation_share"`
	FertilizerKgPerHa core.Value `json:"fertilizer_kg_per_ha"`
}

// HasWeather reports whether any monthly observation joined.
func (r Row) HasWeather() bool { return r.WeatherMonths > 0 }

// Rain returns the rainfall of month (1..12).
func (r Row) Rain(month int) core.Value {
	if month < 1 || month > 12 {
		return core.Null()
	}
	return r.MonthlyRainfall[month-1]
}

// RainColumn names the pivoted rainfall column of month.
func RainColumn(month int) string {
	return fmt.Sprintf("rain_m%02d", month)
}

// Columns is the flat column order used by Record and exports.
func Columns() []string {
	cols := []string{
		"district_id", "year", "crop", "district_name", "state",
		"yield_kg_per_ha", "area_ha", "production_tonnes",
		"soil_type", "soil_ph", "soil_nitrogen", "soil_phosphorus", "soil_potassium", "soil_organic_carbon",
		"weather_months", "annual_rainfall_mm", "avg_temp_c",
	}
	for m := 1; m <= 12; m++ {
		cols = append(cols, RainColumn(m))
	}
	return append(cols, "normal_annual_rainfall_mm", "irrigation_share", "fertilizer_kg_per_ha")
}

// Values returns the row in Columns order, nil for null.
func (r Row) Values() []any {
	v := func(x core.Value) any {
		if p := x.Ptr(); p != nil {
			return *p
		}
		return nil
	}
	var soil any
	if r.SoilType != "" {
		soil = r.SoilType
	}
	out := []any{
		r.Key.DistrictID, r.Key.Year, r.Key.Crop, r.DistrictName, r.State,
		r.YieldKgPerHa, v(r.AreaHa), v(r.ProductionTonnes),
		soil, v(r.SoilPH), v(r.Nitrogen), v(r.Phosphorus), v(r.Potassium), v(r.OrganicCarbon),
		r.WeatherMonths, v(r.AnnualRainfall), v(r.AvgTempC),
	}
	for _, m := range r.MonthlyRainfall {
		out = append(out, v(m))
	}
	return append(out, v(r.NormalAnnualRainfall), v(r.IrrigationShare), v(r.FertilizerKgPerHa))
}

// Record renders the row as text cells in Columns order; null is "".
func (r Row) Record() []string {
	vals := r.Values()
	out := make([]string, len(vals))
	for i, x := range vals {
		switch t := x.(type) {
		case nil:
		case string:
			out[i] = t
		case int:
			out[i] = strconv.Itoa(t)
		case float64:
			out[i] = strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return out
}

// YearWeather is one district-year of aggregated weather.
type YearWeather struct {
	Year     int
	Months   int
	Annual   float64
	AvgTempC core.Value
	Monthly  [12]core.Value
}
