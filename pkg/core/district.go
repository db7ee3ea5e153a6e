package core

// District is the canonical identity that raw district names resolve to.
// ID is assigned once and never changes; CanonicalName is unique within State.
type District struct {
	ID            string  `json:"district_id"`
	CanonicalName string  `json:"canonical_name"`
	State         string  `json:"state"`
	Aliases       []Alias `json:"aliases,omitempty"`
}

// Alias is a raw name observed in some source that resolved to a district.
// Scope is the normalized state the alias was observed under ("" if the
// source carried no state).
type Alias struct {
	Raw        string `json:"raw"`
	Normalized string `json:"normalized"`
	Scope      string `json:"scope,omitempty"`
	DistrictID string `json:"district_id"`
	Source     string `json:"source"`
}

// SoilProfile holds soil attributes for a district. At most one per district.
type SoilProfile struct {
	DistrictID    string  `json:"district_id"`
	SoilType      string  `json:"soil_type" validate:"required"`
	PH            float64 `json:"ph_level" validate:"gte=0,lte=14"`
	Nitrogen      Value   `json:"nitrogen" validate:"omitempty,gte=0"`
	Phosphorus    Value   `json:"phosphorus" validate:"omitempty,gte=0"`
	Potassium     Value   `json:"potassium" validate:"omitempty,gte=0"`
	OrganicCarbon Value   `json:"organic_carbon" validate:"omitempty,gte=0"`
}

// WeatherObservation is one district-month of weather.
type WeatherObservation struct {
	DistrictID string  `json:"district_id"`
	Year       int     `json:"year" validate:"gte=1800,lte=2200"`
	Month      int     `json:"month" validate:"gte=1,lte=12"`
	RainfallMM float64 `json:"rainfall_mm" validate:"gte=0"`
	AvgTempC   Value   `json:"avg_temp_c" validate:"omitempty,gte=-60,lte=60"`
}

// YieldRecord is the observed yield of one crop in one district-year.
type YieldRecord struct {
	DistrictID       string  `json:"district_id"`
	Year             int     `json:"year" validate:"gte=1800,lte=2200"`
	Crop             string  `json:"crop" validate:"required"`
	YieldKgPerHa     float64 `json:"yield_kg_per_ha" validate:"gte=0"`
	AreaHa           Value   `json:"area_ha" validate:"omitempty,gte=0"`
	ProductionTonnes Value   `json:"production_tonnes" validate:"omitempty,gte=0"`
}

// InputRecord holds farm input covariates for a district-year.
type InputRecord struct {
	DistrictID        string `json:"district_id"`
	Year              int    `json:"year" validate:"gte=1800,lte=2200"`
	IrrigationShare   Value  `json:"irrigation_share" validate:"omitempty,gte=0,lte=1"`
	FertilizerKgPerHa Value  `json:"fertilizer_kg_per_ha" validate:"omitempty,gte=0"`
}

// RainfallNormal is the long-term mean rainfall of one calendar month in a
// district.
type RainfallNormal struct {
	DistrictID string  `json:"district_id"`
	Month      int     `json:"month" validate:"gte=1,lte=12"`
	NormalMM   float64 `json:"normal_mm" validate:"gte=0"`
}
