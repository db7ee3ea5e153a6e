package core

// SourceKind identifies which normalized table a raw extract feeds.
type SourceKind string

// Source kinds.
const (
	SourceDistricts SourceKind = "districts"
	SourceYield     SourceKind = "yield"
	SourceWeather   SourceKind = "weather"
	SourceSoil      SourceKind = "soil"
	SourceInputs    SourceKind = "inputs"
	SourceNormals   SourceKind = "normals"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceDistricts, SourceYield, SourceWeather, SourceSoil, SourceInputs, SourceNormals:
		return true
	}
	return false
}

// Table returns the normalized table a source kind is loaded into.
func (k SourceKind) Table() string {
	switch k {
	case SourceDistricts:
		return TableDistricts
	case SourceYield:
		return TableCropYields
	case SourceWeather:
		return TableMonthlyWeather
	case SourceSoil:
		return TableSoilProperties
	case SourceInputs:
		return TableDistrictInputs
	case SourceNormals:
		return TableNormalRainfall
	}
	return ""
}

// Normalized store table names.
const (
	TableDistricts      = "districts"
	TableAliases        = "district_aliases"
	TableSoilProperties = "soil_properties"
	TableMonthlyWeather = "monthly_weather"
	TableCropYields     = "crop_yields"
	TableDistrictInputs = "district_inputs"
	TableNormalRainfall = "normal_rainfall"
)

// SourceConfig describes one raw extract and how its columns map onto the
// logical columns of its kind. Columns maps logical name -> header name;
// unmapped logical columns are looked up under their own name.
type SourceConfig struct {
	Name              string            `koanf:"name" json:"name"`
	Kind              SourceKind        `koanf:"kind" json:"kind"`
	Path              string            `koanf:"path" json:"path"`
	Format            string            `koanf:"format" json:"format,omitempty"`
	Columns           map[string]string `koanf:"columns" json:"columns,omitempty"`
	RegisterDistricts bool              `koanf:"register_districts" json:"register_districts,omitempty"`
}

// Registers reports whether rows of this source create canonical districts.
func (s SourceConfig) Registers() bool {
	return s.Kind == SourceDistricts || s.RegisterDistricts
}
