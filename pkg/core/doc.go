// Package core defines the shared language of the agrisim system.
//
// This package contains:
//   - Domain entities (District, SoilProfile, WeatherObservation, YieldRecord, InputRecord)
//   - Feature data (Key, Value, FeatureVector)
//   - Source configuration (SourceConfig, SourceKind)
//   - Error kinds and the per-rebuild RunReport
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
