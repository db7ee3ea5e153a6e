// Package config loads agrisim CLI configuration.
//
// Values are layered with koanf: built-in defaults, then agrisim.yaml
// (searched upward from the working directory), then AGRISIM_* environment
// variables, then explicitly set flags.
package config

import (
	"time"

	"github.com/leapstack-labs/agrisim/internal/feature"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

// Config holds all CLI configuration options.
type Config struct {
	// ProjectRoot anchors relative paths. It is inferred, never read.
	ProjectRoot  string              `koanf:"-"`
	StatePath    string              `koanf:"state_path"`
	OutputFormat string              `koanf:"output"`
	Verbose      bool                `koanf:"verbose"`
	Sources      []core.SourceConfig `koanf:"sources"`
	Resolver     ResolverConfig      `koanf:"resolver"`
	Features     feature.Config      `koanf:"features"`
	Model        ModelConfig         `koanf:"model"`
	Serve        ServeConfig         `koanf:"serve"`
	Cache        CacheConfig         `koanf:"cache"`
}

// ResolverConfig tunes district name matching.
type ResolverConfig struct {
	Threshold    float64 `koanf:"threshold"`
	TieMargin    float64 `koanf:"tie_margin"`
	Metric       string  `koanf:"metric"`
	ScopeByState bool    `koanf:"scope_by_state"`
}

// ModelConfig points at a remote scorer. An empty URL disables scoring.
type ModelConfig struct {
	URL       string        `koanf:"url"`
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"`
}

// ServeConfig holds HTTP server settings.
type ServeConfig struct {
	Addr  string `koanf:"addr"`
	Watch bool   `koanf:"watch"`
}

// CacheConfig sizes the feature vector cache.
type CacheConfig struct {
	Size int `koanf:"size"`
}

// Default configuration values.
const (
	DefaultStateFile = ".agrisim/agrisim.db"
	DefaultOutput    = "auto"
	DefaultMetric    = "jaro_winkler"
	DefaultAddr      = ":8088"
	DefaultCacheSize = 4096
	DefaultTimeout   = 10 * time.Second
)

// ConfigNames are the file names searched for, in order.
var ConfigNames = []string{"agrisim.yaml", "agrisim.yml"}
