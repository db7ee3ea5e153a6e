package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/agrisim/internal/feature"
	"github.com/leapstack-labs/agrisim/internal/resolve"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

const sampleConfig = `state_path: data/agrisim.db
sources:
  - name: districts
    kind: districts
    path: raw/districts.csv
  - name: crop
    kind: yield
    path: raw/area_production_yield_data.csv
    columns:
      district: district_name
      crop: crop_name
resolver:
  threshold: 0.85
  metric: levenshtein
features:
  growing_season_months: [6, 7, 8]
  growing_season_by_crop:
    wheat: [11, 12, 1, 2]
  interactions:
    - left: rainfall_anomaly
      right: irrigation_share
model:
  url: ${AGRISIM_TEST_MODEL_HOST}/v1
  timeout: 3s
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "agrisim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("state", "", "")
	flags.Float64("threshold", 0, "")
	flags.String("addr", "", "")
	flags.String("crop", "", "")
	return flags
}

func TestLoadConfigDefaults(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Empty(t, GetConfigFileUsed())
	assert.Equal(t, filepath.Join(cfg.ProjectRoot, DefaultStateFile), cfg.StatePath)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Equal(t, DefaultMetric, cfg.Resolver.Metric)
	assert.True(t, cfg.Resolver.ScopeByState)
	assert.Zero(t, cfg.Resolver.Threshold)
	assert.Equal(t, DefaultAddr, cfg.Serve.Addr)
	assert.Equal(t, DefaultCacheSize, cfg.Cache.Size)
	assert.Equal(t, DefaultTimeout, cfg.Model.Timeout)
	assert.Same(t, cfg, GetCurrentConfig())

	require.NoError(t, cfg.Validate())
	err = cfg.ValidateResolver()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolver.threshold")
}

func TestLoadConfigFile(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	t.Setenv("AGRISIM_TEST_MODEL_HOST", "http://scorer:9000")
	path := writeConfig(t, dir, sampleConfig)

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.ValidateResolver())

	assert.Equal(t, path, GetConfigFileUsed())
	assert.Equal(t, filepath.Join(dir, "data", "agrisim.db"), cfg.StatePath)
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, core.SourceYield, cfg.Sources[1].Kind)
	assert.Equal(t, filepath.Join(dir, "raw", "area_production_yield_data.csv"), cfg.Sources[1].Path)
	assert.Equal(t, "district_name", cfg.Sources[1].Columns["district"])

	assert.Equal(t, resolve.Config{Threshold: 0.85, Metric: resolve.MetricLevenshtein, ScopeByState: true}, cfg.ResolveConfig())
	assert.Equal(t, []int{6, 7, 8}, cfg.Features.GrowingSeasonMonths)
	assert.Equal(t, []int{1, 2, 11, 12}, cfg.Features.Season("Wheat"))
	assert.Equal(t, []feature.Interaction{{Left: "rainfall_anomaly", Right: "irrigation_share"}}, cfg.Features.Interactions)
	assert.Equal(t, "http://scorer:9000/v1", cfg.Model.URL)
	assert.Equal(t, 3*time.Second, cfg.Model.Timeout)
	assert.Equal(t, []string{cfg.Sources[0].Path, cfg.Sources[1].Path}, cfg.SourcePaths())
}

func TestLoadConfigSearchesUpward(t *testing.T) {
	ResetConfig()
	root := t.TempDir()
	writeConfig(t, root, "resolver:\n  threshold: 0.9\n")
	nested := filepath.Join(root, "notebooks", "eda")
	require.NoError(t, os.MkdirAll(nested, 0o750))
	t.Chdir(nested)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	// macOS temp dirs resolve through /private
	wantRoot, _ := filepath.EvalSymlinks(root)
	gotRoot, _ := filepath.EvalSymlinks(cfg.ProjectRoot)
	assert.Equal(t, wantRoot, gotRoot)
	assert.InDelta(t, 0.9, cfg.Resolver.Threshold, 1e-12)
}

func TestLoadConfigPrecedence(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		flags     map[string]string
		threshold float64
		addr      string
	}{
		{
			name:      "file",
			threshold: 0.85,
			addr:      DefaultAddr,
		},
		{
			name:      "env over file",
			env:       map[string]string{"AGRISIM_RESOLVER__THRESHOLD": "0.7", "AGRISIM_SERVE__ADDR": ":9000"},
			threshold: 0.7,
			addr:      ":9000",
		},
		{
			name:      "flag over env",
			env:       map[string]string{"AGRISIM_RESOLVER__THRESHOLD": "0.7"},
			flags:     map[string]string{"threshold": "0.95", "addr": "127.0.0.1:1"},
			threshold: 0.95,
			addr:      "127.0.0.1:1",
		},
		{
			name:      "unmapped flags are ignored",
			flags:     map[string]string{"crop": "rice"},
			threshold: 0.85,
			addr:      DefaultAddr,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetConfig()
			path := writeConfig(t, t.TempDir(), sampleConfig)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			flags := testFlags()
			for k, v := range tt.flags {
				require.NoError(t, flags.Set(k, v))
			}

			cfg, err := LoadConfig(path, flags)
			require.NoError(t, err)
			assert.InDelta(t, tt.threshold, cfg.Resolver.Threshold, 1e-12)
			assert.Equal(t, tt.addr, cfg.Serve.Addr)
		})
	}
}

func TestStateFlagIsRelativeToWorkingDir(t *testing.T) {
	ResetConfig()
	path := writeConfig(t, t.TempDir(), sampleConfig)
	cwd := t.TempDir()
	t.Chdir(cwd)

	flags := testFlags()
	require.NoError(t, flags.Set("state", "local.db"))
	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)

	want, _ := filepath.Abs("local.db")
	assert.Equal(t, want, cfg.StatePath)
}

func TestLoadConfigBadFile(t *testing.T) {
	ResetConfig()
	path := writeConfig(t, t.TempDir(), "sources: [unterminated\n")
	_, err := LoadConfig(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			StatePath:    "agrisim.db",
			OutputFormat: "auto",
			Sources:      []core.SourceConfig{{Name: "yield", Kind: core.SourceYield, Path: "y.csv"}},
			Cache:        CacheConfig{Size: 10},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no state path", mutate: func(c *Config) { c.StatePath = "" }, wantErr: "state_path is required"},
		{name: "bad output", mutate: func(c *Config) { c.OutputFormat = "xml" }, wantErr: "unknown output format"},
		{name: "source without name", mutate: func(c *Config) { c.Sources[0].Name = "" }, wantErr: "name is required"},
		{name: "source without path", mutate: func(c *Config) { c.Sources[0].Path = "" }, wantErr: "path is required"},
		{name: "unknown kind", mutate: func(c *Config) { c.Sources[0].Kind = "rainfall" }, wantErr: "unknown kind"},
		{
			name: "duplicate source",
			mutate: func(c *Config) {
				c.Sources = append(c.Sources, core.SourceConfig{Name: "yield", Kind: core.SourceYield, Path: "z.csv"})
			},
			wantErr: "duplicate source name",
		},
		{name: "bad month", mutate: func(c *Config) { c.Features.GrowingSeasonMonths = []int{13} }, wantErr: "features"},
		{name: "no cache", mutate: func(c *Config) { c.Cache.Size = 0 }, wantErr: "cache.size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateResolver(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ResolverConfig
		wantErr string
	}{
		{name: "valid", cfg: ResolverConfig{Threshold: 0.9}},
		{name: "threshold one", cfg: ResolverConfig{Threshold: 1, Metric: "levenshtein"}},
		{name: "missing threshold", cfg: ResolverConfig{}, wantErr: "resolver.threshold"},
		{name: "threshold above one", cfg: ResolverConfig{Threshold: 1.5}, wantErr: "resolver.threshold"},
		{name: "negative margin", cfg: ResolverConfig{Threshold: 0.9, TieMargin: -0.1}, wantErr: "tie_margin"},
		{name: "bad metric", cfg: ResolverConfig{Threshold: 0.9, Metric: "soundex"}, wantErr: "resolver.metric"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Config{Resolver: tt.cfg}
			err := c.ValidateResolver()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("AGRISIM_TEST_ONE", "value_one")

	assert.Equal(t, "value_one/x", expandEnvVars("${AGRISIM_TEST_ONE}/x"))
	assert.Equal(t, "${AGRISIM_TEST_UNSET}", expandEnvVars("${AGRISIM_TEST_UNSET}"))
	assert.Equal(t, "plain", expandEnvVars("plain"))
}
