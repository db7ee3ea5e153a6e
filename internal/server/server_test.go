package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/agrisim/internal/abt"
	"github.com/leapstack-labs/agrisim/internal/etl"
	"github.com/leapstack-labs/agrisim/internal/feature"
	"github.com/leapstack-labs/agrisim/internal/loader"
	"github.com/leapstack-labs/agrisim/internal/metrics"
	"github.com/leapstack-labs/agrisim/internal/resolve"
	"github.com/leapstack-labs/agrisim/internal/scenario"
	"github.com/leapstack-labs/agrisim/internal/store"
	"github.com/leapstack-labs/agrisim/internal/testutil"
	"github.com/leapstack-labs/agrisim/pkg/core"
	"github.com/leapstack-labs/agrisim/pkg/model"
)

type fixture struct {
	dir     string
	store   *store.Store
	rebuild *etl.Rebuilder
	sources []core.SourceConfig
	server  *Server
	pune    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	logger := testutil.NewTestLogger(t)
	m := metrics.New()

	st := store.New(logger)
	require.NoError(t, st.Open(filepath.Join(dir, "agrisim.db")))
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{dir: dir, store: st, pune: resolve.DistrictID("Maharashtra", "Pune")}
	f.sources = []core.SourceConfig{
		{Name: "districts", Kind: core.SourceDistricts, Path: testutil.WriteFile(t, dir, "districts.csv",
			"district,state\nPune,Maharashtra\nSatara,Maharashtra\n")},
		{Name: "yield", Kind: core.SourceYield, Path: testutil.WriteFile(t, dir, "yield.csv",
			"district,state,year,crop,yield\n"+
				"Pune,Maharashtra,2001,rice,2000\n"+
				"pune ,Maharashtra,2002,rice,2100\n"+
				"PUNE,Maharashtra,2003,rice,2200\n"+
				"Pune,Maharashtra,2004,rice,2300\n"+
				"Satara,Maharashtra,2004,rice,1800\n")},
		{Name: "weather", Kind: core.SourceWeather, Path: testutil.WriteFile(t, dir, "weather.csv",
			"district,year,month,rainfall\n"+
				"PUNE,2001,6,90\nPUNE,2002,6,100\nPUNE,2003,6,110\nPUNE,2004,6,100\n")},
		{Name: "inputs", Kind: core.SourceInputs, Path: testutil.WriteFile(t, dir, "inputs.csv",
			"district,year,irrigation_share\nPune,2004,0.5\n")},
	}
	f.rebuild = etl.NewRebuilder(st, loader.New(logger), resolve.Config{Threshold: 0.9, ScopeByState: true}, m, logger)
	_, err := f.rebuild.Rebuild(ctx, f.sources)
	require.NoError(t, err)

	builder := abt.New(st.DB(), logger)
	pipeline, err := feature.NewPipeline(builder, feature.Config{}, logger)
	require.NoError(t, err)
	cache, err := scenario.NewCache(64, pipeline.Vector, st.Generation, m)
	require.NoError(t, err)
	scorer := model.Linear{Intercept: 500, Coefficients: map[string]float64{feature.SeasonRainfall: 10}}
	svc := scenario.NewService(pipeline, cache, scorer, m, logger)

	f.server = New(Config{
		ABT:       builder,
		Scenarios: svc,
		Explainer: f.rebuild,
		Metrics:   m,
		Logger:    logger,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "agrisim_rebuild_rows_loaded_total")
	assert.Contains(t, body, `agrisim_http_request_duration_seconds_count{code="200",route="/healthz"} 1`)

	rec = f.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestABTStream(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/abt?state=Maharashtra&crop=rice&from=2002", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	rows := decode[[]abt.Row](t, rec)
	require.Len(t, rows, 4)
	for _, r := range rows {
		assert.GreaterOrEqual(t, r.Key.Year, 2002)
	}

	rec = f.do(t, http.MethodGet, "/v1/abt?crop=millet", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]abt.Row](t, rec))

	rec = f.do(t, http.MethodGet, "/v1/abt?from=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", decode[errorBody](t, rec).Error)

	rec = f.do(t, http.MethodGet, "/v1/abt?from=2005&to=2001", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeatures(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/features/"+f.pune+"/2004/rice", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v := decode[core.FeatureVector](t, rec)
	assert.Equal(t, core.Key{DistrictID: f.pune, Year: 2004, Crop: "rice"}, v.Key)
	// june history 90, 100, 110 and this year's 100
	assert.Equal(t, core.Some(0), v.Get(feature.RainfallAnomaly))
	assert.Equal(t, core.Some(100), v.Get(feature.SeasonRainfall))

	rec = f.do(t, http.MethodGet, "/v1/features/"+f.pune+"/1999/rice", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(core.KindNotFound), decode[errorBody](t, rec).Error)

	rec = f.do(t, http.MethodGet, "/v1/features/"+f.pune+"/soon/rice", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenarios(t *testing.T) {
	f := newFixture(t)
	key := `{"district_id":"` + f.pune + `","year":2004,"crop":"rice"}`

	rec := f.do(t, http.MethodPost, "/v1/scenarios", "application/json",
		`{"base_key":`+key+`,"adjustments":{"rainfall":{"mode":"relative","value":-20}},"predict":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[scenario.Response](t, rec)
	assert.InDelta(t, 80.0, resp.Features.Get(feature.SeasonRainfall).Float, 1e-9)
	require.NotNil(t, resp.Prediction)
	assert.InDelta(t, 1300.0, *resp.Prediction, 1e-6)
	assert.InDelta(t, 1500.0, *resp.BasePrediction, 1e-6)

	yamlBody := "base_key:\n  district_id: " + f.pune + "\n  year: 2004\n  crop: rice\nadjustments:\n  irrigation_share: {mode: absolute, value: 0.1}\n"
	rec = f.do(t, http.MethodPost, "/v1/scenarios", "application/yaml", yamlBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decode[scenario.Response](t, rec)
	assert.InDelta(t, 0.6, resp.Features.Get(feature.IrrigationShare).Float, 1e-9)
	assert.Equal(t, []string{feature.IrrigationShare}, resp.Adjusted)
}

func TestScenarioErrors(t *testing.T) {
	f := newFixture(t)
	key := `{"district_id":"` + f.pune + `","year":2004,"crop":"rice"}`

	tests := []struct {
		name     string
		body     string
		status   int
		kind     string
		features []string
	}{
		{
			name:     "conflict through group",
			body:     `{"base_key":` + key + `,"adjustments":{"rainfall":{"mode":"relative","value":-20},"rain_m06":{"mode":"absolute","value":5}}}`,
			status:   http.StatusBadRequest,
			kind:     string(core.KindConflictingAdjustment),
			features: []string{"rain_m06"},
		},
		{
			name:     "unknown feature",
			body:     `{"base_key":` + key + `,"adjustments":{"humidity":{"mode":"relative","value":5}}}`,
			status:   http.StatusBadRequest,
			kind:     string(core.KindUnknownFeature),
			features: []string{"humidity"},
		},
		{
			name:   "unknown key",
			body:   `{"base_key":{"district_id":"nowhere","year":2004,"crop":"rice"}}`,
			status: http.StatusNotFound,
			kind:   string(core.KindNotFound),
		},
		{
			name:   "malformed",
			body:   `{"base_key":`,
			status: http.StatusBadRequest,
			kind:   "bad_request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/scenarios", "application/json", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			body := decode[errorBody](t, rec)
			assert.Equal(t, tt.kind, body.Error)
			assert.Equal(t, tt.features, body.Features)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestResolve(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/resolve?name=PUNE&state=Maharashtra", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[resolve.Resolution](t, rec)
	assert.Equal(t, f.pune, res.DistrictID)

	rec = f.do(t, http.MethodGet, "/v1/resolve", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	f := newFixture(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.ServeListener(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
