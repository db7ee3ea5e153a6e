package scenario

import (
	"context"
	"log/slog"
	"time"

	"github.com/leapstack-labs/agrisim/internal/feature"
	"github.com/leapstack-labs/agrisim/internal/loader"
	"github.com/leapstack-labs/agrisim/internal/metrics"
	"github.com/leapstack-labs/agrisim/pkg/core"
	"github.com/leapstack-labs/agrisim/pkg/model"
)

// Response is a simulation outcome, optionally scored by the model.
type Response struct {
	BaseKey        core.Key           `json:"base_key"`
	Features       core.FeatureVector `json:"features"`
	Adjusted       []string           `json:"adjusted"`
	Recomputed     []string           `json:"recomputed"`
	BasePrediction *float64           `json:"base_prediction,omitempty"`
	Prediction     *float64           `json:"prediction,omitempty"`
	Attribution    map[string]float64 `json:"attribution,omitempty"`
}

// Service serves simulations over cached base vectors.
type Service struct {
	pipeline *feature.Pipeline
	cache    *Cache
	scorer   model.Scorer
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewService wires a pipeline, its vector cache and an optional scorer.
func NewService(p *feature.Pipeline, cache *Cache, scorer model.Scorer, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{pipeline: p, cache: cache, scorer: scorer, metrics: m, logger: logger}
}

// Base returns the cached base vector of key.
func (s *Service) Base(ctx context.Context, key core.Key) (core.FeatureVector, error) {
	return s.cache.Get(ctx, canonicalKey(key))
}

func canonicalKey(key core.Key) core.Key {
	key.Crop = loader.NormalizeCrop(key.Crop)
	return key
}

// Run validates the request, simulates it against the base vector and asks
// the model for predictions when requested. Malformed scenarios fail before
// the base vector is loaded.
func (s *Service) Run(ctx context.Context, req Request) (resp *Response, err error) {
	start := time.Now()
	defer func() { s.metrics.Simulation(time.Since(start), err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	key := canonicalKey(req.BaseKey)
	reg, err := s.pipeline.Registry(key.Crop)
	if err != nil {
		return nil, err
	}
	sim := NewSimulator(reg)
	plan, err := sim.Plan(req.Adjustments)
	if err != nil {
		return nil, err
	}

	base, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	res, err := sim.Apply(base, plan)
	if err != nil {
		return nil, err
	}
	resp = &Response{
		BaseKey:    key,
		Features:   res.Vector,
		Adjusted:   res.Adjusted,
		Recomputed: res.Recomputed,
	}

	if req.Predict || req.Attribute {
		if s.scorer == nil {
			return nil, model.ErrNoModel
		}
	}
	if req.Predict {
		baseY, err := s.scorer.Predict(ctx, base.Numeric())
		if err != nil {
			return nil, err
		}
		y, err := s.scorer.Predict(ctx, res.Vector.Numeric())
		if err != nil {
			return nil, err
		}
		resp.BasePrediction, resp.Prediction = &baseY, &y
	}
	if req.Attribute {
		attr, err := s.scorer.Attribute(ctx, res.Vector.Numeric())
		if err != nil {
			return nil, err
		}
		resp.Attribution = attr
	}

	s.logger.Debug("scenario simulated",
		"key", key.String(),
		"adjusted", len(res.Adjusted),
		"recomputed", len(res.Recomputed))
	return resp, nil
}
