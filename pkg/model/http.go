package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTimeout bounds one scorer call.
const DefaultTimeout = 10 * time.Second

// HTTPScorer calls a remote model over JSON:
//
//	POST {url}/predict    {"features": {...}} -> {"prediction": 1234.5}
//	POST {url}/attribute  {"features": {...}} -> {"attribution": {...}}
type HTTPScorer struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// HTTPOption configures an HTTPScorer.
type HTTPOption func(*HTTPScorer)

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(s *HTTPScorer) { s.client = c }
}

// WithRateLimit caps outgoing calls per second. Zero disables the limit.
func WithRateLimit(perSecond float64, burst int) HTTPOption {
	return func(s *HTTPScorer) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// NewHTTPScorer creates a client for the model served at baseURL.
func NewHTTPScorer(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPScorer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &HTTPScorer{
		url:    strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type request struct {
	Features map[string]float64 `json:"features"`
}

type predictResponse struct {
	Prediction *float64 `json:"prediction"`
}

type attributeResponse struct {
	Attribution map[string]float64 `json:"attribution"`
}

// StatusError is a non-2xx reply from the model server.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model %s returned %d: %s", e.Endpoint, e.Code, e.Body)
}

// Predict implements Scorer.
func (s *HTTPScorer) Predict(ctx context.Context, features map[string]float64) (float64, error) {
	var resp predictResponse
	if err := s.post(ctx, "predict", features, &resp); err != nil {
		return 0, err
	}
	if resp.Prediction == nil {
		return 0, fmt.Errorf("model predict response has no prediction")
	}
	return *resp.Prediction, nil
}

// Attribute implements Scorer.
func (s *HTTPScorer) Attribute(ctx context.Context, features map[string]float64) (map[string]float64, error) {
	var resp attributeResponse
	if err := s.post(ctx, "attribute", features, &resp); err != nil {
		return nil, err
	}
	if resp.Attribution == nil {
		resp.Attribution = map[string]float64{}
	}
	return resp.Attribution, nil
}

func (s *HTTPScorer) post(ctx context.Context, endpoint string, features map[string]float64, out any) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("model %s: %w", endpoint, err)
		}
	}
	if features == nil {
		features = map[string]float64{}
	}
	body, err := json.Marshal(request{Features: features})
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("model %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode model %s response: %w", endpoint, err)
	}
	return nil
}
