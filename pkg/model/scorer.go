// Package model defines the contract between agrisim and an external yield
// model. agrisim never trains; it hands a feature map to a Scorer and
// reports what comes back. Null features are omitted from the map.
package model

import (
	"context"
	"errors"
)

// ErrNoModel is returned when a prediction is requested without a scorer.
var ErrNoModel = errors.New("no model configured")

// Scorer predicts a yield and explains the prediction per feature.
type Scorer interface {
	Predict(ctx context.Context, features map[string]float64) (float64, error)
	Attribute(ctx context.Context, features map[string]float64) (map[string]float64, error)
}

// Func adapts a plain prediction function to Scorer. Its attribution is
// empty.
type Func func(features map[string]float64) float64

// Predict implements Scorer.
func (f Func) Predict(_ context.Context, features map[string]float64) (float64, error) {
	return f(features), nil
}

// Attribute implements Scorer.
func (f Func) Attribute(context.Context, map[string]float64) (map[string]float64, error) {
	return map[string]float64{}, nil
}

// Linear is a fixed linear model, mostly useful for tests and demos. Its
// attribution is each term's contribution coef*value.
type Linear struct {
	Intercept    float64
	Coefficients map[string]float64
}

// Predict implements Scorer.
func (l Linear) Predict(_ context.Context, features map[string]float64) (float64, error) {
	y := l.Intercept
	for name, coef := range l.Coefficients {
		y += coef * features[name]
	}
	return y, nil
}

// Attribute implements Scorer.
func (l Linear) Attribute(_ context.Context, features map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(l.Coefficients))
	for name, coef := range l.Coefficients {
		if x, ok := features[name]; ok {
			out[name] = coef * x
		}
	}
	return out, nil
}
