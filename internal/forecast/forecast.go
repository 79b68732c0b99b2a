// Package forecast turns a feature record into a power forecast by way of an
// externally trained regression model.
package forecast

import (
	"context"
	"errors"
	"fmt"

	"github.com/awaistahir/solarcast/internal/features"
)

var (
	// ErrModelUnavailable means the predictor could not be located or loaded.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrPredictionFailed means the predictor was reached but rejected the
	// record or failed during inference.
	ErrPredictionFailed = errors.New("prediction failed")
)

// JoulesPerKWh converts an average power in kW sustained for one hour into J.
const JoulesPerKWh = 1000 * 3600

// Predictor is a loaded regression model. It takes one instance keyed by
// feature name and returns the model outputs.
type Predictor interface {
	Predict(ctx context.Context, instance map[string]float64) ([]float64, error)
}

// Source locates and loads a Predictor.
type Source interface {
	Open(ctx context.Context) (Predictor, error)
}

// Named is implemented by predictors that know their model name.
type Named interface {
	Name() string
}

// Result is the display payload for one submission.
type Result struct {
	ForecastKW float64 `json:"forecast_kw"`
	EnergyJ    float64 `json:"energy_j"`
	Model      string  `json:"model,omitempty"`
}

// NewResult derives the energy quantity from a forecast.
func NewResult(forecastKW float64) Result {
	return Result{
		ForecastKW: forecastKW,
		EnergyJ:    forecastKW * JoulesPerKWh,
	}
}

// Adapter forwards records to the predictor supplied by its Source.
type Adapter struct {
	source Source
}

func NewAdapter(source Source) *Adapter {
	return &Adapter{source: source}
}

// Predict loads the predictor and runs one inference. The record is only
// read; nothing is retained after the call returns.
func (a *Adapter) Predict(ctx context.Context, rec features.Record) (Result, error) {
	if a.source == nil {
		return Result{}, fmt.Errorf("%w: no model source configured", ErrModelUnavailable)
	}

	if err := rec.Validate(); err != nil {
		return Result{}, err
	}

	p, err := a.source.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrModelUnavailable) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	if p == nil {
		return Result{}, fmt.Errorf("%w: source returned no predictor", ErrModelUnavailable)
	}

	out, err := p.Predict(ctx, rec.Map())
	if err != nil {
		if errors.Is(err, ErrModelUnavailable) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %w", ErrPredictionFailed, err)
	}
	if len(out) != 1 {
		return Result{}, fmt.Errorf("%w: expected exactly one output, got %d", ErrPredictionFailed, len(out))
	}

	res := NewResult(out[0])
	if n, ok := p.(Named); ok {
		res.Model = n.Name()
	}
	return res, nil
}

// Kind classifies err for display and logging.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, ErrPredictionFailed):
		return "prediction_error"
	default:
		return "invalid_input"
	}
}
