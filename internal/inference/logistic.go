package inference

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cuongbtq/predict-dispatch/internal/job"
)

const (
	DefaultThreshold     = 0.5
	DefaultPositiveLabel = "positive"
	DefaultNegativeLabel = "negative"
)

// LogisticConfig holds the parameters of a LogisticModel
type LogisticConfig struct {
	Weights       map[string]float64
	Bias          float64
	Threshold     float64
	PositiveLabel string
	NegativeLabel string
	Latency       time.Duration // simulated inference cost
}

// LogisticModel scores payloads with a fixed logistic regression
type LogisticModel struct {
	weights       map[string]float64
	features      []string
	bias          float64
	threshold     float64
	positiveLabel string
	negativeLabel string
	latency       time.Duration
}

// NewLogisticModel creates a model, filling unset labels and threshold with defaults
func NewLogisticModel(cfg LogisticConfig) (*LogisticModel, error) {
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %v", threshold)
	}
	if cfg.Latency < 0 {
		return nil, fmt.Errorf("latency must not be negative")
	}

	m := &LogisticModel{
		weights:       make(map[string]float64, len(cfg.Weights)),
		bias:          cfg.Bias,
		threshold:     threshold,
		positiveLabel: cfg.PositiveLabel,
		negativeLabel: cfg.NegativeLabel,
		latency:       cfg.Latency,
	}
	if m.positiveLabel == "" {
		m.positiveLabel = DefaultPositiveLabel
	}
	if m.negativeLabel == "" {
		m.negativeLabel = DefaultNegativeLabel
	}

	for name, w := range cfg.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("weight for %q is not finite", name)
		}
		m.weights[name] = w
		m.features = append(m.features, name)
	}
	// fixed order keeps error messages stable
	sort.Strings(m.features)

	return m, nil
}

// Process computes sigmoid(bias + sum(weight * feature)). The reported score
// is the confidence of the chosen label.
func (m *LogisticModel) Process(ctx context.Context, payload job.Payload) (Prediction, error) {
	if m.latency > 0 {
		timer := time.NewTimer(m.latency)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return Prediction{}, ctx.Err()
		}
	}

	z := m.bias
	for _, name := range m.features {
		raw, ok := payload[name]
		if !ok {
			return Prediction{}, job.NewProcessingError(fmt.Sprintf("missing feature %q", name), nil)
		}
		x, ok := featureValue(raw)
		if !ok {
			return Prediction{}, job.NewProcessingError(fmt.Sprintf("feature %q is not numeric", name), nil)
		}
		z += m.weights[name] * x
	}

	p := 1 / (1 + math.Exp(-z))
	if p >= m.threshold {
		return Prediction{Label: m.positiveLabel, Score: p}, nil
	}
	return Prediction{Label: m.negativeLabel, Score: 1 - p}, nil
}

func featureValue(v any) (float64, bool) {
	if b, ok := v.(bool); ok {
		if b {
			return 1, true
		}
		return 0, true
	}
	f, ok := job.AsFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
