// Package inference holds the prediction collaborator run by workers
package inference

import (
	"context"

	"github.com/cuongbtq/predict-dispatch/internal/job"
)

// Prediction is the result of a successful inference call
type Prediction struct {
	Label string
	Score float64
}

// Processor turns a job payload into a prediction. Errors that describe bad
// input should be job.ProcessingError values; workers record every error as
// a failure outcome.
type Processor interface {
	Process(ctx context.Context, payload job.Payload) (Prediction, error)
}

// ProcessorFunc adapts a plain function to Processor
type ProcessorFunc func(ctx context.Context, payload job.Payload) (Prediction, error)

func (f ProcessorFunc) Process(ctx context.Context, payload job.Payload) (Prediction, error) {
	return f(ctx, payload)
}
