package job

import (
	"encoding/json"
	"fmt"
)

// Outcome status constants
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Outcome is the tagged result of processing one job.
// A success carries a prediction label and its confidence score,
// a failure carries the reason reported by the worker.
type Outcome struct {
	Status     string  `json:"status"`
	Prediction string  `json:"prediction,omitempty"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason,omitempty"`
}

// Success builds a successful outcome
func Success(prediction string, score float64) Outcome {
	return Outcome{
		Status:     StatusSuccess,
		Prediction: prediction,
		Score:      score,
	}
}

// Failure builds a failed outcome
func Failure(reason string) Outcome {
	return Outcome{
		Status: StatusFailure,
		Reason: reason,
	}
}

// IsSuccess reports whether the outcome is a success
func (o Outcome) IsSuccess() bool {
	return o.Status == StatusSuccess
}

// Marshal encodes the outcome for a result store
func (o Outcome) Marshal() ([]byte, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outcome: %w", err)
	}
	return data, nil
}

// UnmarshalOutcome decodes an outcome read from a result store
func UnmarshalOutcome(data []byte) (Outcome, error) {
	var o Outcome
	if err := json.Unmarshal(data, &o); err != nil {
		return Outcome{}, fmt.Errorf("failed to unmarshal outcome: %w", err)
	}
	if o.Status != StatusSuccess && o.Status != StatusFailure {
		return Outcome{}, fmt.Errorf("failed to unmarshal outcome: unknown status %q", o.Status)
	}
	return o, nil
}
