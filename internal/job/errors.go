package job

import "errors"

var (
	// ErrSubmissionFailed is returned when a job could not be enqueued
	ErrSubmissionFailed = errors.New("job submission failed")

	// ErrTimeout is returned when no result appeared before the caller's deadline.
	// The job may still complete later; its result is then left to the TTL sweeper.
	ErrTimeout = errors.New("timed out waiting for job result")

	// ErrQueueFull is returned by a bounded queue that has no room for another job
	ErrQueueFull = errors.New("job queue is full")

	// ErrQueueClosed is returned by a queue after Close
	ErrQueueClosed = errors.New("job queue is closed")

	// ErrDuplicateResult is returned when a result is published twice for the same job id
	ErrDuplicateResult = errors.New("result already published for job")

	// ErrInvalidPayload is returned when a payload does not match the configured schema
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrMalformedEnvelope is returned when a queued message cannot be decoded
	ErrMalformedEnvelope = errors.New("malformed job envelope")
)

// MalformedEnvelopeError is returned when a queued message cannot be decoded.
// ID is set when the job id could still be read, so a Failure can be published for it.
type MalformedEnvelopeError struct {
	ID  string
	Err error
}

func (e *MalformedEnvelopeError) Error() string {
	return ErrMalformedEnvelope.Error() + ": " + e.Err.Error()
}

func (e *MalformedEnvelopeError) Is(target error) bool {
	return target == ErrMalformedEnvelope
}

func (e *MalformedEnvelopeError) Unwrap() error {
	return e.Err
}

// ProcessingError is reported by the inference collaborator when it cannot
// produce a prediction. Workers record it as a Failure outcome.
type ProcessingError struct {
	Reason string
	Err    error
}

func (e *ProcessingError) Error() string {
	if e.Err == nil {
		return "processing error: " + e.Reason
	}
	return "processing error: " + e.Reason + ": " + e.Err.Error()
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// NewProcessingError creates a new processing error
func NewProcessingError(reason string, err error) error {
	return &ProcessingError{Reason: reason, Err: err}
}
