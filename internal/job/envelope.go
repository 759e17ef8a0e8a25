package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Payload is the caller supplied set of named input fields for a job
type Payload map[string]any

// Envelope is the unit of work exchanged between the dispatcher and the workers.
// It is built once at submission time and never mutated afterwards.
type Envelope struct {
	ID        string    `json:"id"`
	Payload   Payload   `json:"features"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEnvelope creates an envelope for the given id and payload
func NewEnvelope(id string, payload Payload) *Envelope {
	return &Envelope{
		ID:        id,
		Payload:   payload.Clone(),
		CreatedAt: time.Now().UTC(),
	}
}

// Marshal encodes the envelope for a queue transport
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// UnmarshalEnvelope decodes an envelope read from a queue transport
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &MalformedEnvelopeError{ID: envelopeID(data), Err: err}
	}
	if env.ID == "" {
		return nil, &MalformedEnvelopeError{Err: errors.New("missing id")}
	}
	return &env, nil
}

// envelopeID reads only the id of a message whose body failed to decode
func envelopeID(data []byte) string {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	return head.ID
}

// Clone returns a shallow copy so the envelope does not alias caller owned maps
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
