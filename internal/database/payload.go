// internal/database/payload.go
package database

import (
	"bytes"
	"encoding/json"
	"errors"
)

var (
	// ErrEmptyPayload covers an empty body, invalid JSON, a non-object and {}.
	ErrEmptyPayload = errors.New("no data received")
	// ErrInvalidPayload is a known field carrying the wrong JSON type.
	ErrInvalidPayload = errors.New("invalid data format")
)

// ParseSample maps a device payload onto a Sample. Unknown fields are
// ignored; id, timestamp and device are always assigned on ingestion.
func ParseSample(data []byte) (*Sample, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || len(fields) == 0 {
		return nil, ErrEmptyPayload
	}

	var payload struct {
		Sample
		ID        json.RawMessage `json:"id"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, ErrInvalidPayload
	}

	sample := payload.Sample
	sample.ID = 0
	sample.Device = ""
	return &sample, nil
}
