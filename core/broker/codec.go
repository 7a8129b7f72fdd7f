package broker

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/pvsim/pvsim/core/model"
)

// wireReading is the broker payload. The timestamp travels inside the body so
// the format is identical for every transport; RFC3339Nano round-trips the
// instant exactly.
type wireReading struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Encode serializes a Reading for publishing.
func Encode(r model.Reading) ([]byte, error) {
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return nil, fmt.Errorf("encode reading: non-finite value")
	}
	return json.Marshal(wireReading{
		Timestamp: r.Timestamp.Format(time.RFC3339Nano),
		Value:     r.Value,
	})
}

// Decode parses a broker payload. Failures wrap ErrMalformed so the consumer
// can drop and count them without inspecting the cause.
func Decode(body []byte) (model.Reading, error) {
	var w wireReading
	if err := json.Unmarshal(body, &w); err != nil {
		return model.Reading{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return model.Reading{}, fmt.Errorf("%w: bad timestamp: %v", ErrMalformed, err)
	}
	return model.Reading{Timestamp: ts, Value: w.Value}, nil
}
