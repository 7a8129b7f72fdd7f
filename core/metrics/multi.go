package metrics

import (
	"time"

	"github.com/pvsim/pvsim/core/model"
)

// MultiSink fans out every record call to all wrapped sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink wraps the given sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) RecordPublish(r model.Reading, latency time.Duration, err error) {
	for _, s := range m.sinks {
		s.RecordPublish(r, latency, err)
	}
}

func (m *MultiSink) RecordReceive(r model.Reading) {
	for _, s := range m.sinks {
		s.RecordReceive(r)
	}
}

func (m *MultiSink) RecordRow(row model.Row) {
	for _, s := range m.sinks {
		s.RecordRow(row)
	}
}

func (m *MultiSink) RecordReconnect(role string) {
	for _, s := range m.sinks {
		s.RecordReconnect(role)
	}
}

func (m *MultiSink) RecordStale(age time.Duration) {
	for _, s := range m.sinks {
		s.RecordStale(age)
	}
}

func (m *MultiSink) RecordMalformed() {
	for _, s := range m.sinks {
		s.RecordMalformed()
	}
}
