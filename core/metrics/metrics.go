package metrics

import (
	"time"

	"github.com/pvsim/pvsim/core/model"
)

// Sink records bridge events for observability purposes.
type Sink interface {
	// RecordPublish is called once per publisher tick with the publish
	// outcome and latency.
	RecordPublish(r model.Reading, latency time.Duration, err error)
	// RecordReceive is called for every decoded Reading.
	RecordReceive(r model.Reading)
	// RecordRow is called once per subscriber tick with the emitted row.
	RecordRow(row model.Row)
	// RecordReconnect is called when a connection is (re)established.
	RecordReconnect(role string)
	// RecordStale is called when the watchdog forces a reconnect.
	RecordStale(age time.Duration)
	// RecordMalformed is called for dropped undecodable messages.
	RecordMalformed()
}

// Config selects the enabled sinks.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}

// NopSink implements Sink with no-op methods.
type NopSink struct{}

func (NopSink) RecordPublish(model.Reading, time.Duration, error) {}
func (NopSink) RecordReceive(model.Reading)                       {}
func (NopSink) RecordRow(model.Row)                               {}
func (NopSink) RecordReconnect(string)                            {}
func (NopSink) RecordStale(time.Duration)                         {}
func (NopSink) RecordMalformed()                                  {}
