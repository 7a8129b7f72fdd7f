package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/pvsim/pvsim/core/metrics"
	"github.com/pvsim/pvsim/core/model"
	"github.com/pvsim/pvsim/infra/logger"
)

// InfluxSink writes bridge events to an InfluxDB instance using the official client.
// Only row and reconnect events are persisted; the high-rate per-message
// counters stay in Prometheus.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordPublish is not persisted; Prometheus carries the publish counters.
func (s *InfluxSink) RecordPublish(model.Reading, time.Duration, error) {}

// RecordReceive is not persisted.
func (s *InfluxSink) RecordReceive(model.Reading) {}

// RecordRow writes the output row as one point.
func (s *InfluxSink) RecordRow(row model.Row) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("residual_load").
		AddField("pv_w", round3(row.PV)).
		SetTime(row.Time)
	if !math.IsNaN(row.Meter) {
		p = p.AddField("meter_w", round3(row.Meter)).
			AddField("residual_w", round3(row.Residual))
	}
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		s.log.Errorf("write row: %v", err)
	}
}

// RecordReconnect writes a connection event for the role.
func (s *InfluxSink) RecordReconnect(role string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("broker_reconnect").
		AddTag("role", role).
		AddField("count", 1).
		SetTime(time.Now())
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		s.log.Errorf("write reconnect: %v", err)
	}
}

// RecordStale writes a watchdog event with the observed data age.
func (s *InfluxSink) RecordStale(age time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("stale_kick").
		AddField("age_s", round3(age.Seconds())).
		SetTime(time.Now())
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		s.log.Errorf("write stale: %v", err)
	}
}

// RecordMalformed is not persisted.
func (s *InfluxSink) RecordMalformed() {}

// Close flushes and closes the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
