package metrics

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/pvsim/pvsim/core/metrics"
	"github.com/pvsim/pvsim/core/model"
)

// PromSink records bridge events in Prometheus metrics.
type PromSink struct {
	published  *prometheus.CounterVec
	latency    prometheus.Histogram
	received   prometheus.Counter
	rows       *prometheus.CounterVec
	reconnects *prometheus.CounterVec
	stale      prometheus.Counter
	malformed  prometheus.Counter
	lastRecv   prometheus.Gauge
}

// NewPromSink registers bridge metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink() (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pvsim_published_total",
			Help: "Readings published, by outcome",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pvsim_publish_latency_seconds",
			Help:    "Broker publish round trip time",
			Buckets: prometheus.DefBuckets,
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pvsim_received_total",
			Help: "Readings decoded from the broker",
		}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pvsim_rows_total",
			Help: "Output rows written, by completeness",
		}, []string{"meter"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pvsim_reconnects_total",
			Help: "Broker connections established",
		}, []string{"role"}),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pvsim_stale_kicks_total",
			Help: "Reconnects forced by the staleness watchdog",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pvsim_malformed_total",
			Help: "Messages dropped because they failed to decode",
		}),
		lastRecv: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pvsim_last_receive_timestamp_seconds",
			Help: "Unix time of the last decoded reading",
		}),
	}

	collectors := []prometheus.Collector{
		s.published, s.latency, s.received, s.rows,
		s.reconnects, s.stale, s.malformed, s.lastRecv,
	}
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, err
			}
			collectors[i] = are.ExistingCollector
		}
	}
	s.published = collectors[0].(*prometheus.CounterVec)
	s.latency = collectors[1].(prometheus.Histogram)
	s.received = collectors[2].(prometheus.Counter)
	s.rows = collectors[3].(*prometheus.CounterVec)
	s.reconnects = collectors[4].(*prometheus.CounterVec)
	s.stale = collectors[5].(prometheus.Counter)
	s.malformed = collectors[6].(prometheus.Counter)
	s.lastRecv = collectors[7].(prometheus.Gauge)
	return s, nil
}

// RecordPublish counts the publish and observes its latency on success.
func (s *PromSink) RecordPublish(_ model.Reading, latency time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.published.WithLabelValues(outcome).Inc()
	if err == nil {
		s.latency.Observe(latency.Seconds())
	}
}

// RecordReceive counts the reading and moves the last-receive gauge.
func (s *PromSink) RecordReceive(r model.Reading) {
	s.received.Inc()
	s.lastRecv.Set(float64(r.Timestamp.UnixNano()) / 1e9)
}

// RecordRow counts the row, split by whether the meter value was present.
func (s *PromSink) RecordRow(row model.Row) {
	label := "present"
	if math.IsNaN(row.Meter) {
		label = "missing"
	}
	s.rows.WithLabelValues(label).Inc()
}

// RecordReconnect counts an established connection for the role.
func (s *PromSink) RecordReconnect(role string) {
	s.reconnects.WithLabelValues(role).Inc()
}

// RecordStale counts a watchdog kick.
func (s *PromSink) RecordStale(time.Duration) {
	s.stale.Inc()
}

// RecordMalformed counts a dropped message.
func (s *PromSink) RecordMalformed() {
	s.malformed.Inc()
}
