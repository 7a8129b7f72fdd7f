package app

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/pvsim/pvsim/config"
	"github.com/pvsim/pvsim/core/bridge"
	"github.com/pvsim/pvsim/core/broker"
	"github.com/pvsim/pvsim/core/clock"
	"github.com/pvsim/pvsim/core/meter"
	coremetrics "github.com/pvsim/pvsim/core/metrics"
	"github.com/pvsim/pvsim/core/pvmodel"
	"github.com/pvsim/pvsim/infra/amqp"
	"github.com/pvsim/pvsim/infra/logger"
	"github.com/pvsim/pvsim/infra/metrics"
	"github.com/pvsim/pvsim/infra/mqtt"
	"github.com/pvsim/pvsim/internal/eventbus"
	"github.com/pvsim/pvsim/pkg/export"
)

// MeterService publishes one simulated demand reading per tick.
type MeterService struct {
	cfg  *config.Config
	log  logger.Logger
	bus  *eventbus.Bus
	sink coremetrics.Sink
	pub  *bridge.Publisher

	sup     *amqp.Supervisor
	closers []func() error
}

// NewMeter assembles the meter side from the configuration.
func NewMeter(cfg *config.Config) (*MeterService, error) {
	log := logger.New("meter")
	bus := eventbus.New()
	sink, err := metrics.NewSink(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	s := &MeterService{cfg: cfg, log: log, bus: bus, sink: sink}

	var pub broker.Publisher
	switch cfg.Broker.Transport {
	case "mqtt":
		cli, err := mqtt.NewClient(cfg.Broker.MQTT, "meter", bus, logger.New("mqtt"))
		if err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		p := mqtt.NewPublisher(cli)
		s.closers = append(s.closers, p.Close)
		pub = p
	default:
		s.sup = amqp.NewSupervisor(cfg.Broker.AMQP, "meter", bus, sink, logger.New("amqp"))
		pub = amqp.NewPublisher(s.sup)
	}

	interval := time.Duration(cfg.Clock.IntervalMS) * time.Millisecond
	var src rand.Source
	if cfg.Meter.Seed != 0 {
		src = rand.NewPCG(uint64(cfg.Meter.Seed), uint64(cfg.Meter.Seed))
	}
	s.pub = &bridge.Publisher{
		Clock:  clock.New(interval, !cfg.Clock.FreeRun),
		Source: meter.NewGenerator(cfg.Meter.MaxDemandW, src),
		Broker: pub,
		Log:    log,
		Sink:   sink,
	}
	return s, nil
}

// Run publishes until the context is cancelled.
func (s *MeterService) Run(ctx context.Context) error {
	go watchEvents(ctx, s.bus, s.log, s.sink, s.cfg.Broker.Transport == "mqtt")
	if s.sup != nil {
		go func() { _ = s.sup.Run(ctx) }()
	}
	startPromServer(ctx, s.cfg, s.log)
	return s.pub.Run(ctx)
}

// Close releases resources held by the service.
func (s *MeterService) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	s.bus.Close()
	return first
}

// PVService consumes meter readings, pairs them with simulated generation
// and appends one CSV row per tick.
type PVService struct {
	cfg  *config.Config
	log  logger.Logger
	bus  *eventbus.Bus
	sink coremetrics.Sink
	sub  *bridge.Subscriber
	out  *export.CSVWriter

	sup     *amqp.Supervisor
	closers []func() error
}

// NewPV assembles the pv side from the configuration. outFile overrides the
// configured output path when non-empty.
func NewPV(cfg *config.Config, outFile string) (*PVService, error) {
	log := logger.New("pv")
	bus := eventbus.New()
	sink, err := metrics.NewSink(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	s := &PVService{cfg: cfg, log: log, bus: bus, sink: sink}

	var cons broker.Consumer
	var conn broker.Reconnecter
	switch cfg.Broker.Transport {
	case "mqtt":
		cli, err := mqtt.NewClient(cfg.Broker.MQTT, "pv", bus, logger.New("mqtt"))
		if err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		c := mqtt.NewConsumer(cli, sink, logger.New("mqtt"))
		s.closers = append(s.closers, c.Close)
		cons, conn = c, cli
	default:
		s.sup = amqp.NewSupervisor(cfg.Broker.AMQP, "pv", bus, sink, logger.New("amqp"))
		cons = amqp.NewConsumer(s.sup, sink, logger.New("amqp"))
		conn = s.sup
	}

	path := outFile
	if path == "" {
		path = cfg.Output.File
	}
	if path == "" {
		return nil, fmt.Errorf("no output file configured")
	}
	out, err := export.OpenFile(path)
	if err != nil {
		return nil, err
	}
	s.out = out
	s.closers = append(s.closers, out.Close)

	interval := time.Duration(cfg.Clock.IntervalMS) * time.Millisecond
	s.sub = &bridge.Subscriber{
		Clock:      clock.New(interval, !cfg.Clock.FreeRun),
		Source:     pvmodel.New(cfg.PV, time.Now()),
		Consumer:   cons,
		Conn:       conn,
		Out:        out,
		Log:        log,
		Sink:       sink,
		Interval:   interval,
		StaleAfter: time.Duration(cfg.Bridge.StaleAfterIntervals) * interval,
	}
	return s, nil
}

// Run writes rows until the context is cancelled.
func (s *PVService) Run(ctx context.Context) error {
	go watchEvents(ctx, s.bus, s.log, s.sink, s.cfg.Broker.Transport == "mqtt")
	if s.sup != nil {
		go func() { _ = s.sup.Run(ctx) }()
	}
	startPromServer(ctx, s.cfg, s.log)
	return s.sub.Run(ctx)
}

// Close releases resources held by the service.
func (s *PVService) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	s.bus.Close()
	return first
}

// watchEvents logs connection transitions. The AMQP supervisor counts its
// own reconnects; for MQTT the Paho callbacks only reach the bus, so the
// Connected events are counted here.
func watchEvents(ctx context.Context, bus *eventbus.Bus, log logger.Logger, sink coremetrics.Sink, countReconnects bool) {
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Err != nil {
				log.Warnf("%s connection %s: %v", ev.Role, ev.State, ev.Err)
			} else {
				log.Infof("%s connection %s", ev.Role, ev.State)
			}
			if countReconnects && ev.State == broker.Connected {
				sink.RecordReconnect(ev.Role)
			}
		case <-ctx.Done():
			return
		}
	}
}

func startPromServer(ctx context.Context, cfg *config.Config, log logger.Logger) {
	if !cfg.Metrics.PrometheusEnabled {
		return
	}
	addr := cfg.Metrics.PrometheusPort
	if addr == "" {
		addr = ":2112"
	}
	go func() {
		if err := metrics.StartPromServer(ctx, addr); err != nil {
			log.Errorf("prom server: %v", err)
		}
	}()
}
