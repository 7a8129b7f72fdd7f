package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	coremetrics "github.com/pvsim/pvsim/core/metrics"
	"github.com/pvsim/pvsim/core/pvmodel"
	"github.com/pvsim/pvsim/infra/amqp"
	"github.com/pvsim/pvsim/infra/mqtt"
)

// BrokerConfig selects and parameterizes the transport.
type BrokerConfig struct {
	// Transport is "amqp" (default) or "mqtt".
	Transport string      `json:"transport"`
	AMQP      amqp.Config `json:"amqp"`
	MQTT      mqtt.Config `json:"mqtt"`
}

// ClockConfig drives the shared tick cadence of both commands.
type ClockConfig struct {
	IntervalMS int `json:"interval_ms"`
	// FreeRun disables realtime pacing; ticks are emitted as fast as the
	// consumer takes them. Meant for tests and replays.
	FreeRun bool `json:"free_run"`
}

// MeterConfig parameterizes the household demand draw.
type MeterConfig struct {
	MaxDemandW float64 `json:"max_demand_w"`
	Seed       int64   `json:"seed"`
}

// BridgeConfig tunes the subscriber's staleness watchdog.
type BridgeConfig struct {
	StaleAfterIntervals int `json:"stale_after_intervals"`
}

// OutputConfig locates the CSV target. The pv command's positional FILE
// argument takes precedence.
type OutputConfig struct {
	File string `json:"file"`
}

type Config struct {
	Broker  BrokerConfig       `json:"broker"`
	Clock   ClockConfig        `json:"clock"`
	Meter   MeterConfig        `json:"meter"`
	PV      pvmodel.Config     `json:"pv"`
	Bridge  BridgeConfig       `json:"bridge"`
	Metrics coremetrics.Config `json:"metrics"`
	Output  OutputConfig       `json:"output"`
}

// Load reads the configuration file (YAML or JSON) and applies environment
// overrides. An empty path yields the defaults plus environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	// Optional environment overrides, PVSIM_BROKER__AMQP__URL style.
	if err := k.Load(env.Provider("PVSIM_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "pvsim_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.applyLegacyEnv()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyLegacyEnv honors the plain AMQP_URL and PVSIM_EXCHANGE variables the
// tool historically accepted.
func (c *Config) applyLegacyEnv() {
	if v := os.Getenv("AMQP_URL"); v != "" && c.Broker.AMQP.URL == "" {
		c.Broker.AMQP.URL = v
	}
	if v := os.Getenv("PVSIM_EXCHANGE"); v != "" && c.Broker.AMQP.Exchange == "" {
		c.Broker.AMQP.Exchange = v
	}
}

// SetDefaults fills in every unset field.
func (c *Config) SetDefaults() {
	if c.Broker.Transport == "" {
		c.Broker.Transport = "amqp"
	}
	c.Broker.AMQP.SetDefaults()
	c.Broker.MQTT.SetDefaults()
	if c.Clock.IntervalMS <= 0 {
		c.Clock.IntervalMS = 1000
	}
	if c.Meter.MaxDemandW <= 0 {
		c.Meter.MaxDemandW = 9000
	}
	c.PV.SetDefaults()
	if c.Bridge.StaleAfterIntervals <= 0 {
		c.Bridge.StaleAfterIntervals = 5
	}
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	switch c.Broker.Transport {
	case "amqp", "mqtt":
	default:
		return fmt.Errorf("unknown transport %q", c.Broker.Transport)
	}
	if c.PV.GainM2 <= 0 {
		return fmt.Errorf("pv gain must be positive, got %v", c.PV.GainM2)
	}
	if c.PV.Site.Latitude < -90 || c.PV.Site.Latitude > 90 {
		return fmt.Errorf("latitude out of range: %v", c.PV.Site.Latitude)
	}
	if c.PV.Site.Longitude < -180 || c.PV.Site.Longitude > 180 {
		return fmt.Errorf("longitude out of range: %v", c.PV.Site.Longitude)
	}
	return nil
}
