package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/pvsim/pvsim/core/broker"
	"github.com/pvsim/pvsim/core/logger"
	"github.com/pvsim/pvsim/internal/eventbus"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string      `json:"broker"`
	ClientID   string      `json:"client_id"`
	Topic      string      `json:"topic"`
	Username   string      `json:"username"`
	Password   string      `json:"password"`
	QoS        byte        `json:"qos"`
	UseTLS     bool        `json:"use_tls"`
	ClientCert string      `json:"client_cert"`
	ClientKey  string      `json:"client_key"`
	CABundle   string      `json:"ca_bundle"`
	TLSConfig  *tls.Config `json:"-"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Broker == "" {
		c.Broker = "tcp://localhost:1883"
	}
	if c.Topic == "" {
		c.Topic = "meter"
	}
	if c.ClientID == "" {
		c.ClientID = "pvsim-" + uuid.NewString()[:8]
	}
}

// pahoClient is the slice of the Paho API the client uses, kept as an
// interface so tests can swap in a mock broker.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Client wraps a Paho connection for one topic. Paho reconnects on its own;
// Kick tears the session down and dials again for the cases where the
// library believes a dead connection is still alive.
type Client struct {
	cli  pahoClient
	cfg  Config
	role string
	log  logger.Logger
	bus  *eventbus.Bus

	// onUp is installed by the consumer after the client exists, while
	// Paho's OnConnect callback reads it from its own goroutine.
	upMu sync.Mutex
	onUp func()
}

// NewClient connects to the MQTT broker. onUp runs on every (re)connect and
// is where a consumer installs its subscription.
func NewClient(cfg Config, role string, bus *eventbus.Bus, log logger.Logger) (*Client, error) {
	cfg.SetDefaults()
	if log == nil {
		log = logger.Nop{}
	}
	c := &Client{cfg: cfg, role: role, log: log, bus: bus}

	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts.OnConnect = func(_ paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
		c.emit(broker.Connected, nil)
		if fn := c.connectHook(); fn != nil {
			fn()
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Warnf("connection lost: %v", err)
		c.emit(broker.Disconnected, err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
		c.emit(broker.Connecting, nil)
	}

	cli := newMQTTClient(opts)
	c.cli = cli
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return c, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	opts.ConnectRetry = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (c *Client) setOnUp(fn func()) {
	c.upMu.Lock()
	c.onUp = fn
	c.upMu.Unlock()
}

func (c *Client) connectHook() func() {
	c.upMu.Lock()
	defer c.upMu.Unlock()
	return c.onUp
}

// State reports the connection state as Paho sees it.
func (c *Client) State() broker.State {
	if c.cli != nil && c.cli.IsConnected() {
		return broker.Connected
	}
	return broker.Disconnected
}

// Kick forces a disconnect. AutoReconnect brings the session back up.
func (c *Client) Kick() {
	if c.cli == nil {
		return
	}
	c.log.Warnf("connection dropped on request")
	c.cli.Disconnect(250)
	c.emit(broker.Disconnected, nil)
	go func() {
		if token := c.cli.Connect(); token.Wait() && token.Error() != nil {
			c.log.Errorf("reconnect failed: %v", token.Error())
		}
	}()
}

// Disconnect gracefully closes the MQTT connection.
func (c *Client) Disconnect() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
	c.emit(broker.Disconnected, nil)
}

func (c *Client) emit(st broker.State, err error) {
	if c.bus != nil {
		c.bus.Publish(eventbus.ConnEvent{Role: c.role, State: st, Err: err, At: time.Now()})
	}
}
