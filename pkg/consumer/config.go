package consumer

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/feedconsumer/pkg/message"
	"github.com/backkem/feedconsumer/pkg/metrics"
	"github.com/backkem/feedconsumer/pkg/transport"
)

// Default values for Config fields.
const (
	DefaultHost           = "localhost"
	DefaultPort           = "14002"
	DefaultRunTime        = 300 * time.Second
	DefaultServiceName    = "DIRECT_FEED"
	DefaultPingTimeout    = 60 * time.Second
	DefaultPollTimeout    = time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultDrainTimeout   = time.Second
)

// TLSConfig selects an encrypted connection.
type TLSConfig struct {
	// Enabled turns on TLS.
	Enabled bool

	// CAFile is a PEM bundle of trusted roots. If empty, system roots are used.
	CAFile string

	// Insecure skips server certificate verification.
	Insecure bool

	// ServerName overrides the name checked against the certificate.
	// Default: Host.
	ServerName string
}

// Config configures a Session.
type Config struct {
	// Host is the provider host name or address.
	Host string

	// Port is the provider port or service name.
	Port string

	// Interface names the local interface or address to bind.
	// If empty, the system chooses.
	Interface string

	// RunTime bounds the whole session. When it expires the session closes
	// gracefully and Run returns nil.
	RunTime time.Duration

	// ServiceName is the directory service to consume from.
	ServiceName string

	// UserName is the login user. Default: the current OS user.
	UserName string

	// ApplicationName is sent in the login.
	ApplicationName string

	// Items are market price items requested once the session is ready.
	Items []string

	// DictionaryDir holds RDMFieldDictionary and enumtype.def. Artifacts
	// found there are not downloaded. Default: the working directory.
	DictionaryDir string

	// PingTimeout is the heartbeat timeout requested from the provider.
	PingTimeout time.Duration

	// PollTimeout bounds each wait for I/O readiness.
	PollTimeout time.Duration

	// ConnectTimeout bounds connection setup.
	ConnectTimeout time.Duration

	// InitPolicy decides what an empty poll means during setup.
	InitPolicy transport.InitPolicy

	// MaxOutputBuffers bounds the output buffer pool.
	MaxOutputBuffers int

	// MaxFragmentSize is the largest data frame body sent before the
	// provider negotiates one.
	MaxFragmentSize int

	// DrainTimeout bounds how long queued output is flushed on close.
	DrainTimeout time.Duration

	// TLS selects an encrypted connection.
	TLS TLSConfig

	// TLSClientConfig, when set, is used as is instead of building one
	// from TLS.
	TLSClientConfig *tls.Config

	// Dial replaces the default dialer. Used by tests.
	Dial transport.DialFunc

	// Handler receives application messages once the session is ready.
	// If nil, messages are logged.
	Handler Handler

	// Metrics records session activity. If nil, nothing is recorded.
	Metrics *metrics.Collector

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == "" {
		c.Port = DefaultPort
	}
	if c.RunTime <= 0 {
		c.RunTime = DefaultRunTime
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.DictionaryDir == "" {
		c.DictionaryDir = "."
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MaxOutputBuffers <= 0 {
		c.MaxOutputBuffers = transport.DefaultMaxOutputBuffers
	}
	if c.MaxFragmentSize <= 0 {
		c.MaxFragmentSize = message.DefaultMaxFragmentSize
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.Port == "" {
		return fmt.Errorf("%w: port is required", ErrInvalidConfig)
	}
	if c.ServiceName == "" {
		return fmt.Errorf("%w: service name is required", ErrInvalidConfig)
	}
	if c.RunTime <= 0 {
		return fmt.Errorf("%w: run time %s", ErrInvalidConfig, c.RunTime)
	}
	if !c.InitPolicy.IsValid() {
		return fmt.Errorf("%w: init policy %d", ErrInvalidConfig, c.InitPolicy)
	}
	if c.PingTimeout < time.Second {
		return fmt.Errorf("%w: ping timeout %s below one second", ErrInvalidConfig, c.PingTimeout)
	}
	return nil
}

// clientTLS builds the client TLS configuration, or nil for a plain
// connection.
func (c *Config) clientTLS() (*tls.Config, error) {
	if c.TLSClientConfig != nil {
		return c.TLSClientConfig, nil
	}
	if !c.TLS.Enabled {
		return nil, nil
	}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.TLS.ServerName,
		InsecureSkipVerify: c.TLS.Insecure, //nolint:gosec // opt-in via --tls-insecure
	}
	if c.TLS.CAFile != "" {
		pem, err := os.ReadFile(c.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read CA file: %w", ErrInvalidConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrInvalidConfig, c.TLS.CAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// connectConfig maps the session configuration onto the transport's.
func (c *Config) connectConfig(tlsConfig *tls.Config) transport.ConnectConfig {
	return transport.ConnectConfig{
		Host:             c.Host,
		Port:             c.Port,
		Interface:        c.Interface,
		ConnectTimeout:   c.ConnectTimeout,
		InitPolicy:       c.InitPolicy,
		PingTimeout:      c.PingTimeout,
		ClientName:       c.ApplicationName,
		MaxFragmentSize:  c.MaxFragmentSize,
		MaxOutputBuffers: c.MaxOutputBuffers,
		TLSConfig:        tlsConfig,
		Dial:             c.Dial,
		LoggerFactory:    c.LoggerFactory,
	}
}
