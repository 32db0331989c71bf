// Package integration provides test infrastructure for consumer E2E tests.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/feedconsumer/internal/testutil/tlstest"
	"github.com/backkem/feedconsumer/pkg/consumer"
	"github.com/backkem/feedconsumer/pkg/discovery"
	"github.com/backkem/feedconsumer/pkg/provider"
	"github.com/backkem/feedconsumer/pkg/rdm"
)

// TestPair holds a running provider advertised over a mock mDNS resolver,
// ready for consumers to find and connect to.
//
// Example usage:
//
//	pair := NewTestPair(t)
//	defer pair.Close()
//	session, err := pair.RunConsumer(pair.ConsumerConfig())
type TestPair struct {
	// Provider is the provider under test.
	Provider *provider.Server

	// MDNS is the resolver the provider is advertised on.
	MDNS *discovery.MockMDNSResolver

	// Instance is the advertised DNS-SD instance name.
	Instance string

	// Authority issued the provider certificate when TLS is enabled.
	Authority *tlstest.Authority

	config        TestPairConfig
	t             *testing.T
	loggerFactory logging.LoggerFactory
}

// TestPairConfig configures the test pair creation.
type TestPairConfig struct {
	// ServiceName is the one service the provider offers.
	ServiceName string

	// Instance is the advertised instance name.
	Instance string

	// TLS enables an encrypted provider endpoint.
	TLS bool

	// DictionaryParts splits each dictionary download into this many parts.
	DictionaryParts int

	// Updates is the number of updates sent after each item refresh.
	Updates int

	// RunTime bounds each consumer run.
	RunTime time.Duration

	// LoggerFactory for logging. If nil, uses DefaultLoggerFactory.
	LoggerFactory logging.LoggerFactory
}

// DefaultTestPairConfig returns default configuration for test pairs.
func DefaultTestPairConfig() TestPairConfig {
	return TestPairConfig{
		ServiceName:     "DIRECT_FEED",
		Instance:        "e2e-provider",
		DictionaryParts: 1,
		RunTime:         time.Second,
	}
}

// NewTestPair starts a provider with the default configuration.
func NewTestPair(t *testing.T) *TestPair {
	return NewTestPairWithConfig(t, DefaultTestPairConfig())
}

// NewTestPairWithConfig starts a provider and advertises it.
func NewTestPairWithConfig(t *testing.T, config TestPairConfig) *TestPair {
	t.Helper()

	if config.ServiceName == "" {
		config.ServiceName = "DIRECT_FEED"
	}
	if config.Instance == "" {
		config.Instance = "e2e-provider"
	}
	if config.RunTime == 0 {
		config.RunTime = time.Second
	}
	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	mdns := discovery.NewMockMDNSResolver()
	adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{
		ServerFactory: discovery.NewMockServerFactory(mdns),
		LoggerFactory: loggerFactory,
	})

	pair := &TestPair{
		MDNS:          mdns,
		Instance:      config.Instance,
		config:        config,
		t:             t,
		loggerFactory: loggerFactory,
	}

	pcfg := provider.Config{
		Services:        []rdm.Service{provider.NewService(1, config.ServiceName)},
		DictionaryParts: config.DictionaryParts,
		Updates:         config.Updates,
		Advertiser:      adv,
		Instance:        config.Instance,
		LoggerFactory:   loggerFactory,
	}
	if config.TLS {
		pair.Authority = tlstest.NewAuthority(t, t.TempDir(), "e2e-ca")
		pcfg.TLSConfig = pair.Authority.ServerConfig(t)
	}

	srv, err := provider.NewServer(pcfg)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start provider: %v", err)
	}
	pair.Provider = srv
	return pair
}

// Close stops the provider, which also withdraws its advertisement.
func (p *TestPair) Close() {
	if p.Provider != nil {
		p.Provider.Stop()
	}
}

// Resolve looks the provider up the way a consumer started with
// --discover would.
func (p *TestPair) Resolve(ctx context.Context) (*discovery.Provider, error) {
	r, err := discovery.NewResolver(discovery.ResolverConfig{
		MDNSResolver:  p.MDNS,
		LookupTimeout: time.Second,
		LoggerFactory: p.loggerFactory,
	})
	if err != nil {
		return nil, err
	}
	return r.LookupProvider(ctx, p.Instance)
}

// ConsumerConfig returns a consumer configuration pointing at the
// discovered provider, with TLS set up when the pair uses it.
func (p *TestPair) ConsumerConfig() consumer.Config {
	p.t.Helper()

	found, err := p.Resolve(context.Background())
	if err != nil {
		p.t.Fatalf("Resolve failed: %v", err)
	}

	cfg := consumer.Config{
		Host:          found.Host(),
		Port:          found.PortString(),
		RunTime:       p.config.RunTime,
		ServiceName:   p.config.ServiceName,
		UserName:      "e2e",
		DictionaryDir: p.t.TempDir(),
		PollTimeout:   100 * time.Millisecond,
		LoggerFactory: p.loggerFactory,
	}
	if found.TXT.TLS && p.Authority != nil {
		cfg.TLS = consumer.TLSConfig{Enabled: true, CAFile: p.Authority.CAFile(), ServerName: "localhost"}
	}
	return cfg
}

// RunConsumer runs one session to completion.
func (p *TestPair) RunConsumer(cfg consumer.Config) (*consumer.Session, error) {
	p.t.Helper()

	s, err := consumer.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return s, s.Run(p.Context())
}

// Context returns a context for operations on this pair.
func (p *TestPair) Context() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	p.t.Cleanup(cancel)
	return ctx
}

// LoggerFactory returns the logger factory used by this pair.
func (p *TestPair) LoggerFactory() logging.LoggerFactory {
	return p.loggerFactory
}
