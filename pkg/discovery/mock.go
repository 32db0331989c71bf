package discovery

import (
	"context"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
)

// MockMDNSResolver provides a mock mDNS resolver for testing without real network I/O.
// It allows registering services and simulating discovery responses.
type MockMDNSResolver struct {
	mu       sync.RWMutex
	services map[string][]*zeroconf.ServiceEntry
}

// NewMockMDNSResolver creates a new mock resolver.
func NewMockMDNSResolver() *MockMDNSResolver {
	return &MockMDNSResolver{
		services: make(map[string][]*zeroconf.ServiceEntry),
	}
}

// RegisterService registers a service that will be returned by Browse/Lookup.
func (m *MockMDNSResolver) RegisterService(service string, entry *zeroconf.ServiceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[service] = append(m.services[service], entry)
}

// RemoveService removes the entries of instance under service.
func (m *MockMDNSResolver) RemoveService(service, instance string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.services[service][:0]
	for _, entry := range m.services[service] {
		if entry.Instance != instance {
			kept = append(kept, entry)
		}
	}
	if len(kept) == 0 {
		delete(m.services, service)
		return
	}
	m.services[service] = kept
}

// ClearServices removes all registered services.
func (m *MockMDNSResolver) ClearServices() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = make(map[string][]*zeroconf.ServiceEntry)
}

func (m *MockMDNSResolver) entries(service string) []*zeroconf.ServiceEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*zeroconf.ServiceEntry, len(m.services[service]))
	copy(out, m.services[service])
	return out
}

// Browse implements MDNSResolver.
func (m *MockMDNSResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	// Sent synchronously so the caller can close entries when Browse returns.
	for _, entry := range m.entries(service) {
		select {
		case entries <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Lookup implements MDNSResolver.
func (m *MockMDNSResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	for _, entry := range m.entries(service) {
		if entry.Instance != instance {
			continue
		}
		select {
		case entries <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
	return nil
}

// MockProviderService creates a provider service entry for testing.
func MockProviderService(instance string, port int, ip net.IP, txt ProviderTXT) *zeroconf.ServiceEntry {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  ServiceProvider,
			Domain:   DefaultDomain,
		},
		HostName: instance + ".local.",
		Port:     port,
		Text:     txt.Encode(),
	}
	if ip != nil {
		if ip.To4() != nil {
			entry.AddrIPv4 = []net.IP{ip}
		} else {
			entry.AddrIPv6 = []net.IP{ip}
		}
	}
	return entry
}

// MockServerFactory records registrations instead of touching the network.
type MockServerFactory struct {
	mu      sync.Mutex
	servers map[string]*MockServer

	// Resolver, when set, receives every registered service so that
	// lookups through it find advertised providers.
	Resolver *MockMDNSResolver

	// Err, when set, fails every registration.
	Err error
}

// MockServer is a registration made through MockServerFactory.
type MockServer struct {
	Instance string
	Port     int
	TXT      []string

	resolver *MockMDNSResolver
	service  string

	mu       sync.Mutex
	shutdown bool
}

// Shutdown implements MDNSServer. The instance is withdrawn from the
// resolver it was published to.
func (s *MockServer) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	if s.resolver != nil {
		s.resolver.RemoveService(s.service, s.Instance)
	}
}

// IsShutdown reports whether Shutdown was called.
func (s *MockServer) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// NewMockServerFactory creates a factory publishing into resolver, which
// may be nil.
func NewMockServerFactory(resolver *MockMDNSResolver) *MockServerFactory {
	return &MockServerFactory{
		servers:  make(map[string]*MockServer),
		Resolver: resolver,
	}
}

// Register implements MDNSServerFactory.
func (f *MockServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	s := &MockServer{Instance: instance, Port: port, TXT: txt, resolver: f.Resolver, service: service}
	f.servers[instance] = s
	if f.Resolver != nil {
		f.Resolver.RegisterService(service, &zeroconf.ServiceEntry{
			ServiceRecord: zeroconf.ServiceRecord{Instance: instance, Service: service, Domain: domain},
			HostName:      "localhost.",
			Port:          port,
			Text:          txt,
			AddrIPv4:      []net.IP{net.IPv4(127, 0, 0, 1)},
		})
	}
	return s, nil
}

// Server returns the registration for instance, or nil.
func (f *MockServerFactory) Server(instance string) *MockServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servers[instance]
}
