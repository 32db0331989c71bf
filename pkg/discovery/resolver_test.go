package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func newMockResolver(t *testing.T, mock *MockMDNSResolver) *Resolver {
	t.Helper()
	r, err := NewResolver(ResolverConfig{
		MDNSResolver:  mock,
		BrowseTimeout: time.Second,
		LookupTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	return r
}

func TestNewResolver_Defaults(t *testing.T) {
	r, err := NewResolver(ResolverConfig{MDNSResolver: NewMockMDNSResolver()})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	if r.config.BrowseTimeout != DefaultBrowseTimeout {
		t.Errorf("BrowseTimeout = %v, want %v", r.config.BrowseTimeout, DefaultBrowseTimeout)
	}
	if r.config.LookupTimeout != DefaultLookupTimeout {
		t.Errorf("LookupTimeout = %v, want %v", r.config.LookupTimeout, DefaultLookupTimeout)
	}
}

func TestResolver_LookupProvider(t *testing.T) {
	mock := NewMockMDNSResolver()
	mock.RegisterService(ServiceProvider, MockProviderService("feed-a", 14002, net.IPv4(192, 168, 1, 20),
		ProviderTXT{Vendor: "acme", Services: []string{"DIRECT_FEED"}, TLS: true}))
	r := newMockResolver(t, mock)

	p, err := r.LookupProvider(context.Background(), "feed-a")
	if err != nil {
		t.Fatalf("LookupProvider() error = %v", err)
	}
	if p.Host() != "192.168.1.20" {
		t.Errorf("Host() = %q, want 192.168.1.20", p.Host())
	}
	if p.PortString() != "14002" {
		t.Errorf("PortString() = %q, want 14002", p.PortString())
	}
	if !p.TXT.TLS || p.TXT.Vendor != "acme" {
		t.Errorf("TXT = %+v", p.TXT)
	}
	if p.Text["SV"] != "DIRECT_FEED" {
		t.Errorf("Text[SV] = %q", p.Text["SV"])
	}
}

func TestResolver_LookupProviderErrors(t *testing.T) {
	mock := NewMockMDNSResolver()
	broken := MockProviderService("broken", 1, nil, ProviderTXT{})
	broken.Text = []string{"PV=abc"}
	mock.RegisterService(ServiceProvider, broken)
	r := newMockResolver(t, mock)

	t.Run("not found", func(t *testing.T) {
		_, err := r.LookupProvider(context.Background(), "missing")
		if !errors.Is(err, ErrServiceNotFound) {
			t.Errorf("LookupProvider() error = %v, want %v", err, ErrServiceNotFound)
		}
	})

	t.Run("bad txt", func(t *testing.T) {
		_, err := r.LookupProvider(context.Background(), "broken")
		if !errors.Is(err, ErrInvalidTXTRecord) {
			t.Errorf("LookupProvider() error = %v, want %v", err, ErrInvalidTXTRecord)
		}
	})

	t.Run("invalid name", func(t *testing.T) {
		_, err := r.LookupProvider(context.Background(), "")
		if !errors.Is(err, ErrInvalidInstanceName) {
			t.Errorf("LookupProvider() error = %v, want %v", err, ErrInvalidInstanceName)
		}
	})
}

func TestResolver_LookupTimeout(t *testing.T) {
	r := newMockResolver(t, NewMockMDNSResolver())
	r.resolver = blockingResolver{}

	_, err := r.LookupProvider(context.Background(), "slow")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("LookupProvider() error = %v, want %v", err, ErrTimeout)
	}
}

func TestResolver_BrowseProviders(t *testing.T) {
	mock := NewMockMDNSResolver()
	mock.RegisterService(ServiceProvider, MockProviderService("a", 1000, net.IPv4(10, 0, 0, 1), ProviderTXT{}))
	mock.RegisterService(ServiceProvider, MockProviderService("bad", 1001, net.IPv4(10, 0, 0, 2),
		ProviderTXT{}))
	mock.RegisterService(ServiceProvider, MockProviderService("b", 1002, net.ParseIP("fd00::2"), ProviderTXT{}))
	// Corrupt the TXT record of "bad" so it is skipped.
	mock.services[ServiceProvider][1].Text = []string{"TLS=maybe"}

	r := newMockResolver(t, mock)
	results, err := r.BrowseProviders(context.Background())
	if err != nil {
		t.Fatalf("BrowseProviders() error = %v", err)
	}

	var names []string
	for p := range results {
		names = append(names, p.Instance)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("browsed = %v, want [a b]", names)
	}
}

func TestSortIPsByPreference(t *testing.T) {
	ips := []net.IP{
		net.ParseIP("::1"),
		net.ParseIP("fe80::1"),
		net.ParseIP("fd00::1"),
		net.ParseIP("2001:db8::1"),
		net.IPv4(127, 0, 0, 1),
		net.IPv4(192, 168, 1, 5),
	}
	got := SortIPsByPreference(ips)
	want := []string{"192.168.1.5", "2001:db8::1", "fd00::1", "fe80::1", "::1", "127.0.0.1"}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("sorted[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

// blockingResolver never answers.
type blockingResolver struct{}

func (blockingResolver) Browse(ctx context.Context, _, _ string, _ chan<- *zeroconf.ServiceEntry) error {
	<-ctx.Done()
	return nil
}

func (blockingResolver) Lookup(ctx context.Context, _, _, _ string, _ chan<- *zeroconf.ServiceEntry) error {
	<-ctx.Done()
	return nil
}
