package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultBrowseTimeout is the default timeout for browse operations.
const DefaultBrowseTimeout = 10 * time.Second

// DefaultLookupTimeout is the default timeout for lookup operations.
const DefaultLookupTimeout = 5 * time.Second

// Provider is a provider found on the network.
type Provider struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// HostName is the target host name.
	HostName string

	// Port is the provider port.
	Port int

	// IPs contains the resolved IP addresses, sorted by preference.
	IPs []net.IP

	// Text contains the raw TXT record key-value pairs.
	Text map[string]string

	// TXT is the parsed TXT record.
	TXT ProviderTXT
}

// Host returns the address to dial: the preferred IP, or the host name
// when no address was resolved.
func (p *Provider) Host() string {
	if len(p.IPs) > 0 {
		return p.IPs[0].String()
	}
	return p.HostName
}

// PortString returns the port in the form ConnectConfig expects.
func (p *Provider) PortString() string {
	return strconv.Itoa(p.Port)
}

// MDNSResolver is the interface for mDNS service resolution.
// This allows for dependency injection in tests.
type MDNSResolver interface {
	// Browse browses for services of the given type.
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

	// Lookup looks up a specific service instance.
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production implementation using grandcat/zeroconf.
type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.run(ctx, entries, func(in chan *zeroconf.ServiceEntry) error {
		return z.resolver.Browse(ctx, service, domain, in)
	})
}

func (z *zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.run(ctx, entries, func(in chan *zeroconf.ServiceEntry) error {
		return z.resolver.Lookup(ctx, instance, service, domain, in)
	})
}

// run forwards entries from a channel owned by zeroconf until ctx is done.
// zeroconf may close its channel on cancellation, so the caller's channel is
// never handed to it directly.
func (z *zeroconfResolver) run(ctx context.Context, entries chan<- *zeroconf.ServiceEntry, start func(chan *zeroconf.ServiceEntry) error) error {
	in := make(chan *zeroconf.ServiceEntry)
	errc := make(chan error, 1)
	go func() { errc <- start(in) }()

	for {
		select {
		case e, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			select {
			case entries <- e:
			case <-ctx.Done():
				return nil
			}
		case err := <-errc:
			if err != nil {
				return err
			}
			errc = nil
		case <-ctx.Done():
			return nil
		}
	}
}

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// MDNSResolver is the underlying mDNS resolver implementation.
	// If nil, the default zeroconf resolver is used.
	MDNSResolver MDNSResolver

	// BrowseTimeout is the timeout for browse operations.
	// If zero, DefaultBrowseTimeout is used.
	BrowseTimeout time.Duration

	// LookupTimeout is the timeout for lookup operations.
	// If zero, DefaultLookupTimeout is used.
	LookupTimeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Resolver discovers providers via DNS-SD.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
	log      logging.LeveledLogger
}

// NewResolver creates a new Resolver with the given configuration.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		resolver = zr
	}

	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	if config.LookupTimeout == 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}

	r := &Resolver{
		config:   config,
		resolver: resolver,
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("discovery")
	}
	return r, nil
}

// BrowseProviders discovers providers on the network. The returned channel
// receives providers until the context is cancelled or the browse timeout
// expires.
func (r *Resolver) BrowseProviders(ctx context.Context) (<-chan Provider, error) {
	results := make(chan Provider)
	entries := make(chan *zeroconf.ServiceEntry)

	// Apply browse timeout if context doesn't have a deadline
	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, r.config.BrowseTimeout)
	}

	go func() {
		defer cancel()
		defer close(results)

		go func() {
			defer close(entries)
			if err := r.resolver.Browse(ctx, ServiceProvider, DefaultDomain, entries); err != nil && r.log != nil {
				r.log.Warnf("browse %s: %v", ServiceProvider, err)
			}
		}()

		for entry := range entries {
			p, err := entryToProvider(entry)
			if err != nil {
				if r.log != nil {
					r.log.Debugf("skipping %q: %v", entry.Instance, err)
				}
				continue
			}
			select {
			case results <- p:
			case <-ctx.Done():
				// Drain so the browse goroutine can finish.
				for range entries {
				}
				return
			}
		}
	}()

	return results, nil
}

// LookupProvider resolves one provider instance by name.
func (r *Resolver) LookupProvider(ctx context.Context, instance string) (*Provider, error) {
	if instance == "" || len(instance) > MaxInstanceNameLength {
		return nil, fmt.Errorf("%w: %q", ErrInvalidInstanceName, instance)
	}

	// Apply lookup timeout if context doesn't have a deadline
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, r.config.LookupTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 1)
	go func() {
		defer close(entries)
		if err := r.resolver.Lookup(ctx, instance, ServiceProvider, DefaultDomain, entries); err != nil && r.log != nil {
			r.log.Debugf("lookup %s: %v", instance, err)
		}
	}()

	select {
	case entry, ok := <-entries:
		if !ok || entry == nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("%w: lookup %s", ErrTimeout, instance)
			}
			return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, instance)
		}
		p, err := entryToProvider(entry)
		if err != nil {
			return nil, err
		}
		if r.log != nil {
			r.log.Infof("provider %q at %s:%d", p.Instance, p.Host(), p.Port)
		}
		return &p, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: lookup %s", ErrTimeout, instance)
		}
		return nil, ctx.Err()
	}
}

// entryToProvider converts a zeroconf.ServiceEntry to a Provider.
func entryToProvider(entry *zeroconf.ServiceEntry) (Provider, error) {
	txt, err := ParseProviderTXT(entry.Text)
	if err != nil {
		return Provider{}, err
	}

	var ips []net.IP
	ips = append(ips, entry.AddrIPv4...)
	ips = append(ips, entry.AddrIPv6...)

	return Provider{
		Instance: entry.Instance,
		HostName: entry.HostName,
		Port:     entry.Port,
		IPs:      SortIPsByPreference(ips),
		Text:     ParseTXT(entry.Text),
		TXT:      *txt,
	}, nil
}

// SortIPsByPreference orders addresses for dialing a provider: routable
// IPv4, then global and unique-local IPv6, then link-local and loopback.
// Link-local IPv6 comes last among non-loopback addresses since it needs a
// zone to be dialled.
func SortIPsByPreference(ips []net.IP) []net.IP {
	if len(ips) <= 1 {
		return ips
	}
	sorted := make([]net.IP, len(ips))
	copy(sorted, ips)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})
	return sorted
}

// ipPriority returns the priority of an IP address (lower is better).
func ipPriority(ip net.IP) int {
	switch {
	case ip.To16() == nil:
		return 99
	case ip.IsLoopback():
		return 80
	case ip.IsMulticast() || ip.IsUnspecified():
		return 90
	case ip.To4() != nil:
		if ip.IsLinkLocalUnicast() {
			return 40
		}
		return 0
	case ip.IsPrivate():
		return 2
	case ip.IsGlobalUnicast():
		return 1
	case ip.IsLinkLocalUnicast():
		return 50
	}
	return 10
}
