// Package discovery finds market data providers on the local network over
// DNS-SD (mDNS), and lets a provider advertise itself.
//
// Providers register as "_rssl._tcp" in the "local." domain. The TXT record
// names the services the provider offers and whether it requires an
// encrypted connection.
package discovery

import (
	"fmt"
	"strings"
)

// DNS-SD service type strings.
const (
	// ServiceProvider is the DNS-SD service type for market data providers.
	ServiceProvider = "_rssl._tcp"

	// DefaultDomain is the default mDNS domain.
	DefaultDomain = "local."
)

// TXT record keys.
const (
	txtKeyVendor   = "VN"
	txtKeyServices = "SV"
	txtKeyTLS      = "TLS"
	txtKeyVersion  = "PV"
)

// MaxInstanceNameLength is the longest DNS-SD instance label.
const MaxInstanceNameLength = 63

// ProviderTXT is the TXT record of a provider advertisement.
type ProviderTXT struct {
	// Vendor names the provider implementation.
	Vendor string

	// Services lists the directory service names offered.
	Services []string

	// TLS is set when the provider only accepts encrypted connections.
	TLS bool

	// ProtocolVersion is the channel protocol version spoken.
	ProtocolVersion uint32
}

// Encode returns the TXT record strings.
func (p *ProviderTXT) Encode() []string {
	var txt []string
	if p.Vendor != "" {
		txt = append(txt, txtKeyVendor+"="+p.Vendor)
	}
	if len(p.Services) > 0 {
		txt = append(txt, txtKeyServices+"="+strings.Join(p.Services, ","))
	}
	if p.TLS {
		txt = append(txt, txtKeyTLS+"=1")
	}
	if p.ProtocolVersion != 0 {
		txt = append(txt, fmt.Sprintf("%s=%d", txtKeyVersion, p.ProtocolVersion))
	}
	return txt
}

// Offers returns true if the provider lists the named service. A provider
// that lists no services is assumed to offer any.
func (p *ProviderTXT) Offers(service string) bool {
	if len(p.Services) == 0 {
		return true
	}
	for _, s := range p.Services {
		if s == service {
			return true
		}
	}
	return false
}

// ParseTXT parses raw TXT record strings into a map.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			key := record[:idx]
			value := record[idx+1:]
			result[key] = value
		}
	}
	return result
}

// ParseProviderTXT parses raw TXT records into ProviderTXT. Unknown keys
// are ignored.
func ParseProviderTXT(records []string) (*ProviderTXT, error) {
	m := ParseTXT(records)
	txt := &ProviderTXT{Vendor: m[txtKeyVendor]}

	if v, ok := m[txtKeyServices]; ok && v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				txt.Services = append(txt.Services, s)
			}
		}
	}
	if v, ok := m[txtKeyTLS]; ok {
		switch v {
		case "1":
			txt.TLS = true
		case "0":
		default:
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, txtKeyTLS, v)
		}
	}
	if v, ok := m[txtKeyVersion]; ok {
		var pv uint32
		if _, err := fmt.Sscanf(v, "%d", &pv); err != nil {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, txtKeyVersion, v)
		}
		txt.ProtocolVersion = pv
	}
	return txt, nil
}
