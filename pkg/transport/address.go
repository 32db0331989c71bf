package transport

import (
	"fmt"
	"net"
)

// RemoteAddress joins host and port into a dial address.
func RemoteAddress(host, port string) string {
	return net.JoinHostPort(host, port)
}

// LocalAddress resolves the local bind address for iface, which may be an
// IP address or an interface name. An empty iface binds to all interfaces
// and yields nil.
func LocalAddress(iface string) (*net.TCPAddr, error) {
	if iface == "" {
		return nil, nil
	}
	if ip := net.ParseIP(iface); ip != nil {
		return &net.TCPAddr{IP: ip}, nil
	}

	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("%w: interface %q: %w", ErrInvalidConfig, iface, err)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, fmt.Errorf("%w: interface %q: %w", ErrInvalidConfig, iface, err)
	}

	// Prefer IPv4, matching what a bare host name usually resolves to.
	var v6 net.IP
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			return &net.TCPAddr{IP: v4}, nil
		}
		if v6 == nil && !ipnet.IP.IsLinkLocalUnicast() {
			v6 = ipnet.IP
		}
	}
	if v6 != nil {
		return &net.TCPAddr{IP: v6}, nil
	}
	return nil, fmt.Errorf("%w: interface %q has no usable address", ErrInvalidConfig, iface)
}

// HostPosition returns the login position attribute for the host, in the
// "<ip>/net" form, falling back to "localhost/net".
func HostPosition(local net.Addr) string {
	if tcp, ok := local.(*net.TCPAddr); ok && tcp.IP != nil && !tcp.IP.IsUnspecified() {
		return tcp.IP.String() + "/net"
	}
	return "localhost/net"
}
