package utils

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ParseAddr extracts the address from "ip", "ip:port" or "[v6]:port".
// IPv4-mapped IPv6 addresses are unmapped so they match IPv4 prefixes.
func ParseAddr(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// ClientIP resolves the address a request comes from. Forwarding headers
// (left-most X-Forwarded-For, then X-Real-IP) are only honoured when
// trustProxy is set, i.e. when the node is reachable only through a proxy
// the operator controls.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		xff := r.Header.Get("X-Forwarded-For")
		if i := strings.IndexByte(xff, ','); i >= 0 {
			xff = xff[:i]
		}
		for _, v := range []string{xff, r.Header.Get("X-Real-IP")} {
			if addr, ok := ParseAddr(v); ok {
				return addr.String()
			}
		}
	}
	if addr, ok := ParseAddr(r.RemoteAddr); ok {
		return addr.String()
	}
	return r.RemoteAddr
}

// IPMatcher matches addresses against a list of prefixes. Single
// addresses are stored as full length prefixes.
type IPMatcher struct {
	prefixes []netip.Prefix
}

// NewIPMatcher parses entries like "10.0.0.0/8", "127.0.0.1" or "::1".
// Unparsable entries are returned as rejected so callers can report them.
func NewIPMatcher(list []string) (m *IPMatcher, rejected []string) {
	m = &IPMatcher{}
	for _, raw := range list {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if p, err := netip.ParsePrefix(s); err == nil {
			m.prefixes = append(m.prefixes, p.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(s); err == nil {
			addr = addr.Unmap()
			m.prefixes = append(m.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		rejected = append(rejected, s)
	}
	return m, rejected
}

func (m *IPMatcher) IsEmpty() bool { return len(m.prefixes) == 0 }

func (m *IPMatcher) Allow(ip string) bool {
	addr, ok := ParseAddr(ip)
	if !ok {
		return false
	}
	for _, p := range m.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
