package openapi

import (
	"net"
	"net/netip"
	"net/url"
	"strings"
)

var blockedHosts = map[string]struct{}{
	"localhost": {},
	"0.0.0.0":   {},
	"127.0.0.1": {},
	"::1":       {},
}

var blockedSuffixes = []string{".local", ".localhost"}

var blockedRanges = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
}

// SanitizedURL is an admitted document reference. It is never mutated after
// Sanitize returns it.
type SanitizedURL struct {
	u *url.URL
}

func (s *SanitizedURL) String() string {
	return s.u.String()
}

// Hostname returns the normalized host without port or brackets
func (s *SanitizedURL) Hostname() string {
	return s.u.Hostname()
}

// URL returns a copy of the parsed URL
func (s *SanitizedURL) URL() *url.URL {
	c := *s.u
	return &c
}

// Sanitize admits raw as a fetch target or fails with KindInvalidURL.
// Only https is accepted unless allowInsecureScheme permits http. Loopback,
// .local and literal private-range hosts are refused. No DNS lookups are made.
func Sanitize(raw string, allowInsecureScheme bool) (*SanitizedURL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, newError(KindInvalidURL, "Spec URL is not a valid URL.", err)
	}
	if !u.IsAbs() || u.Opaque != "" || u.Host == "" {
		return nil, newError(KindInvalidURL, "Spec URL is not a valid URL.", nil)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "https" && !(allowInsecureScheme && scheme == "http") {
		return nil, newError(KindInvalidURL, "Only HTTPS spec URLs are allowed.", nil)
	}

	if u.User != nil {
		return nil, newError(KindInvalidURL, "Spec URLs must not carry credentials.", nil)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return nil, newError(KindInvalidURL, "Spec URL is not a valid URL.", nil)
	}

	if isBlockedHost(host) {
		return nil, newError(KindInvalidURL, "Local or loopback hosts are not allowed.", nil)
	}

	if ip, err := netip.ParseAddr(host); err == nil && isBlockedAddr(ip) {
		return nil, newError(KindInvalidURL, "Private network addresses are not allowed.", nil)
	}

	normalized := *u
	normalized.Scheme = scheme
	normalized.Host = joinHost(host, u.Port())
	return &SanitizedURL{u: &normalized}, nil
}

func isBlockedHost(host string) bool {
	if _, ok := blockedHosts[host]; ok {
		return true
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

func isBlockedAddr(ip netip.Addr) bool {
	ip = ip.WithZone("").Unmap()
	for _, prefix := range blockedRanges {
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}

func joinHost(host, port string) string {
	if port != "" {
		return net.JoinHostPort(host, port)
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}
