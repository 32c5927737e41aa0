package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/specix/errors"
	"go.uber.org/zap"
)

// SaferClient wraps http.Client with SSRF protection for outbound document fetches.
//
// URL checks run before every request and on every redirect hop. With
// BlockPrivateIP on, the dialer also resolves the host itself and connects to
// a vetted address, so a DNS answer pointing at a private range is refused at
// connect time rather than trusted.
type SaferClient struct {
	*http.Client
	allowedSchemes []string
	blockPrivateIP bool
	maxRedirects   int
	userAgent      string
	lookup         func(ctx context.Context, host string) ([]netip.Addr, error)
	log            *zap.SugaredLogger
}

// Options customizes a SaferClient
type Options struct {
	AllowHTTP      bool   // Accept http in addition to https
	BlockPrivateIP bool   // Refuse localhost and private ranges at URL and dial time
	MaxRedirects   int    // Redirect hops allowed; 0 never follows
	UserAgent      string // Set on requests that carry none
	Logger         *zap.SugaredLogger
}

// DefaultOptions returns the hardened defaults
func DefaultOptions() Options {
	return Options{
		BlockPrivateIP: true,
		MaxRedirects:   5,
	}
}

// New creates an HTTP client with SSRF protection.
// Request deadlines come from the request context, not a client timeout.
func New(opts Options) *SaferClient {
	schemes := []string{"https"}
	if opts.AllowHTTP {
		schemes = append(schemes, "http")
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	client := &SaferClient{
		Client:         &http.Client{},
		allowedSchemes: schemes,
		blockPrivateIP: opts.BlockPrivateIP,
		maxRedirects:   opts.MaxRedirects,
		userAgent:      opts.UserAgent,
		lookup:         lookupNetIP,
		log:            log,
	}

	client.CheckRedirect = client.checkRedirect

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if client.blockPrivateIP {
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			vetted, err := client.vetDialAddr(ctx, addr)
			if err != nil {
				return nil, err
			}
			return dialer.DialContext(ctx, network, vetted)
		}
	}

	client.Transport = transport
	return client
}

func (c *SaferClient) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > c.maxRedirects {
		return errors.Newf("stopped after %d redirects", c.maxRedirects)
	}
	if err := c.validateURL(req.URL); err != nil {
		return errors.Wrap(err, "redirect blocked")
	}
	if len(via) > 0 && strings.EqualFold(via[0].URL.Scheme, "https") && !strings.EqualFold(req.URL.Scheme, "https") {
		return errors.Newf("redirect blocked: downgrade from https to %s", req.URL.Scheme)
	}
	c.log.Debugw("Following redirect", "url", req.URL.Redacted(), "hop", len(via))
	return nil
}

// vetDialAddr resolves the host of addr and returns host:port for the first
// public address. Any private answer fails the dial.
func (c *SaferClient) vetDialAddr(ctx context.Context, addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", errors.Wrap(err, "invalid address")
	}

	addrs, err := c.lookup(ctx, host)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve host %q", host)
	}
	if len(addrs) == 0 {
		return "", errors.Newf("no addresses for host %q", host)
	}

	for _, ip := range addrs {
		if isPrivateIP(ip) {
			return "", errors.Newf("private IP address blocked: %s resolves to %s", host, ip)
		}
	}

	return net.JoinHostPort(addrs[0].Unmap().String(), port), nil
}

func lookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip}, nil
	}
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// validateURL validates URL for SSRF protection before making request
func (c *SaferClient) validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, allowedScheme := range c.allowedSchemes {
		if scheme == allowedScheme {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, c.allowedSchemes)
	}

	// http://evil.com@localhost/ style confusion
	if u.User != nil || strings.Contains(u.Host, "@") {
		return errors.New("URL contains @ character (potential SSRF attempt)")
	}

	hostname := u.Hostname()
	if hostname == "" {
		return errors.New("URL missing hostname")
	}

	if c.blockPrivateIP {
		if isLocalhost(hostname) {
			return errors.New("localhost access blocked")
		}
		if ip, err := netip.ParseAddr(hostname); err == nil && isPrivateIP(ip) {
			return errors.Newf("private IP address blocked: %s", hostname)
		}
	}

	return nil
}

// ValidateURL validates a URL string before creating a request
func (c *SaferClient) ValidateURL(urlStr string) (*url.URL, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}

	if err := c.validateURL(u); err != nil {
		return nil, err
	}

	return u, nil
}

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fec0::/10"),
	netip.MustParsePrefix("2001:db8::/32"),
}

// isPrivateIP checks if an IP is in private/special use ranges.
// IPv4-mapped IPv6 addresses are checked as IPv4.
func isPrivateIP(ip netip.Addr) bool {
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, prefix := range privatePrefixes {
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}

// isLocalhost checks for localhost variants
func isLocalhost(hostname string) bool {
	hostname = strings.TrimSuffix(strings.ToLower(hostname), ".")
	return hostname == "localhost" ||
		hostname == "localhost.localdomain" ||
		strings.HasSuffix(hostname, ".localhost")
}

// Do executes an HTTP request with SSRF protection
func (c *SaferClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.validateURL(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked by SSRF protection")
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.Client.Do(req)
}

// WrapClient wraps an existing http.Client in a SaferClient without private IP blocking.
// Only use this in tests that talk to httptest servers on loopback.
func WrapClient(client *http.Client) *SaferClient {
	return &SaferClient{
		Client:         client,
		allowedSchemes: []string{"http", "https"},
		blockPrivateIP: false,
		maxRedirects:   5,
		lookup:         lookupNetIP,
		log:            zap.NewNop().Sugar(),
	}
}
