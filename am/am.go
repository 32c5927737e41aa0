package am

import (
	"net"
	"strconv"
	"time"

	"github.com/teranos/specix/internal/httpclient"
	"github.com/teranos/specix/ixgest/openapi"
)

// Config represents the specix configuration
type Config struct {
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
}

// FetchConfig bounds every outbound document retrieval
type FetchConfig struct {
	MaxBytes     int64  `mapstructure:"max_bytes"`     // Byte ceiling for probe and download (default: 10 MiB)
	TimeoutMS    int    `mapstructure:"timeout_ms"`    // Per-request timeout for HEAD and GET (default: 15000)
	AllowHTTP    bool   `mapstructure:"allow_http"`    // Accept plain http URLs (default: false)
	EgressGuard  bool   `mapstructure:"egress_guard"`  // Dial only vetted public IPs (default: true)
	MaxRedirects int    `mapstructure:"max_redirects"` // Redirect hops before giving up (default: 5)
	UserAgent    string `mapstructure:"user_agent"`    // Sent on every outbound request
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port                int      `mapstructure:"port"`
	Bind                string   `mapstructure:"bind"`
	IngestRatePerMinute int      `mapstructure:"ingest_rate_per_minute"` // POST /api/spec budget (default: 30)
	IngestBurst         int      `mapstructure:"ingest_burst"`
	MaxRequestBytes     int64    `mapstructure:"max_request_bytes"` // Request body cap (default: 64 KiB)
	AllowedOrigins      []string `mapstructure:"allowed_origins"`
}

// StorageConfig configures the temp artifact area
type StorageConfig struct {
	TempDir           string `mapstructure:"temp_dir"`            // Empty = OS temp dir
	SweepAfterMinutes int    `mapstructure:"sweep_after_minutes"` // Age at which orphaned run dirs are removed
}

// LogConfig configures the global logger
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Theme string `mapstructure:"theme"` // Console color theme: everforest, gruvbox
}

// Defaults
const (
	DefaultMaxBytes            = 10 * 1024 * 1024
	DefaultTimeoutMS           = 15000
	DefaultMaxRedirects        = 5
	DefaultServerPort          = 8787
	DefaultBind                = "127.0.0.1"
	DefaultIngestRatePerMinute = 30
	DefaultIngestBurst         = 5
	DefaultMaxRequestBytes     = 64 * 1024
	DefaultSweepAfterMinutes   = 60
	DefaultLogTheme            = "everforest"
)

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// Timeout returns the fetch timeout as a duration
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutMS) * time.Millisecond
}

// IngestOptions returns the ingestion defaults carried by this config
func (c *Config) IngestOptions() openapi.Options {
	return openapi.Options{
		MaxBytes:            c.Fetch.MaxBytes,
		Timeout:             c.Timeout(),
		AllowInsecureScheme: c.Fetch.AllowHTTP,
	}
}

// HTTPClientOptions returns the egress client settings.
// Scheme policy is enforced at admission, so the client itself accepts http.
func (c *Config) HTTPClientOptions() httpclient.Options {
	return httpclient.Options{
		AllowHTTP:      true,
		BlockPrivateIP: c.Fetch.EgressGuard,
		MaxRedirects:   c.Fetch.MaxRedirects,
		UserAgent:      c.Fetch.UserAgent,
	}
}

// Addr returns the listen address for the HTTP server
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Bind, strconv.Itoa(c.Server.Port))
}

// SweepAfter returns the age at which orphaned temp run dirs are removed
func (c *Config) SweepAfter() time.Duration {
	return time.Duration(c.Storage.SweepAfterMinutes) * time.Minute
}
