package am

import (
	"github.com/spf13/viper"
	"github.com/teranos/specix/version"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Fetch defaults
	v.SetDefault("fetch.max_bytes", DefaultMaxBytes)
	v.SetDefault("fetch.timeout_ms", DefaultTimeoutMS)
	v.SetDefault("fetch.allow_http", false)
	v.SetDefault("fetch.egress_guard", true)
	v.SetDefault("fetch.max_redirects", DefaultMaxRedirects)
	v.SetDefault("fetch.user_agent", version.UserAgent())

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.bind", DefaultBind)
	v.SetDefault("server.ingest_rate_per_minute", DefaultIngestRatePerMinute)
	v.SetDefault("server.ingest_burst", DefaultIngestBurst)
	v.SetDefault("server.max_request_bytes", DefaultMaxRequestBytes)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})

	// Storage defaults
	v.SetDefault("storage.temp_dir", "")
	v.SetDefault("storage.sweep_after_minutes", DefaultSweepAfterMinutes)

	// Log defaults
	v.SetDefault("log.json", false)
	v.SetDefault("log.theme", DefaultLogTheme)
}

// legacyEnvVars maps config keys to the environment names older deployments
// used before the SPECIX_ prefix existed
var legacyEnvVars = map[string]string{
	"fetch.max_bytes":  "SPEC_MAX_BYTES",
	"fetch.timeout_ms": "SPEC_REQUEST_TIMEOUT_MS",
}

// BindLegacyEnvVars binds the unprefixed environment names.
// The prefixed name wins when both are set.
func BindLegacyEnvVars(v *viper.Viper) {
	for key, legacy := range legacyEnvVars {
		_ = v.BindEnv(key, envName(key), legacy)
	}
}
