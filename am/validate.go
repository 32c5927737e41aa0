package am

import "github.com/teranos/specix/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Fetch.MaxBytes <= 0 {
		return errors.Newf("fetch.max_bytes must be > 0, got %d", c.Fetch.MaxBytes)
	}
	if c.Fetch.TimeoutMS <= 0 {
		return errors.Newf("fetch.timeout_ms must be > 0, got %d", c.Fetch.TimeoutMS)
	}
	// Redirects: 0 = never follow, negative = invalid
	if c.Fetch.MaxRedirects < 0 {
		return errors.Newf("fetch.max_redirects must be >= 0, got %d", c.Fetch.MaxRedirects)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.IngestRatePerMinute <= 0 {
		return errors.Newf("server.ingest_rate_per_minute must be > 0, got %d", c.Server.IngestRatePerMinute)
	}
	if c.Server.IngestBurst <= 0 {
		return errors.Newf("server.ingest_burst must be > 0, got %d", c.Server.IngestBurst)
	}
	if c.Server.MaxRequestBytes <= 0 {
		return errors.Newf("server.max_request_bytes must be > 0, got %d", c.Server.MaxRequestBytes)
	}

	// Sweep: 0 = never sweep, negative = invalid
	if c.Storage.SweepAfterMinutes < 0 {
		return errors.Newf("storage.sweep_after_minutes must be >= 0, got %d", c.Storage.SweepAfterMinutes)
	}

	switch c.Log.Theme {
	case "", "everforest", "gruvbox":
	default:
		return errors.WithHint(
			errors.Newf("log.theme %q is not a known theme", c.Log.Theme),
			"use everforest or gruvbox",
		)
	}

	return nil
}
