package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap/zapcore"
)

// InvalidSetting represents a setting with an unusable value
type InvalidSetting struct {
	Key    string
	Value  string
	Reason string
}

// InvalidEndpoint represents a network endpoint that cannot be dialed
type InvalidEndpoint struct {
	Network string
	Label   string
	URL     string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	InvalidSettings  []InvalidSetting
	InvalidNetworks  []string
	InvalidEndpoints []InvalidEndpoint
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.InvalidSettings) > 0 || len(e.InvalidNetworks) > 0 || len(e.InvalidEndpoints) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.InvalidSettings) > 0 {
		sb.WriteString("\nInvalid settings:\n")
		for _, s := range e.InvalidSettings {
			sb.WriteString(fmt.Sprintf("  - %s=%q: %s\n", s.Key, s.Value, s.Reason))
		}
	}

	if len(e.InvalidNetworks) > 0 {
		sb.WriteString("\nInvalid networks:\n")
		for _, n := range e.InvalidNetworks {
			sb.WriteString(fmt.Sprintf("  - %s\n", n))
		}
	}

	if len(e.InvalidEndpoints) > 0 {
		sb.WriteString("\nInvalid endpoints (ws:// or wss:// required):\n")
		for _, ep := range e.InvalidEndpoints {
			sb.WriteString(fmt.Sprintf("  - %s/%s: %s\n", ep.Network, ep.Label, ep.URL))
		}
	}

	return sb.String()
}

func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		errs.invalid("server.listen", c.Server.Listen, "must be host:port")
	}
	if c.Server.ReadLimit < 0 {
		errs.invalid("server.read_limit", fmt.Sprint(c.Server.ReadLimit), "must be >= 0")
	}
	if c.Server.RatePerSecond < 0 {
		errs.invalid("server.rate_per_second", fmt.Sprint(c.Server.RatePerSecond), "must be >= 0")
	}
	if c.Upstream.ProbeTimeout <= 0 {
		errs.invalid("upstream.probe_timeout", c.Upstream.ProbeTimeout.String(), "must be positive")
	}
	if c.Upstream.RetryCount < 0 {
		errs.invalid("upstream.retry_count", fmt.Sprint(c.Upstream.RetryCount), "must be >= 0")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs.invalid("logging.level", c.Logging.Level, "must be debug, info, warn or error")
	}

	validateNetworks(errs, c.Networks)

	catalog := NewCatalog(c.Networks)
	if c.Upstream.Network != "" {
		if _, err := catalog.Network(c.Upstream.Network); err != nil {
			errs.invalid("upstream.network", c.Upstream.Network, "not a known network")
		}
	}
	if ep := c.Upstream.Endpoint; ep != "" && strings.Contains(ep, "://") && !isWebsocketURL(ep) {
		errs.invalid("upstream.endpoint", ep, "must use ws:// or wss://")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (e *ValidationErrors) invalid(key, value, reason string) {
	e.InvalidSettings = append(e.InvalidSettings, InvalidSetting{Key: key, Value: value, Reason: reason})
}

func validateNetworks(errs *ValidationErrors, networks []Network) {
	seen := make(map[string]bool)
	for _, n := range networks {
		switch {
		case n.ID == "":
			errs.InvalidNetworks = append(errs.InvalidNetworks, "network with empty id")
			continue
		case seen[n.ID]:
			errs.InvalidNetworks = append(errs.InvalidNetworks, n.ID+" (duplicate id)")
			continue
		case len(n.Endpoints) == 0:
			errs.InvalidNetworks = append(errs.InvalidNetworks, n.ID+" (no endpoints)")
		}
		seen[n.ID] = true

		for _, ep := range n.Endpoints {
			if !isWebsocketURL(ep.URL) {
				errs.InvalidEndpoints = append(errs.InvalidEndpoints, InvalidEndpoint{
					Network: n.ID,
					Label:   ep.Label,
					URL:     ep.URL,
				})
			}
		}
	}
}

func isWebsocketURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "ws" || u.Scheme == "wss"
}
