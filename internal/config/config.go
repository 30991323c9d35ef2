package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/chainhead-bridge/internal/provider"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Networks []Network      `mapstructure:"networks"`
}

type ServerConfig struct {
	Listen         string   `mapstructure:"listen"`
	ReadLimit      int64    `mapstructure:"read_limit"`
	RatePerSecond  int      `mapstructure:"rate_per_second"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type UpstreamConfig struct {
	Network        string        `mapstructure:"network"`
	Endpoint       string        `mapstructure:"endpoint"`
	LegacyHeads    bool          `mapstructure:"legacy_heads"`
	SkipProbe      bool          `mapstructure:"skip_probe"`
	WithChopsticks bool          `mapstructure:"with_chopsticks"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RetryCount     int           `mapstructure:"retry_count"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	// AllowCustomEndpoints lets clients name a websocket url the catalog
	// does not list.
	AllowCustomEndpoints bool `mapstructure:"allow_custom_endpoints"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

// ComposeOptions maps the upstream settings onto the provider stack options.
func (u UpstreamConfig) ComposeOptions() provider.ComposeOptions {
	return provider.ComposeOptions{
		LegacyHeads:  u.LegacyHeads,
		SkipProbe:    u.SkipProbe,
		ProbeTimeout: u.ProbeTimeout,
	}
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_limit", 512*1024)
	v.SetDefault("server.rate_per_second", 50)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("upstream.network", "resonance")
	v.SetDefault("upstream.legacy_heads", true)
	v.SetDefault("upstream.skip_probe", false)
	v.SetDefault("upstream.probe_timeout", provider.DefaultProbeTimeout)
	v.SetDefault("upstream.dial_timeout", 10*time.Second)
	v.SetDefault("upstream.retry_count", 3)
	v.SetDefault("upstream.retry_delay", time.Second)
	v.SetDefault("upstream.allow_custom_endpoints", true)
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("CHAINHEAD_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("chainhead-bridge")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Catalog builds the network catalog from the built-ins and the configured
// networks.
func (c *Config) Catalog() *Catalog {
	return NewCatalog(c.Networks)
}

// Source resolves the configured default upstream. An endpoint given as a
// websocket url that the network does not list is registered as a custom
// localhost endpoint so listings show it.
func (c *Config) Source(catalog *Catalog) (Source, error) {
	src, err := ResolveSource(catalog, c.Upstream.Network, c.Upstream.Endpoint, c.Upstream.WithChopsticks, true)
	if err != nil {
		return Source{}, err
	}
	if src.ID == customNetworkID {
		if err := catalog.AddCustomEndpoint(src.Endpoint); err != nil {
			return Source{}, err
		}
	}
	return src, nil
}

// ResolveSource resolves a network endpoint. When allowCustom is set, a
// websocket url no network lists resolves to an unlisted localhost source;
// the catalog itself is never changed.
func ResolveSource(catalog *Catalog, networkID, endpoint string, withChopsticks, allowCustom bool) (Source, error) {
	src, err := catalog.Resolve(networkID, endpoint, withChopsticks)
	if err == nil || !errors.Is(err, ErrUnknownEndpoint) || !isWebsocketURL(endpoint) {
		return src, err
	}
	if !allowCustom {
		return Source{}, fmt.Errorf("%w: custom endpoint urls are disabled", ErrUnknownEndpoint)
	}
	return NewWebsocketSource(customNetworkID, endpoint, withChopsticks), nil
}
