package core

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultAPIURL         = "https://openai-image-proxy.guitaripod.workers.dev"
	DefaultRedirectURI    = "pixie://auth"
	DefaultClientType     = "cli"
	DefaultRequestTimeout = 30 * time.Second
	DefaultDeviceTimeout  = 300 * time.Second
	DefaultPollInterval   = 5 * time.Second
)

type Config struct {
	APIURL         string        `yaml:"api_url" env:"PIXIE_API_URL"`
	RedirectURI    string        `yaml:"redirect_uri" env:"PIXIE_REDIRECT_URI"`
	ClientType     string        `yaml:"client_type" env:"PIXIE_CLIENT_TYPE"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"PIXIE_REQUEST_TIMEOUT"`

	Device DeviceConfig `yaml:"device"`
	Native NativeConfig `yaml:"native"`
}

type DeviceConfig struct {
	Timeout      time.Duration `yaml:"timeout" env:"PIXIE_DEVICE_TIMEOUT"`
	PollInterval time.Duration `yaml:"poll_interval" env:"PIXIE_DEVICE_POLL_INTERVAL"`
}

type NativeConfig struct {
	// Client IDs the native identity tokens must be issued for; empty skips the check
	GoogleAudience string `yaml:"google_audience" env:"PIXIE_GOOGLE_AUDIENCE"`
	AppleAudience  string `yaml:"apple_audience" env:"PIXIE_APPLE_AUDIENCE"`
}

// DefaultConfig returns the settings the mobile apps ship with, with the request
// timeout tightened for auth calls.
func DefaultConfig() Config {
	return Config{
		APIURL:         DefaultAPIURL,
		RedirectURI:    DefaultRedirectURI,
		ClientType:     DefaultClientType,
		RequestTimeout: DefaultRequestTimeout,
		Device: DeviceConfig{
			Timeout:      DefaultDeviceTimeout,
			PollInterval: DefaultPollInterval,
		},
	}
}

// ApplyEnv overrides fields whose environment variables are set
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// Audience returns the expected identity-token audience for provider, if any
func (c *Config) Audience(provider Provider) string {
	switch provider {
	case ProviderGoogle:
		return c.Native.GoogleAudience
	case ProviderApple:
		return c.Native.AppleAudience
	default:
		return ""
	}
}

// Validate checks the fields every flow depends on
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("api_url is required")
	}
	if _, err := url.ParseRequestURI(c.APIURL); err != nil {
		return fmt.Errorf("invalid api_url: %w", err)
	}
	if c.RedirectURI == "" {
		return errors.New("redirect_uri is required")
	}
	if _, err := url.Parse(c.RedirectURI); err != nil {
		return fmt.Errorf("invalid redirect_uri: %w", err)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if c.Device.Timeout <= 0 || c.Device.PollInterval <= 0 {
		return errors.New("device timeout and poll_interval must be positive")
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	return nil
}
