package config

import (
	"errors"
	"fmt"
	"net/url"
)

var validRetryPolicies = map[string]struct{}{
	"exp":        {},
	"exp-jitter": {},
	"fixed":      {},
	"none":       {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDelivery(); err != nil {
		return err
	}
	if err := c.validateConnectivity(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDelivery() error {
	if c.Delivery.Endpoint == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/fieldq/config.toml"
		}
		return fmt.Errorf("delivery.endpoint is required. Edit %s (create with 'fieldqctl config init')", defaultPath)
	}
	if err := validateHTTPURL(c.Delivery.Endpoint); err != nil {
		return fmt.Errorf("delivery.endpoint: %w", err)
	}
	return nil
}

func (c *Config) validateConnectivity() error {
	if err := validateHTTPURL(c.Connectivity.ProbeURL); err != nil {
		return fmt.Errorf("connectivity.probe_url: %w", err)
	}
	return nil
}

func (c *Config) validateRetry() error {
	if _, ok := validRetryPolicies[c.Retry.Policy]; !ok {
		return fmt.Errorf("retry.policy must be one of exp, exp-jitter, fixed, none (got %q)", c.Retry.Policy)
	}
	if c.Retry.CapSeconds < c.Retry.BaseSeconds {
		return errors.New("retry.cap_seconds must be >= retry.base_seconds")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
	return nil
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https (got %q)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("URL host must not be empty")
	}
	return nil
}
