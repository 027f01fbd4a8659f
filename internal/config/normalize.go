package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDelivery()
	c.normalizeConnectivity()
	c.normalizeRetry()
	c.normalizeQueue()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDelivery() {
	c.Delivery.Endpoint = strings.TrimSpace(c.Delivery.Endpoint)
	c.Delivery.AuthToken = strings.TrimSpace(c.Delivery.AuthToken)
	if c.Delivery.RequestTimeout <= 0 {
		c.Delivery.RequestTimeout = defaultDeliveryTimeout
	}
}

func (c *Config) normalizeConnectivity() {
	c.Connectivity.ProbeURL = strings.TrimSpace(c.Connectivity.ProbeURL)
	if c.Connectivity.ProbeURL == "" {
		c.Connectivity.ProbeURL = defaultProbeURL
	}
	if c.Connectivity.ProbeInterval <= 0 {
		c.Connectivity.ProbeInterval = defaultProbeInterval
	}
	if c.Connectivity.ProbeTimeout <= 0 {
		c.Connectivity.ProbeTimeout = defaultProbeTimeout
	}
	if c.Connectivity.OfflineThreshold <= 0 {
		c.Connectivity.OfflineThreshold = defaultOfflineThreshold
	}
}

func (c *Config) normalizeRetry() {
	c.Retry.Policy = strings.ToLower(strings.TrimSpace(c.Retry.Policy))
	if c.Retry.Policy == "" {
		c.Retry.Policy = defaultRetryPolicy
	}
	if c.Retry.BaseSeconds <= 0 {
		c.Retry.BaseSeconds = defaultRetryBaseSeconds
	}
	if c.Retry.CapSeconds <= 0 {
		c.Retry.CapSeconds = defaultRetryCapSeconds
	}
	if c.Retry.MaxAttempts < 0 {
		c.Retry.MaxAttempts = 0
	}
}

func (c *Config) normalizeQueue() {
	if c.Queue.MaxInFlight <= 0 {
		c.Queue.MaxInFlight = defaultMaxInFlight
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = defaultPollInterval
	}
	if c.Queue.SubmittedRetentionHours <= 0 {
		c.Queue.SubmittedRetentionHours = defaultSubmittedRetentionHours
	}
	if c.Queue.RatePerMinute < 0 {
		c.Queue.RatePerMinute = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
