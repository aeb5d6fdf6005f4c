package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable. A missing client ID is not an
// error here; only commands that talk to the identity provider require it.
func (c *Config) Validate() error {
	if err := c.validateIdentity(); err != nil {
		return err
	}
	if err := c.validateContent(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

// RequireClientID reports a configuration error when no OAuth client ID is set.
func (c *Config) RequireClientID() error {
	if c.Identity.ClientID != "" {
		return nil
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = defaultConfigPath
	}
	return fmt.Errorf("identity.client_id is required. Set CARDSYNC_CLIENT_ID env var or edit %s (create with 'cardsync config init')", defaultPath)
}

func (c *Config) validateIdentity() error {
	if err := validateURL("identity.device_code_url", c.Identity.DeviceCodeURL); err != nil {
		return err
	}
	if err := validateURL("identity.token_url", c.Identity.TokenURL); err != nil {
		return err
	}
	if c.Identity.MaxPollInterval <= 0 {
		return errors.New("identity.max_poll_interval must be positive")
	}
	if c.Identity.RequestTimeout <= 0 {
		return errors.New("identity.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateContent() error {
	if err := validateURL("content.base_url", c.Content.BaseURL); err != nil {
		return err
	}
	if c.Content.RequestTimeout <= 0 {
		return errors.New("content.request_timeout must be positive")
	}
	if c.Content.UploadTimeout <= 0 {
		return errors.New("content.upload_timeout must be positive")
	}
	if c.Content.TranscodePollInterval <= 0 {
		return errors.New("content.transcode_poll_interval must be positive")
	}
	if c.Content.TranscodeMaxPollInterval <= 0 {
		return errors.New("content.transcode_max_poll_interval must be positive")
	}
	if c.Content.TranscodeTimeout <= 0 {
		return errors.New("content.transcode_timeout must be positive")
	}
	if c.Content.TranscodeTimeout < c.Content.TranscodePollInterval {
		return errors.New("content.transcode_timeout must be at least content.transcode_poll_interval")
	}
	if c.Content.MaxConcurrentUploads <= 0 {
		return errors.New("content.max_concurrent_uploads must be positive")
	}
	return nil
}

func (c *Config) validateCache() error {
	switch c.Cache.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("cache.backend: unsupported value %q (expected memory or sqlite)", c.Cache.Backend)
	}
	if c.Cache.TTLSeconds < 0 {
		return errors.New("cache.ttl_seconds must be zero or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.RetentionDays < 0 {
		return errors.New("logging rotation values must be zero or positive")
	}
	return nil
}

func validateURL(field, value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s: expected http or https URL, got %q", field, value)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s: missing host in %q", field, value)
	}
	return nil
}
