package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeIdentity()
	c.normalizeContent()
	c.normalizeCache()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name     string
		value    *string
		fallback string
	}{
		{"paths.config_dir", &c.Paths.ConfigDir, defaultConfigDir},
		{"paths.cache_dir", &c.Paths.CacheDir, defaultCacheDir},
		{"paths.versions_dir", &c.Paths.VersionsDir, defaultVersionsDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeIdentity() {
	if value, ok := os.LookupEnv("CARDSYNC_CLIENT_ID"); ok && strings.TrimSpace(value) != "" {
		c.Identity.ClientID = value
	}
	c.Identity.ClientID = strings.TrimSpace(c.Identity.ClientID)
	c.Identity.DeviceCodeURL = strings.TrimSpace(c.Identity.DeviceCodeURL)
	if c.Identity.DeviceCodeURL == "" {
		c.Identity.DeviceCodeURL = defaultDeviceCodeURL
	}
	c.Identity.TokenURL = strings.TrimSpace(c.Identity.TokenURL)
	if c.Identity.TokenURL == "" {
		c.Identity.TokenURL = defaultTokenURL
	}
	c.Identity.Audience = strings.TrimSpace(c.Identity.Audience)
	c.Identity.Scope = strings.Join(strings.Fields(c.Identity.Scope), " ")
	if c.Identity.Scope == "" {
		c.Identity.Scope = defaultScope
	}
}

func (c *Config) normalizeContent() {
	c.Content.BaseURL = strings.TrimRight(strings.TrimSpace(c.Content.BaseURL), "/")
	if c.Content.BaseURL == "" {
		c.Content.BaseURL = defaultContentBaseURL
	}
	if c.Content.TranscodeMaxPollInterval > 0 && c.Content.TranscodeMaxPollInterval < c.Content.TranscodePollInterval {
		c.Content.TranscodeMaxPollInterval = c.Content.TranscodePollInterval
	}
}

func (c *Config) normalizeCache() {
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	if c.Cache.Backend == "" {
		c.Cache.Backend = defaultCacheBackend
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
