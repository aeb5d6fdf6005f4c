package testsupport

import (
	"path/filepath"
	"testing"

	"cardsync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Identity.ClientID = "test-client"
	cfgVal.Paths.ConfigDir = filepath.Join(base, "config")
	cfgVal.Paths.CacheDir = filepath.Join(base, "cache")
	cfgVal.Paths.VersionsDir = filepath.Join(base, "versions")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Content.TranscodePollInterval = 1
	cfgVal.Content.TranscodeMaxPollInterval = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithClientID sets the identity client ID on the test config.
func WithClientID(id string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Identity.ClientID = id
	}
}

// WithIdentityServer points the device code and token endpoints at baseURL.
func WithIdentityServer(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Identity.DeviceCodeURL = baseURL + "/oauth/device/code"
		b.cfg.Identity.TokenURL = baseURL + "/oauth/token"
	}
}

// WithContentServer points the content API at baseURL.
func WithContentServer(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Content.BaseURL = baseURL
	}
}

// WithCacheBackend selects the request cache backend; an empty backend
// disables caching.
func WithCacheBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.Enabled = backend != ""
		b.cfg.Cache.Backend = backend
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.ConfigDir)
}
