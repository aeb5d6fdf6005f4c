package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directories cardsync reads and writes.
type Paths struct {
	ConfigDir   string `toml:"config_dir"`
	CacheDir    string `toml:"cache_dir"`
	VersionsDir string `toml:"versions_dir"`
	LogDir      string `toml:"log_dir"`
}

// Identity contains configuration for the OAuth device authorization grant.
type Identity struct {
	ClientID        string `toml:"client_id"`
	DeviceCodeURL   string `toml:"device_code_url"`
	TokenURL        string `toml:"token_url"`
	Audience        string `toml:"audience"`
	Scope           string `toml:"scope"`
	MaxPollInterval int    `toml:"max_poll_interval"`
	RequestTimeout  int    `toml:"request_timeout"`
}

// Content contains configuration for the cloud content API and the
// upload/transcode pipeline.
type Content struct {
	BaseURL                  string `toml:"base_url"`
	RequestTimeout           int    `toml:"request_timeout"`
	UploadTimeout            int    `toml:"upload_timeout"`
	TranscodePollInterval    int    `toml:"transcode_poll_interval"`
	TranscodeMaxPollInterval int    `toml:"transcode_max_poll_interval"`
	TranscodeTimeout         int    `toml:"transcode_timeout"`
	Loudnorm                 bool   `toml:"loudnorm"`
	MaxConcurrentUploads     int    `toml:"max_concurrent_uploads"`
}

// Cache contains configuration for the request cache.
type Cache struct {
	Enabled    bool   `toml:"enabled"`
	Backend    string `toml:"backend"` // "memory" or "sqlite"
	TTLSeconds int    `toml:"ttl_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	MaxSizeMB     int    `toml:"max_size_mb"`
	MaxBackups    int    `toml:"max_backups"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for cardsync.
//
// Configuration sections by subsystem:
//   - Paths: token, cache, version snapshot, and log directories
//   - Identity: device authorization endpoints and client ID
//   - Content: content API base URL, upload and transcode budgets
//   - Cache: request cache backend and TTL
//   - Logging: log format, level, and rotation
type Config struct {
	Paths    Paths    `toml:"paths"`
	Identity Identity `toml:"identity"`
	Content  Content  `toml:"content"`
	Cache    Cache    `toml:"cache"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cardsync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates every directory cardsync writes to. It fails on the
// first directory that cannot be created so misconfiguration surfaces once at
// startup.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ConfigDir, c.Paths.CacheDir, c.Paths.VersionsDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// TokenPath returns the location of the persisted OAuth tokens.
func (c *Config) TokenPath() string {
	return filepath.Join(c.Paths.ConfigDir, tokenFileName)
}

// CacheDBPath returns the location of the sqlite request cache.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.Paths.CacheDir, cacheDBFileName)
}

// LogPath returns the location of the rotating log file.
func (c *Config) LogPath() string {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(c.Paths.LogDir, logFileName)
}

// CacheTTL returns the default lifetime of cached responses.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// IdentityTimeout returns the per-request timeout for identity provider calls.
func (c *Config) IdentityTimeout() time.Duration {
	return time.Duration(c.Identity.RequestTimeout) * time.Second
}

// MaxPollInterval caps device authorization slow-down back-offs.
func (c *Config) MaxPollInterval() time.Duration {
	return time.Duration(c.Identity.MaxPollInterval) * time.Second
}

// ContentTimeout returns the per-request timeout for content API calls.
func (c *Config) ContentTimeout() time.Duration {
	return time.Duration(c.Content.RequestTimeout) * time.Second
}

// UploadTimeout returns the timeout applied to a single audio PUT.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Content.UploadTimeout) * time.Second
}

// TranscodeBudget returns the poll interval, maximum interval, and total
// wall-clock budget for transcode polling.
func (c *Config) TranscodeBudget() (interval, maxInterval, timeout time.Duration) {
	return time.Duration(c.Content.TranscodePollInterval) * time.Second,
		time.Duration(c.Content.TranscodeMaxPollInterval) * time.Second,
		time.Duration(c.Content.TranscodeTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
