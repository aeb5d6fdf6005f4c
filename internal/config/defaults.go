package config

const (
	defaultConfigPath  = "~/.config/cardsync/config.toml"
	defaultConfigDir   = "~/.config/cardsync"
	defaultCacheDir    = "~/.cache/cardsync"
	defaultVersionsDir = "~/.local/share/cardsync/versions"
	defaultLogDir      = "~/.local/share/cardsync/logs"

	tokenFileName   = "tokens.json"
	cacheDBFileName = "requests.db"
	logFileName     = "cardsync.log"

	defaultDeviceCodeURL           = "https://login.yotoplay.com/oauth/device/code"
	defaultTokenURL                = "https://login.yotoplay.com/oauth/token"
	defaultAudience                = "https://api.yotoplay.com"
	defaultScope                   = "profile offline_access"
	defaultMaxPollInterval         = 60
	defaultIdentityRequestTimeout  = 30
	defaultContentBaseURL          = "https://api.yotoplay.com"
	defaultContentRequestTimeout   = 30
	defaultUploadTimeout           = 300
	defaultTranscodePollInterval   = 2
	defaultTranscodeMaxPollSeconds = 10
	defaultTranscodeTimeout        = 600
	defaultMaxConcurrentUploads    = 4
	defaultCacheBackend            = "memory"
	defaultCacheTTLSeconds         = 300
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultLogMaxSizeMB            = 10
	defaultLogMaxBackups           = 5
	defaultLogRetentionDays        = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ConfigDir:   defaultConfigDir,
			CacheDir:    defaultCacheDir,
			VersionsDir: defaultVersionsDir,
			LogDir:      defaultLogDir,
		},
		Identity: Identity{
			DeviceCodeURL:   defaultDeviceCodeURL,
			TokenURL:        defaultTokenURL,
			Audience:        defaultAudience,
			Scope:           defaultScope,
			MaxPollInterval: defaultMaxPollInterval,
			RequestTimeout:  defaultIdentityRequestTimeout,
		},
		Content: Content{
			BaseURL:                  defaultContentBaseURL,
			RequestTimeout:           defaultContentRequestTimeout,
			UploadTimeout:            defaultUploadTimeout,
			TranscodePollInterval:    defaultTranscodePollInterval,
			TranscodeMaxPollInterval: defaultTranscodeMaxPollSeconds,
			TranscodeTimeout:         defaultTranscodeTimeout,
			MaxConcurrentUploads:     defaultMaxConcurrentUploads,
		},
		Cache: Cache{
			Enabled:    true,
			Backend:    defaultCacheBackend,
			TTLSeconds: defaultCacheTTLSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			MaxSizeMB:     defaultLogMaxSizeMB,
			MaxBackups:    defaultLogMaxBackups,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
