// Package config provides configuration management using Viper.
// It loads configuration from environment variables, .env files, and config files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultServerPort          = 8090
	defaultServerHost          = "0.0.0.0"
	defaultReadTimeout         = 30 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultAuthorityBaseURL    = "http://localhost:8091"
	defaultCatalogPath         = ""
	defaultCatalogFetchTimeout = 5 * time.Second
	defaultEpochFetchTimeout   = 2 * time.Second
	defaultChecksumTimeout     = 2 * time.Second
	defaultEpochCacheTTL       = 6 * time.Hour
	defaultSyncInterval        = 10 * time.Second
	defaultSyncRetryBase       = 500 * time.Millisecond
	defaultSyncRetryCap        = 2 * time.Second
	defaultSyncRetryAttempts   = 3
	defaultStaleThreshold      = 6
	defaultDriftLoopPeriod     = 1 * time.Second
	defaultDriftIgnore         = 200 * time.Millisecond
	defaultDriftSeek           = 1 * time.Second
	defaultDriftCritical       = 5 * time.Second
	defaultPlayDebounce        = 500 * time.Millisecond
	defaultLoadDeadline        = 8 * time.Second
	defaultWatchdogPeriod      = 2 * time.Second
	defaultBufferingStuck      = 10 * time.Second
	defaultPausedStuck         = 1 * time.Second
	defaultMaxRecoveryActions  = 5
	defaultRecoveryWindow      = 60 * time.Second
	defaultSessionPath         = "./data/telecast.db"
	defaultMigrationsPath      = "file://./migrations"
	defaultLogLevel            = "info"
	defaultLogPretty           = false
	envPrefix                  = "TELECAST"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Authority AuthorityConfig
	Sync      SyncConfig
	Playback  PlaybackConfig
	Watchdog  WatchdogConfig
	Session   SessionConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration for the local status surface
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuthorityConfig holds settings for the authoritative catalog and epoch endpoints
type AuthorityConfig struct {
	// BaseURL is the root of the authority service (epoch, checksum, catalog)
	BaseURL string
	// CatalogPath optionally points at a local catalog snapshot file.
	// When set, the loader reads from disk instead of the authority.
	CatalogPath         string
	CatalogFetchTimeout time.Duration
	EpochFetchTimeout   time.Duration
	ChecksumTimeout     time.Duration
	EpochCacheTTL       time.Duration
}

// SyncConfig holds checksum sync loop configuration
type SyncConfig struct {
	Interval      time.Duration
	RetryBase     time.Duration
	RetryCap      time.Duration
	RetryAttempts int
	// StaleThreshold is the number of consecutive failed ticks before the
	// catalog is reported stale
	StaleThreshold int
}

// PlaybackConfig holds drift-correction loop configuration
type PlaybackConfig struct {
	DriftLoopPeriod time.Duration
	// IgnoreThreshold is the drift magnitude below which no correction happens
	IgnoreThreshold time.Duration
	// SeekThreshold is the drift magnitude at which a seek replaces rate nudging
	SeekThreshold time.Duration
	// CriticalThreshold is the drift magnitude at which a full reload happens
	CriticalThreshold time.Duration
	PlayDebounce      time.Duration
	// LoadDeadline bounds how long a load may take to reach the playing state
	LoadDeadline time.Duration
}

// WatchdogConfig holds supervisor watchdog configuration
type WatchdogConfig struct {
	Period             time.Duration
	BufferingStuck     time.Duration
	PausedStuck        time.Duration
	MaxRecoveryActions int
	RecoveryWindow     time.Duration
}

// SessionConfig holds the local session store configuration
type SessionConfig struct {
	Path           string
	MigrationsPath string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Pretty bool
}

// Load reads configuration from .env file, config files, environment variables, and defaults
func Load() (*Config, error) {
	// .env files are optional in production and CI where env vars are set directly
	_ = godotenv.Load() // nolint:errcheck // .env file is optional

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/telecast")

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.host", defaultServerHost)
	v.SetDefault("server.readtimeout", defaultReadTimeout)
	v.SetDefault("server.writetimeout", defaultWriteTimeout)

	v.SetDefault("authority.baseurl", defaultAuthorityBaseURL)
	v.SetDefault("authority.catalogpath", defaultCatalogPath)
	v.SetDefault("authority.catalogfetchtimeout", defaultCatalogFetchTimeout)
	v.SetDefault("authority.epochfetchtimeout", defaultEpochFetchTimeout)
	v.SetDefault("authority.checksumtimeout", defaultChecksumTimeout)
	v.SetDefault("authority.epochcachettl", defaultEpochCacheTTL)

	v.SetDefault("sync.interval", defaultSyncInterval)
	v.SetDefault("sync.retrybase", defaultSyncRetryBase)
	v.SetDefault("sync.retrycap", defaultSyncRetryCap)
	v.SetDefault("sync.retryattempts", defaultSyncRetryAttempts)
	v.SetDefault("sync.stalethreshold", defaultStaleThreshold)

	v.SetDefault("playback.driftloopperiod", defaultDriftLoopPeriod)
	v.SetDefault("playback.ignorethreshold", defaultDriftIgnore)
	v.SetDefault("playback.seekthreshold", defaultDriftSeek)
	v.SetDefault("playback.criticalthreshold", defaultDriftCritical)
	v.SetDefault("playback.playdebounce", defaultPlayDebounce)
	v.SetDefault("playback.loaddeadline", defaultLoadDeadline)

	v.SetDefault("watchdog.period", defaultWatchdogPeriod)
	v.SetDefault("watchdog.bufferingstuck", defaultBufferingStuck)
	v.SetDefault("watchdog.pausedstuck", defaultPausedStuck)
	v.SetDefault("watchdog.maxrecoveryactions", defaultMaxRecoveryActions)
	v.SetDefault("watchdog.recoverywindow", defaultRecoveryWindow)

	v.SetDefault("session.path", defaultSessionPath)
	v.SetDefault("session.migrationspath", defaultMigrationsPath)

	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.pretty", defaultLogPretty)
}

// Validate checks that configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("invalid read timeout: %v (must be > 0)", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("invalid write timeout: %v (must be > 0)", c.Server.WriteTimeout)
	}

	if c.Authority.BaseURL == "" && c.Authority.CatalogPath == "" {
		return errors.New("authority base URL or catalog path must be configured")
	}

	if c.Sync.Interval <= 0 {
		return fmt.Errorf("invalid sync interval: %v (must be > 0)", c.Sync.Interval)
	}
	if c.Sync.RetryAttempts < 1 {
		return fmt.Errorf("invalid sync retry attempts: %d (must be >= 1)", c.Sync.RetryAttempts)
	}
	if c.Sync.StaleThreshold < 1 {
		return fmt.Errorf("invalid stale threshold: %d (must be >= 1)", c.Sync.StaleThreshold)
	}

	if c.Playback.DriftLoopPeriod <= 0 {
		return fmt.Errorf("invalid drift loop period: %v (must be > 0)", c.Playback.DriftLoopPeriod)
	}
	if c.Playback.IgnoreThreshold <= 0 ||
		c.Playback.SeekThreshold <= c.Playback.IgnoreThreshold ||
		c.Playback.CriticalThreshold <= c.Playback.SeekThreshold {
		return fmt.Errorf("drift thresholds must be ordered: 0 < ignore (%v) < seek (%v) < critical (%v)",
			c.Playback.IgnoreThreshold, c.Playback.SeekThreshold, c.Playback.CriticalThreshold)
	}

	if c.Watchdog.MaxRecoveryActions < 1 {
		return fmt.Errorf("invalid max recovery actions: %d (must be >= 1)", c.Watchdog.MaxRecoveryActions)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.Logging.Level, strings.Join(validLevels, ", "))
	}

	return nil
}

// contains checks if a string slice contains a specific value
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
