package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/seplag/regional_sync/utils"
)

const (
	defaultPort                 = "8080"
	defaultSyncInterval         = time.Hour
	minSyncInterval             = time.Minute
	defaultFetchTimeout         = 30 * time.Second
	defaultLockTTL              = 5 * time.Minute
	defaultCacheTTL             = 10 * time.Minute
	defaultAPIKeyHeader         = "X-API-Key"
	defaultRedisAddress         = "localhost:6379"
	defaultRedisConnectAttempts = 5
	defaultAdminRoles           = "admin"
)

// Config holds application configuration
type Config struct {
	Port                 string `validate:"required,numeric"`
	Environment          string `validate:"required"`
	LogLevel             string `validate:"required,oneof=trace debug info warn warning error fatal panic"`
	APISecret            string
	AdminRoles           []string
	CORSOrigins          []string
	SkipMigrations       bool
	Database             DatabaseConfig
	RedisAddress         string `validate:"required,hostname_port"`
	RedisConnectAttempts int    `validate:"gte=1"`
	CacheTTL             time.Duration
	PubSubProjectID      string
	Sync                 SyncConfig
}

// DatabaseConfig describes the MySQL connection used by the gorm store.
type DatabaseConfig struct {
	User     string `validate:"required"`
	Password string
	Host     string `validate:"required"`
	Port     string
	Name     string `validate:"required"`

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// SyncConfig configures the regional reconciliation cycle.
type SyncConfig struct {
	Enabled      bool
	SourceURL    string `validate:"omitempty,url"`
	APIKey       string
	APIKeyHeader string        `validate:"required"`
	Interval     time.Duration
	FetchTimeout time.Duration `validate:"gt=0"`
	OnStartup    bool
	LockTTL      time.Duration `validate:"gt=0"`
	AllowEmpty   bool
	Topic        string
	PushEnabled  bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 utils.EnvString("PORT", defaultPort),
		Environment:          utils.EnvString("GO_ENV", "development"),
		LogLevel:             strings.ToLower(utils.EnvString("LOG_LEVEL", "info")),
		APISecret:            utils.EnvString("API_SECRET", ""),
		AdminRoles:           utils.SplitAndTrim(utils.EnvString("ADMIN_ROLES", defaultAdminRoles)),
		CORSOrigins:          utils.SplitAndTrim(utils.EnvString("CORS_ALLOWED_ORIGINS", "")),
		SkipMigrations:       utils.EnvBoolDefault("SKIP_MIGRATIONS", false),
		RedisAddress:         utils.EnvString("REDIS_ADDRESS", defaultRedisAddress),
		RedisConnectAttempts: utils.IntFromEnv("REDIS_CONNECT_ATTEMPTS", defaultRedisConnectAttempts),
		CacheTTL:             utils.DurationFromEnv("REGIONAL_CACHE_TTL", defaultCacheTTL),
		PubSubProjectID:      pubSubProjectID(),
		Database: DatabaseConfig{
			User:            utils.EnvString("DB_USER", ""),
			Password:        utils.EnvString("DB_PASSWORD", ""),
			Host:            utils.EnvString("DB_HOST", ""),
			Port:            utils.EnvString("DB_PORT", "3306"),
			Name:            utils.EnvString("DB_NAME", ""),
			MaxOpenConns:    utils.IntFromEnv("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    utils.IntFromEnv("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: time.Duration(utils.IntFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second,
			ConnMaxIdleTime: time.Duration(utils.IntFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)) * time.Second,
		},
		Sync: SyncConfig{
			Enabled:      RegionalSyncEnabled(),
			SourceURL:    utils.EnvString("REGIONAL_SYNC_URL", ""),
			APIKey:       utils.EnvString("REGIONAL_SYNC_API_KEY", ""),
			APIKeyHeader: utils.EnvString("REGIONAL_SYNC_API_KEY_HEADER", defaultAPIKeyHeader),
			Interval:     utils.DurationFromEnv("REGIONAL_SYNC_INTERVAL", defaultSyncInterval),
			FetchTimeout: utils.DurationFromEnv("REGIONAL_SYNC_FETCH_TIMEOUT", defaultFetchTimeout),
			OnStartup:    utils.EnvBoolDefault("REGIONAL_SYNC_ON_STARTUP", true),
			LockTTL:      utils.DurationFromEnv("REGIONAL_SYNC_LOCK_TTL", defaultLockTTL),
			AllowEmpty:   AllowEmptyExternalPayload(),
			Topic:        utils.EnvString("REGIONAL_SYNC_TOPIC", ""),
			PushEnabled:  utils.EnvBoolDefault("REGIONAL_SYNC_PUSH_ENABLED", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and the cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		fields := utils.ProcessValidationErrors(err)
		if len(fields) == 0 {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		parts := make([]string, 0, len(fields))
		for field, tag := range fields {
			parts = append(parts, field+"="+tag)
		}
		sort.Strings(parts)
		return fmt.Errorf("invalid configuration: %s", strings.Join(parts, ", "))
	}
	if c.IsProduction() && c.APISecret == "" {
		return errors.New("production environment detected, but API_SECRET not set")
	}
	if c.Sync.Enabled && c.Sync.SourceURL == "" {
		return errors.New("REGIONAL_SYNC_URL is required when REGIONAL_SYNC_ENABLED is on")
	}
	if c.Sync.LockTTL <= c.Sync.FetchTimeout {
		return fmt.Errorf("REGIONAL_SYNC_LOCK_TTL (%s) must be longer than REGIONAL_SYNC_FETCH_TIMEOUT (%s)", c.Sync.LockTTL, c.Sync.FetchTimeout)
	}
	if c.Sync.Interval < minSyncInterval {
		return fmt.Errorf("REGIONAL_SYNC_INTERVAL must be at least %s", minSyncInterval)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func pubSubProjectID() string {
	// Prefer explicit override.
	if v := utils.EnvString("PUBSUB_PROJECT_ID", ""); v != "" {
		return v
	}
	// Cloud Run/Cloud Functions often set this.
	if v := utils.EnvString("GOOGLE_CLOUD_PROJECT", ""); v != "" {
		return v
	}
	return utils.EnvString("GCP_PROJECT", "")
}
