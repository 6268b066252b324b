package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "MURMUR"

	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"

	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultStoreBackend      = BackendRedis
	defaultRedisAddress      = "127.0.0.1:6379"
	defaultDatabasePath      = "murmur.db"
	defaultCookieName        = "murmur_session"
	defaultSessionTTLMinutes = 24 * 60
	defaultTimelineReadLimit = 100
	defaultTimelineMaxLength = 500
	defaultFanoutConcurrency = 8
	defaultFanoutAttempts    = 3
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	LogLevel          string
	LogFormat         string
	StoreBackend      string
	RedisAddress      string
	RedisPassword     string
	RedisDB           int
	DatabasePath      string
	SigningSecret     string
	CookieName        string
	SecureCookies     bool
	AllowedOrigins    []string
	SessionTTL        time.Duration
	TimelineReadLimit int64
	TimelineMaxLength int64
	FanoutConcurrency int
	FanoutMaxAttempts int
	BcryptCost        int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("store.backend", defaultStoreBackend)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.secure_cookies", false)
	configViper.SetDefault("session.ttl_minutes", defaultSessionTTLMinutes)
	configViper.SetDefault("timeline.read_limit", defaultTimelineReadLimit)
	configViper.SetDefault("timeline.max_length", defaultTimelineMaxLength)
	configViper.SetDefault("fanout.concurrency", defaultFanoutConcurrency)
	configViper.SetDefault("fanout.max_attempts", defaultFanoutAttempts)
	configViper.SetDefault("credentials.bcrypt_cost", 0)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		LogLevel:          configViper.GetString("log.level"),
		LogFormat:         strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
		StoreBackend:      strings.ToLower(strings.TrimSpace(configViper.GetString("store.backend"))),
		RedisAddress:      configViper.GetString("redis.address"),
		RedisPassword:     configViper.GetString("redis.password"),
		RedisDB:           configViper.GetInt("redis.db"),
		DatabasePath:      configViper.GetString("database.path"),
		SigningSecret:     configViper.GetString("session.signing_secret"),
		CookieName:        configViper.GetString("session.cookie_name"),
		SecureCookies:     configViper.GetBool("session.secure_cookies"),
		AllowedOrigins:    configViper.GetStringSlice("http.allowed_origins"),
		SessionTTL:        time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,
		TimelineReadLimit: configViper.GetInt64("timeline.read_limit"),
		TimelineMaxLength: configViper.GetInt64("timeline.max_length"),
		FanoutConcurrency: configViper.GetInt("fanout.concurrency"),
		FanoutMaxAttempts: configViper.GetInt("fanout.max_attempts"),
		BcryptCost:        configViper.GetInt("credentials.bcrypt_cost"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl_minutes must be positive")
	}
	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required for the redis backend")
		}
		if c.RedisDB < 0 {
			return fmt.Errorf("redis.db must not be negative")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of %s, %s, %s; got %q", BackendMemory, BackendRedis, BackendSQLite, c.StoreBackend)
	}
	if c.TimelineReadLimit <= 0 {
		return fmt.Errorf("timeline.read_limit must be positive")
	}
	if c.TimelineMaxLength < c.TimelineReadLimit {
		return fmt.Errorf("timeline.max_length must be at least timeline.read_limit")
	}
	if c.FanoutConcurrency <= 0 {
		return fmt.Errorf("fanout.concurrency must be positive")
	}
	if c.FanoutMaxAttempts <= 0 {
		return fmt.Errorf("fanout.max_attempts must be positive")
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("log.format must be json or console")
	}
	return nil
}
