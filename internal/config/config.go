// Package config loads the storefront tool configuration from a YAML file
// and STOREFRONT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/storefront-client/pkg/client"
	"github.com/Sternrassler/storefront-client/pkg/listing"
	"github.com/Sternrassler/storefront-client/pkg/logging"
	"github.com/Sternrassler/storefront-client/pkg/pagination"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. STOREFRONT_API_BASE_URL.
const EnvPrefix = "STOREFRONT"

// API configures the backend connection.
type API struct {
	BaseURL        string
	UserAgent      string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	Breaker        client.BreakerConfig
}

// Redis configures the cache, rate limit and session store.
type Redis struct {
	Addr       string
	Password   string
	DB         int
	SessionTTL time.Duration
}

// Pagination configures list feeds.
type Pagination struct {
	Threshold   int
	PageRetries int
	PageBackoff time.Duration
}

// Log configures the global logger.
type Log struct {
	Level  logging.LogLevel
	Pretty bool
}

// Server configures the serve command.
type Server struct {
	Addr string
}

// Config is the complete tool configuration.
type Config struct {
	API        API
	Redis      Redis
	Pagination Pagination
	Log        Log
	Server     Server

	// File is the config file that was read, if any.
	File string
}

// Load reads configPath, or storefront.yaml from the usual locations when
// configPath is empty. A missing default file is not an error; environment
// variables and defaults still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("storefront")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.storefront")
		}
		v.AddConfigPath("/etc/storefront")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	level, err := logging.ParseLevel(v.GetString("log.level"))
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}

	maxRequests, err := count(v, "api.breaker.max_requests")
	if err != nil {
		return nil, err
	}
	minRequests, err := count(v, "api.breaker.min_requests")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		API: API{
			BaseURL:        v.GetString("api.base_url"),
			UserAgent:      v.GetString("api.user_agent"),
			Timeout:        v.GetDuration("api.timeout"),
			MaxRetries:     v.GetInt("api.max_retries"),
			InitialBackoff: v.GetDuration("api.initial_backoff"),
			Breaker: client.BreakerConfig{
				MaxRequests:  maxRequests,
				Interval:     v.GetDuration("api.breaker.interval"),
				OpenTimeout:  v.GetDuration("api.breaker.open_timeout"),
				MinRequests:  minRequests,
				FailureRatio: v.GetFloat64("api.breaker.failure_ratio"),
			},
		},
		Redis: Redis{
			Addr:       v.GetString("redis.addr"),
			Password:   v.GetString("redis.password"),
			DB:         v.GetInt("redis.db"),
			SessionTTL: v.GetDuration("redis.session_ttl"),
		},
		Pagination: Pagination{
			Threshold:   v.GetInt("pagination.threshold"),
			PageRetries: v.GetInt("pagination.page_retries"),
			PageBackoff: v.GetDuration("pagination.page_backoff"),
		},
		Log: Log{
			Level:  level,
			Pretty: v.GetBool("log.pretty"),
		},
		Server: Server{
			Addr: v.GetString("server.addr"),
		},
		File: v.ConfigFileUsed(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// count reads a request counter that the breaker stores unsigned.
func count(v *viper.Viper, key string) (uint32, error) {
	n := v.GetInt(key)
	if n < 0 || int64(n) > math.MaxUint32 {
		return 0, fmt.Errorf("%s must be between 0 and %d, got %d", key, uint32(math.MaxUint32), n)
	}
	return uint32(n), nil
}

func setDefaults(v *viper.Viper) {
	defaults := client.DefaultConfig(nil, "", "")

	v.SetDefault("api.base_url", "")
	v.SetDefault("api.user_agent", "storefront-cli/0.1.0")
	v.SetDefault("api.timeout", defaults.Timeout)
	v.SetDefault("api.max_retries", 0)
	v.SetDefault("api.initial_backoff", time.Duration(0))
	v.SetDefault("api.breaker.max_requests", defaults.Breaker.MaxRequests)
	v.SetDefault("api.breaker.interval", defaults.Breaker.Interval)
	v.SetDefault("api.breaker.open_timeout", defaults.Breaker.OpenTimeout)
	v.SetDefault("api.breaker.min_requests", defaults.Breaker.MinRequests)
	v.SetDefault("api.breaker.failure_ratio", defaults.Breaker.FailureRatio)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.session_ttl", 30*24*time.Hour)

	v.SetDefault("pagination.threshold", listing.DefaultThreshold)
	v.SetDefault("pagination.page_retries", 1)
	v.SetDefault("pagination.page_backoff", 250*time.Millisecond)

	v.SetDefault("log.level", string(logging.LevelInfo))
	v.SetDefault("log.pretty", false)

	v.SetDefault("server.addr", ":8080")
}

// Validate checks the fields every command needs.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required (or set %s_API_BASE_URL)", EnvPrefix)
	}
	if c.API.UserAgent == "" {
		return fmt.Errorf("api.user_agent must not be empty")
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must not be negative, got %s", c.API.Timeout)
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must not be negative, got %d", c.API.MaxRetries)
	}
	if c.API.InitialBackoff < 0 {
		return fmt.Errorf("api.initial_backoff must not be negative, got %s", c.API.InitialBackoff)
	}
	if c.API.Breaker.Interval < 0 {
		return fmt.Errorf("api.breaker.interval must not be negative, got %s", c.API.Breaker.Interval)
	}
	if c.API.Breaker.OpenTimeout < 0 {
		return fmt.Errorf("api.breaker.open_timeout must not be negative, got %s", c.API.Breaker.OpenTimeout)
	}
	if r := c.API.Breaker.FailureRatio; r < 0 || r > 1 {
		return fmt.Errorf("api.breaker.failure_ratio must be within [0, 1], got %g", r)
	}
	if c.Pagination.Threshold < 0 {
		return fmt.Errorf("pagination.threshold must not be negative, got %d", c.Pagination.Threshold)
	}
	if c.Pagination.PageRetries < 1 {
		return fmt.Errorf("pagination.page_retries must be at least 1, got %d", c.Pagination.PageRetries)
	}
	if c.Pagination.PageBackoff < 0 {
		return fmt.Errorf("pagination.page_backoff must not be negative, got %s", c.Pagination.PageBackoff)
	}
	return nil
}

// RedisOptions returns the go-redis options.
func (c *Config) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

// ClientConfig returns the API client configuration backed by rdb.
func (c *Config) ClientConfig(rdb *redis.Client) client.Config {
	cfg := client.DefaultConfig(rdb, c.API.BaseURL, c.API.UserAgent)
	cfg.Timeout = c.API.Timeout
	cfg.MaxRetries = c.API.MaxRetries
	cfg.InitialBackoff = c.API.InitialBackoff
	cfg.Breaker = c.API.Breaker
	return cfg
}

// FeedConfig returns the configuration of a named list feed.
func (c *Config) FeedConfig(name string) listing.Config {
	cfg := listing.DefaultConfig(name)
	cfg.Threshold = c.Pagination.Threshold
	if c.Pagination.PageRetries > 1 {
		cfg.Retry = pagination.DefaultRetryPolicy()
		cfg.Retry.MaxAttempts = c.Pagination.PageRetries
		cfg.Retry.InitialBackoff = c.Pagination.PageBackoff
		cfg.Retry.Retryable = client.IsRetryable
	}
	return cfg
}

// LoggingConfig returns the logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Pretty = c.Log.Pretty
	return cfg
}
