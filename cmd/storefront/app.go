package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/storefront-client/internal/config"
	"github.com/Sternrassler/storefront-client/pkg/client"
	"github.com/Sternrassler/storefront-client/pkg/logging"
	"github.com/Sternrassler/storefront-client/pkg/secrets"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	redis  *redis.Client
	client *client.Client
	logger zerolog.Logger
}

// newApp loads configuration, sets up logging and connects to Redis and the API.
func newApp(ctx context.Context, configFile string) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logging.Setup(cfg.LoggingConfig())
	logger := logging.NewLogger("cli")

	rdb := redis.NewClient(cfg.RedisOptions())
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Redis.Addr, err)
	}

	clientCfg := cfg.ClientConfig(rdb)
	clientCfg.Secrets = secrets.NewRedisStore(rdb, secrets.DefaultPrefix, cfg.Redis.SessionTTL)

	api, err := client.New(clientCfg)
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	logger.Debug().
		Str("config", cfg.File).
		Str("base_url", cfg.API.BaseURL).
		Str("redis", cfg.Redis.Addr).
		Msg("Storefront client ready")

	return &app{cfg: cfg, redis: rdb, client: api, logger: logger}, nil
}

func (a *app) Close() {
	a.client.Close()
	a.redis.Close()
}
