package cmd

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/studyforge/studyforge/internal/admission"
	"github.com/studyforge/studyforge/internal/ailink/driver/openai"
	"github.com/studyforge/studyforge/internal/config"
	"github.com/studyforge/studyforge/internal/planner"
)

// loadConfig decodes and validates the settings gathered by initConfig.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// newRedisClient opens the shared admission store.
func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// buildLimiter constructs the configured limiter. The returned client is nil
// for the memory backend; callers own closing it.
func buildLimiter(ctx context.Context, cfg config.AdmissionConfig) (admission.Limiter, *redis.Client, error) {
	opts := admission.Options{
		Strategy:    cfg.Strategy,
		Limit:       cfg.Limit,
		Window:      cfg.Window,
		RedisPrefix: cfg.Redis.Prefix,
	}

	var rdb *redis.Client
	if cfg.Backend == config.BackendRedis {
		rdb = newRedisClient(cfg.Redis)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		opts.Redis = rdb
	}

	limiter, err := admission.New(opts)
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, nil, err
	}
	return limiter, rdb, nil
}

// buildForwarder wires the OpenAI-compatible driver into a plan forwarder.
func buildForwarder(cfg *config.Config) (*planner.Forwarder, error) {
	client := openai.NewClient(cfg.AILink.BaseURL, cfg.AILink.APIKey)
	client.Referer = cfg.AILink.Referer
	client.Title = cfg.AILink.Title

	temperature := cfg.AILink.Temperature
	return planner.NewForwarder(client, planner.Options{
		Model:       cfg.AILink.Model,
		Temperature: &temperature,
		MaxTokens:   cfg.AILink.MaxTokens,
		Language:    cfg.Planner.Language,
		Timeout:     cfg.AILink.Timeout,
	})
}
