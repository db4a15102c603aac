package config

import (
	"time"
)

// Config is the complete application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Admission AdmissionConfig `mapstructure:"admission"`
	AILink    AILinkConfig    `mapstructure:"ailink"`
	Planner   PlannerConfig   `mapstructure:"planner"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AdminToken enables the bearer-protected signal endpoint when set.
	AdminToken string `mapstructure:"admin_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Port is the dedicated Prometheus exporter port.
	Port int `mapstructure:"port"`
}

// AdmissionConfig controls per-client admission to plan generation.
type AdmissionConfig struct {
	// Backend is "memory" (per process) or "redis" (shared).
	Backend string `mapstructure:"backend"`
	// Strategy is "fixed_window" or "token_bucket" (memory backend only).
	Strategy string        `mapstructure:"strategy"`
	Limit    int           `mapstructure:"limit"`
	Window   time.Duration `mapstructure:"window"`
	// SweepInterval drives the memory janitor; 0 disables it.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Redis         RedisConfig   `mapstructure:"redis"`
}

// RedisConfig locates the shared admission store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// AILinkConfig configures the OpenAI-compatible upstream.
type AILinkConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// Referer and Title are sent as OpenRouter attribution headers.
	Referer string `mapstructure:"referer"`
	Title   string `mapstructure:"title"`
}

// PlannerConfig configures prompt rendering.
type PlannerConfig struct {
	// Language the plan is written in.
	Language string `mapstructure:"language"`
}

// Admission backends and strategies.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	StrategyFixedWindow = "fixed_window"
	StrategyTokenBucket = "token_bucket"
)
