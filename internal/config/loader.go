// Package config loads studyforge configuration. Values come from defaults,
// an optional YAML file, and STUDYFORGE_* environment variables, all merged
// by viper and decoded into Config.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppName names the config directory and environment prefix.
const AppName = "studyforge"

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "STUDYFORGE"

// APIKeyFallbackEnv is also consulted for ailink.api_key.
const APIKeyFallbackEnv = "OPENROUTER_API_KEY"

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "150s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.admin_token", "")

	v.SetDefault("logging.level", "info")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("admission.backend", BackendMemory)
	v.SetDefault("admission.strategy", StrategyFixedWindow)
	v.SetDefault("admission.limit", 5)
	v.SetDefault("admission.window", "1h")
	v.SetDefault("admission.sweep_interval", "10m")
	v.SetDefault("admission.redis.addr", "")
	v.SetDefault("admission.redis.password", "")
	v.SetDefault("admission.redis.db", 0)
	v.SetDefault("admission.redis.prefix", AppName+":admission")

	v.SetDefault("ailink.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("ailink.api_key", "")
	v.SetDefault("ailink.model", "google/gemini-2.5-flash")
	v.SetDefault("ailink.temperature", 0.7)
	v.SetDefault("ailink.max_tokens", 10000)
	v.SetDefault("ailink.timeout", "120s")
	v.SetDefault("ailink.referer", "")
	v.SetDefault("ailink.title", AppName)

	v.SetDefault("planner.language", "Simplified Chinese")
}

// BindEnv enables STUDYFORGE_* overrides ("admission.limit" reads
// STUDYFORGE_ADMISSION_LIMIT). The API key also honours OPENROUTER_API_KEY.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("ailink.api_key", EnvPrefix+"_AILINK_API_KEY", APIKeyFallbackEnv)
}

// ConfigPaths returns the directories searched for config.yaml, most specific first.
func ConfigPaths() []string {
	paths := []string{"./config"}
	if dir := gfconfig.GetAppConfigDir(AppName); strings.TrimSpace(dir) != "" {
		paths = append(paths, dir)
	}
	return paths
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	dir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(dir) == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Load decodes and validates the settings held by v, then stores the result
// for GetConfig. It is safe to call again on reload.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

func (c *Config) normalize() {
	c.Admission.Backend = strings.ToLower(strings.TrimSpace(c.Admission.Backend))
	c.Admission.Strategy = strings.ToLower(strings.TrimSpace(c.Admission.Strategy))
	c.AILink.BaseURL = strings.TrimRight(strings.TrimSpace(c.AILink.BaseURL), "/")
	c.AILink.APIKey = strings.TrimSpace(c.AILink.APIKey)
	c.AILink.Model = strings.TrimSpace(c.AILink.Model)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	a := c.Admission
	if a.Limit <= 0 {
		errs = append(errs, fmt.Errorf("admission.limit must be > 0, got %d", a.Limit))
	}
	if a.Window <= 0 {
		errs = append(errs, fmt.Errorf("admission.window must be > 0, got %s", a.Window))
	}
	if a.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("admission.sweep_interval must be >= 0, got %s", a.SweepInterval))
	}
	switch a.Backend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(a.Redis.Addr) == "" {
			errs = append(errs, errors.New("admission.redis.addr is required for the redis backend"))
		}
		if a.Strategy == StrategyTokenBucket {
			errs = append(errs, errors.New("admission.strategy token_bucket requires the memory backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown admission.backend %q", a.Backend))
	}
	switch a.Strategy {
	case StrategyFixedWindow, StrategyTokenBucket:
	default:
		errs = append(errs, fmt.Errorf("unknown admission.strategy %q", a.Strategy))
	}

	ai := c.AILink
	if u, err := url.Parse(ai.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("ailink.base_url is not an absolute URL: %q", ai.BaseURL))
	}
	if ai.Model == "" {
		errs = append(errs, errors.New("ailink.model is required"))
	}
	if ai.Temperature < 0 || ai.Temperature > 2 {
		errs = append(errs, fmt.Errorf("ailink.temperature must be within [0, 2], got %v", ai.Temperature))
	}
	if ai.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("ailink.max_tokens must be > 0, got %d", ai.MaxTokens))
	}
	if ai.Timeout < 0 {
		errs = append(errs, fmt.Errorf("ailink.timeout must be >= 0, got %s", ai.Timeout))
	}
	// The error body for an upstream timeout must fit inside the write deadline.
	if wt := c.Server.WriteTimeout; wt > 0 && ai.Timeout > 0 && wt <= ai.Timeout {
		errs = append(errs, fmt.Errorf("server.write_timeout (%s) must exceed ailink.timeout (%s)", wt, ai.Timeout))
	}

	return errors.Join(errs...)
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}
