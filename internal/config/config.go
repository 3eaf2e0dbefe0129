package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerCfg struct {
	Listen         string `yaml:"listen"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
}

type TokenCfg struct {
	Alg        string            `yaml:"alg"`
	Keys       map[string]string `yaml:"keys"`
	CurrentKID string            `yaml:"current_kid"`
	Issuer     string            `yaml:"issuer"`
	SkewSec    int               `yaml:"skew_sec"`
	TTLSec     int               `yaml:"ttl_sec"` // access token lifetime minted at login
}

type AuthCfg struct {
	CacheCapacity  int `yaml:"cache_capacity"`
	OpaqueTTLSec   int `yaml:"opaque_ttl_sec"`    // cache window for provider-issued tokens
	CacheMaxTTLSec int `yaml:"cache_max_ttl_sec"` // upper bound on cached-principal staleness
}

type ProviderCfg struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type StoreCfg struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type CacheCfg struct {
	Capacity       int  `yaml:"capacity"`
	UsersTTLSec    int  `yaml:"users_ttl_sec"`
	MessagesTTLSec int  `yaml:"messages_ttl_sec"`
	SingleFlight   bool `yaml:"single_flight"`
}

type RateLimitCfg struct {
	MessageWindowMs int  `yaml:"message_window_ms"`
	MessageMax      int  `yaml:"message_max"`
	LoginWindowMs   int  `yaml:"login_window_ms"`
	LoginMax        int  `yaml:"login_max"`
	SkipSuccessful  bool `yaml:"skip_successful"`
	Capacity        int  `yaml:"capacity"`
}

type LoggingCfg struct {
	Level string `yaml:"level"` // info|debug
}

type Config struct {
	Server    ServerCfg    `yaml:"server"`
	Token     TokenCfg     `yaml:"token"`
	Auth      AuthCfg      `yaml:"auth"`
	Provider  ProviderCfg  `yaml:"provider"`
	Store     StoreCfg     `yaml:"store"`
	Cache     CacheCfg     `yaml:"cache"`
	RateLimit RateLimitCfg `yaml:"ratelimit"`
	Logging   LoggingCfg   `yaml:"logging"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	// defaults
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":3000"
	}
	if cfg.Token.Alg == "" {
		cfg.Token.Alg = "HS256"
	}
	if cfg.Token.Issuer == "" {
		cfg.Token.Issuer = "trailchat"
	}
	if cfg.Token.SkewSec == 0 {
		cfg.Token.SkewSec = 30
	}
	if cfg.Token.TTLSec == 0 {
		cfg.Token.TTLSec = 3600
	}
	if cfg.Auth.CacheCapacity == 0 {
		cfg.Auth.CacheCapacity = 100_000
	}
	if cfg.Auth.OpaqueTTLSec == 0 {
		cfg.Auth.OpaqueTTLSec = 30 * 60
	}
	if cfg.Auth.CacheMaxTTLSec == 0 {
		cfg.Auth.CacheMaxTTLSec = 3600
	}
	if cfg.Provider.TimeoutMs == 0 {
		cfg.Provider.TimeoutMs = 2000
	}
	if cfg.Store.TimeoutMs == 0 {
		cfg.Store.TimeoutMs = 2000
	}
	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = 100_000
	}
	if cfg.Cache.UsersTTLSec == 0 {
		cfg.Cache.UsersTTLSec = 5 * 60
	}
	if cfg.Cache.MessagesTTLSec == 0 {
		cfg.Cache.MessagesTTLSec = 60
	}
	if cfg.RateLimit.MessageWindowMs == 0 {
		cfg.RateLimit.MessageWindowMs = 60_000
	}
	if cfg.RateLimit.MessageMax == 0 {
		cfg.RateLimit.MessageMax = 10
	}
	if cfg.RateLimit.LoginWindowMs == 0 {
		cfg.RateLimit.LoginWindowMs = 900_000
		// skip_successful defaults on only alongside the default login window;
		// an explicit window keeps whatever the operator set.
		cfg.RateLimit.SkipSuccessful = true
	}
	if cfg.RateLimit.LoginMax == 0 {
		cfg.RateLimit.LoginMax = 5
	}
	if cfg.RateLimit.Capacity == 0 {
		cfg.RateLimit.Capacity = 50_000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return &cfg, nil
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Token.TTLSec) * time.Second
}

func (c *Config) OpaqueCacheTTL() time.Duration {
	return time.Duration(c.Auth.OpaqueTTLSec) * time.Second
}

func (c *Config) CacheMaxTTL() time.Duration {
	return time.Duration(c.Auth.CacheMaxTTLSec) * time.Second
}

func (c *Config) UsersTTL() time.Duration {
	return time.Duration(c.Cache.UsersTTLSec) * time.Second
}

func (c *Config) MessagesTTL() time.Duration {
	return time.Duration(c.Cache.MessagesTTLSec) * time.Second
}

func (c *Config) MessageWindow() time.Duration {
	return time.Duration(c.RateLimit.MessageWindowMs) * time.Millisecond
}

func (c *Config) LoginWindow() time.Duration {
	return time.Duration(c.RateLimit.LoginWindowMs) * time.Millisecond
}

func (c *Config) Validate() error {
	switch c.Token.Alg {
	case "HS256", "HS384", "HS512":
	default:
		return errors.New("token.alg must be HS256/HS384/HS512")
	}
	if c.Token.CurrentKID == "" || len(c.Token.Keys) == 0 {
		return errors.New("token.keys and token.current_kid required")
	}
	if _, ok := c.Token.Keys[c.Token.CurrentKID]; !ok {
		return errors.New("token.current_kid not found in token.keys")
	}
	if c.Provider.BaseURL == "" {
		return errors.New("provider.base_url required")
	}
	if !strings.HasPrefix(c.Provider.BaseURL, "http://") && !strings.HasPrefix(c.Provider.BaseURL, "https://") {
		return fmt.Errorf("provider.base_url %q must be http(s)", c.Provider.BaseURL)
	}
	if c.Store.BaseURL == "" {
		return errors.New("store.base_url required")
	}
	if c.Auth.OpaqueTTLSec > c.Auth.CacheMaxTTLSec {
		return errors.New("auth.opaque_ttl_sec must not exceed auth.cache_max_ttl_sec")
	}
	if c.RateLimit.MessageMax < 1 || c.RateLimit.LoginMax < 1 {
		return errors.New("ratelimit maxima must be >= 1")
	}
	if c.RateLimit.MessageWindowMs < 1000 || c.RateLimit.LoginWindowMs < 1000 {
		return errors.New("ratelimit windows must be >= 1s")
	}
	if c.Cache.UsersTTLSec <= 0 || c.Cache.MessagesTTLSec <= 0 {
		return errors.New("cache TTLs must be positive")
	}
	switch c.Logging.Level {
	case "info", "debug":
	default:
		return errors.New("logging.level must be 'info' or 'debug'")
	}
	return nil
}
