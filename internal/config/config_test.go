package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
token:
  keys:
    k1: "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY"
  current_kid: "k1"
provider:
  base_url: "https://auth.example.com"
  api_key: "key"
store:
  base_url: "https://data.example.com"
  api_key: "key"
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Server.Listen != ":3000" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Token.Alg != "HS256" || cfg.Token.Issuer != "trailchat" {
		t.Errorf("token defaults = %+v", cfg.Token)
	}
	if got := cfg.TokenTTL(); got != time.Hour {
		t.Errorf("TokenTTL = %v", got)
	}
	if got := cfg.OpaqueCacheTTL(); got != 30*time.Minute {
		t.Errorf("OpaqueCacheTTL = %v", got)
	}
	if got := cfg.UsersTTL(); got != 5*time.Minute {
		t.Errorf("UsersTTL = %v", got)
	}
	if got := cfg.MessagesTTL(); got != time.Minute {
		t.Errorf("MessagesTTL = %v", got)
	}
	if got := cfg.MessageWindow(); got != time.Minute {
		t.Errorf("MessageWindow = %v", got)
	}
	if cfg.RateLimit.MessageMax != 10 || cfg.RateLimit.LoginMax != 5 {
		t.Errorf("ratelimit maxima = %+v", cfg.RateLimit)
	}
	if got := cfg.LoginWindow(); got != 15*time.Minute {
		t.Errorf("LoginWindow = %v", got)
	}
	if !cfg.RateLimit.SkipSuccessful {
		t.Error("skip_successful should default on with the default login window")
	}
}

func TestLoad_ExplicitLoginWindowKeepsSkipFlag(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
ratelimit:
  login_window_ms: 600000
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimit.SkipSuccessful {
		t.Error("explicit login window must not force skip_successful on")
	}
	if got := cfg.LoginWindow(); got != 10*time.Minute {
		t.Errorf("LoginWindow = %v", got)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad alg", func(c *Config) { c.Token.Alg = "RS256" }},
		{"missing current kid", func(c *Config) { c.Token.CurrentKID = "nope" }},
		{"no provider url", func(c *Config) { c.Provider.BaseURL = "" }},
		{"non-http provider url", func(c *Config) { c.Provider.BaseURL = "ftp://x" }},
		{"no store url", func(c *Config) { c.Store.BaseURL = "" }},
		{"opaque ttl above max", func(c *Config) { c.Auth.OpaqueTTLSec = 7200 }},
		{"zero message max", func(c *Config) { c.RateLimit.MessageMax = -1 }},
		{"sub-second window", func(c *Config) { c.RateLimit.MessageWindowMs = 10 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, minimalConfig))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load succeeded on a missing file")
	}
}
