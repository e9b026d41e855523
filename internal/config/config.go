package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Sync       SyncConfig       `yaml:"sync"`
	Twitter    TwitterConfig    `yaml:"twitter"`
	Translator TranslatorConfig `yaml:"translator"`
	Platforms  PlatformsConfig  `yaml:"platforms"`
	Retry      RetryConfig      `yaml:"retry"`
	Server     ServerConfig     `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig configures the event bus connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SyncConfig configures the periodic sync trigger.
type SyncConfig struct {
	Cron       string `yaml:"cron"`
	FetchLimit int    `yaml:"fetch_limit"`
}

// TwitterConfig configures the tweet fetcher.
type TwitterConfig struct {
	NitterURL string   `yaml:"nitter_url"`
	Accounts  []string `yaml:"accounts"`
}

// TranslatorConfig configures the LLM translation backend.
type TranslatorConfig struct {
	Provider string `yaml:"provider"` // "openai" or "anthropic"
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"` // custom endpoint (optional)
}

// PlatformsConfig configures publish destinations.
type PlatformsConfig struct {
	XHS    XHSConfig    `yaml:"xhs"`
	WeChat WeChatConfig `yaml:"wechat"`
}

// XHSConfig for the 小红书 browser-bridge publisher.
type XHSConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BridgeURL string `yaml:"bridge_url"`
}

// WeChatConfig for the 微信公众号 draft publisher.
type WeChatConfig struct {
	Enabled   bool   `yaml:"enabled"`
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`
	BaseURL   string `yaml:"base_url"` // override for tests
}

// RetryConfig bounds retries around external calls.
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"`
	CallTimeout string `yaml:"call_timeout"`
}

// ParseBackoff returns the base backoff as time.Duration.
func (r RetryConfig) ParseBackoff() time.Duration {
	d, err := time.ParseDuration(r.Backoff)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// ParseCallTimeout returns the per-call timeout as time.Duration.
func (r RetryConfig) ParseCallTimeout() time.Duration {
	d, err := time.ParseDuration(r.CallTimeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// EnabledPlatforms returns the configured publish destinations in publish order.
func (c *Config) EnabledPlatforms() []string {
	var platforms []string
	if c.Platforms.XHS.Enabled {
		platforms = append(platforms, "xhs")
	}
	if c.Platforms.WeChat.Enabled {
		platforms = append(platforms, "wechat")
	}
	return platforms
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./crosspost.db"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Sync: SyncConfig{
			Cron:       "*/30 * * * *",
			FetchLimit: 50,
		},
		Twitter: TwitterConfig{
			NitterURL: "https://nitter.net",
		},
		Translator: TranslatorConfig{
			Provider: "openai",
			Model:    "gpt-4o",
		},
		Platforms: PlatformsConfig{
			XHS:    XHSConfig{Enabled: true, BridgeURL: "http://localhost:8787"},
			WeChat: WeChatConfig{Enabled: true},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Backoff:     "2s",
			CallTimeout: "2m",
		},
		Server: ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
// A .env file in the working directory is loaded first, if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate checks for configuration that cannot work at runtime.
func (c *Config) Validate() error {
	if len(c.Twitter.Accounts) == 0 {
		return fmt.Errorf("config: no twitter accounts to monitor")
	}
	if c.Platforms.WeChat.Enabled && c.Platforms.WeChat.AppID == "" {
		return fmt.Errorf("config: wechat enabled but app_id is empty")
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CROSSPOST_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CROSSPOST_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TWITTER_ACCOUNTS"); v != "" {
		cfg.Twitter.Accounts = splitList(v)
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Translator.APIKey = v
		cfg.Translator.Provider = "openai"
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Translator.APIKey = v
		cfg.Translator.Provider = "anthropic"
	}
	if v := os.Getenv("WECHAT_APP_ID"); v != "" {
		cfg.Platforms.WeChat.AppID = v
	}
	if v := os.Getenv("WECHAT_APP_SECRET"); v != "" {
		cfg.Platforms.WeChat.AppSecret = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
