// Package config loads service configuration from a YAML file with
// environment overrides for deployment-specific values and secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pagemd/pagemd/engine"
	"github.com/pagemd/pagemd/ratelimit"
)

// Config is the top-level service configuration.
type Config struct {
	Listen       string           `yaml:"listen"`
	DBPath       string           `yaml:"db_path"`
	LogLevel     string           `yaml:"log_level"`
	CacheTTLDays int              `yaml:"cache_ttl_days"`
	Fetch        FetchConfig      `yaml:"fetch"`
	Browser      BrowserConfig    `yaml:"browser"`
	Engines      EnginesConfig    `yaml:"engines"`
	RateLimit    ratelimit.Config `yaml:"rate_limit"`
}

// FetchConfig controls the direct HTTP fetcher.
type FetchConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxBytes       int64         `yaml:"max_bytes"`
	MaxRedirects   int           `yaml:"max_redirects"`
	UserAgent      string        `yaml:"user_agent"`
	AcceptLanguage string        `yaml:"accept_language"`
	// HostHeaders holds per-host header overrides, e.g. an Authorization
	// header for a docs site behind auth.
	HostHeaders map[string]map[string]string `yaml:"host_headers"`
}

// BrowserConfig controls the optional headless Chrome stage.
type BrowserConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Remote           string        `yaml:"remote"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
}

// EnginesConfig controls the extraction ladder. The native and local stages
// are always on; browser, readers and llm are optional capabilities.
type EnginesConfig struct {
	StageTimeout time.Duration         `yaml:"stage_timeout"`
	Readers      []engine.ReaderConfig `yaml:"readers"`
	LLM          LLMConfig             `yaml:"llm"`
}

// LLMConfig controls the refinement stage.
type LLMConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
}

// Load reads path (optional; "" means defaults only) and applies environment
// overrides on top.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// applyEnv lets deployments override file values without editing the file.
// Secrets (API keys) should arrive this way rather than living on disk.
func (c *Config) applyEnv() {
	if v := os.Getenv("PAGEMD_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("PAGEMD_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("PAGEMD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PAGEMD_CACHE_TTL_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.CacheTTLDays = n
		}
	}
	if v := os.Getenv("PAGEMD_USER_AGENT"); v != "" {
		c.Fetch.UserAgent = v
	}
	if v := os.Getenv("PAGEMD_BROWSER_REMOTE"); v != "" {
		c.Browser.Remote = v
		c.Browser.Enabled = true
	}
	if v := os.Getenv("PAGEMD_LLM_API_KEY"); v != "" {
		c.Engines.LLM.APIKey = v
		c.Engines.LLM.Enabled = true
	}
	if v := os.Getenv("PAGEMD_LLM_MODEL"); v != "" {
		c.Engines.LLM.Model = v
	}
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8086"
	}
	if c.DBPath == "" {
		c.DBPath = "data/pagemd.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CacheTTLDays <= 0 {
		c.CacheTTLDays = 7
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 10 << 20
	}
	if c.Fetch.MaxRedirects <= 0 {
		c.Fetch.MaxRedirects = 5
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Browser.SettleDelay <= 0 {
		c.Browser.SettleDelay = 1500 * time.Millisecond
	}
	if c.Engines.StageTimeout <= 0 {
		c.Engines.StageTimeout = 45 * time.Second
	}
	if c.Engines.LLM.Model == "" {
		c.Engines.LLM.Model = "gemini-2.0-flash"
	}
	for i := range c.Engines.Readers {
		if c.Engines.Readers[i].Timeout <= 0 {
			c.Engines.Readers[i].Timeout = 60 * time.Second
		}
		if c.Engines.Readers[i].MaxBytes <= 0 {
			c.Engines.Readers[i].MaxBytes = 10 << 20
		}
	}
}

// TTL returns the cache freshness window as a duration.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.CacheTTLDays) * 24 * time.Hour
}
