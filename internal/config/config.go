// Package config loads cravehy configuration from cravehy.yaml with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all cravehy configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration for cart recommendation
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Scraper pacing and targets
	Scrape ScrapeConfig `yaml:"scrape"`

	// SQLite catalog storage
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the recommendation LLM.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, zai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// EmbeddingConfig configures the semantic search embedding engine.
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// ScrapeConfig configures the scraping pipeline. Delays and concurrency
// are deliberately conservative; the retailer rate-limits aggressively.
type ScrapeConfig struct {
	BaseURL           string `yaml:"base_url"`
	Location          string `yaml:"location"` // delivery location typed into the location picker
	Concurrency       int    `yaml:"concurrency"`
	MinDelay          string `yaml:"min_delay"`
	MaxDelay          string `yaml:"max_delay"`
	MaxScrollAttempts int    `yaml:"max_scroll_attempts"`
	FetchTimeout      string `yaml:"fetch_timeout"`
	BrowserBin        string `yaml:"browser_bin"`
	Headless          *bool  `yaml:"headless"`
}

// StoreConfig configures catalog storage.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures the categorized file logger. The logging
// package reads this section from cravehy.yaml directly.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	headless := true
	return &Config{
		Name:    "cravehy",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			Timeout:  "120s",
		},

		Embedding: EmbeddingConfig{
			Model:      "gemini-embedding-001",
			Dimensions: 768,
		},

		Scrape: ScrapeConfig{
			BaseURL:           "https://blinkit.com",
			Concurrency:       4,
			MinDelay:          "800ms",
			MaxDelay:          "2500ms",
			MaxScrollAttempts: 40,
			FetchTimeout:      "30s",
			Headless:          &headless,
		},

		Store: StoreConfig{
			DatabasePath: "data/cravehy.db",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file path in the current directory.
func DefaultPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "cravehy.yaml"
	}
	return filepath.Join(cwd, "cravehy.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if c.LLM.Provider == "" || c.LLM.Provider == "gemini" {
			c.LLM.APIKey = key
			c.LLM.Provider = "gemini"
		}
		c.Embedding.APIKey = key
	}
	if key := os.Getenv("ZAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "zai"
	}
	if path := os.Getenv("CRAVEHY_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if url := os.Getenv("CRAVEHY_BASE_URL"); url != "" {
		c.Scrape.BaseURL = url
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetMinDelay returns the scraper minimum inter-request delay.
func (c *Config) GetMinDelay() time.Duration {
	d, err := time.ParseDuration(c.Scrape.MinDelay)
	if err != nil {
		return 800 * time.Millisecond
	}
	return d
}

// GetMaxDelay returns the scraper maximum inter-request delay.
func (c *Config) GetMaxDelay() time.Duration {
	d, err := time.ParseDuration(c.Scrape.MaxDelay)
	if err != nil {
		return 2500 * time.Millisecond
	}
	return d
}

// GetFetchTimeout returns the per-fetch timeout as a duration.
func (c *Config) GetFetchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Scrape.FetchTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// IsHeadless reports whether the scraping browser runs headless.
func (c *Config) IsHeadless() bool {
	if c.Scrape.Headless == nil {
		return true
	}
	return *c.Scrape.Headless
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"gemini", "zai"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	if c.Scrape.BaseURL == "" {
		return fmt.Errorf("scrape base_url not configured")
	}
	if c.Scrape.Concurrency < 1 {
		return fmt.Errorf("scrape concurrency must be at least 1, got %d", c.Scrape.Concurrency)
	}
	if min, max := c.GetMinDelay(), c.GetMaxDelay(); min > max {
		return fmt.Errorf("scrape min_delay %v exceeds max_delay %v", min, max)
	}
	if c.Store.DatabasePath == "" {
		return fmt.Errorf("store database_path not configured")
	}

	return nil
}

// RequireLLMKey validates that an API key is available for LLM calls.
// Scrape-only commands do not need one.
func (c *Config) RequireLLMKey() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY or ZAI_API_KEY)")
	}
	return nil
}
