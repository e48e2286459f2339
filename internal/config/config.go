// Package config handles loading and validating the forecaster.toml configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration.
type Config struct {
	LLM      LLMConfig      `toml:"llm"`
	Budget   BudgetConfig   `toml:"budget"`
	Forecast ForecastConfig `toml:"forecast"`
	Output   OutputConfig   `toml:"output"`
	Cache    CacheConfig    `toml:"cache"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
}

// LLMConfig configures the language model used to produce forecasts.
type LLMConfig struct {
	Provider           string  `toml:"provider"`
	APIKey             string  `toml:"api_key"`
	Model              string  `toml:"model"`
	Endpoint           string  `toml:"endpoint"`
	APIVersion         string  `toml:"api_version"` // azure only
	Timeout            int     `toml:"timeout"`     // HTTP timeout in seconds (0 = provider default)
	MaxResponseTokens  int     `toml:"max_response_tokens"`
	Temperature        float64 `toml:"temperature"`
	MaxRetries         int     `toml:"max_retries"`
	IncludeExplanation bool    `toml:"include_explanation"`
}

// BudgetConfig bounds the prompt size and prices the call.
type BudgetConfig struct {
	MaxInputTokens       int     `toml:"max_input_tokens"`
	ExpectedOutputTokens int     `toml:"expected_output_tokens"`
	PricePer1K           float64 `toml:"price_per_1k"`
	KeepRecentWeeks      int     `toml:"keep_recent_weeks"`
	// Tokenizer selects exact counting ("tiktoken") or the chars/4 heuristic ("heuristic").
	Tokenizer string `toml:"tokenizer"`
}

// ForecastConfig holds defaults for a forecast run; CLI flags override them.
type ForecastConfig struct {
	HorizonWeeks      int     `toml:"horizon_weeks"`
	HistoryWeeks      int     `toml:"history_weeks"`
	DateField         string  `toml:"date_field"`
	SpikeThresholdPct float64 `toml:"spike_threshold_pct"`
}

// OutputConfig configures where results and failed responses are written.
type OutputConfig struct {
	Dir       string `toml:"dir"`
	FailedDir string `toml:"failed_dir"`
}

// CacheConfig selects the latest-forecast store.
type CacheConfig struct {
	Backend   string `toml:"backend"` // file | redis | memory
	Path      string `toml:"path"`
	RedisAddr string `toml:"redis_addr"`
	RedisKey  string `toml:"redis_key"`
	TTL       int    `toml:"ttl"` // seconds, 0 = no expiry
}

// ServerConfig configures the HTTP view.
type ServerConfig struct {
	Port int `toml:"port"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a Config populated with safe defaults.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			MaxResponseTokens: 600,
			MaxRetries:        2,
		},
		Budget: BudgetConfig{
			MaxInputTokens:       400,
			ExpectedOutputTokens: 300,
			PricePer1K:           0.03,
			KeepRecentWeeks:      6,
			Tokenizer:            "tiktoken",
		},
		Forecast: ForecastConfig{
			HorizonWeeks:      4,
			HistoryWeeks:      20,
			DateField:         "timestamp",
			SpikeThresholdPct: 0.20,
		},
		Output: OutputConfig{
			Dir:       "output",
			FailedDir: "llm_responses",
		},
		Cache: CacheConfig{
			Backend:  "file",
			Path:     "latest_forecast.json",
			RedisKey: "forecaster:latest",
		},
		Server: ServerConfig{Port: 8742},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads a forecaster.toml file and returns a validated Config.
// Credentials are required; use LoadOrDefault for offline commands.
func Load(path string) (*Config, error) {
	cfg, err := decode(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s\n  Create one with: cp forecaster.example.toml forecaster.toml", path)
		}
		return nil, err
	}
	if err := cfg.Validate(true); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads path when it exists and falls back to defaults otherwise.
// LLM credentials are not required.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := decode(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = Default()
		cfg.applyEnv()
	}
	if err := cfg.Validate(false); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("decode %s: %w", path, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv applies environment variable overrides for sensitive values.
// The AZURE_OPENAI_* names are honoured so existing deployments keep working.
func (c *Config) applyEnv() {
	if v := os.Getenv("AZURE_OPENAI_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("AZURE_OPENAI_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
	if v := os.Getenv("AZURE_OPENAI_DEPLOYMENT_NAME"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("AZURE_OPENAI_API_VERSION"); v != "" {
		c.LLM.APIVersion = v
	}
	if v := os.Getenv("FORECASTER_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("FORECASTER_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("FORECASTER_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
	if v := os.Getenv("FORECASTER_MODEL"); v != "" {
		c.LLM.Model = v
	}
}

// Validate normalises the config and checks it. When requireLLM is set the
// provider, model and credentials must be usable for a live call.
func (c *Config) Validate(requireLLM bool) error {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Budget.Tokenizer = strings.ToLower(c.Budget.Tokenizer)
	c.Cache.Backend = strings.ToLower(c.Cache.Backend)

	if requireLLM {
		if err := c.ValidateLLM(); err != nil {
			return err
		}
	}

	if c.Budget.MaxInputTokens <= 0 {
		return fmt.Errorf("budget.max_input_tokens must be positive, got %d", c.Budget.MaxInputTokens)
	}
	if c.Budget.ExpectedOutputTokens < 0 {
		return fmt.Errorf("budget.expected_output_tokens must not be negative")
	}
	if c.Budget.PricePer1K < 0 {
		return fmt.Errorf("budget.price_per_1k must not be negative")
	}
	if c.Budget.KeepRecentWeeks < 1 {
		c.Budget.KeepRecentWeeks = 1
	}
	switch c.Budget.Tokenizer {
	case "tiktoken", "heuristic":
	case "":
		c.Budget.Tokenizer = "tiktoken"
	default:
		return fmt.Errorf("unsupported budget.tokenizer: %q", c.Budget.Tokenizer)
	}

	if c.Forecast.HorizonWeeks <= 0 {
		return fmt.Errorf("forecast.horizon_weeks must be positive")
	}
	if c.Forecast.HistoryWeeks <= 0 {
		return fmt.Errorf("forecast.history_weeks must be positive")
	}
	if c.Forecast.DateField == "" {
		c.Forecast.DateField = "timestamp"
	}

	switch c.Cache.Backend {
	case "file", "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis backend")
		}
	case "":
		c.Cache.Backend = "file"
	default:
		return fmt.Errorf("unsupported cache.backend: %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "file" && c.Cache.Path == "" {
		c.Cache.Path = "latest_forecast.json"
	}

	if c.Output.Dir == "" {
		c.Output.Dir = "output"
	}
	if c.Output.FailedDir == "" {
		c.Output.FailedDir = "llm_responses"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	return nil
}

// ValidateLLM checks that a live model call can be configured.
func (c *Config) ValidateLLM() error {
	switch c.LLM.Provider {
	case "azure", "openai", "anthropic", "ollama":
		// valid
	case "":
		return fmt.Errorf("llm.provider is required (azure, openai, anthropic, ollama)")
	default:
		return fmt.Errorf("unsupported llm.provider: %q", c.LLM.Provider)
	}

	if c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required for provider %q", c.LLM.Provider)
	}
	if c.LLM.Provider == "azure" && c.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint is required for provider %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.MaxResponseTokens <= 0 {
		c.LLM.MaxResponseTokens = 600
	}
	if c.LLM.MaxRetries < 0 {
		c.LLM.MaxRetries = 0
	}
	return nil
}
