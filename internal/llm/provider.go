// Package llm is the boundary to the language models that write forecasts.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/iyulab/threat-forecaster/internal/config"
)

// Provider sends a system and user prompt to a model and returns its raw text.
type Provider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// FormatSetter is implemented by providers that can constrain output to a
// JSON schema. A nil schema restores free-form JSON output.
type FormatSetter interface {
	SetFormat(schema map[string]interface{})
}

// Func adapts a plain function to Provider.
type Func func(ctx context.Context, system, user string) (string, error)

func (f Func) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

const (
	defaultMaxTokens     = 600
	defaultAzureVersion  = "2024-10-21"
	defaultOllamaAddress = "http://localhost:11434"
)

// NewProvider creates a Provider from the [llm] config section.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	return newProvider(cfg, &http.Client{Timeout: timeout(cfg)})
}

func newProvider(cfg config.LLMConfig, client *http.Client) (Provider, error) {
	maxTokens := int64(cfg.MaxResponseTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	switch strings.ToLower(cfg.Provider) {
	case "azure":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("azure provider requires llm.endpoint")
		}
		version := cfg.APIVersion
		if version == "" {
			version = defaultAzureVersion
		}
		return newAzure(cfg, version, maxTokens, client), nil
	case "openai":
		return newOpenAI(cfg, cfg.Endpoint, cfg.APIKey, maxTokens, client), nil
	case "ollama":
		ep := cfg.Endpoint
		if ep == "" {
			ep = defaultOllamaAddress
		}
		return newOpenAI(cfg, strings.TrimRight(ep, "/")+"/v1", "ollama", maxTokens, client), nil
	case "anthropic":
		return newAnthropic(cfg, maxTokens, client), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %q", cfg.Provider)
	}
}

// timeout returns the HTTP timeout; local models get longer by default.
func timeout(cfg config.LLMConfig) time.Duration {
	if cfg.Timeout > 0 {
		return time.Duration(cfg.Timeout) * time.Second
	}
	if strings.EqualFold(cfg.Provider, "ollama") {
		return 300 * time.Second
	}
	return 120 * time.Second
}
