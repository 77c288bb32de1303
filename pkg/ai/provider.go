package ai

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ProviderConfig selects and configures a completion backend.
type ProviderConfig struct {
	Provider   string // openai|openrouter|ollama|gemini|langchain
	APIKey     string
	BaseURL    string
	Model      string
	Referer    string
	Title      string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// NewCompleter builds the configured provider, wrapped in retries when MaxRetries > 0.
func NewCompleter(cfg ProviderConfig) (Completer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	var (
		c   Completer
		err error
	)
	switch provider {
	case "", "openrouter":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("openrouter api key required")
		}
		c = NewOpenAICompatCompleter(cfg.BaseURL, cfg.APIKey, cfg.Model,
			WithProviderName("openrouter"),
			WithAttribution(cfg.Referer, cfg.Title),
			withTimeout(cfg.Timeout),
		)
	case "openai":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("openai-compatible base url required")
		}
		c = NewOpenAICompatCompleter(cfg.BaseURL, cfg.APIKey, cfg.Model, withTimeout(cfg.Timeout))
	case "ollama":
		var oc *OllamaCompleter
		oc, err = NewOllamaCompleter(cfg.BaseURL, cfg.Model)
		if err == nil && cfg.Timeout > 0 {
			oc.httpClient.Timeout = cfg.Timeout
		}
		c = oc
	case "gemini":
		var gc *GeminiCompleter
		gc, err = NewGeminiCompleter(cfg.APIKey, cfg.BaseURL, cfg.Model)
		if err == nil && cfg.Timeout > 0 {
			gc.httpClient.Timeout = cfg.Timeout
		}
		c = gc
	case "langchain":
		c, err = NewLangChainCompleter(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unsupported generation provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewRetryingCompleter(c, cfg.MaxRetries, cfg.RetryDelay), nil
}

func withTimeout(d time.Duration) OpenAICompatOption {
	return func(c *OpenAICompatCompleter) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}
