package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel   = "openai/gpt-3.5-turbo"
)

// OpenAICompatCompleter calls any OpenAI-compatible /chat/completions endpoint.
// Works with OpenRouter (the default), vLLM, LiteLLM, LocalAI, Deepseek, self-hosted models, etc.
type OpenAICompatCompleter struct {
	provider   string
	baseURL    string
	apiKey     string
	model      string
	headers    map[string]string
	httpClient *http.Client
}

// OpenAICompatOption customizes an OpenAICompatCompleter.
type OpenAICompatOption func(*OpenAICompatCompleter)

// WithAttribution sets the OpenRouter HTTP-Referer and X-Title headers.
func WithAttribution(referer, title string) OpenAICompatOption {
	return func(c *OpenAICompatCompleter) {
		if referer = strings.TrimSpace(referer); referer != "" {
			c.headers["HTTP-Referer"] = referer
		}
		if title = strings.TrimSpace(title); title != "" {
			c.headers["X-Title"] = title
		}
	}
}

// WithHTTPClient replaces the default client (120s timeout).
func WithHTTPClient(client *http.Client) OpenAICompatOption {
	return func(c *OpenAICompatCompleter) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithProviderName sets the name reported in errors and usage metadata.
func WithProviderName(name string) OpenAICompatOption {
	return func(c *OpenAICompatCompleter) {
		if name = strings.TrimSpace(name); name != "" {
			c.provider = name
		}
	}
}

// NewOpenAICompatCompleter builds an OpenAI-compatible Completer.
// baseURL should include the /v1 prefix, e.g. "http://localhost:8000/v1"; empty means OpenRouter.
// apiKey can be empty for local models that do not require authentication.
func NewOpenAICompatCompleter(baseURL, apiKey, model string, opts ...OpenAICompatOption) *OpenAICompatCompleter {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultOpenRouterModel
	}
	c := &OpenAICompatCompleter{
		provider: "openai-compat",
		baseURL:  baseURL,
		apiKey:   strings.TrimSpace(apiKey),
		model:    model,
		headers:  map[string]string{},
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Complete implements Completer using the OpenAI chat completions API.
func (c *OpenAICompatCompleter) Complete(ctx context.Context, messages []Message) (Completion, error) {
	if err := validateMessages(c.provider, messages); err != nil {
		return Completion{}, err
	}
	reqBody := oaiChatRequest{
		Model:    c.model,
		Messages: make([]oaiMessage, 0, len(messages)),
	}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, oaiMessage{Role: m.Role, Content: m.Content})
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, transportError(c.provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, transportError(c.provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Completion{}, transportError(c.provider, fmt.Errorf("request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var errResp oaiErrorResponse
		msg := resp.Status
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return Completion{}, &ProviderError{Provider: c.provider, Status: resp.StatusCode, Message: msg}
	}

	var chatResp oaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return Completion{}, transportError(c.provider, fmt.Errorf("decode: %w", err))
	}
	if len(chatResp.Choices) == 0 {
		return Completion{}, &ProviderError{Provider: c.provider, Status: resp.StatusCode, Message: "response has no choices"}
	}
	model := chatResp.Model
	if model == "" {
		model = c.model
	}
	return Completion{
		Text:     chatResp.Choices[0].Message.Content,
		Provider: c.provider,
		Model:    model,
		Usage: Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
		},
	}, nil
}

// OpenAI-compatible request/response types.

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
}

type oaiChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
