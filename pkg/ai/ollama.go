package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaCompleter calls the Ollama /api/chat endpoint without streaming.
type OllamaCompleter struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaCompleter constructs a completer for the given base URL and model.
func NewOllamaCompleter(baseURL, model string) (*OllamaCompleter, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("ollama generation model required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaCompleter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Complete implements Completer using Ollama /api/chat.
func (c *OllamaCompleter) Complete(ctx context.Context, messages []Message) (Completion, error) {
	const provider = "ollama"
	if err := validateMessages(provider, messages); err != nil {
		return Completion{}, err
	}
	reqBody := ollamaChatRequest{
		Model:    c.model,
		Messages: make([]ollamaChatMessage, 0, len(messages)),
		Stream:   false,
	}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, ollamaChatMessage{Role: m.Role, Content: m.Content})
	}
	var resp ollamaChatResponse
	if err := c.doJSON(ctx, "/api/chat", reqBody, &resp); err != nil {
		return Completion{}, err
	}
	return Completion{
		Text:     resp.Message.Content,
		Provider: provider,
		Model:    c.model,
		Usage: Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
		},
	}, nil
}

func (c *OllamaCompleter) doJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return transportError("ollama", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return transportError("ollama", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError("ollama", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp ollamaErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := resp.Status
		if errResp.Error != "" {
			msg = errResp.Error
		}
		return &ProviderError{Provider: "ollama", Status: resp.StatusCode, Message: msg}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return transportError("ollama", fmt.Errorf("decode: %w", err))
	}
	return nil
}

// Ollama /api/chat request/response types.

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatResponse struct {
	Message         ollamaChatMessage `json:"message"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}
