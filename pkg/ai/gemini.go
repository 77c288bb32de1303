package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiCompleter calls the Google AI Studio (Gemini) generateContent API.
type GeminiCompleter struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewGeminiCompleter constructs a completer with the provided API key and model.
// baseURL may be empty to use the public endpoint.
func NewGeminiCompleter(apiKey, baseURL, model string) (*GeminiCompleter, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	model = normalizeModel(model)
	if model == "" {
		return nil, fmt.Errorf("gemini generation model required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiCompleter{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Complete implements Completer. Gemini names the assistant role "model".
func (c *GeminiCompleter) Complete(ctx context.Context, messages []Message) (Completion, error) {
	const provider = "gemini"
	if err := validateMessages(provider, messages); err != nil {
		return Completion{}, err
	}
	reqBody := generateRequest{Contents: make([]content, 0, len(messages))}
	for _, m := range messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		reqBody.Contents = append(reqBody.Contents, content{Role: role, Parts: []part{{Text: m.Content}}})
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, url.QueryEscape(c.apiKey))
	var resp generateResponse
	if err := c.doJSON(ctx, endpoint, reqBody, &resp); err != nil {
		return Completion{}, err
	}
	if len(resp.Candidates) == 0 {
		return Completion{}, &ProviderError{Provider: provider, Status: http.StatusOK, Message: "response has no candidates"}
	}
	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return Completion{
		Text:     text.String(),
		Provider: provider,
		Model:    c.model,
		Usage: Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	model = strings.TrimPrefix(model, "models/")
	return model
}

func (c *GeminiCompleter) doJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return transportError("gemini", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return transportError("gemini", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// the request URL carries the key; keep it out of the message
		return transportError("gemini", fmt.Errorf("request failed: %w", unwrapURLError(err)))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := resp.Status
		if errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return &ProviderError{Provider: "gemini", Status: resp.StatusCode, Message: msg}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return transportError("gemini", fmt.Errorf("decode: %w", err))
	}
	return nil
}

func unwrapURLError(err error) error {
	if uerr, ok := err.(*url.Error); ok {
		return uerr.Err
	}
	return err
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
