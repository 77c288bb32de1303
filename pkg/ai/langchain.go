package ai

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainCompleter routes completions through a LangChainGo model.
type LangChainCompleter struct {
	llm   llms.Model
	model string
}

// langchaingo reports non-200 replies only as text: "API returned unexpected status code: 401: ...".
var langChainStatusPattern = regexp.MustCompile(`unexpected status code: (\d{3})`)

// NewLangChainCompleter builds a LangChainGo OpenAI client against any OpenAI-compatible base URL.
// timeout <= 0 keeps the library's default client.
func NewLangChainCompleter(baseURL, token, model string, timeout time.Duration) (*LangChainCompleter, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultOpenRouterModel
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	}
	if timeout > 0 {
		opts = append(opts, openai.WithHTTPClient(&http.Client{Timeout: timeout}))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("langchain openai client: %w", err)
	}
	return &LangChainCompleter{llm: llm, model: model}, nil
}

// Complete implements Completer via llms.Model.GenerateContent.
func (c *LangChainCompleter) Complete(ctx context.Context, messages []Message) (Completion, error) {
	const provider = "langchain"
	if err := validateMessages(provider, messages); err != nil {
		return Completion{}, err
	}
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, m.Content))
	}
	resp, err := c.llm.GenerateContent(ctx, content)
	if err != nil {
		return Completion{}, langChainError(provider, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Completion{}, &ProviderError{Provider: provider, Message: "response has no choices"}
	}
	choice := resp.Choices[0]
	return Completion{
		Text:     choice.Content,
		Provider: provider,
		Model:    c.model,
		Usage: Usage{
			PromptTokens:     intFromInfo(choice.GenerationInfo, "PromptTokens"),
			CompletionTokens: intFromInfo(choice.GenerationInfo, "CompletionTokens"),
		},
	}, nil
}

func langChainError(provider string, err error) *ProviderError {
	perr := transportError(provider, err)
	if m := langChainStatusPattern.FindStringSubmatch(err.Error()); m != nil {
		perr.Status, _ = strconv.Atoi(m[1])
	}
	return perr
}

func intFromInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
