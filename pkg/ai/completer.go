package ai

import (
	"context"
	"errors"
	"fmt"
)

// Role values accepted by every provider adapter.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the ordered context sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Completion is the provider's reply to a context.
type Completion struct {
	Text     string
	Provider string
	Model    string
	Usage    Usage
}

// Completer produces one assistant reply for an ordered list of messages.
// All providers (OpenAI-compatible, Ollama, Gemini, LangChainGo) implement this interface.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (Completion, error)
}

// ProviderError describes a failed provider call.
// Status is the HTTP status code, or 0 for transport and decode failures.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s api error: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: transport errors, 429 and 5xx.
func (e *ProviderError) Retryable() bool {
	if e.Status == 0 {
		return !errors.Is(e.Err, context.Canceled) && !errors.Is(e.Err, context.DeadlineExceeded) && e.Err != nil
	}
	return e.Status == 429 || e.Status >= 500
}

func transportError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Message: err.Error(), Err: err}
}

func validateMessages(provider string, messages []Message) error {
	if len(messages) == 0 {
		return &ProviderError{Provider: provider, Message: "no messages to send"}
	}
	for i, m := range messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return &ProviderError{Provider: provider, Message: fmt.Sprintf("message %d has unsupported role %q", i, m.Role)}
		}
	}
	return nil
}
