package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zerogchat/internal/util"
	"zerogchat/pkg/ai"
	"zerogchat/pkg/domain"
)

// EmptyCompletionText replaces a provider reply with no text.
const EmptyCompletionText = "Sorry, I could not generate a response."

const defaultCompletionTimeout = 60 * time.Second

type turnState string

const (
	turnReceived             turnState = "received"
	turnConversationResolved turnState = "conversation_resolved"
	turnUserMessagePersisted turnState = "user_message_persisted"
	turnContextAssembled     turnState = "context_assembled"
	turnCompletionRequested  turnState = "completion_requested"
	turnAssistantPersisted   turnState = "assistant_message_persisted"
	turnDone                 turnState = "done"
	turnFailed               turnState = "failed"
)

// TurnResult is the reply to one submitted prompt.
type TurnResult struct {
	Result         string `json:"result"`
	ConversationID string `json:"conversationId"`
}

// SubmitTurn persists the prompt, asks the provider for a reply over the recent context,
// and persists the reply. An empty conversationID starts a new conversation titled from the prompt.
// Once the user message is stored it stays, even when the provider call fails.
func (a *App) SubmitTurn(ctx context.Context, ownerID, prompt, conversationID string) (TurnResult, error) {
	logger := util.LoggerFromContext(ctx)
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return TurnResult{}, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	if strings.TrimSpace(ownerID) == "" {
		return TurnResult{}, ErrUnauthenticated
	}
	logTurn(logger, turnReceived, "conversation_id", conversationID)

	var conv domain.Conversation
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		var err error
		conv, _, err = a.startConversation(ctx, ownerID, prompt)
		if err != nil {
			logTurn(logger, turnFailed, "err", err)
			return TurnResult{}, err
		}
		logTurn(logger, turnConversationResolved, "conversation_id", conv.ID, "created", true)
		logTurn(logger, turnUserMessagePersisted, "conversation_id", conv.ID)
	} else {
		var err error
		conv, err = a.ownsConversation(ctx, ownerID, conversationID)
		if err != nil {
			logTurn(logger, turnFailed, "conversation_id", conversationID, "err", err)
			return TurnResult{}, err
		}
		logTurn(logger, turnConversationResolved, "conversation_id", conv.ID, "created", false)
		if _, err := a.AppendMessage(ctx, conv.ID, domain.RoleUser, prompt, nil); err != nil {
			logTurn(logger, turnFailed, "conversation_id", conv.ID, "err", err)
			return TurnResult{}, err
		}
		logTurn(logger, turnUserMessagePersisted, "conversation_id", conv.ID)
	}

	window, err := a.assembler.Assemble(ctx, conv.ID)
	if err != nil {
		logTurn(logger, turnFailed, "conversation_id", conv.ID, "err", err)
		return TurnResult{}, err
	}
	logTurn(logger, turnContextAssembled, "conversation_id", conv.ID, "messages", len(window))

	// The provider call outlives a client disconnect; only the completion timeout bounds it.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.completionTimeout)
	defer cancel()
	logTurn(logger, turnCompletionRequested, "conversation_id", conv.ID)
	start := time.Now()
	completion, err := a.completer.Complete(callCtx, window)
	if err != nil {
		attrs := []any{"conversation_id", conv.ID, "duration_ms", time.Since(start).Milliseconds(), "err", err}
		var perr *ai.ProviderError
		if errors.As(err, &perr) {
			attrs = append(attrs, "provider", perr.Provider, "provider_status", perr.Status)
		}
		logTurn(logger, turnFailed, attrs...)
		return TurnResult{}, fmt.Errorf("%w: %w", ErrCompletionFailed, err)
	}

	text := completion.Text
	if strings.TrimSpace(text) == "" {
		text = EmptyCompletionText
	}
	usage := &domain.Usage{
		Provider:         completion.Provider,
		Model:            completion.Model,
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
	}
	// A reply that arrived in time is kept even if the completion deadline has since passed.
	if _, err := a.AppendMessage(context.WithoutCancel(ctx), conv.ID, domain.RoleAssistant, text, usage); err != nil {
		logTurn(logger, turnFailed, "conversation_id", conv.ID, "err", err)
		return TurnResult{}, err
	}
	logTurn(logger, turnAssistantPersisted, "conversation_id", conv.ID,
		"provider", completion.Provider, "model", completion.Model, "duration_ms", time.Since(start).Milliseconds())
	logTurn(logger, turnDone, "conversation_id", conv.ID)
	return TurnResult{Result: text, ConversationID: conv.ID}, nil
}

func logTurn(logger *slog.Logger, state turnState, args ...any) {
	level := slog.LevelDebug
	switch state {
	case turnFailed:
		level = slog.LevelWarn
	case turnDone:
		level = slog.LevelInfo
	}
	logger.Log(context.Background(), level, "chat turn", append([]any{"turn_state", string(state)}, args...)...)
}
