package app

import (
	"context"

	"zerogchat/pkg/ai"
	"zerogchat/pkg/store"
)

// DefaultHistoryLimit is the number of most recent messages sent to the provider.
const DefaultHistoryLimit = 20

// ContextAssembler builds the provider context from the tail of a conversation.
type ContextAssembler struct {
	store store.Store
	limit int
}

// NewContextAssembler clamps limit to at least one message; zero selects the default.
func NewContextAssembler(s store.Store, limit int) *ContextAssembler {
	switch {
	case limit == 0:
		limit = DefaultHistoryLimit
	case limit < 1:
		limit = 1
	}
	return &ContextAssembler{store: s, limit: limit}
}

func (a *ContextAssembler) Limit() int { return a.limit }

// Assemble returns the newest messages in chronological order. No system message is added.
func (a *ContextAssembler) Assemble(ctx context.Context, conversationID string) ([]ai.Message, error) {
	msgs, err := a.store.ListRecentMessages(ctx, conversationID, a.limit)
	if err != nil {
		return nil, storageErr("load context window", err)
	}
	out := make([]ai.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.Role.Valid() {
			continue
		}
		out = append(out, ai.Message{Role: string(m.Role), Content: m.Content})
	}
	return out, nil
}
