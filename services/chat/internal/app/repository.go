package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"zerogchat/internal/util"
	"zerogchat/pkg/domain"
	"zerogchat/pkg/store"
)

const (
	defaultConversationTitle = "New Conversation"
	titleSeedRunes           = 30
	titleEllipsis            = "..."
	maxTitleRunes            = 200
	maxFolderNameRunes       = 100
)

// Repository gives ownership-checked access to folders, conversations, and messages.
// Every owner-scoped read or mutation resolves the row through ownsConversation or
// ownsFolder first, so "absent" and "not yours" both surface as ErrNotFound.
type Repository struct {
	store store.Store
	now   func() time.Time
}

func NewRepository(s store.Store, now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	return &Repository{store: s, now: now}
}

func (r *Repository) timestamp() time.Time {
	return r.now().UTC()
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// ownsConversation is the single authorization predicate for conversations.
func (r *Repository) ownsConversation(ctx context.Context, ownerID, id string) (domain.Conversation, error) {
	if strings.TrimSpace(ownerID) == "" {
		return domain.Conversation{}, ErrUnauthenticated
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Conversation{}, ErrNotFound
	}
	conv, ok, err := r.store.GetConversation(ctx, id)
	if err != nil {
		return domain.Conversation{}, storageErr("load conversation", err)
	}
	if !ok || conv.UserID != ownerID {
		return domain.Conversation{}, ErrNotFound
	}
	return conv, nil
}

// ownsFolder is the single authorization predicate for folders.
func (r *Repository) ownsFolder(ctx context.Context, ownerID, id string) (domain.Folder, error) {
	if strings.TrimSpace(ownerID) == "" {
		return domain.Folder{}, ErrUnauthenticated
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Folder{}, ErrNotFound
	}
	folder, ok, err := r.store.GetFolder(ctx, id)
	if err != nil {
		return domain.Folder{}, storageErr("load folder", err)
	}
	if !ok || folder.UserID != ownerID {
		return domain.Folder{}, ErrNotFound
	}
	return folder, nil
}

// TitleFromSeed keeps the first 30 characters of the trimmed seed and appends "...".
// An empty seed yields "New Conversation".
func TitleFromSeed(seed string) string {
	text := strings.Join(strings.Fields(seed), " ")
	if text == "" {
		return defaultConversationTitle
	}
	runes := []rune(text)
	if len(runes) > titleSeedRunes {
		runes = runes[:titleSeedRunes]
	}
	return strings.TrimSpace(string(runes)) + titleEllipsis
}

func (r *Repository) newConversation(ownerID, titleSeed string) domain.Conversation {
	now := r.timestamp()
	return domain.Conversation{
		ID:        util.NewID(),
		Title:     TitleFromSeed(titleSeed),
		UserID:    ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CreateConversation creates an empty conversation titled from titleSeed.
func (r *Repository) CreateConversation(ctx context.Context, ownerID, titleSeed string) (domain.Conversation, error) {
	if strings.TrimSpace(ownerID) == "" {
		return domain.Conversation{}, ErrUnauthenticated
	}
	conv := r.newConversation(ownerID, titleSeed)
	if err := r.store.CreateConversation(ctx, conv); err != nil {
		return domain.Conversation{}, storageErr("create conversation", err)
	}
	return conv, nil
}

// startConversation creates a conversation and its first user message in one transaction.
func (r *Repository) startConversation(ctx context.Context, ownerID, prompt string) (domain.Conversation, domain.Message, error) {
	conv := r.newConversation(ownerID, prompt)
	msg, err := r.store.CreateConversationWithMessage(ctx, conv, domain.Message{
		ID:        util.NewID(),
		Role:      domain.RoleUser,
		Content:   prompt,
		CreatedAt: conv.CreatedAt,
	})
	if err != nil {
		return domain.Conversation{}, domain.Message{}, storageErr("start conversation", err)
	}
	return conv, msg, nil
}

// GetConversation returns the conversation with its full transcript and folder summary.
func (r *Repository) GetConversation(ctx context.Context, ownerID, id string) (domain.ConversationDetail, error) {
	conv, err := r.ownsConversation(ctx, ownerID, id)
	if err != nil {
		return domain.ConversationDetail{}, err
	}
	msgs, err := r.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return domain.ConversationDetail{}, storageErr("list messages", err)
	}
	detail := domain.ConversationDetail{Conversation: conv, Messages: msgs}
	if conv.FolderID != nil {
		folder, ok, err := r.store.GetFolder(ctx, *conv.FolderID)
		if err != nil {
			return domain.ConversationDetail{}, storageErr("load folder", err)
		}
		if ok && folder.UserID == ownerID {
			detail.Folder = &domain.FolderSummary{ID: folder.ID, Name: folder.Name}
		}
	}
	return detail, nil
}

// ListConversations returns the caller's conversations pinned first, most recent first,
// each with its latest message.
func (r *Repository) ListConversations(ctx context.Context, ownerID string) ([]domain.ConversationSummary, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrUnauthenticated
	}
	convs, err := r.store.ListConversationsByUser(ctx, ownerID)
	if err != nil {
		return nil, storageErr("list conversations", err)
	}
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	latest, err := r.store.LatestMessages(ctx, ids)
	if err != nil {
		return nil, storageErr("latest messages", err)
	}
	out := make([]domain.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		summary := domain.ConversationSummary{Conversation: c}
		if msg, ok := latest[c.ID]; ok {
			summary.LastMessage = &msg
		}
		out = append(out, summary)
	}
	return out, nil
}

// UpdateConversation applies a partial update. Only the fields set in patch change.
func (r *Repository) UpdateConversation(ctx context.Context, ownerID, id string, patch domain.ConversationPatch) (domain.Conversation, error) {
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return domain.Conversation{}, fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
		}
		if len([]rune(title)) > maxTitleRunes {
			return domain.Conversation{}, fmt.Errorf("%w: title too long", ErrInvalidInput)
		}
		patch.Title = &title
	}
	conv, err := r.ownsConversation(ctx, ownerID, id)
	if err != nil {
		return domain.Conversation{}, err
	}
	if patch.FolderID != nil && !patch.ClearFolder {
		if _, err := r.ownsFolder(ctx, ownerID, *patch.FolderID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return domain.Conversation{}, ErrInvalidReference
			}
			return domain.Conversation{}, err
		}
	}
	if patch.Empty() {
		return conv, nil
	}
	updated, err := r.store.UpdateConversation(ctx, conv.ID, patch, r.timestamp())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Conversation{}, ErrNotFound
		}
		return domain.Conversation{}, storageErr("update conversation", err)
	}
	return updated, nil
}

// DeleteConversation removes the conversation and every message in it.
func (r *Repository) DeleteConversation(ctx context.Context, ownerID, id string) error {
	conv, err := r.ownsConversation(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := r.store.DeleteConversation(ctx, conv.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return storageErr("delete conversation", err)
	}
	return nil
}

// AppendMessage stores a message at the current time. Callers authorize the conversation first.
func (r *Repository) AppendMessage(ctx context.Context, conversationID string, role domain.MessageRole, content string, usage *domain.Usage) (domain.Message, error) {
	if !role.Valid() {
		return domain.Message{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	msg, err := r.store.AppendMessage(ctx, domain.Message{
		ID:             util.NewID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Usage:          usage,
		CreatedAt:      r.timestamp(),
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Message{}, ErrNotFound
		}
		return domain.Message{}, storageErr("append message", err)
	}
	return msg, nil
}

func normalizeFolderName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: folder name is required", ErrInvalidInput)
	}
	if len([]rune(name)) > maxFolderNameRunes {
		return "", fmt.Errorf("%w: folder name too long", ErrInvalidInput)
	}
	return name, nil
}

// CreateFolder stores a folder with the trimmed name.
func (r *Repository) CreateFolder(ctx context.Context, ownerID, name string) (domain.Folder, error) {
	name, err := normalizeFolderName(name)
	if err != nil {
		return domain.Folder{}, err
	}
	if strings.TrimSpace(ownerID) == "" {
		return domain.Folder{}, ErrUnauthenticated
	}
	now := r.timestamp()
	folder := domain.Folder{
		ID:        util.NewID(),
		Name:      name,
		UserID:    ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateFolder(ctx, folder); err != nil {
		return domain.Folder{}, storageErr("create folder", err)
	}
	return folder, nil
}

// RenameFolder validates the name before touching the store.
func (r *Repository) RenameFolder(ctx context.Context, ownerID, id, name string) (domain.Folder, error) {
	name, err := normalizeFolderName(name)
	if err != nil {
		return domain.Folder{}, err
	}
	folder, err := r.ownsFolder(ctx, ownerID, id)
	if err != nil {
		return domain.Folder{}, err
	}
	renamed, err := r.store.RenameFolder(ctx, folder.ID, name, r.timestamp())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Folder{}, ErrNotFound
		}
		return domain.Folder{}, storageErr("rename folder", err)
	}
	return renamed, nil
}

// DeleteFolder removes the folder; member conversations survive with no folder.
func (r *Repository) DeleteFolder(ctx context.Context, ownerID, id string) error {
	folder, err := r.ownsFolder(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := r.store.DeleteFolder(ctx, folder.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return storageErr("delete folder", err)
	}
	return nil
}

// ListFolders returns the caller's folders oldest first with member conversation ids.
func (r *Repository) ListFolders(ctx context.Context, ownerID string) ([]domain.FolderWithConversations, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrUnauthenticated
	}
	folders, err := r.store.ListFoldersByUser(ctx, ownerID)
	if err != nil {
		return nil, storageErr("list folders", err)
	}
	return folders, nil
}
