package store

import (
	"context"
	"errors"
	"time"

	"zerogchat/pkg/domain"
)

// ErrNotFound is returned by mutations whose target row does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateEmail is returned when a different user already owns the email.
var ErrDuplicateEmail = errors.New("email already registered")

// Store defines persistence operations for users, folders, conversations, and messages.
// Ownership is not checked here; callers resolve and authorize rows first.
type Store interface {
	// users
	SaveUser(ctx context.Context, u domain.User) error
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)

	// conversations
	CreateConversation(ctx context.Context, c domain.Conversation) error
	// CreateConversationWithMessage inserts a conversation and its first message atomically.
	CreateConversationWithMessage(ctx context.Context, c domain.Conversation, msg domain.Message) (domain.Message, error)
	GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error)
	// ListConversationsByUser orders pinned first, then by updated_at and created_at descending.
	ListConversationsByUser(ctx context.Context, userID string) ([]domain.Conversation, error)
	UpdateConversation(ctx context.Context, id string, patch domain.ConversationPatch, at time.Time) (domain.Conversation, error)
	// DeleteConversation removes the conversation and all of its messages.
	DeleteConversation(ctx context.Context, id string) error

	// messages
	// AppendMessage assigns the next sequence number and bumps the conversation's updated_at.
	AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	// ListMessages returns every message of a conversation in chronological order.
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	// ListRecentMessages returns the newest limit messages, in chronological order.
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	// LatestMessages maps conversation id to its most recent message.
	LatestMessages(ctx context.Context, conversationIDs []string) (map[string]domain.Message, error)

	// folders
	CreateFolder(ctx context.Context, f domain.Folder) error
	GetFolder(ctx context.Context, id string) (domain.Folder, bool, error)
	RenameFolder(ctx context.Context, id, name string, at time.Time) (domain.Folder, error)
	// DeleteFolder removes the folder and detaches its conversations.
	DeleteFolder(ctx context.Context, id string) error
	ListFoldersByUser(ctx context.Context, userID string) ([]domain.FolderWithConversations, error)
}
