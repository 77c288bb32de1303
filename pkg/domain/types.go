package domain

import "time"

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Valid reports whether the role is one the model provider accepts.
func (r MessageRole) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name,omitempty"`
	Image        string    `json:"image,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FolderSummary is the folder view embedded in a conversation detail.
type FolderSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FolderWithConversations carries member ids for membership-count display.
type FolderWithConversations struct {
	Folder
	ConversationIDs []string `json:"conversationIds"`
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    string    `json:"userId"`
	FolderID  *string   `json:"folderId"`
	IsPinned  bool      `json:"isPinned"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationSummary is one sidebar row: the conversation plus its latest message.
type ConversationSummary struct {
	Conversation
	LastMessage *Message `json:"lastMessage,omitempty"`
}

// ConversationDetail is a conversation with its full transcript.
type ConversationDetail struct {
	Conversation
	Messages []Message     `json:"messages"`
	Folder   *FolderSummary `json:"folder"`
}

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	Seq            int64       `json:"seq"`
	Usage          *Usage      `json:"usage,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Usage records which provider produced an assistant message and what it cost.
type Usage struct {
	Provider         string `json:"provider,omitempty"`
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"promptTokens,omitempty"`
	CompletionTokens int    `json:"completionTokens,omitempty"`
}

// ConversationPatch lists the fields to change; nil means unchanged.
type ConversationPatch struct {
	Title       *string
	FolderID    *string
	ClearFolder bool
	IsPinned    *bool
}

// Empty reports whether the patch changes nothing.
func (p ConversationPatch) Empty() bool {
	return p.Title == nil && p.FolderID == nil && !p.ClearFolder && p.IsPinned == nil
}
