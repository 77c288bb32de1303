package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"zerogchat/pkg/domain"
)

// MemoryStore keeps all records in-process. It backs tests and local runs without a database.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User // key: user ID
	email         map[string]string      // email -> user ID
	folders       map[string]domain.Folder
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message // conversation ID -> messages in append order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		email:         make(map[string]string),
		folders:       make(map[string]domain.Folder),
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
	}
}

func (m *MemoryStore) SaveUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.email[u.Email]; ok && owner != u.ID {
		return ErrDuplicateEmail
	}
	if prev, ok := m.users[u.ID]; ok && prev.Email != u.Email {
		delete(m.email, prev.Email)
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) CreateConversation(_ context.Context, c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c
	return nil
}

func (m *MemoryStore) CreateConversationWithMessage(_ context.Context, c domain.Conversation, msg domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ConversationID = c.ID
	msg.Seq = 1
	if c.UpdatedAt.Before(msg.CreatedAt) {
		c.UpdatedAt = msg.CreatedAt
	}
	m.conversations[c.ID] = c
	m.messages[c.ID] = []domain.Message{msg}
	return msg, nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	return c, ok, nil
}

func (m *MemoryStore) ListConversationsByUser(_ context.Context, userID string) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Conversation, 0)
	for _, c := range m.conversations {
		if c.UserID == userID {
			res = append(res, c)
		}
	}
	slices.SortFunc(res, func(a, b domain.Conversation) int {
		if a.IsPinned != b.IsPinned {
			if a.IsPinned {
				return -1
			}
			return 1
		}
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return res, nil
}

func (m *MemoryStore) UpdateConversation(_ context.Context, id string, patch domain.ConversationPatch, at time.Time) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return domain.Conversation{}, ErrNotFound
	}
	if patch.Title != nil {
		c.Title = *patch.Title
	}
	if patch.ClearFolder {
		c.FolderID = nil
	} else if patch.FolderID != nil {
		folderID := *patch.FolderID
		c.FolderID = &folderID
	}
	if patch.IsPinned != nil {
		c.IsPinned = *patch.IsPinned
	}
	c.UpdatedAt = at
	m.conversations[id] = c
	return c, nil
}

func (m *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(m.conversations, id)
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return domain.Message{}, ErrNotFound
	}
	existing := m.messages[msg.ConversationID]
	var maxSeq int64
	for _, e := range existing {
		maxSeq = max(maxSeq, e.Seq)
	}
	msg.Seq = maxSeq + 1
	m.messages[msg.ConversationID] = append(existing, msg)
	c.UpdatedAt = msg.CreatedAt
	m.conversations[c.ID] = c
	return msg, nil
}

func (m *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ordered(conversationID), nil
}

func (m *MemoryStore) ListRecentMessages(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.ordered(conversationID)
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (m *MemoryStore) LatestMessages(_ context.Context, conversationIDs []string) (map[string]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.Message, len(conversationIDs))
	for _, id := range conversationIDs {
		msgs := m.ordered(id)
		if len(msgs) > 0 {
			out[id] = msgs[len(msgs)-1]
		}
	}
	return out, nil
}

// ordered returns a copy sorted by creation time, then sequence. Caller holds the lock.
func (m *MemoryStore) ordered(conversationID string) []domain.Message {
	msgs := slices.Clone(m.messages[conversationID])
	if msgs == nil {
		return []domain.Message{}
	}
	slices.SortStableFunc(msgs, compareMessages)
	return msgs
}

func compareMessages(a, b domain.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

func (m *MemoryStore) CreateFolder(_ context.Context, f domain.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.folders[f.ID] = f
	return nil
}

func (m *MemoryStore) GetFolder(_ context.Context, id string) (domain.Folder, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.folders[id]
	return f, ok, nil
}

func (m *MemoryStore) RenameFolder(_ context.Context, id, name string, at time.Time) (domain.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok {
		return domain.Folder{}, ErrNotFound
	}
	f.Name = name
	f.UpdatedAt = at
	m.folders[id] = f
	return f, nil
}

func (m *MemoryStore) DeleteFolder(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[id]; !ok {
		return ErrNotFound
	}
	for cid, c := range m.conversations {
		if c.FolderID != nil && *c.FolderID == id {
			c.FolderID = nil
			m.conversations[cid] = c
		}
	}
	delete(m.folders, id)
	return nil
}

func (m *MemoryStore) ListFoldersByUser(_ context.Context, userID string) ([]domain.FolderWithConversations, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	folders := make([]domain.Folder, 0)
	for _, f := range m.folders {
		if f.UserID == userID {
			folders = append(folders, f)
		}
	}
	slices.SortFunc(folders, func(a, b domain.Folder) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	members := make([]domain.Conversation, 0)
	for _, c := range m.conversations {
		if c.UserID == userID && c.FolderID != nil {
			members = append(members, c)
		}
	}
	slices.SortFunc(members, func(a, b domain.Conversation) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	out := make([]domain.FolderWithConversations, 0, len(folders))
	for _, f := range folders {
		ids := []string{}
		for _, c := range members {
			if *c.FolderID == f.ID {
				ids = append(ids, c.ID)
			}
		}
		out = append(out, domain.FolderWithConversations{Folder: f, ConversationIDs: ids})
	}
	return out, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)
