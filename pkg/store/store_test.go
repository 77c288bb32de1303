package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"zerogchat/pkg/domain"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewGormStore(sqliteScheme + filepath.Join(t.TempDir(), "chat.db"))
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func eachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func mustConversation(t *testing.T, s Store, id, userID string, created int) domain.Conversation {
	t.Helper()
	c := domain.Conversation{ID: id, Title: "t-" + id, UserID: userID, CreatedAt: at(created), UpdatedAt: at(created)}
	if err := s.CreateConversation(context.Background(), c); err != nil {
		t.Fatalf("create conversation %s: %v", id, err)
	}
	return c
}

func mustAppend(t *testing.T, s Store, convID string, role domain.MessageRole, content string, sec int) domain.Message {
	t.Helper()
	msg, err := s.AppendMessage(context.Background(), domain.Message{
		ID:             fmt.Sprintf("%s-%s-%d", convID, role, sec),
		ConversationID: convID,
		Role:           role,
		Content:        content,
		CreatedAt:      at(sec),
	})
	if err != nil {
		t.Fatalf("append message: %v", err)
	}
	return msg
}

func TestUsers(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		u := domain.User{ID: "u1", Email: "a@example.com", Name: "A", PasswordHash: "h", CreatedAt: at(0), UpdatedAt: at(0)}
		if err := s.SaveUser(ctx, u); err != nil {
			t.Fatalf("save user: %v", err)
		}
		got, ok, err := s.GetUserByEmail(ctx, "a@example.com")
		if err != nil || !ok {
			t.Fatalf("get by email: ok=%v err=%v", ok, err)
		}
		if got.ID != "u1" || got.PasswordHash != "h" || got.Name != "A" {
			t.Fatalf("unexpected user %+v", got)
		}
		if _, ok, err := s.GetUserByID(ctx, "missing"); err != nil || ok {
			t.Fatalf("expected missing user, ok=%v err=%v", ok, err)
		}
		dup := domain.User{ID: "u2", Email: "a@example.com", CreatedAt: at(1), UpdatedAt: at(1)}
		if err := s.SaveUser(ctx, dup); !errors.Is(err, ErrDuplicateEmail) {
			t.Fatalf("expected duplicate email error, got %v", err)
		}
	})
}

func TestAppendMessageOrderingAndSequence(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustConversation(t, s, "c1", "u1", 0)
		first := mustAppend(t, s, "c1", domain.RoleUser, "hello", 1)
		// same timestamp: insertion order breaks the tie
		second := mustAppend(t, s, "c1", domain.RoleAssistant, "hi there", 1)
		third := mustAppend(t, s, "c1", domain.RoleUser, "again", 2)
		if first.Seq != 1 || second.Seq != 2 || third.Seq != 3 {
			t.Fatalf("unexpected seqs %d %d %d", first.Seq, second.Seq, third.Seq)
		}

		msgs, err := s.ListMessages(ctx, "c1")
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		want := []string{"hello", "hi there", "again"}
		if len(msgs) != len(want) {
			t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
		}
		for i, content := range want {
			if msgs[i].Content != content {
				t.Fatalf("message %d: expected %q, got %q", i, content, msgs[i].Content)
			}
		}

		conv, ok, err := s.GetConversation(ctx, "c1")
		if err != nil || !ok {
			t.Fatalf("get conversation: ok=%v err=%v", ok, err)
		}
		if !conv.UpdatedAt.Equal(at(2)) {
			t.Fatalf("expected updated_at bumped to last message, got %v", conv.UpdatedAt)
		}
	})
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		_, err := s.AppendMessage(context.Background(), domain.Message{
			ID: "m1", ConversationID: "nope", Role: domain.RoleUser, Content: "x", CreatedAt: at(0),
		})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestListRecentMessagesReturnsTailInOrder(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustConversation(t, s, "c1", "u1", 0)
		for i := 1; i <= 25; i++ {
			mustAppend(t, s, "c1", domain.RoleUser, fmt.Sprintf("m%d", i), i)
		}
		msgs, err := s.ListRecentMessages(ctx, "c1", 20)
		if err != nil {
			t.Fatalf("list recent: %v", err)
		}
		if len(msgs) != 20 {
			t.Fatalf("expected 20 messages, got %d", len(msgs))
		}
		if msgs[0].Content != "m6" || msgs[19].Content != "m25" {
			t.Fatalf("unexpected window %q..%q", msgs[0].Content, msgs[19].Content)
		}
		empty, err := s.ListRecentMessages(ctx, "c1", 0)
		if err != nil || len(empty) != 0 {
			t.Fatalf("expected empty window, got %d err=%v", len(empty), err)
		}
	})
}

func TestCreateConversationWithMessage(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv := domain.Conversation{ID: "c1", Title: "Hello...", UserID: "u1", CreatedAt: at(0), UpdatedAt: at(0)}
		msg, err := s.CreateConversationWithMessage(ctx, conv, domain.Message{
			ID: "m1", Role: domain.RoleUser, Content: "Hello", CreatedAt: at(0),
		})
		if err != nil {
			t.Fatalf("create with message: %v", err)
		}
		if msg.ConversationID != "c1" || msg.Seq != 1 {
			t.Fatalf("unexpected message %+v", msg)
		}
		msgs, err := s.ListMessages(ctx, "c1")
		if err != nil || len(msgs) != 1 {
			t.Fatalf("expected one message, got %d err=%v", len(msgs), err)
		}
		next := mustAppend(t, s, "c1", domain.RoleAssistant, "Hi", 1)
		if next.Seq != 2 {
			t.Fatalf("expected seq 2, got %d", next.Seq)
		}
	})
}

func TestListConversationsPinnedFirstThenRecent(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustConversation(t, s, "old", "u1", 0)
		mustConversation(t, s, "mid", "u1", 10)
		mustConversation(t, s, "new", "u1", 20)
		mustConversation(t, s, "other", "u2", 30)
		pinned := true
		if _, err := s.UpdateConversation(ctx, "old", domain.ConversationPatch{IsPinned: &pinned}, at(5)); err != nil {
			t.Fatalf("pin: %v", err)
		}
		mustAppend(t, s, "mid", domain.RoleUser, "bump", 40)

		convs, err := s.ListConversationsByUser(ctx, "u1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		var ids []string
		for _, c := range convs {
			ids = append(ids, c.ID)
		}
		want := []string{"old", "mid", "new"}
		if fmt.Sprint(ids) != fmt.Sprint(want) {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	})
}

func TestLatestMessages(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustConversation(t, s, "c1", "u1", 0)
		mustConversation(t, s, "c2", "u1", 0)
		mustConversation(t, s, "c3", "u1", 0)
		mustAppend(t, s, "c1", domain.RoleUser, "a", 1)
		mustAppend(t, s, "c1", domain.RoleAssistant, "b", 2)
		mustAppend(t, s, "c2", domain.RoleUser, "x", 3)
		mustAppend(t, s, "c2", domain.RoleAssistant, "y", 3)

		latest, err := s.LatestMessages(ctx, []string{"c1", "c2", "c3"})
		if err != nil {
			t.Fatalf("latest: %v", err)
		}
		if latest["c1"].Content != "b" || latest["c2"].Content != "y" {
			t.Fatalf("unexpected latest %+v", latest)
		}
		if _, ok := latest["c3"]; ok {
			t.Fatalf("empty conversation should have no latest message")
		}
	})
}

func TestUpdateConversationFolderAndTitle(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustConversation(t, s, "c1", "u1", 0)
		folderID := "f1"
		title := "Renamed"
		got, err := s.UpdateConversation(ctx, "c1", domain.ConversationPatch{Title: &title, FolderID: &folderID}, at(3))
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if got.Title != "Renamed" || got.FolderID == nil || *got.FolderID != "f1" {
			t.Fatalf("unexpected conversation %+v", got)
		}
		got, err = s.UpdateConversation(ctx, "c1", domain.ConversationPatch{ClearFolder: true}, at(4))
		if err != nil {
			t.Fatalf("clear folder: %v", err)
		}
		if got.FolderID != nil {
			t.Fatalf("expected folder cleared, got %v", *got.FolderID)
		}
		if _, err := s.UpdateConversation(ctx, "missing", domain.ConversationPatch{Title: &title}, at(5)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestDeleteConversationCascadesMessages(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustConversation(t, s, "c1", "u1", 0)
		mustAppend(t, s, "c1", domain.RoleUser, "a", 1)
		mustAppend(t, s, "c1", domain.RoleAssistant, "b", 2)
		if err := s.DeleteConversation(ctx, "c1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, ok, _ := s.GetConversation(ctx, "c1"); ok {
			t.Fatalf("conversation should be gone")
		}
		msgs, err := s.ListMessages(ctx, "c1")
		if err != nil || len(msgs) != 0 {
			t.Fatalf("messages should be gone, got %d err=%v", len(msgs), err)
		}
		if err := s.DeleteConversation(ctx, "c1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found on second delete, got %v", err)
		}
	})
}

func TestFolders(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, id := range []string{"f2", "f1"} {
			f := domain.Folder{ID: id, Name: "folder " + id, UserID: "u1", CreatedAt: at(i), UpdatedAt: at(i)}
			if err := s.CreateFolder(ctx, f); err != nil {
				t.Fatalf("create folder: %v", err)
			}
		}
		if err := s.CreateFolder(ctx, domain.Folder{ID: "fx", Name: "x", UserID: "u2", CreatedAt: at(0), UpdatedAt: at(0)}); err != nil {
			t.Fatalf("create foreign folder: %v", err)
		}
		mustConversation(t, s, "c1", "u1", 0)
		mustConversation(t, s, "c2", "u1", 1)
		f1 := "f1"
		for _, id := range []string{"c1", "c2"} {
			if _, err := s.UpdateConversation(ctx, id, domain.ConversationPatch{FolderID: &f1}, at(2)); err != nil {
				t.Fatalf("move %s: %v", id, err)
			}
		}

		folders, err := s.ListFoldersByUser(ctx, "u1")
		if err != nil {
			t.Fatalf("list folders: %v", err)
		}
		if len(folders) != 2 || folders[0].ID != "f2" || folders[1].ID != "f1" {
			t.Fatalf("expected folders oldest first, got %+v", folders)
		}
		if len(folders[0].ConversationIDs) != 0 {
			t.Fatalf("f2 should be empty, got %v", folders[0].ConversationIDs)
		}
		if fmt.Sprint(folders[1].ConversationIDs) != "[c1 c2]" {
			t.Fatalf("unexpected members %v", folders[1].ConversationIDs)
		}

		renamed, err := s.RenameFolder(ctx, "f1", "Work", at(3))
		if err != nil {
			t.Fatalf("rename: %v", err)
		}
		if renamed.Name != "Work" {
			t.Fatalf("expected rename, got %q", renamed.Name)
		}

		if err := s.DeleteFolder(ctx, "f1"); err != nil {
			t.Fatalf("delete folder: %v", err)
		}
		c1, ok, err := s.GetConversation(ctx, "c1")
		if err != nil || !ok {
			t.Fatalf("conversation should survive folder delete: ok=%v err=%v", ok, err)
		}
		if c1.FolderID != nil {
			t.Fatalf("conversation should be detached, got %v", *c1.FolderID)
		}
		if err := s.DeleteFolder(ctx, "f1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestUsageRoundTrip(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustConversation(t, s, "c1", "u1", 0)
		_, err := s.AppendMessage(ctx, domain.Message{
			ID: "m1", ConversationID: "c1", Role: domain.RoleAssistant, Content: "ok", CreatedAt: at(1),
			Usage: &domain.Usage{Provider: "openrouter", Model: "m", PromptTokens: 12, CompletionTokens: 3},
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		msgs, err := s.ListMessages(ctx, "c1")
		if err != nil || len(msgs) != 1 {
			t.Fatalf("list: %d err=%v", len(msgs), err)
		}
		if msgs[0].Usage == nil || msgs[0].Usage.PromptTokens != 12 || msgs[0].Usage.Provider != "openrouter" {
			t.Fatalf("unexpected usage %+v", msgs[0].Usage)
		}
	})
}
