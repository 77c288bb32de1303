package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"zerogchat/pkg/ai"
	"zerogchat/pkg/domain"
)

func ptr[T any](v T) *T { return &v }

func TestListConversationsPinnedFirstThenRecent(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t, &fakeCompleter{})
	var ids []string
	for i := range 4 {
		c, err := a.CreateConversation(ctx, "u1", fmt.Sprintf("conv %d", i))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, c.ID)
	}
	if _, err := a.UpdateConversation(ctx, "u1", ids[0], domain.ConversationPatch{IsPinned: ptr(true)}); err != nil {
		t.Fatalf("pin: %v", err)
	}
	// A new message makes ids[1] the most recent unpinned conversation.
	if _, err := a.AppendMessage(ctx, ids[1], domain.RoleUser, "bump", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := a.CreateConversation(ctx, "u2", "other user"); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := a.ListConversations(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{ids[0], ids[1], ids[3], ids[2]}
	if len(list) != len(want) {
		t.Fatalf("len = %d, want %d", len(list), len(want))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, list[i].ID, id)
		}
	}
	if list[1].LastMessage == nil || list[1].LastMessage.Content != "bump" {
		t.Fatalf("last message = %+v", list[1].LastMessage)
	}
	if list[2].LastMessage != nil {
		t.Fatalf("expected no last message for empty conversation")
	}
	for i := 1; i < len(list); i++ {
		if list[i].IsPinned && !list[i-1].IsPinned {
			t.Fatalf("pinned conversation after unpinned at %d", i)
		}
	}
}

func TestGetConversationMessagesAscending(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t, &fakeCompleter{})
	conv, err := a.CreateConversation(ctx, "u1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.Title != "New Conversation" {
		t.Fatalf("title = %q", conv.Title)
	}
	for i := range 6 {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		if _, err := a.AppendMessage(ctx, conv.ID, role, fmt.Sprintf("m%d", i), nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	detail, err := a.GetConversation(ctx, "u1", conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for i := 1; i < len(detail.Messages); i++ {
		prev, cur := detail.Messages[i-1], detail.Messages[i]
		if cur.CreatedAt.Before(prev.CreatedAt) {
			t.Fatalf("message %d out of order", i)
		}
		if cur.Content != fmt.Sprintf("m%d", i) {
			t.Fatalf("message %d = %q", i, cur.Content)
		}
	}
	if detail.Folder != nil {
		t.Fatalf("expected no folder")
	}
}

func TestAppendMessageRejectsUnknownRole(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t, &fakeCompleter{})
	conv, _ := a.CreateConversation(ctx, "u1", "")
	if _, err := a.AppendMessage(ctx, conv.ID, domain.MessageRole("system"), "x", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, err := a.AppendMessage(ctx, "missing", domain.RoleUser, "x", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateConversation(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t, &fakeCompleter{})
	conv, _ := a.CreateConversation(ctx, "u1", "")
	folder, err := a.CreateFolder(ctx, "u1", "Work")
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}
	foreign, _ := a.CreateFolder(ctx, "u2", "Theirs")

	updated, err := a.UpdateConversation(ctx, "u1", conv.ID, domain.ConversationPatch{
		Title:    ptr("  Renamed  "),
		FolderID: ptr(folder.ID),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Renamed" || updated.FolderID == nil || *updated.FolderID != folder.ID {
		t.Fatalf("updated = %+v", updated)
	}
	detail, _ := a.GetConversation(ctx, "u1", conv.ID)
	if detail.Folder == nil || detail.Folder.Name != "Work" {
		t.Fatalf("folder summary = %+v", detail.Folder)
	}

	_, err = a.UpdateConversation(ctx, "u1", conv.ID, domain.ConversationPatch{FolderID: ptr(foreign.ID)})
	if !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("foreign folder: err = %v, want ErrInvalidReference", err)
	}
	_, err = a.UpdateConversation(ctx, "u1", conv.ID, domain.ConversationPatch{FolderID: ptr("missing")})
	if !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("missing folder: err = %v, want ErrInvalidReference", err)
	}
	_, err = a.UpdateConversation(ctx, "u1", conv.ID, domain.ConversationPatch{Title: ptr("   ")})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank title: err = %v, want ErrInvalidInput", err)
	}
	_, err = a.UpdateConversation(ctx, "u2", conv.ID, domain.ConversationPatch{IsPinned: ptr(true)})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("non-owner: err = %v, want ErrNotFound", err)
	}

	cleared, err := a.UpdateConversation(ctx, "u1", conv.ID, domain.ConversationPatch{ClearFolder: true})
	if err != nil {
		t.Fatalf("clear folder: %v", err)
	}
	if cleared.FolderID != nil || cleared.Title != "Renamed" {
		t.Fatalf("cleared = %+v", cleared)
	}
}

func TestDeleteConversationRemovesMessages(t *testing.T) {
	ctx := context.Background()
	a, st := newTestApp(t, &fakeCompleter{reply: "ok"})
	res, err := a.SubmitTurn(ctx, "u1", "Hi", "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := a.DeleteConversation(ctx, "u2", res.ConversationID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("non-owner delete: err = %v, want ErrNotFound", err)
	}
	if err := a.DeleteConversation(ctx, "u1", res.ConversationID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n := messageCount(t, st, res.ConversationID); n != 0 {
		t.Fatalf("messages after delete = %d", n)
	}
	if _, err := a.GetConversation(ctx, "u1", res.ConversationID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete: err = %v, want ErrNotFound", err)
	}
	if err := a.DeleteConversation(ctx, "u1", res.ConversationID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestFolderLifecycle(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t, &fakeCompleter{})
	if _, err := a.CreateFolder(ctx, "u1", "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank name: err = %v, want ErrInvalidInput", err)
	}
	first, err := a.CreateFolder(ctx, "u1", "  Research ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Name != "Research" {
		t.Fatalf("name = %q, want trimmed", first.Name)
	}
	second, _ := a.CreateFolder(ctx, "u1", "Later")
	conv, _ := a.CreateConversation(ctx, "u1", "")
	if _, err := a.UpdateConversation(ctx, "u1", conv.ID, domain.ConversationPatch{FolderID: ptr(first.ID)}); err != nil {
		t.Fatalf("move: %v", err)
	}

	folders, err := a.ListFolders(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(folders) != 2 || folders[0].ID != first.ID || folders[1].ID != second.ID {
		t.Fatalf("folders = %+v", folders)
	}
	if len(folders[0].ConversationIDs) != 1 || folders[0].ConversationIDs[0] != conv.ID {
		t.Fatalf("members = %v", folders[0].ConversationIDs)
	}

	if _, err := a.RenameFolder(ctx, "u1", first.ID, "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("rename blank: err = %v, want ErrInvalidInput", err)
	}
	if _, err := a.RenameFolder(ctx, "u2", first.ID, "Stolen"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rename non-owner: err = %v, want ErrNotFound", err)
	}
	folders, _ = a.ListFolders(ctx, "u1")
	if folders[0].Name != "Research" {
		t.Fatalf("name changed to %q", folders[0].Name)
	}
	renamed, err := a.RenameFolder(ctx, "u1", first.ID, "Papers")
	if err != nil || renamed.Name != "Papers" {
		t.Fatalf("rename: %+v, %v", renamed, err)
	}

	if err := a.DeleteFolder(ctx, "u2", first.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete non-owner: err = %v, want ErrNotFound", err)
	}
	if err := a.DeleteFolder(ctx, "u1", first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	detail, err := a.GetConversation(ctx, "u1", conv.ID)
	if err != nil {
		t.Fatalf("conversation should survive folder delete: %v", err)
	}
	if detail.FolderID != nil || detail.Folder != nil {
		t.Fatalf("conversation still in folder: %+v", detail.Conversation)
	}
	folders, _ = a.ListFolders(ctx, "u1")
	if len(folders) != 1 || folders[0].ID != second.ID {
		t.Fatalf("folders after delete = %+v", folders)
	}
}

func TestForeignConversationLooksAbsent(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t, &fakeCompleter{})
	conv, _ := a.CreateConversation(ctx, "owner", "")
	_, foreignErr := a.GetConversation(ctx, "intruder", conv.ID)
	_, missingErr := a.GetConversation(ctx, "intruder", "no-such-id")
	if !errors.Is(foreignErr, ErrNotFound) || !errors.Is(missingErr, ErrNotFound) {
		t.Fatalf("errors = %v / %v, want ErrNotFound", foreignErr, missingErr)
	}
	if foreignErr.Error() != missingErr.Error() {
		t.Fatalf("foreign and missing errors differ: %q vs %q", foreignErr, missingErr)
	}
	if _, err := a.GetConversation(ctx, "", conv.ID); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("anonymous: err = %v, want ErrUnauthenticated", err)
	}
	list, _ := a.ListConversations(ctx, "intruder")
	if len(list) != 0 {
		t.Fatalf("intruder sees %d conversations", len(list))
	}
}

func TestContextAssemblerWindow(t *testing.T) {
	ctx := context.Background()
	a, st := newTestApp(t, &fakeCompleter{})
	conv, _ := a.CreateConversation(ctx, "u1", "")
	for i := range 25 {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		if _, err := a.AppendMessage(ctx, conv.ID, role, fmt.Sprintf("m%02d", i), nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	window, err := NewContextAssembler(st, 0).Assemble(ctx, conv.ID)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(window) != 20 {
		t.Fatalf("window = %d, want 20", len(window))
	}
	for i, m := range window {
		want := fmt.Sprintf("m%02d", i+5)
		if m.Content != want {
			t.Fatalf("window[%d] = %q, want %q", i, m.Content, want)
		}
	}
	if window[0].Role != ai.RoleAssistant || window[19].Role != ai.RoleUser {
		t.Fatalf("unexpected roles at window edges: %s, %s", window[0].Role, window[19].Role)
	}

	short, _ := NewContextAssembler(st, 3).Assemble(ctx, conv.ID)
	if len(short) != 3 || short[2].Content != "m24" {
		t.Fatalf("short window = %+v", short)
	}
	if got := NewContextAssembler(st, -4).Limit(); got != 1 {
		t.Fatalf("negative limit clamped to %d, want 1", got)
	}
	empty, err := NewContextAssembler(st, 0).Assemble(ctx, "no-such-conversation")
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty window = %v, %v", empty, err)
	}
}
