package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"zerogchat/pkg/domain"
)

type createConversationRequest struct {
	Title string `json:"title"`
}

// nullableString distinguishes an absent field from an explicit null.
type nullableString struct {
	Set   bool
	Value *string
}

func (n *nullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

type updateConversationRequest struct {
	Title    *string        `json:"title"`
	FolderID nullableString `json:"folderId"`
	IsPinned *bool          `json:"isPinned"`
}

func (req updateConversationRequest) patch() domain.ConversationPatch {
	p := domain.ConversationPatch{Title: req.Title, IsPinned: req.IsPinned}
	if req.FolderID.Set {
		if req.FolderID.Value == nil || strings.TrimSpace(*req.FolderID.Value) == "" {
			p.ClearFolder = true
		} else {
			id := strings.TrimSpace(*req.FolderID.Value)
			p.FolderID = &id
		}
	}
	return p
}

type folderRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	items, err := s.app.ListConversations(r.Context(), userID(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	conv, err := s.app.CreateConversation(r.Context(), userID(r), req.Title)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	detail, err := s.app.GetConversation(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	var req updateConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	conv, err := s.app.UpdateConversation(r.Context(), userID(r), chi.URLParam(r, "id"), req.patch())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteConversation(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.app.ListFolders(r.Context(), userID(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	folder, err := s.app.CreateFolder(r.Context(), userID(r), req.Name)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

func (s *Server) handleRenameFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	folder, err := s.app.RenameFolder(r.Context(), userID(r), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteFolder(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeSuccess(w)
}
