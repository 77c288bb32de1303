package server

import "net/http"

type turnRequest struct {
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversationId"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if !s.allowRate(w, r, s.chatLimiter, "chat:"+uid, "too many messages, slow down") {
		return
	}
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.SubmitTurn(r.Context(), uid, req.Prompt, req.ConversationID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
