package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mentora-app/mentora-go/internal/logging"
	"github.com/mentora-app/mentora-go/internal/store"
)

// Conversation endpoints identify the caller by the userId query parameter
// (or body field for writes). Every operation on an existing thread checks
// ownership first; a thread belonging to someone else is reported as 404,
// not 403, so thread IDs cannot be probed.

// handleConversationList handles GET /api/conversations?userId=...
func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "userId is required")
		return
	}

	convs, err := s.store.ListConversations(r.Context(), userID)
	if err != nil {
		s.storeError(w, r, "list conversations", err)
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}

	writeJSON(w, http.StatusOK, conversationListResponse{Conversations: convs})
}

// handleConversationCreate handles POST /api/conversations.
func (s *Server) handleConversationCreate(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeJSONError(w, http.StatusBadRequest, "userId is required")
		return
	}

	conv, err := s.store.CreateConversation(r.Context(), req.UserID, req.Title)
	if err != nil {
		s.storeError(w, r, "create conversation", err)
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// handleConversationGet handles GET /api/conversations/{id}?userId=...
func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.ownedConversation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// handleConversationRename handles PATCH /api/conversations/{id}.
func (s *Server) handleConversationRename(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.ownedConversation(w, r)
	if !ok {
		return
	}

	var req renameConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeJSONError(w, http.StatusBadRequest, "title is required")
		return
	}

	if err := s.store.RenameConversation(r.Context(), conv.ID, req.Title); err != nil {
		s.storeError(w, r, "rename conversation", err)
		return
	}

	conv.Title = req.Title
	writeJSON(w, http.StatusOK, conv)
}

// handleConversationDelete handles DELETE /api/conversations/{id}.
func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.ownedConversation(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteConversation(r.Context(), conv.ID); err != nil {
		s.storeError(w, r, "delete conversation", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleConversationMessages handles GET /api/conversations/{id}/messages.
func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.ownedConversation(w, r)
	if !ok {
		return
	}

	msgs, err := s.store.Messages(r.Context(), conv.ID)
	if err != nil {
		s.storeError(w, r, "list messages", err)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}

	writeJSON(w, http.StatusOK, messageListResponse{Messages: msgs})
}

// ownedConversation loads the conversation named by the {id} path value and
// verifies it belongs to the caller's userId. On failure it writes the error
// response and returns ok=false.
func (s *Server) ownedConversation(w http.ResponseWriter, r *http.Request) (*store.Conversation, bool) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "userId is required")
		return nil, false
	}

	id := r.PathValue("id")
	conv, err := s.store.GetConversation(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeJSONError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	if err != nil {
		s.storeError(w, r, "get conversation", err)
		return nil, false
	}
	if conv.UserID != userID {
		// Not the owner — indistinguishable from a missing thread.
		writeJSONError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}

	return conv, true
}

// storeError logs a storage failure and writes a generic 500 response.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logging.FromContext(r.Context()).Error("store: "+op+" failed", slog.Any("error", err))
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}
