package conversations

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/emberlyhq/emberly-backend/internal/chat"
	"github.com/emberlyhq/emberly-backend/internal/middleware"
	"github.com/emberlyhq/emberly-backend/internal/models"
	"github.com/emberlyhq/emberly-backend/internal/storage"
)

// Handler serves the companion request/response surface: conversation CRUD
// and paginated history. Real-time traffic goes over the ws channel; this is
// the catch-up and management path.
type Handler struct {
	Store  storage.Store
	Chat   *chat.Service
	Logger zerolog.Logger
}

type createRequest struct {
	Type         models.ConversationType `json:"type"`
	Participants []string                `json:"participants"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = models.ConversationDirect
	}

	// The creator is always a participant of record.
	participants := req.Participants
	found := false
	for _, p := range participants {
		if p == userID {
			found = true
			break
		}
	}
	if !found {
		participants = append(participants, userID)
	}

	conv, err := h.Store.CreateConversation(r.Context(), req.Type, userID, participants)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, conv)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	convs, err := h.Store.ListConversations(r.Context(), middleware.UserID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if convs == nil {
		convs = []*models.Conversation{}
	}
	h.writeJSON(w, http.StatusOK, convs)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]

	// The cursor is the seq of the last message on the previous page; seq
	// round-trips exactly, so no boundary row is ever skipped.
	var beforeSeq int64
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		seq, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil || seq <= 0 {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		beforeSeq = seq
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	typeFilter := models.MessageType(r.URL.Query().Get("type"))

	msgs, err := h.Chat.History(r.Context(), middleware.UserID(r), conversationID, beforeSeq, limit, typeFilter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}

	resp := struct {
		Messages   []*models.Message `json:"messages"`
		NextCursor string            `json:"next_cursor,omitempty"`
	}{Messages: msgs}
	if len(msgs) > 0 {
		resp.NextCursor = strconv.FormatInt(msgs[len(msgs)-1].Seq, 10)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type editRequest struct {
	Content string `json:"content"`
}

func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		http.Error(w, "content required", http.StatusBadRequest)
		return
	}

	msg, err := h.Chat.Edit(r.Context(), middleware.UserID(r), mux.Vars(r)["id"], req.Content)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.Chat.Delete(r.Context(), middleware.UserID(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.Chat.UnreadCount(r.Context(), middleware.UserID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"unread": count})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Error().Err(err).Msg("encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrAccessDenied):
		http.Error(w, "access denied", http.StatusForbidden)
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrInvalidTransition):
		http.Error(w, "conflict", http.StatusConflict)
	default:
		h.Logger.Error().Err(err).Msg("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
