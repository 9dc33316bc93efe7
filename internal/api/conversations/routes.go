package conversations

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Register mounts the conversation routes on r. Callers wrap r with the auth
// middleware; every handler here assumes an authenticated user in context.
func Register(r *mux.Router, h *Handler) {
	r.HandleFunc("/conversations", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/conversations", h.List).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/messages", h.ListMessages).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", h.EditMessage).Methods(http.MethodPatch)
	r.HandleFunc("/messages/{id}", h.DeleteMessage).Methods(http.MethodDelete)
	r.HandleFunc("/messages/unread-count", h.UnreadCount).Methods(http.MethodGet)
}
