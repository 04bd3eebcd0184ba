package handlers

import (
	"errors"
	"net/http"

	"github.com/IRCHrocks25/KatCon-sub001/database"
	"github.com/gorilla/mux"
)

// NotificationHandler is the recipient-facing read of the notification sink.
type NotificationHandler struct {
	store *database.NotificationStore
}

func NewNotificationHandler(store *database.NotificationStore) *NotificationHandler {
	return &NotificationHandler{store: store}
}

// List returns unread notifications, or all of them with ?all=1.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	email, ok := actor(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "user not found", "unauthorized", false)
		return
	}

	unreadOnly := r.URL.Query().Get("all") == ""
	notes, err := h.store.ListForRecipient(r.Context(), email, unreadOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, notes)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	email, ok := actor(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "user not found", "unauthorized", false)
		return
	}

	err := h.store.MarkRead(r.Context(), email, mux.Vars(r)["id"])
	if errors.Is(err, database.ErrNotificationNotFound) {
		writeJSONError(w, http.StatusNotFound, err.Error(), "not_found", false)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
