package handlers

import (
	"log"
	"net/http"

	"github.com/IRCHrocks25/KatCon-sub001/services"
	"github.com/gorilla/websocket"
)

// StreamHandler upgrades subscribers onto the change hub.
type StreamHandler struct {
	hub      *services.Hub
	tasks    *services.TaskService
	upgrader websocket.Upgrader
}

func NewStreamHandler(hub *services.Hub, tasks *services.TaskService, allowedOrigins []string) *StreamHandler {
	allowAll := false
	allowed := map[string]bool{}
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return &StreamHandler{
		hub:   hub,
		tasks: tasks,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || allowed[origin]
			},
		},
	}
}

// Subscribe upgrades the connection and streams reconciled tasks. A user may
// hold several connections (tabs, devices) at once.
func (h *StreamHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	email, ok := actor(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "user not found", "unauthorized", false)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Error upgrading to WebSocket: %v", err)
		return
	}

	sub := h.hub.Subscribe(email)
	client := services.NewClient(conn, email, sub, h.tasks)
	client.Start()
	log.Printf("WebSocket client registered: %s", email)
}
