package handlers

import (
	"net/http"

	"github.com/IRCHrocks25/KatCon-sub001/database"
	"github.com/IRCHrocks25/KatCon-sub001/services"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// Deps are the services the HTTP surface is wired to.
type Deps struct {
	Auth          *services.AuthService
	Tasks         *services.TaskService
	Notifications *database.NotificationStore
	Hub           *services.Hub
	CORSOrigins   []string
}

// NewRouter builds the full API handler, CORS included.
func NewRouter(d Deps) http.Handler {
	authHandler := NewAuthHandler(d.Auth)
	taskHandler := NewTaskHandler(d.Tasks)
	notificationHandler := NewNotificationHandler(d.Notifications)
	streamHandler := NewStreamHandler(d.Hub, d.Tasks, d.CORSOrigins)
	authMiddleware := NewAuthMiddleware(d.Auth)

	r := mux.NewRouter()

	// Auth routes
	r.HandleFunc("/api/auth/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/api/auth/magic-link", authHandler.HandleMagicLink).Methods("GET")
	r.HandleFunc("/api/auth/verify", authHandler.VerifyToken).Methods("GET")

	// Protected routes
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware.Auth)

	api.HandleFunc("/tasks", taskHandler.List).Methods("GET")
	api.HandleFunc("/tasks", taskHandler.Create).Methods("POST")
	api.HandleFunc("/tasks/{id}", taskHandler.Update).Methods("PATCH")
	api.HandleFunc("/tasks/{id}", taskHandler.Delete).Methods("DELETE")
	api.HandleFunc("/tasks/{id}/assignments", taskHandler.Assignments).Methods("POST")
	api.HandleFunc("/tasks/{id}/status", taskHandler.Status).Methods("POST")
	api.HandleFunc("/tasks/{id}/personal-status", taskHandler.PersonalStatus).Methods("POST")

	api.HandleFunc("/notifications", notificationHandler.List).Methods("GET")
	api.HandleFunc("/notifications/{id}/read", notificationHandler.MarkRead).Methods("POST")

	// WebSocket route for real-time updates
	api.HandleFunc("/ws", streamHandler.Subscribe)

	c := cors.New(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}
