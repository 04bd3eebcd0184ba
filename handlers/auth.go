package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/IRCHrocks25/KatCon-sub001/services"
)

// AuthHandler handles authentication-related endpoints
type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// Login sends a one-time magic link to a directory user. The response never
// carries a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &req) {
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	baseURL := fmt.Sprintf("%s://%s", scheme, r.Host)

	link, err := h.authService.RequestMagicLink(r.Context(), req.Email, baseURL)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]string{
		"status":  "success",
		"message": "If the address is registered, a login link has been sent",
	}
	if link != "" {
		resp["magicLink"] = link
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMagicLink exchanges a one-time link token for a bearer token
func (h *AuthHandler) HandleMagicLink(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeJSONError(w, http.StatusBadRequest, "missing token", "validation_error", false)
		return
	}

	jwtToken, email, err := h.authService.ExchangeMagicLink(token)
	if errors.Is(err, services.ErrInvalidLink) {
		writeJSONError(w, http.StatusUnauthorized, err.Error(), "unauthorized", false)
		return
	}
	if err != nil {
		log.Printf("Error creating JWT: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "authentication error", "internal", false)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "success",
		"token":  jwtToken,
		"email":  email,
	})
}

// VerifyToken checks if a JWT token is valid
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	tokenString, err := bearerToken(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, err.Error(), "unauthorized", false)
		return
	}

	email, err := h.authService.VerifyJWT(tokenString)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid token", "unauthorized", false)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"email":  email,
		"status": "valid",
	})
}
