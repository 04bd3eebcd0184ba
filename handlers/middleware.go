package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/IRCHrocks25/KatCon-sub001/services"
)

type contextKey string

const emailContextKey contextKey = "email"

type AuthMiddleware struct {
	authService *services.AuthService
}

func NewAuthMiddleware(authService *services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

// Auth requires a bearer token, or a token query parameter for WebSocket
// upgrades where browsers cannot set headers.
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, err.Error(), "unauthorized", false)
			return
		}

		email, err := m.authService.VerifyJWT(tokenString)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid token", "unauthorized", false)
			return
		}

		ctx := context.WithValue(r.Context(), emailContextKey, email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
		return "", errors.New("missing authorization header")
	}

	authParts := strings.Split(authHeader, " ")
	if len(authParts) != 2 || authParts[0] != "Bearer" {
		return "", errors.New("invalid authorization format")
	}
	return authParts[1], nil
}

// actor returns the authenticated identity set by Auth.
func actor(r *http.Request) (string, bool) {
	email, ok := r.Context().Value(emailContextKey).(string)
	return email, ok && email != ""
}
