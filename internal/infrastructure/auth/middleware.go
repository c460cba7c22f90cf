package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Authenticator resolves a bearer token to the id of an existing user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (int64, error)
}

type contextKey struct{}

var userIDKey contextKey

const unauthorizedDetail = "Could not validate credentials"

func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDKey).(int64)
	return userID, ok
}

// WriteUnauthorized answers 401 with the body shared by every
// authentication failure.
func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"detail": unauthorizedDetail})
}

func AuthMiddleware(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				slog.Warn("authorization header missing", "method", "AuthMiddleware", "path", r.URL.Path)
				WriteUnauthorized(w)
				return
			}

			scheme, tokenStr, found := strings.Cut(authHeader, " ")
			tokenStr = strings.TrimSpace(tokenStr)
			if !found || !strings.EqualFold(scheme, "Bearer") || tokenStr == "" {
				slog.Warn("invalid authorization header", "method", "AuthMiddleware", "path", r.URL.Path)
				WriteUnauthorized(w)
				return
			}

			userID, err := authenticator.Authenticate(r.Context(), tokenStr)
			if err != nil {
				slog.Warn("invalid token", "method", "AuthMiddleware", "path", r.URL.Path, "error", err)
				WriteUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}
