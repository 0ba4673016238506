package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/kozaktomas/pixpursuit/internal/auth"
)

type contextKey string

const userContextKey contextKey = "user"

// TokenVerifier checks an access token and returns its username.
type TokenVerifier interface {
	Verify(token string, kind auth.TokenKind) (string, error)
}

// RequireAuth is middleware that requires a valid bearer access token
func RequireAuth(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				unauthorized(w, "not authenticated")
				return
			}

			username, err := tokens.Verify(token, auth.AccessToken)
			if err != nil {
				msg := "could not validate credentials"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "token has expired"
				}
				unauthorized(w, msg)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// UserFromContext returns the authenticated username, or "" outside RequireAuth.
func UserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userContextKey).(string)
	return user
}

// SetUserInContext adds a username to the context.
// This is primarily for testing - use RequireAuth middleware in production.
func SetUserInContext(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, userContextKey, username)
}
