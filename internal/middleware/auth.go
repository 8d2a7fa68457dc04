package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lekesiz/bdc-auth/internal/auth"
	"github.com/lekesiz/bdc-auth/internal/models"
	"github.com/lekesiz/bdc-auth/internal/session"
	pkghttp "github.com/lekesiz/bdc-auth/pkg/http"
)

type contextKey string

const (
	userIDKey  contextKey = "user_id"
	sessionKey contextKey = "session"
)

// SessionAuth validates the bearer access token, loads the backing
// session, and records request activity on it. Requests without a live
// session are rejected before reaching the handler.
func SessionAuth(tokens *auth.TokenManager, sessions *session.Service, ipConfig *pkghttp.IPConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				pkghttp.WriteUnauthorized(w, "Missing or malformed authorization header")
				return
			}

			claims, err := tokens.ValidateAccessToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				pkghttp.WriteUnauthorized(w, "Invalid or expired token")
				return
			}

			sess, err := sessions.Get(r.Context(), claims.SessionID)
			if err != nil {
				// Token outlived its session (logout or revocation).
				pkghttp.WriteUnauthorized(w, "Session is no longer active")
				return
			}

			client := pkghttp.ExtractClientContext(r, ipConfig)
			if err := sessions.Touch(r.Context(), sess.ID, client); err != nil {
				logger.Warn("failed to record session activity",
					slog.String("session_id", sess.ID),
					slog.Any("error", err))
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
			ctx = context.WithValue(ctx, sessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireElevated gates sensitive operations behind a recent step-up
// verification. Must run after SessionAuth.
func RequireElevated(sessions *session.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := SessionFromContext(r.Context())
			if sess == nil {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}

			elevated, err := sessions.IsElevated(r.Context(), sess.ID)
			if err != nil || !elevated {
				pkghttp.WriteForbidden(w, "Recent verification required for this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewAuthenticatedContext returns a context carrying the given user and
// session, as SessionAuth would have populated it. Intended for tests.
func NewAuthenticatedContext(ctx context.Context, userID string, sess *models.Session) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	if sess != nil {
		ctx = context.WithValue(ctx, sessionKey, sess)
	}
	return ctx
}

// UserIDFromContext returns the authenticated user's ID, or "" outside an
// authenticated request.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// SessionFromContext returns the session loaded by SessionAuth.
func SessionFromContext(ctx context.Context) *models.Session {
	if sess, ok := ctx.Value(sessionKey).(*models.Session); ok {
		return sess
	}
	return nil
}
