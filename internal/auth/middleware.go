package auth

import (
	"context"
	"net/http"

	"github.com/babushkafon/auth-api/internal/httputil"
	"github.com/babushkafon/auth-api/internal/user"
)

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

const userContextKey ContextKey = "current_user"

// Middleware guards protected routes behind an active session.
type Middleware struct {
	sessions Sessions
}

func NewMiddleware(sessions Sessions) *Middleware {
	return &Middleware{sessions: sessions}
}

// RequireSession resolves the session cookie to a user and attaches it to
// the request context. Missing, forged and destroyed sessions all get the
// same 401.
func (m *Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, err := GetSessionFromCookie(r)
		if err != nil {
			httputil.RespondErrorWithCode(w, "authentication required", httputil.CodeMissingSession, http.StatusUnauthorized)
			return
		}

		u, err := m.sessions.Resolve(r.Context(), handle)
		if err != nil {
			httputil.RespondErrorWithCode(w, "authentication required", httputil.CodeInvalidSession, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext extracts the authenticated user from the request context.
func UserFromContext(ctx context.Context) (*user.User, bool) {
	u, ok := ctx.Value(userContextKey).(*user.User)
	return u, ok
}
