package api

import (
	"context"
	"net/http"
	"strings"
)

// UserHeader carries the caller's user id. Authentication happens upstream.
const UserHeader = "X-User-ID"

// UserContextKey is the key for storing the caller's user id
type UserContextKey struct{}

// WithUser stores the user id from UserHeader in the request context.
func WithUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(UserHeader)); id != "" {
			r = r.WithContext(context.WithValue(r.Context(), UserContextKey{}, id))
		}
		next.ServeHTTP(w, r)
	})
}

// UserID returns the caller's user id, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(UserContextKey{}).(string)
	return id
}
