package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"tracker/internal/period"
)

// UserHeader carries the caller identity set by the upstream auth proxy.
const UserHeader = "X-User-ID"

const maxUserIDLength = 128

type contextKey string

const userContextKey contextKey = "user_id"

// requireUser rejects requests without a usable X-User-ID header and stores
// the identity on the request context.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := sanitizeInput(r.Header.Get(UserHeader))
		if userID == "" || len(userID) > maxUserIDLength {
			UnauthorizedError("missing or invalid " + UserHeader + " header").Write(w)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userFromContext returns the identity stored by requireUser.
func userFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userContextKey).(string)
	return userID
}

// parsePeriod reads the period query parameter, falling back to the default
// token when it is absent or unrecognised.
func parsePeriod(r *http.Request) period.Token {
	return period.ParseOrDefault(r.URL.Query().Get("period"))
}

// parseSince reads an optional RFC 3339 since parameter. ok is false when
// the value is present but malformed.
func parseSince(r *http.Request) (since time.Time, ok bool) {
	v := strings.TrimSpace(r.URL.Query().Get("since"))
	if v == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// sanitizeInput removes potentially dangerous characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}
