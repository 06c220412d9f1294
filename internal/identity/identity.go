// Package identity gives dev console visitors a stable anonymous user ID.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"
)

const (
	CookieName   = "easely_console_id"
	cookieMaxAge = 30 * 24 * time.Hour
	idPrefix     = "console_"
)

type contextKey int

const userIDKey contextKey = iota

var consoleIDPattern = regexp.MustCompile(`^console_[a-f0-9]{32}$`)

// UserIDFromContext extracts the console user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// IsConsoleID reports whether id was minted by this package. Console IDs
// never collide with Messenger page-scoped IDs, which are numeric.
func IsConsoleID(id string) bool {
	return consoleIDPattern.MatchString(id)
}

func generateID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate console id: %w", err)
	}
	return idPrefix + hex.EncodeToString(buf), nil
}

func setCookie(w http.ResponseWriter, id string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		Expires:  time.Now().Add(cookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

func getOrCreateID(w http.ResponseWriter, r *http.Request, secure bool) (string, error) {
	if c, err := r.Cookie(CookieName); err == nil && IsConsoleID(c.Value) {
		setCookie(w, c.Value, secure)
		return c.Value, nil
	}

	id, err := generateID()
	if err != nil {
		return "", err
	}
	setCookie(w, id, secure)
	return id, nil
}

// Middleware assigns each browser a console user ID kept in a cookie.
// Secure cookies are only issued outside development.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := getOrCreateID(w, r, !isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish console identity"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// IPFromRequest returns the remote IP without its port.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
