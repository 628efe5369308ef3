// Package identity provides anonymous per-device identity primitives. The
// owner token is a weak ownership check for session data, not an
// authentication credential.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	AnonCookieName   = "bizlens_anon_id"
	AnonHeaderName   = "X-Anonymous-ID"
	AnonQueryParam   = "anonymousId"
	anonCookieMaxAge = 180 * 24 * time.Hour
)

type contextKey int

const ownerTokenKey contextKey = iota

var ownerTokenPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// OwnerTokenFromContext extracts the caller's owner token from the request
// context.
func OwnerTokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ownerTokenKey).(string); ok {
		return v
	}
	return ""
}

// IsValidOwnerToken reports whether a token has an acceptable shape.
func IsValidOwnerToken(token string) bool {
	return ownerTokenPattern.MatchString(token)
}

// TokenFromRequest extracts the owner token from the request, preferring
// the explicit query parameter, then the header, then the device cookie.
// Returns empty on a malformed token.
func TokenFromRequest(r *http.Request) string {
	candidates := []string{
		r.URL.Query().Get(AnonQueryParam),
		r.Header.Get(AnonHeaderName),
	}
	if c, err := r.Cookie(AnonCookieName); err == nil {
		candidates = append(candidates, c.Value)
	}
	for _, token := range candidates {
		token = strings.TrimSpace(token)
		if token != "" && IsValidOwnerToken(token) {
			return token
		}
	}
	return ""
}

func setAnonCookie(w http.ResponseWriter, token string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// Middleware injects the anonymous owner token into the request context,
// minting and setting a device cookie when the request carries none.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				token = "anon_" + uuid.NewString()
				setAnonCookie(w, token, isDev)
			}
			ctx := context.WithValue(r.Context(), ownerTokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
