package web

import (
	"net/http"
	"strings"

	"github.com/keyfold/keyfold/internal/auth/session"
)

// cookieTransport carries the session blob in an HTTP cookie. Each save
// slides the cookie expiry, which is what enforces the idle timeout:
// a client that stays away longer than the idle window simply stops
// presenting the cookie.
type cookieTransport struct {
	w          http.ResponseWriter
	r          *http.Request
	idleMaxAge int
	secure     bool
}

func (t *cookieTransport) Load() (string, bool) {
	cookie, err := t.r.Cookie(session.BlobName)
	if err != nil || cookie == nil {
		return "", false
	}
	value := strings.TrimSpace(cookie.Value)
	if value == "" {
		return "", false
	}
	return value, true
}

func (t *cookieTransport) Save(blob string) error {
	http.SetCookie(t.w, &http.Cookie{
		Name:     session.BlobName,
		Value:    blob,
		Path:     "/",
		MaxAge:   t.idleMaxAge,
		HttpOnly: true,
		Secure:   t.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

func (t *cookieTransport) Destroy() error {
	http.SetCookie(t.w, &http.Cookie{
		Name:     session.BlobName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   t.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}
