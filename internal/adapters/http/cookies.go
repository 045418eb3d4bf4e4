package http

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

const sessionCookieName = "portal_session"

func readSessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// ensureSessionID returns the client's session ID, minting a new browser-
// session cookie when none exists yet.
func (h *Handler) ensureSessionID(w http.ResponseWriter, r *http.Request) string {
	if sid, ok := readSessionID(r); ok {
		return sid
	}
	sid := uuid.NewString()
	http.SetCookie(w, h.sessionCookie(sid, 0))
	return sid
}

// extendSessionCookie reissues the cookie with the remember lifetime so the
// session outlives the browser window.
func (h *Handler) extendSessionCookie(w http.ResponseWriter, sid string, ttl time.Duration) {
	http.SetCookie(w, h.sessionCookie(sid, int(ttl.Seconds())))
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	c := h.sessionCookie("", -1)
	http.SetCookie(w, c)
}

func (h *Handler) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}
