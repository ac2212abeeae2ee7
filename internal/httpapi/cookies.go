package httpapi

import (
	"net/http"
	"strings"
	"time"

	"booky.app/internal/config"
)

// sessionCookie sets and clears the session id cookie. Both directions use
// identical attributes; a browser only removes a cookie whose path and domain
// match the one it stored.
type sessionCookie struct {
	name     string
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite
}

func newSessionCookie(cfg config.CookieConfig) sessionCookie {
	c := sessionCookie{
		name:     cfg.Name,
		path:     cfg.Path,
		domain:   cfg.Domain,
		secure:   cfg.Secure,
		sameSite: parseSameSite(cfg.SameSite),
	}
	if c.name == "" {
		c.name = "booky_session"
	}
	if c.path == "" {
		c.path = "/"
	}
	return c
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (c sessionCookie) base(value string) *http.Cookie {
	return &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     c.path,
		Domain:   c.domain,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: c.sameSite,
	}
}

func (c sessionCookie) set(w http.ResponseWriter, sessionID string, maxAge time.Duration) {
	ck := c.base(sessionID)
	ck.MaxAge = int(maxAge.Seconds())
	http.SetCookie(w, ck)
}

func (c sessionCookie) clear(w http.ResponseWriter) {
	ck := c.base("")
	ck.MaxAge = -1
	ck.Expires = time.Unix(0, 0)
	http.SetCookie(w, ck)
}

func (c sessionCookie) read(r *http.Request) string {
	ck, err := r.Cookie(c.name)
	if err != nil {
		return ""
	}
	return ck.Value
}
