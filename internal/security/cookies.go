package security

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

// RefreshCookiePolicy centralizes the attributes of the refresh cookie
// so every handler issues and clears it identically.
type RefreshCookiePolicy struct {
	Name     string
	Path     string
	Secure   bool
	SameSite http.SameSite
}

func ParseSameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// Set writes the refresh secret as a persistent HttpOnly cookie whose
// Max-Age matches the server-side session TTL.
func (p RefreshCookiePolicy) Set(w http.ResponseWriter, secret string, ttl time.Duration) {
	if secret == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     p.Name,
		Value:    secret,
		Path:     p.Path,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: p.SameSite,
	})
}

// SetCSRF pairs the refresh cookie with a readable csrf token for the
// double-submit check. Scoped to the whole site so the SPA can read it.
func SetCSRF(w http.ResponseWriter, token string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     "csrf_token",
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// NewCSRFToken returns a random double-submit token.
func NewCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (p RefreshCookiePolicy) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     p.Name,
		Value:    "",
		Path:     p.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: p.SameSite,
	})
}
