package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testPolicy() RefreshCookiePolicy {
	return RefreshCookiePolicy{
		Name:     "CB_REFRESH",
		Path:     "/api/v1/auth",
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func TestRefreshCookieSetAndClear(t *testing.T) {
	p := testPolicy()

	rr := httptest.NewRecorder()
	p.Set(rr, "secret-value", time.Hour)
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != "CB_REFRESH" || c.Value != "secret-value" {
		t.Fatalf("unexpected cookie: %+v", c)
	}
	if !c.HttpOnly || !c.Secure || c.Path != "/api/v1/auth" {
		t.Fatalf("cookie attributes wrong: %+v", c)
	}
	if c.MaxAge != 3600 {
		t.Fatalf("max-age=%d want 3600", c.MaxAge)
	}

	rr = httptest.NewRecorder()
	p.Clear(rr)
	cookies = rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge != -1 || cookies[0].Value != "" {
		t.Fatalf("clear did not expire the cookie: %+v", cookies)
	}
}

func TestRefreshCookieSetIgnoresEmptySecret(t *testing.T) {
	rr := httptest.NewRecorder()
	testPolicy().Set(rr, "", time.Hour)
	if len(rr.Result().Cookies()) != 0 {
		t.Fatal("empty secret must not produce a cookie")
	}
}

func TestParseSameSite(t *testing.T) {
	cases := map[string]http.SameSite{
		"Lax":     http.SameSiteLaxMode,
		"strict":  http.SameSiteStrictMode,
		"None":    http.SameSiteNoneMode,
		"unknown": http.SameSiteLaxMode,
	}
	for in, want := range cases {
		if got := ParseSameSite(in); got != want {
			t.Fatalf("ParseSameSite(%q)=%v want %v", in, got, want)
		}
	}
}

func TestGetCookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "CB_REFRESH", Value: "value-1"})
	if got := GetCookie(r, "CB_REFRESH"); got != "value-1" {
		t.Fatalf("GetCookie=%q", got)
	}
	if got := GetCookie(r, "missing"); got != "" {
		t.Fatalf("GetCookie(missing)=%q want empty", got)
	}
}
