package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/campus-board/community-auth-backend/internal/health"
	"github.com/campus-board/community-auth-backend/internal/http/handler"
	"github.com/campus-board/community-auth-backend/internal/security"
)

func newRouterTestDeps() Dependencies {
	cookie := security.RefreshCookiePolicy{Name: "CB_REFRESH", Path: "/api/v1/auth", SameSite: http.SameSiteLaxMode}
	return Dependencies{
		AuthHandler:      handler.NewAuthHandler(nil, nil, nil, nil, cookie),
		JWTManager:       security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456", time.Now),
		CORSOrigins:      []string{"http://localhost:5173"},
		AuthRateLimitRPM: 1000,
		APIRateLimitRPM:  1000,
	}
}

func TestHealthLiveAndSecurityHeaders(t *testing.T) {
	srv := httptest.NewServer(NewRouter(newRouterTestDeps()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health/live")
	if err != nil {
		t.Fatalf("live probe: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if resp.Header.Get("X-RateLimit-Limit") == "" {
		t.Error("expected rate limit headers on every response")
	}
}

func TestReadinessReportsUnhealthyDependency(t *testing.T) {
	deps := newRouterTestDeps()
	deps.Readiness = health.NewProbeRunner(time.Second, health.Probe{
		Name: "database",
		Check: func(ctx context.Context) error {
			return context.DeadlineExceeded
		},
	})
	srv := httptest.NewServer(NewRouter(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health/ready")
	if err != nil {
		t.Fatalf("ready probe: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Success || body.Error.Code != "DEPENDENCY_UNREADY" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestProtectedRoutesRejectAnonymousRequests(t *testing.T) {
	srv := httptest.NewServer(NewRouter(newRouterTestDeps()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/auth/me")
	if err != nil {
		t.Fatalf("me request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error.Code != "AUTH_REQUIRED" {
		t.Fatalf("expected AUTH_REQUIRED, got %q", body.Error.Code)
	}
}

func TestRefreshRequiresCSRFToken(t *testing.T) {
	srv := httptest.NewServer(NewRouter(newRouterTestDeps()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/auth/refresh", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("refresh request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", resp.StatusCode)
	}
}

func TestAuthRateLimitFailsClosed(t *testing.T) {
	deps := newRouterTestDeps()
	deps.AuthRateLimitRPM = 1
	srv := httptest.NewServer(NewRouter(deps))
	defer srv.Close()

	// First request consumes the budget and is rejected by the CSRF
	// check; the second must be throttled before it reaches the handler.
	http.Post(srv.URL+"/api/v1/auth/refresh", "application/json", strings.NewReader("{}"))

	resp, err := http.Post(srv.URL+"/api/v1/auth/refresh", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After on throttled response")
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	srv := httptest.NewServer(NewRouter(newRouterTestDeps()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/unknown")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
