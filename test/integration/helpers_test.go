package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/campus-board/community-auth-backend/internal/clock"
	"github.com/campus-board/community-auth-backend/internal/config"
	"github.com/campus-board/community-auth-backend/internal/domain"
	"github.com/campus-board/community-auth-backend/internal/health"
	"github.com/campus-board/community-auth-backend/internal/http/handler"
	"github.com/campus-board/community-auth-backend/internal/http/router"
	"github.com/campus-board/community-auth-backend/internal/mail"
	"github.com/campus-board/community-auth-backend/internal/repository"
	"github.com/campus-board/community-auth-backend/internal/security"
	"github.com/campus-board/community-auth-backend/internal/service"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code              string `json:"code"`
		Message           string `json:"message"`
		RetryAfterSeconds int    `json:"retry_after_seconds"`
	} `json:"error"`
}

// captureOutbox stands in for the SMTP dispatcher so tests can read
// the codes that would have been mailed.
type captureOutbox struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (c *captureOutbox) Enqueue(msg mail.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

var codePattern = regexp.MustCompile(`\d{6}`)

func (c *captureOutbox) lastCodeFor(t *testing.T, email string) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].To == email {
			if code := codePattern.FindString(c.msgs[i].Body); code != "" {
				return code
			}
		}
	}
	t.Fatalf("no code mailed to %s", email)
	return ""
}

type testServer struct {
	BaseURL string
	Client  *http.Client
	Outbox  *captureOutbox
	Clock   *clock.Mock
	DB      *gorm.DB
	close   func()
}

func newAuthTestServer(t *testing.T) *testServer {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.EmailOtp{}, &domain.Session{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clk := clock.NewMock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	otpCfg := config.OTPConfig{
		TTL:            10 * time.Minute,
		MaxFailures:    5,
		ResendCooldown: 20 * time.Second,
		DailySendLimit: 5,
		HMACSecret:     "integration-otp-secret-32-bytes!!!!",
	}
	authCfg := config.AuthConfig{
		JWTIssuer:         "community-auth-backend",
		JWTAudience:       "community-board",
		JWTSecret:         "integration-jwt-secret-32-bytes!!!!",
		AccessTTL:         15 * time.Minute,
		RefreshCookieName: "CB_REFRESH",
		CookiePath:        "/api/v1/auth",
		CookieSameSite:    "Lax",
		RememberMeTTL:     7 * 24 * time.Hour,
		SessionTTL:        24 * time.Hour,
		TokenPepper:       "integration-token-pepper-32bytes!!!",
	}
	allowedDomain := "@kyonggi.ac.kr"

	jwtMgr := security.NewJWTManager(authCfg.JWTIssuer, authCfg.JWTAudience, authCfg.JWTSecret, clk.Now)
	outbox := &captureOutbox{}

	otps := service.NewOtpService(db, repository.NewOtpRepository(), security.NewOtpHasher(otpCfg.HMACSecret), outbox, otpCfg, allowedDomain, clk)
	tokens := service.NewTokenService(db, repository.NewSessionRepository(), repository.NewUserRepository(), jwtMgr, authCfg, clk)
	signup := service.NewSignupService(db, repository.NewUserRepository(), otps, allowedDomain, clk)
	login := service.NewLoginService(db, repository.NewUserRepository(), tokens, clk)

	cookie := security.RefreshCookiePolicy{
		Name:     authCfg.RefreshCookieName,
		Path:     authCfg.CookiePath,
		SameSite: security.ParseSameSite(authCfg.CookieSameSite),
	}
	h := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(otps, signup, login, tokens, cookie),
		JWTManager:       jwtMgr,
		CORSOrigins:      []string{"http://localhost:5173"},
		AuthRateLimitRPM: 1000,
		APIRateLimitRPM:  10000,
		Readiness:        health.NewProbeRunner(time.Second, health.DatabaseProbe(db)),
	})

	srv := httptest.NewServer(h)
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar}

	ts := &testServer{
		BaseURL: srv.URL,
		Client:  client,
		Outbox:  outbox,
		Clock:   clk,
		DB:      db,
		close:   srv.Close,
	}
	t.Cleanup(ts.close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, rawURL string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, rawURL, buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, rawURL, err)
	}
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope from %q: %v", raw, err)
		}
	}
	return resp, env
}

func cookieValue(t *testing.T, client *http.Client, baseURL, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL + "/api/v1/auth")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// signupAndLogin walks a fresh user through the whole funnel and
// leaves the session cookies in the client jar.
func (ts *testServer) signupAndLogin(t *testing.T, email, nickname string, rememberMe bool) string {
	t.Helper()

	resp, env := doJSON(t, ts.Client, http.MethodPost, ts.BaseURL+"/api/v1/auth/signup/otp/request", map[string]string{"email": email}, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("otp request: status=%d error=%+v", resp.StatusCode, env.Error)
	}
	code := ts.Outbox.lastCodeFor(t, email)

	resp, env = doJSON(t, ts.Client, http.MethodPost, ts.BaseURL+"/api/v1/auth/signup/otp/verify", map[string]string{"email": email, "code": code}, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("otp verify: status=%d error=%+v", resp.StatusCode, env.Error)
	}

	resp, env = doJSON(t, ts.Client, http.MethodPost, ts.BaseURL+"/api/v1/auth/signup/complete", map[string]string{
		"email":           email,
		"password":        "integration-1!",
		"confirmPassword": "integration-1!",
		"nickname":        nickname,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup complete: status=%d error=%+v", resp.StatusCode, env.Error)
	}

	resp, env = doJSON(t, ts.Client, http.MethodPost, ts.BaseURL+"/api/v1/auth/login", map[string]any{
		"email":      email,
		"password":   "integration-1!",
		"rememberMe": rememberMe,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status=%d error=%+v", resp.StatusCode, env.Error)
	}
	var payload struct {
		Token struct {
			AccessToken string `json:"access_token"`
		} `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode login payload: %v", err)
	}
	if payload.Token.AccessToken == "" {
		t.Fatal("login returned no access token")
	}
	return payload.Token.AccessToken
}
