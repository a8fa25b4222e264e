package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/campus-board/community-auth-backend/internal/apperr"
	"github.com/campus-board/community-auth-backend/internal/clock"
	"github.com/campus-board/community-auth-backend/internal/domain"
	"github.com/campus-board/community-auth-backend/internal/repository"
	"github.com/campus-board/community-auth-backend/internal/security"
)

func newLoginServiceForTest(t *testing.T) (*LoginService, *TokenService, *clock.Mock, *gorm.DB) {
	t.Helper()
	db := newServiceTestDB(t)
	clk := clock.NewMock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	cfg := testAuthConfig()
	jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret, clk.Now)
	tokens := NewTokenService(db, repository.NewSessionRepository(), repository.NewUserRepository(), jwtMgr, cfg, clk)
	login := NewLoginService(db, repository.NewUserRepository(), tokens, clk)
	return login, tokens, clk, db
}

func TestLoginIssuesSessionAndToken(t *testing.T) {
	login, tokens, clk, db := newLoginServiceForTest(t)
	user := seedUser(t, db, "login@kyonggi.ac.kr")

	result, err := login.Login(context.Background(), user.Email, "correct-pw-1!", true, "ua", "127.0.0.1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.AccessToken == "" || result.Refresh.Secret == "" {
		t.Fatalf("incomplete result: %+v", result)
	}
	if result.Refresh.TTL != testAuthConfig().RememberMeTTL {
		t.Fatalf("rememberMe login must use the long TTL, got %v", result.Refresh.TTL)
	}
	if result.User.LastLoginAt == nil || !result.User.LastLoginAt.Equal(clk.Now()) {
		t.Fatalf("last_login_at not updated: %+v", result.User.LastLoginAt)
	}

	// The pair works end to end: the refresh secret rotates.
	if _, err := tokens.Rotate(context.Background(), result.Refresh.Secret, "ua", "ip"); err != nil {
		t.Fatalf("rotate issued secret: %v", err)
	}
}

func TestLoginCollapsesUnknownAndWrongPassword(t *testing.T) {
	login, _, _, db := newLoginServiceForTest(t)
	user := seedUser(t, db, "collapse@kyonggi.ac.kr")
	ctx := context.Background()

	_, unknownErr := login.Login(ctx, "ghost@kyonggi.ac.kr", "whatever-1!", false, "ua", "ip")
	if !errors.Is(unknownErr, apperr.InvalidCredentials) {
		t.Fatalf("expected InvalidCredentials for unknown email, got %v", unknownErr)
	}
	_, wrongErr := login.Login(ctx, user.Email, "wrong-pw-1!", false, "ua", "ip")
	if !errors.Is(wrongErr, apperr.InvalidCredentials) {
		t.Fatalf("expected InvalidCredentials for wrong password, got %v", wrongErr)
	}
	if apperr.From(unknownErr).Message != apperr.From(wrongErr).Message {
		t.Fatal("unknown email and wrong password must be indistinguishable")
	}
}

func TestLoginRejectsInactiveAccounts(t *testing.T) {
	login, _, _, db := newLoginServiceForTest(t)
	user := seedUser(t, db, "frozen@kyonggi.ac.kr")
	if err := db.Model(user).Update("status", domain.StatusSuspended).Error; err != nil {
		t.Fatalf("suspend: %v", err)
	}

	_, err := login.Login(context.Background(), user.Email, "correct-pw-1!", false, "ua", "ip")
	if !errors.Is(err, apperr.AccountDisabled) {
		t.Fatalf("expected AccountDisabled, got %v", err)
	}

	var count int64
	if err := db.Model(&domain.Session{}).Count(&count).Error; err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if count != 0 {
		t.Fatal("no session may be issued for a disabled account")
	}
}

func TestMe(t *testing.T) {
	login, _, _, db := newLoginServiceForTest(t)
	user := seedUser(t, db, "whoami@kyonggi.ac.kr")

	got, err := login.Me(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if got.Email != user.Email {
		t.Fatalf("unexpected user: %+v", got)
	}

	if _, err := login.Me(context.Background(), 9999); !errors.Is(err, apperr.UserNotFound) {
		t.Fatalf("expected UserNotFound, got %v", err)
	}
}
