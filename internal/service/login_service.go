package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/campus-board/community-auth-backend/internal/apperr"
	"github.com/campus-board/community-auth-backend/internal/clock"
	"github.com/campus-board/community-auth-backend/internal/domain"
	"github.com/campus-board/community-auth-backend/internal/observability"
	"github.com/campus-board/community-auth-backend/internal/repository"
	"github.com/campus-board/community-auth-backend/internal/security"
)

// LoginService authenticates password credentials and opens a session.
// Unknown email and wrong password produce the same error so the login
// form cannot be used to enumerate accounts.
type LoginService struct {
	db     *gorm.DB
	users  repository.UserRepository
	tokens *TokenService
	clock  clock.Clock
}

func NewLoginService(db *gorm.DB, users repository.UserRepository, tokens *TokenService, clk clock.Clock) *LoginService {
	return &LoginService{db: db, users: users, tokens: tokens, clock: clk}
}

type LoginResult struct {
	User        *domain.User
	AccessToken string
	Refresh     Issued
}

func (s *LoginService) Login(ctx context.Context, email, password string, rememberMe bool, ua, ip string) (*LoginResult, error) {
	user, err := s.users.FindByEmail(s.db.WithContext(ctx), email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Burn a hash comparison anyway so timing does not
			// distinguish unknown emails.
			security.VerifyPassword(password, "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")
			observability.RecordAuthLogin(ctx, "unknown_email")
			return nil, apperr.InvalidCredentials
		}
		observability.RecordAuthLogin(ctx, "error")
		return nil, apperr.Unavailable(err)
	}
	if !security.VerifyPassword(password, user.PasswordHash) {
		observability.RecordAuthLogin(ctx, "bad_password")
		return nil, apperr.InvalidCredentials
	}
	if !user.IsActive() {
		observability.RecordAuthLogin(ctx, "disabled")
		return nil, apperr.AccountDisabled
	}

	now := s.clock.Now()
	var (
		issued *Issued
		access string
	)
	err = inTx(ctx, s.db, func(tx *gorm.DB) error {
		user.LastLoginAt = &now
		if err := s.users.Save(tx, user); err != nil {
			return err
		}
		var err error
		issued, err = s.tokens.issueTx(tx, user.ID, rememberMe, ua, ip)
		if err != nil {
			return err
		}
		access, err = s.tokens.AccessToken(user)
		return err
	})
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, err
	}

	observability.RecordAuthLogin(ctx, "success")
	return &LoginResult{User: user, AccessToken: access, Refresh: *issued}, nil
}

// Me returns the account for an authenticated subject.
func (s *LoginService) Me(ctx context.Context, userID uint) (*domain.User, error) {
	user, err := s.users.FindByID(s.db.WithContext(ctx), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperr.UserNotFound
		}
		return nil, apperr.Unavailable(err)
	}
	return user, nil
}
