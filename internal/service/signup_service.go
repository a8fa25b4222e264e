package service

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"gorm.io/gorm"

	"github.com/campus-board/community-auth-backend/internal/apperr"
	"github.com/campus-board/community-auth-backend/internal/clock"
	"github.com/campus-board/community-auth-backend/internal/domain"
	"github.com/campus-board/community-auth-backend/internal/repository"
	"github.com/campus-board/community-auth-backend/internal/security"
)

// SignupService finishes registration after the email challenge has
// been verified. Consuming the challenge and creating the account
// happen in one transaction so a crash between them cannot leave a
// spent challenge without an account.
type SignupService struct {
	db            *gorm.DB
	users         repository.UserRepository
	otps          *OtpService
	allowedDomain string
	clock         clock.Clock
}

func NewSignupService(db *gorm.DB, users repository.UserRepository, otps *OtpService, allowedDomain string, clk clock.Clock) *SignupService {
	return &SignupService{
		db:            db,
		users:         users,
		otps:          otps,
		allowedDomain: allowedDomain,
		clock:         clk,
	}
}

type CompleteSignupInput struct {
	Email           string
	Password        string
	ConfirmPassword string
	Nickname        string
}

// CompleteSignup validates the inputs, consumes the verified email
// challenge, and creates the account. Uniqueness is pre-checked for
// friendly errors, but the database constraint stays the arbiter:
// a duplicate insert that slips past the pre-check is re-read and
// re-classified, never surfaced as an internal error.
func (s *SignupService) CompleteSignup(ctx context.Context, in CompleteSignupInput) (*domain.User, error) {
	email, err := NormalizeAllowedEmail(in.Email, s.allowedDomain)
	if err != nil {
		return nil, err
	}
	if in.Password != in.ConfirmPassword {
		return nil, apperr.PasswordMismatch
	}
	if !validPassword(in.Password) {
		return nil, apperr.WeakPassword
	}
	nickname := strings.TrimSpace(in.Nickname)
	if !validNickname(nickname) {
		return nil, apperr.InvalidNickname
	}

	hash, err := security.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}

	var user *domain.User
	err = inTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.otps.ConsumeVerified(tx, email, domain.OtpPurposeSignup, s.clock.Now()); err != nil {
			return err
		}
		if taken, err := s.users.ExistsByEmail(tx, email); err != nil {
			return err
		} else if taken {
			return apperr.EmailAlreadyExists
		}
		if taken, err := s.users.ExistsByNickname(tx, nickname); err != nil {
			return err
		} else if taken {
			return apperr.NicknameAlreadyExists
		}

		user = &domain.User{
			Email:        email,
			PasswordHash: hash,
			Nickname:     nickname,
			Role:         domain.RoleUser,
			Status:       domain.StatusActive,
		}
		if err := s.users.Create(tx, user); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return s.classifyDuplicate(tx, email, nickname)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// classifyDuplicate turns a constraint violation into the matching
// conflict error by re-checking which column collided.
func (s *SignupService) classifyDuplicate(tx *gorm.DB, email, nickname string) error {
	if taken, err := s.users.ExistsByEmail(tx, email); err == nil && taken {
		return apperr.EmailAlreadyExists
	}
	if taken, err := s.users.ExistsByNickname(tx, nickname); err == nil && taken {
		return apperr.NicknameAlreadyExists
	}
	return apperr.EmailAlreadyExists
}

// validPassword: 9 to 15 characters, at least one letter, one digit
// and one symbol, no whitespace.
func validPassword(pw string) bool {
	runes := []rune(pw)
	if len(runes) < 9 || len(runes) > 15 {
		return false
	}
	var hasLetter, hasDigit, hasSymbol bool
	for _, r := range runes {
		switch {
		case unicode.IsSpace(r):
			return false
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
			hasLetter = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	return hasLetter && hasDigit && hasSymbol
}

// validNickname: 2 to 20 runes of letters, digits or underscore.
// Letters include Hangul so Korean handles work.
func validNickname(name string) bool {
	runes := []rune(name)
	if len(runes) < 2 || len(runes) > 20 {
		return false
	}
	for _, r := range runes {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}
