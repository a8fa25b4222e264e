package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/campus-board/community-auth-backend/internal/apperr"
	"github.com/campus-board/community-auth-backend/internal/clock"
	"github.com/campus-board/community-auth-backend/internal/config"
	"github.com/campus-board/community-auth-backend/internal/domain"
	"github.com/campus-board/community-auth-backend/internal/observability"
	"github.com/campus-board/community-auth-backend/internal/repository"
	"github.com/campus-board/community-auth-backend/internal/security"
)

// TokenService owns the refresh-session lifecycle: issue, rotate,
// revoke, reuse detection. The store never sees a raw secret, only its
// peppered hash, and a rotated row is kept forever as a tripwire.
type TokenService struct {
	db       *gorm.DB
	sessions repository.SessionRepository
	users    repository.UserRepository
	jwtMgr   *security.JWTManager
	pepper   string

	accessTTL     time.Duration
	rememberMeTTL time.Duration
	sessionTTL    time.Duration

	clock clock.Clock
}

// Issued carries the raw secret exactly once; it is not retrievable
// again after this value is dropped.
type Issued struct {
	Secret     string
	ExpiresAt  time.Time
	RememberMe bool
	TTL        time.Duration
}

type RotateResult struct {
	AccessToken string
	Issued      Issued
	UserID      uint
}

func NewTokenService(
	db *gorm.DB,
	sessions repository.SessionRepository,
	users repository.UserRepository,
	jwtMgr *security.JWTManager,
	authCfg config.AuthConfig,
	clk clock.Clock,
) *TokenService {
	return &TokenService{
		db:            db,
		sessions:      sessions,
		users:         users,
		jwtMgr:        jwtMgr,
		pepper:        authCfg.TokenPepper,
		accessTTL:     authCfg.AccessTTL,
		rememberMeTTL: authCfg.RememberMeTTL,
		sessionTTL:    authCfg.SessionTTL,
		clock:         clk,
	}
}

func (s *TokenService) ttlFor(rememberMe bool) time.Duration {
	if rememberMe {
		return s.rememberMeTTL
	}
	return s.sessionTTL
}

// Issue creates a new session for the user and returns the raw secret.
func (s *TokenService) Issue(ctx context.Context, userID uint, rememberMe bool, ua, ip string) (*Issued, error) {
	var issued *Issued
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		issued, err = s.issueTx(tx, userID, rememberMe, ua, ip)
		return err
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

func (s *TokenService) issueTx(tx *gorm.DB, userID uint, rememberMe bool, ua, ip string) (*Issued, error) {
	now := s.clock.Now()
	ttl := s.ttlFor(rememberMe)
	secret, err := security.NewRefreshSecret()
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}

	session := &domain.Session{
		UserID:     userID,
		TokenHash:  security.HashRefreshToken(secret, s.pepper),
		RememberMe: rememberMe,
		ExpiresAt:  now.Add(ttl),
		UserAgent:  ua,
		IPAddress:  ip,
	}
	if err := s.sessions.Create(tx, session); err != nil {
		return nil, err
	}
	return &Issued{Secret: secret, ExpiresAt: session.ExpiresAt, RememberMe: rememberMe, TTL: ttl}, nil
}

// Rotate exchanges a live secret for a fresh session plus access token.
//
// The old row is read under an exclusive lock, so concurrent rotations
// of one secret serialize and exactly one wins. Validation order is
// fixed: unknown secret, already-rotated (the reuse signal), revoked,
// expired, then owner lookup. A missing owner is reported as plain
// Invalid so this channel cannot confirm account existence.
//
// The replacement inherits the old row's rememberMe policy, never the
// caller's view of it.
func (s *TokenService) Rotate(ctx context.Context, oldSecret, ua, ip string) (*RotateResult, error) {
	if oldSecret == "" {
		observability.RecordAuthRefresh(ctx, "missing_secret")
		return nil, apperr.RefreshInvalid
	}
	hash := security.HashRefreshToken(oldSecret, s.pepper)
	now := s.clock.Now()

	var result *RotateResult
	var cause string
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		old, err := s.sessions.FindByHashForUpdate(tx, hash)
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				return apperr.RefreshInvalid
			}
			return err
		}
		if old.IsRotated() {
			return apperr.RefreshReused
		}
		if old.IsRevoked() {
			return apperr.RefreshRevoked
		}
		if old.IsExpired(now) {
			return apperr.RefreshExpired
		}
		user, err := s.users.FindByID(tx, old.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				// Collapsed with unknown-secret on purpose; the metric
				// keeps the distinct cause for audit.
				cause = "user_missing"
				return apperr.RefreshInvalid
			}
			return err
		}

		old.Touch(now)
		old.Revoke(now, domain.RevokeReasonRotated)
		if err := s.sessions.Save(tx, old); err != nil {
			return err
		}

		issued, err := s.issueTx(tx, old.UserID, old.RememberMe, ua, ip)
		if err != nil {
			return err
		}
		access, err := s.jwtMgr.SignAccessToken(user.ID, user.Role, s.accessTTL)
		if err != nil {
			return err
		}
		result = &RotateResult{AccessToken: access, Issued: *issued, UserID: user.ID}
		return nil
	})
	if err != nil {
		if cause == "" {
			cause = refreshOutcome(err)
		}
		observability.RecordAuthRefresh(ctx, cause)
		return nil, err
	}
	observability.RecordAuthRefresh(ctx, "rotated")
	return result, nil
}

// RevokeIfPresent ends the session for the given secret, if any.
// Unknown or blank secrets succeed silently: logout is idempotent and
// must not reveal whether a session existed. Revoking twice is a no-op.
func (s *TokenService) RevokeIfPresent(ctx context.Context, secret string, reason domain.RevokeReason) error {
	if secret == "" {
		observability.RecordAuthLogout(ctx, "no_cookie")
		return nil
	}
	hash := security.HashRefreshToken(secret, s.pepper)
	now := s.clock.Now()

	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		session, err := s.sessions.FindByHashForUpdate(tx, hash)
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				return nil
			}
			return err
		}
		session.Touch(now)
		session.Revoke(now, reason)
		return s.sessions.Save(tx, session)
	})
	if err != nil {
		observability.RecordAuthLogout(ctx, "error")
		return err
	}
	observability.RecordAuthLogout(ctx, "revoked")
	return nil
}

// AccessToken mints a stateless credential for the user.
func (s *TokenService) AccessToken(user *domain.User) (string, error) {
	return s.jwtMgr.SignAccessToken(user.ID, user.Role, s.accessTTL)
}

// AccessTTL is the lifetime handed to clients alongside a new token.
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// ListActiveSessions returns the user's live sessions for the
// session-management surface.
func (s *TokenService) ListActiveSessions(ctx context.Context, userID uint) ([]domain.Session, error) {
	sessions, err := s.sessions.ListActiveByUserID(s.db.WithContext(ctx), userID, s.clock.Now())
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return sessions, nil
}

// RevokeAllForUser force-logs-out every live session of the user.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := inTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		n, err = s.sessions.RevokeAllByUserID(tx, userID, domain.RevokeReasonLogout, s.clock.Now())
		return err
	})
	return n, err
}

// CleanupExpired deletes sessions whose expiry is older than the
// retention window. Run from the ops command, not request paths.
func (s *TokenService) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.clock.Now().Add(-retention)
	n, err := s.sessions.DeleteExpiredBefore(s.db.WithContext(ctx), cutoff)
	if err != nil {
		return n, apperr.Unavailable(err)
	}
	return n, nil
}

func refreshOutcome(err error) string {
	switch {
	case errors.Is(err, apperr.RefreshReused):
		return "reused"
	case errors.Is(err, apperr.RefreshRevoked):
		return "revoked"
	case errors.Is(err, apperr.RefreshExpired):
		return "expired"
	case errors.Is(err, apperr.RefreshInvalid):
		return "not_found"
	default:
		return "error"
	}
}
