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
	"github.com/campus-board/community-auth-backend/internal/mail"
	"github.com/campus-board/community-auth-backend/internal/observability"
	"github.com/campus-board/community-auth-backend/internal/repository"
	"github.com/campus-board/community-auth-backend/internal/security"
)

// MailEnqueuer accepts a message for post-commit delivery.
type MailEnqueuer interface {
	Enqueue(msg mail.Message)
}

// errLostInsertRace marks the loser of a concurrent first request:
// the unique (email, purpose) constraint rejected our insert, so the
// row now exists and a second unit of work can lock it.
var errLostInsertRace = errors.New("lost otp insert race")

// OtpService owns the one-time-passcode lifecycle per (email, purpose):
// issuance with cooldown and daily quota, verification with a failure
// counter, and consumption by a completed signup.
//
// Every operation is one transaction holding the FOR UPDATE lock on the
// challenge row; mail leaves the building only after commit.
type OtpService struct {
	db            *gorm.DB
	otps          repository.OtpRepository
	hasher        *security.OtpHasher
	outbox        MailEnqueuer
	cfg           config.OTPConfig
	allowedDomain string
	clock         clock.Clock
}

func NewOtpService(
	db *gorm.DB,
	otps repository.OtpRepository,
	hasher *security.OtpHasher,
	outbox MailEnqueuer,
	cfg config.OTPConfig,
	allowedDomain string,
	clk clock.Clock,
) *OtpService {
	return &OtpService{
		db:            db,
		otps:          otps,
		hasher:        hasher,
		outbox:        outbox,
		cfg:           cfg,
		allowedDomain: allowedDomain,
		clock:         clk,
	}
}

// RequestChallenge issues or reissues the code for (email, purpose).
//
// Reissue policy, first violation wins: a verified and still-live
// challenge blocks reissue, then the daily quota, then the cooldown.
// The first-ever request has no row to lock, so two creators may race;
// the unique constraint picks the winner and the loser replays the
// policy against the winner's row in a fresh unit of work, once.
func (s *OtpService) RequestChallenge(ctx context.Context, rawEmail string, purpose domain.OtpPurpose) error {
	email, err := NormalizeAllowedEmail(rawEmail, s.allowedDomain)
	if err != nil {
		observability.RecordOtpRequest(ctx, "domain_not_allowed")
		return err
	}

	code, err := security.GenerateOtpCode()
	if err != nil {
		return apperr.Internal.WithCause(err)
	}
	codeHash := s.hasher.Hash(code)
	now := s.clock.Now()

	err = s.inTx(ctx, func(tx *gorm.DB) error {
		otp, err := s.otps.FindForUpdate(tx, email, purpose)
		switch {
		case err == nil:
			if err := s.validateReissuePolicy(otp, now); err != nil {
				return err
			}
			otp.Reissue(codeHash, now, now.Add(s.cfg.TTL), now.Add(s.cfg.ResendCooldown))
			return s.otps.Save(tx, otp)
		case errors.Is(err, repository.ErrOtpNotFound):
			fresh := domain.NewEmailOtp(email, purpose, codeHash, now, now.Add(s.cfg.TTL), now.Add(s.cfg.ResendCooldown))
			if cerr := s.otps.Create(tx, fresh); cerr != nil {
				if errors.Is(cerr, gorm.ErrDuplicatedKey) {
					return errLostInsertRace
				}
				return cerr
			}
			return nil
		default:
			return err
		}
	})
	if errors.Is(err, errLostInsertRace) {
		// Single bounded retry: the row exists now, lock it and replay.
		err = s.inTx(ctx, func(tx *gorm.DB) error {
			otp, ferr := s.otps.FindForUpdate(tx, email, purpose)
			if ferr != nil {
				return ferr
			}
			if perr := s.validateReissuePolicy(otp, now); perr != nil {
				return perr
			}
			otp.Reissue(codeHash, now, now.Add(s.cfg.TTL), now.Add(s.cfg.ResendCooldown))
			return s.otps.Save(tx, otp)
		})
	}
	if err != nil {
		observability.RecordOtpRequest(ctx, requestOutcome(err))
		return err
	}

	// Post-commit only: a rolled-back challenge must never be mailed,
	// and a mail failure must never fail the committed issuance.
	s.outbox.Enqueue(mail.OtpMessage(email, code))
	observability.RecordOtpRequest(ctx, "issued")
	return nil
}

func (s *OtpService) validateReissuePolicy(otp *domain.EmailOtp, now time.Time) error {
	if otp.IsVerified() && !otp.IsExpired(now) {
		return apperr.OtpAlreadyVerified
	}
	if otp.SendCountToday(now) >= s.cfg.DailySendLimit {
		return apperr.OtpDailyLimit.WithRetryAfter(secondsUntilTomorrow(now))
	}
	if otp.ResendAvailableAt.After(now) {
		return apperr.OtpCooldown.WithRetryAfter(int(otp.ResendAvailableAt.Sub(now).Seconds()))
	}
	return nil
}

// VerifyChallenge checks a submitted code against the stored hash.
//
// An already-verified challenge succeeds idempotently without touching
// the failure counter. A mismatch increments the counter and commits it
// even though the call fails; this is the one exception to
// fail-means-rollback, so abuse tracking survives the error.
func (s *OtpService) VerifyChallenge(ctx context.Context, rawEmail string, purpose domain.OtpPurpose, code string) error {
	email, err := NormalizeAllowedEmail(rawEmail, s.allowedDomain)
	if err != nil {
		observability.RecordOtpVerify(ctx, "domain_not_allowed")
		return err
	}
	now := s.clock.Now()

	var mismatch *apperr.Error
	err = s.inTx(ctx, func(tx *gorm.DB) error {
		otp, err := s.otps.FindForUpdate(tx, email, purpose)
		if err != nil {
			if errors.Is(err, repository.ErrOtpNotFound) {
				return apperr.OtpNotFound
			}
			return err
		}
		if otp.IsVerified() {
			return nil
		}
		if otp.IsExpired(now) {
			return apperr.OtpExpired
		}
		if otp.FailedAttempts >= s.cfg.MaxFailures {
			return apperr.OtpTooManyFailures
		}
		if !s.hasher.Matches(code, otp.CodeHash) {
			otp.IncreaseFailure()
			if err := s.otps.Save(tx, otp); err != nil {
				return err
			}
			mismatch = apperr.OtpInvalid
			return nil // commit the counter bump
		}
		otp.MarkVerified(now)
		return s.otps.Save(tx, otp)
	})
	if err != nil {
		observability.RecordOtpVerify(ctx, verifyOutcome(err))
		return err
	}
	if mismatch != nil {
		observability.RecordOtpVerify(ctx, "invalid_code")
		return mismatch
	}
	observability.RecordOtpVerify(ctx, "verified")
	return nil
}

// ConsumeVerified runs inside the caller's transaction (signup
// completion): it locks the challenge, requires it verified and
// unexpired, and deletes it so the code is strictly one-time.
func (s *OtpService) ConsumeVerified(tx *gorm.DB, email string, purpose domain.OtpPurpose, now time.Time) error {
	otp, err := s.otps.FindForUpdate(tx, email, purpose)
	if err != nil {
		if errors.Is(err, repository.ErrOtpNotFound) {
			return apperr.OtpNotFound
		}
		return err
	}
	if !otp.IsVerified() {
		return apperr.OtpNotVerified
	}
	if otp.IsExpired(now) {
		return apperr.OtpExpired
	}
	return s.otps.Delete(tx, otp)
}

func (s *OtpService) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return inTx(ctx, s.db, fn)
}

func secondsUntilTomorrow(now time.Time) int {
	tomorrow := domain.DateOf(now).Add(24 * time.Hour)
	return int(tomorrow.Sub(now).Seconds())
}

func requestOutcome(err error) string {
	switch {
	case errors.Is(err, apperr.OtpAlreadyVerified):
		return "already_verified"
	case errors.Is(err, apperr.OtpDailyLimit):
		return "daily_limit"
	case errors.Is(err, apperr.OtpCooldown):
		return "cooldown"
	default:
		return "error"
	}
}

func verifyOutcome(err error) string {
	switch {
	case errors.Is(err, apperr.OtpNotFound):
		return "not_found"
	case errors.Is(err, apperr.OtpExpired):
		return "expired"
	case errors.Is(err, apperr.OtpTooManyFailures):
		return "too_many_failures"
	default:
		return "error"
	}
}
