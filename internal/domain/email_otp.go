package domain

import "time"

type OtpPurpose string

const (
	OtpPurposeSignup OtpPurpose = "SIGNUP"
)

// EmailOtp is the single challenge row per (email, purpose).
//
// Invariants:
//   - at most one row per (email, purpose), enforced by the composite
//     unique index, which also arbitrates concurrent first requests;
//   - CodeHash stores a keyed hash only, never the raw code;
//   - the row is reused across reissues and deleted once consumed by a
//     completed signup.
type EmailOtp struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Email             string     `gorm:"size:255;not null;uniqueIndex:uq_email_otp_email_purpose" json:"email"`
	Purpose           OtpPurpose `gorm:"size:20;not null;uniqueIndex:uq_email_otp_email_purpose" json:"purpose"`
	CodeHash          string     `gorm:"size:100;not null" json:"-"`
	ExpiresAt         time.Time  `gorm:"not null" json:"expires_at"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	FailedAttempts    int        `gorm:"not null;default:0" json:"failed_attempts"`
	LastSentAt        time.Time  `gorm:"not null" json:"last_sent_at"`
	ResendAvailableAt time.Time  `gorm:"not null" json:"resend_available_at"`
	SendCountDate     time.Time  `gorm:"not null" json:"send_count_date"`
	SendCount         int        `gorm:"not null;default:0" json:"send_count"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func NewEmailOtp(email string, purpose OtpPurpose, codeHash string, now, expiresAt, resendAvailableAt time.Time) *EmailOtp {
	return &EmailOtp{
		Email:             email,
		Purpose:           purpose,
		CodeHash:          codeHash,
		ExpiresAt:         expiresAt,
		FailedAttempts:    0,
		LastSentAt:        now,
		ResendAvailableAt: resendAvailableAt,
		SendCountDate:     DateOf(now),
		SendCount:         1,
	}
}

// Reissue overwrites the challenge with a fresh code while preserving
// row identity. The daily counter resets when the date has rolled over.
func (o *EmailOtp) Reissue(codeHash string, now, expiresAt, resendAvailableAt time.Time) {
	o.CodeHash = codeHash
	o.ExpiresAt = expiresAt
	o.VerifiedAt = nil
	o.FailedAttempts = 0

	today := DateOf(now)
	if !o.SendCountDate.Equal(today) {
		o.SendCountDate = today
		o.SendCount = 0
	}
	o.SendCount++
	o.LastSentAt = now
	o.ResendAvailableAt = resendAvailableAt
}

func (o *EmailOtp) IsVerified() bool { return o.VerifiedAt != nil }

func (o *EmailOtp) IsExpired(now time.Time) bool { return !o.ExpiresAt.After(now) }

func (o *EmailOtp) MarkVerified(now time.Time) { o.VerifiedAt = &now }

func (o *EmailOtp) IncreaseFailure() { o.FailedAttempts++ }

// SendCountToday treats a stale quota window as zero.
func (o *EmailOtp) SendCountToday(now time.Time) int {
	if !o.SendCountDate.Equal(DateOf(now)) {
		return 0
	}
	return o.SendCount
}

// DateOf truncates a timestamp to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
