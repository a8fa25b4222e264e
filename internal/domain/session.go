package domain

import "time"

type RevokeReason string

const (
	RevokeReasonRotated RevokeReason = "ROTATED"
	RevokeReasonLogout  RevokeReason = "LOGOUT"
)

// Session is a refresh-token-backed login grant. The raw secret is never
// persisted; TokenHash holds its peppered HMAC and is the lookup key.
// Rows are revoked, never deleted, so a rotated hash stays behind as a
// tripwire for replay of the old secret.
type Session struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	UserID       uint          `gorm:"index;not null" json:"user_id"`
	TokenHash    string        `gorm:"size:128;uniqueIndex;not null" json:"-"`
	RememberMe   bool          `gorm:"not null" json:"remember_me"`
	ExpiresAt    time.Time     `gorm:"index;not null" json:"expires_at"`
	LastUsedAt   *time.Time    `json:"last_used_at,omitempty"`
	RevokedAt    *time.Time    `gorm:"index" json:"revoked_at,omitempty"`
	RevokeReason *RevokeReason `gorm:"size:50" json:"revoke_reason,omitempty"`
	UserAgent    string        `gorm:"size:255" json:"user_agent"`
	IPAddress    string        `gorm:"size:45" json:"ip_address"`
	CreatedAt    time.Time     `json:"created_at"`
}

func (s *Session) IsRevoked() bool { return s.RevokedAt != nil }

// IsRotated reports whether the session was replaced by rotation.
// Presenting its secret again is treated as reuse, not a retry.
func (s *Session) IsRotated() bool {
	return s.RevokedAt != nil && s.RevokeReason != nil && *s.RevokeReason == RevokeReasonRotated
}

func (s *Session) IsExpired(now time.Time) bool { return !s.ExpiresAt.After(now) }

func (s *Session) Touch(now time.Time) { s.LastUsedAt = &now }

// Revoke is idempotent: a second call keeps the first reason and time.
func (s *Session) Revoke(now time.Time, reason RevokeReason) {
	if s.RevokedAt != nil {
		return
	}
	s.RevokedAt = &now
	s.RevokeReason = &reason
}
