package service

import (
	"strings"

	"github.com/campus-board/community-auth-backend/internal/apperr"
)

// NormalizeAllowedEmail trims and lower-cases the address and enforces
// the closed-community domain. Shape validation is the handler's job;
// the domain restriction is policy and stays here.
func NormalizeAllowedEmail(raw, allowedDomain string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || !strings.HasSuffix(email, allowedDomain) {
		return "", apperr.EmailDomainNotAllowed
	}
	return email, nil
}
