// Package apperr defines the closed error taxonomy of the auth backend.
//
// Codes are part of the API contract: clients branch on them, so a code
// never changes once shipped. Messages and HTTP statuses may evolve.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	// Signup / email policy
	CodeEmailDomainNotAllowed Code = "EMAIL_DOMAIN_NOT_ALLOWED"
	CodeEmailAlreadyExists    Code = "EMAIL_ALREADY_EXISTS"
	CodeNicknameAlreadyExists Code = "NICKNAME_ALREADY_EXISTS"

	// OTP lifecycle
	CodeOtpAlreadyVerified  Code = "OTP_ALREADY_VERIFIED"
	CodeOtpCooldown         Code = "OTP_COOLDOWN"
	CodeOtpDailyLimit       Code = "OTP_DAILY_LIMIT"
	CodeOtpNotFound         Code = "OTP_NOT_FOUND"
	CodeOtpExpired          Code = "OTP_EXPIRED"
	CodeOtpTooManyFailures  Code = "OTP_TOO_MANY_FAILURES"
	CodeOtpInvalid          Code = "OTP_INVALID"
	CodeOtpNotVerified      Code = "OTP_NOT_VERIFIED"

	// Signup input policy
	CodePasswordMismatch Code = "PASSWORD_MISMATCH"
	CodeWeakPassword     Code = "WEAK_PASSWORD"
	CodeInvalidNickname  Code = "INVALID_NICKNAME"

	// Login
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeAccountDisabled    Code = "ACCOUNT_DISABLED"

	// Access tokens
	CodeAuthRequired  Code = "AUTH_REQUIRED"
	CodeAccessInvalid Code = "ACCESS_INVALID"

	// Refresh sessions
	CodeRefreshInvalid Code = "REFRESH_INVALID"
	CodeRefreshExpired Code = "REFRESH_EXPIRED"
	CodeRefreshReused  Code = "REFRESH_REUSED"
	CodeRefreshRevoked Code = "REFRESH_REVOKED"

	CodeUserNotFound    Code = "USER_NOT_FOUND"
	CodeValidationError Code = "VALIDATION_ERROR"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeInternal        Code = "INTERNAL_ERROR"
)

// Error is a policy or infrastructure failure with a stable code.
type Error struct {
	Code              Code
	Status            int
	Message           string
	RetryAfterSeconds int
	// Retryable marks infrastructure failures (lock timeout, store down)
	// the caller may safely retry, as opposed to policy violations.
	Retryable bool
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is match two *Error values by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// WithRetryAfter returns a copy carrying a retry hint in seconds,
// clamped to at least 1 so clients never receive a zero wait.
func (e *Error) WithRetryAfter(seconds int) *Error {
	c := *e
	if seconds < 1 {
		seconds = 1
	}
	c.RetryAfterSeconds = seconds
	return &c
}

func (e *Error) WithCause(err error) *Error {
	c := *e
	c.cause = err
	return &c
}

var (
	EmailDomainNotAllowed = New(CodeEmailDomainNotAllowed, http.StatusBadRequest, "only institutional email addresses may register")
	EmailAlreadyExists    = New(CodeEmailAlreadyExists, http.StatusConflict, "email is already registered")
	NicknameAlreadyExists = New(CodeNicknameAlreadyExists, http.StatusConflict, "nickname is already taken")

	OtpAlreadyVerified = New(CodeOtpAlreadyVerified, http.StatusConflict, "code already verified, complete signup instead")
	OtpCooldown        = New(CodeOtpCooldown, http.StatusTooManyRequests, "please wait before requesting another code")
	OtpDailyLimit      = New(CodeOtpDailyLimit, http.StatusTooManyRequests, "daily code limit reached, try again tomorrow")
	OtpNotFound        = New(CodeOtpNotFound, http.StatusBadRequest, "no code was requested for this address")
	OtpExpired         = New(CodeOtpExpired, http.StatusBadRequest, "code has expired, request a new one")
	OtpTooManyFailures = New(CodeOtpTooManyFailures, http.StatusTooManyRequests, "too many failed attempts, request a new code")
	OtpInvalid         = New(CodeOtpInvalid, http.StatusBadRequest, "incorrect code")
	OtpNotVerified     = New(CodeOtpNotVerified, http.StatusBadRequest, "verify your email code first")

	PasswordMismatch = New(CodePasswordMismatch, http.StatusBadRequest, "passwords do not match")
	WeakPassword     = New(CodeWeakPassword, http.StatusBadRequest, "password must be 9-15 chars with letters, digits and a symbol")
	InvalidNickname  = New(CodeInvalidNickname, http.StatusBadRequest, "nickname must be 2-20 letters, digits or underscores")

	InvalidCredentials = New(CodeInvalidCredentials, http.StatusUnauthorized, "email or password is incorrect")
	AccountDisabled    = New(CodeAccountDisabled, http.StatusForbidden, "account is not active")

	AuthRequired  = New(CodeAuthRequired, http.StatusUnauthorized, "authentication required")
	AccessInvalid = New(CodeAccessInvalid, http.StatusUnauthorized, "access token is not valid")

	// The refresh failures share one external message so an observer
	// cannot distinguish session lifecycle states; codes stay distinct.
	RefreshInvalid = New(CodeRefreshInvalid, http.StatusUnauthorized, "session is not valid")
	RefreshExpired = New(CodeRefreshExpired, http.StatusUnauthorized, "session is not valid")
	RefreshReused  = New(CodeRefreshReused, http.StatusUnauthorized, "session is not valid")
	RefreshRevoked = New(CodeRefreshRevoked, http.StatusUnauthorized, "session is not valid")

	UserNotFound    = New(CodeUserNotFound, http.StatusUnauthorized, "user not found")
	ValidationError = New(CodeValidationError, http.StatusBadRequest, "request is not valid")
	RateLimited     = New(CodeRateLimited, http.StatusTooManyRequests, "too many requests")
	Internal        = New(CodeInternal, http.StatusInternalServerError, "internal error")
)

// Unavailable wraps an infrastructure failure as a retryable error.
func Unavailable(err error) *Error {
	return &Error{
		Code:      CodeUnavailable,
		Status:    http.StatusServiceUnavailable,
		Message:   "temporarily unavailable, please retry",
		Retryable: true,
		cause:     err,
	}
}

// From extracts an *Error, or wraps unknown errors as Internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal.WithCause(err)
}
