// Package handler holds the HTTP surface: request decoding, input
// validation, cookie handling. All policy lives in the services.
package handler

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/campus-board/community-auth-backend/internal/apperr"
	"github.com/campus-board/community-auth-backend/internal/domain"
	"github.com/campus-board/community-auth-backend/internal/http/middleware"
	"github.com/campus-board/community-auth-backend/internal/http/response"
	"github.com/campus-board/community-auth-backend/internal/observability"
	"github.com/campus-board/community-auth-backend/internal/security"
	"github.com/campus-board/community-auth-backend/internal/service"
)

var validate = validator.New()

type AuthHandler struct {
	otps   *service.OtpService
	signup *service.SignupService
	login  *service.LoginService
	tokens *service.TokenService
	cookie security.RefreshCookiePolicy
}

func NewAuthHandler(
	otps *service.OtpService,
	signup *service.SignupService,
	login *service.LoginService,
	tokens *service.TokenService,
	cookie security.RefreshCookiePolicy,
) *AuthHandler {
	return &AuthHandler{otps: otps, signup: signup, login: login, tokens: tokens, cookie: cookie}
}

type otpRequestBody struct {
	Email string `json:"email" validate:"required,email"`
}

type otpVerifyBody struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

type signupCompleteBody struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
	Nickname        string `json:"nickname" validate:"required"`
}

type loginBody struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"rememberMe"`
}

type tokenPayload struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type userPayload struct {
	ID        uint       `json:"id"`
	Email     string     `json:"email"`
	Nickname  string     `json:"nickname"`
	Role      string     `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login_at,omitempty"`
}

type sessionPayload struct {
	ID         uint       `json:"id"`
	RememberMe bool       `json:"remember_me"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	IPAddress  string     `json:"ip_address,omitempty"`
}

func toUserPayload(u *domain.User) userPayload {
	return userPayload{
		ID:        u.ID,
		Email:     u.Email,
		Nickname:  u.Nickname,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
		LastLogin: u.LastLoginAt,
	}
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.ValidationError.WithCause(err)
	}
	if err := validate.Struct(dst); err != nil {
		return apperr.ValidationError.WithCause(err)
	}
	return nil
}

// RequestSignupOtp issues or reissues the signup email code.
func (h *AuthHandler) RequestSignupOtp(w http.ResponseWriter, r *http.Request) {
	var body otpRequestBody
	if err := decode(r, &body); err != nil {
		response.Err(w, r, err)
		return
	}
	if err := h.otps.RequestChallenge(r.Context(), body.Email, domain.OtpPurposeSignup); err != nil {
		observability.Audit(r, "signup.otp.request.denied", "code", string(apperr.From(err).Code))
		response.Err(w, r, err)
		return
	}
	observability.Audit(r, "signup.otp.requested")
	response.NoContent(w)
}

// VerifySignupOtp checks the submitted code against the challenge.
func (h *AuthHandler) VerifySignupOtp(w http.ResponseWriter, r *http.Request) {
	var body otpVerifyBody
	if err := decode(r, &body); err != nil {
		response.Err(w, r, err)
		return
	}
	if err := h.otps.VerifyChallenge(r.Context(), body.Email, domain.OtpPurposeSignup, body.Code); err != nil {
		observability.Audit(r, "signup.otp.verify.failed", "code", string(apperr.From(err).Code))
		response.Err(w, r, err)
		return
	}
	observability.Audit(r, "signup.otp.verified")
	response.NoContent(w)
}

// CompleteSignup creates the account once the email is verified.
func (h *AuthHandler) CompleteSignup(w http.ResponseWriter, r *http.Request) {
	var body signupCompleteBody
	if err := decode(r, &body); err != nil {
		response.Err(w, r, err)
		return
	}
	user, err := h.signup.CompleteSignup(r.Context(), service.CompleteSignupInput{
		Email:           body.Email,
		Password:        body.Password,
		ConfirmPassword: body.ConfirmPassword,
		Nickname:        body.Nickname,
	})
	if err != nil {
		observability.Audit(r, "signup.complete.failed", "code", string(apperr.From(err).Code))
		response.Err(w, r, err)
		return
	}
	observability.Audit(r, "signup.completed", "user_id", user.ID)
	response.JSON(w, r, http.StatusCreated, toUserPayload(user))
}

// Login authenticates credentials, opens a session and sets the
// refresh cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := decode(r, &body); err != nil {
		response.Err(w, r, err)
		return
	}
	result, err := h.login.Login(r.Context(), body.Email, body.Password, body.RememberMe, r.UserAgent(), clientIP(r))
	if err != nil {
		observability.Audit(r, "auth.login.failed", "code", string(apperr.From(err).Code))
		response.Err(w, r, err)
		return
	}
	h.cookie.Set(w, result.Refresh.Secret, result.Refresh.TTL)
	h.setCSRF(w, result.Refresh.TTL)
	observability.Audit(r, "auth.login", "user_id", result.User.ID, "remember_me", body.RememberMe)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"token": tokenPayload{AccessToken: result.AccessToken, TokenType: "Bearer", ExpiresIn: int(h.tokens.AccessTTL().Seconds())},
		"user":  toUserPayload(result.User),
	})
}

// Refresh rotates the session named by the cookie. A policy rejection
// clears the cookie because that secret is dead either way; a retryable
// infrastructure failure leaves it in place so the client can try again.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	secret := security.GetCookie(r, h.cookie.Name)
	result, err := h.tokens.Rotate(r.Context(), secret, r.UserAgent(), clientIP(r))
	if err != nil {
		if !apperr.From(err).Retryable {
			h.cookie.Clear(w)
		}
		observability.Audit(r, "auth.refresh.failed", "code", string(apperr.From(err).Code))
		response.Err(w, r, err)
		return
	}
	h.cookie.Set(w, result.Issued.Secret, result.Issued.TTL)
	h.setCSRF(w, result.Issued.TTL)
	observability.Audit(r, "auth.refresh", "user_id", result.UserID)
	response.JSON(w, r, http.StatusOK, tokenPayload{
		AccessToken: result.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.tokens.AccessTTL().Seconds()),
	})
}

// Logout revokes the session if one exists and clears the cookie.
// Always 204: logging out twice is not an error.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	secret := security.GetCookie(r, h.cookie.Name)
	if err := h.tokens.RevokeIfPresent(r.Context(), secret, domain.RevokeReasonLogout); err != nil {
		observability.Audit(r, "auth.logout.error", "code", string(apperr.From(err).Code))
	}
	h.cookie.Clear(w)
	observability.Audit(r, "auth.logout")
	response.NoContent(w)
}

// Me returns the authenticated account.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.SubjectFromContext(r.Context())
	if !ok {
		response.Err(w, r, apperr.AuthRequired)
		return
	}
	user, err := h.login.Me(r.Context(), userID)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toUserPayload(user))
}

// Sessions lists the caller's live sessions.
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.SubjectFromContext(r.Context())
	if !ok {
		response.Err(w, r, apperr.AuthRequired)
		return
	}
	sessions, err := h.tokens.ListActiveSessions(r.Context(), userID)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	payload := make([]sessionPayload, 0, len(sessions))
	for _, s := range sessions {
		payload = append(payload, sessionPayload{
			ID:         s.ID,
			RememberMe: s.RememberMe,
			CreatedAt:  s.CreatedAt,
			ExpiresAt:  s.ExpiresAt,
			LastUsedAt: s.LastUsedAt,
			UserAgent:  s.UserAgent,
			IPAddress:  s.IPAddress,
		})
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": payload})
}

// LogoutAll revokes every live session of the caller and clears the
// cookie on this client.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.SubjectFromContext(r.Context())
	if !ok {
		response.Err(w, r, apperr.AuthRequired)
		return
	}
	n, err := h.tokens.RevokeAllForUser(r.Context(), userID)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	h.cookie.Clear(w)
	observability.Audit(r, "auth.logout_all", "user_id", userID, "revoked", n)
	response.JSON(w, r, http.StatusOK, map[string]any{"revoked": n})
}

// setCSRF refreshes the double-submit token whenever a new refresh
// cookie is written. Failure only degrades csrf-guarded routes, so it
// is logged, not fatal.
func (h *AuthHandler) setCSRF(w http.ResponseWriter, ttl time.Duration) {
	token, err := security.NewCSRFToken()
	if err != nil {
		slog.Error("csrf token generation failed", "error", err)
		return
	}
	security.SetCSRF(w, token, ttl, h.cookie.Secure)
}

func clientIP(r *http.Request) string {
	// RealIP middleware rewrites RemoteAddr from the forwarding headers.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
