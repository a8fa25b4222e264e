package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/campus-board/community-auth-backend/internal/health"
	"github.com/campus-board/community-auth-backend/internal/http/handler"
	"github.com/campus-board/community-auth-backend/internal/http/middleware"
	"github.com/campus-board/community-auth-backend/internal/http/response"
	"github.com/campus-board/community-auth-backend/internal/security"
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	JWTManager       *security.JWTManager
	CORSOrigins      []string
	AuthRateLimitRPM int
	APIRateLimitRPM  int
	// Limiter backs the rate limiters; nil falls back to the
	// in-process sliding window.
	Limiter        middleware.Limiter
	Readiness      *health.ProbeRunner
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	limiter := dep.Limiter
	if limiter == nil {
		limiter = middleware.NewLocalSlidingWindowLimiter()
	}
	apiLimiter := middleware.NewRateLimiter(
		limiter,
		middleware.RateLimitPolicy{Limit: dep.APIRateLimitRPM, Window: time.Minute},
		middleware.FailOpen,
		"api",
	).Middleware()
	// Credential endpoints fail closed: if the limiter backend is down
	// we would rather reject than allow unmetered guessing.
	authLimiter := middleware.NewRateLimiter(
		limiter,
		middleware.RateLimitPolicy{Limit: dep.AuthRateLimitRPM, Window: time.Minute},
		middleware.FailClosed,
		"auth",
	).Middleware()

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(apiLimiter)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/signup/otp/request", dep.AuthHandler.RequestSignupOtp)
			r.With(authLimiter).Post("/signup/otp/verify", dep.AuthHandler.VerifySignupOtp)
			r.With(authLimiter).Post("/signup/complete", dep.AuthHandler.CompleteSignup)
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(authLimiter, middleware.CSRFMiddleware).Post("/refresh", dep.AuthHandler.Refresh)
			r.With(middleware.CSRFMiddleware).Post("/logout", dep.AuthHandler.Logout)
			r.Group(func(r chi.Router) {
				r.Use(middleware.AuthMiddleware(dep.JWTManager))
				r.Get("/me", dep.AuthHandler.Me)
				r.Get("/sessions", dep.AuthHandler.Sessions)
				r.With(middleware.CSRFMiddleware).Post("/logout-all", dep.AuthHandler.LogoutAll)
			})
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
