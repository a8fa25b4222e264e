// Package app assembles the service from its parts. All construction
// happens here so cmd stays a thin shell around Run.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/campus-board/community-auth-backend/internal/clock"
	"github.com/campus-board/community-auth-backend/internal/config"
	"github.com/campus-board/community-auth-backend/internal/health"
	"github.com/campus-board/community-auth-backend/internal/http/handler"
	"github.com/campus-board/community-auth-backend/internal/http/middleware"
	"github.com/campus-board/community-auth-backend/internal/http/router"
	"github.com/campus-board/community-auth-backend/internal/mail"
	"github.com/campus-board/community-auth-backend/internal/observability"
	"github.com/campus-board/community-auth-backend/internal/ratelimit"
	"github.com/campus-board/community-auth-backend/internal/repository"
	"github.com/campus-board/community-auth-backend/internal/security"
	"github.com/campus-board/community-auth-backend/internal/service"
	"github.com/campus-board/community-auth-backend/internal/storage"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime

	Tokens     *service.TokenService
	dispatcher *mail.Dispatcher
	redis      redis.UniversalClient
}

// New builds the full dependency graph. The caller owns Run/Shutdown.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	runtime, err := observability.InitRuntime(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger := runtime.Logger

	db, err := storage.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db); err != nil {
		return nil, err
	}

	var redisClient redis.UniversalClient
	var limiter middleware.Limiter
	probes := []health.Probe{health.DatabaseProbe(db)}
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = ratelimit.NewRedisSlidingWindowLimiter(redisClient, "ratelimit")
		probes = append(probes, health.RedisProbe(redisClient))
	}

	clk := clock.System()
	jwtMgr := security.NewJWTManager(cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience, cfg.Auth.JWTSecret, clk.Now)
	hasher := security.NewOtpHasher(cfg.OTP.HMACSecret)

	mailer := mail.NewSMTPMailer(cfg.SMTP)
	dispatcher := mail.NewDispatcher(mailer, 64, logger)

	otpRepo := repository.NewOtpRepository()
	userRepo := repository.NewUserRepository()
	sessionRepo := repository.NewSessionRepository()

	otps := service.NewOtpService(db, otpRepo, hasher, dispatcher, cfg.OTP, cfg.AllowedEmailDomain, clk)
	tokens := service.NewTokenService(db, sessionRepo, userRepo, jwtMgr, cfg.Auth, clk)
	signup := service.NewSignupService(db, userRepo, otps, cfg.AllowedEmailDomain, clk)
	login := service.NewLoginService(db, userRepo, tokens, clk)

	cookie := security.RefreshCookiePolicy{
		Name:     cfg.Auth.RefreshCookieName,
		Path:     cfg.Auth.CookiePath,
		Secure:   cfg.Auth.CookieSecure,
		SameSite: security.ParseSameSite(cfg.Auth.CookieSameSite),
	}
	authHandler := handler.NewAuthHandler(otps, signup, login, tokens, cookie)

	h := router.NewRouter(router.Dependencies{
		AuthHandler:      authHandler,
		JWTManager:       jwtMgr,
		CORSOrigins:      cfg.CORSOrigins,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		APIRateLimitRPM:  cfg.APIRateLimitRPM,
		Limiter:          limiter,
		Readiness:        health.NewProbeRunner(2*time.Second, probes...),
		EnableOTelHTTP:   cfg.OTELEnabled,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		Tokens:        tokens,
		dispatcher:    dispatcher,
		redis:         redisClient,
	}, nil
}

// Run serves HTTP and the mail worker until the context is canceled,
// then drains both within the shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.dispatcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	if a.redis != nil {
		if cerr := a.redis.Close(); cerr != nil {
			a.Logger.Warn("redis close failed", "error", cerr)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()
	if oerr := a.Observability.Shutdown(shutdownCtx); oerr != nil {
		a.Logger.Warn("observability shutdown failed", "error", oerr)
	}
	return err
}
