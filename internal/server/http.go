// Package server assembles the echo router and owns the HTTP listener
// lifecycle.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	audithandler "session-control-plane/internal/audit/handler"
	healthhandler "session-control-plane/internal/health/handler"
	identityhandler "session-control-plane/internal/identity/handler"
	"session-control-plane/internal/security"
	"session-control-plane/internal/server/middleware"
	sessionhandler "session-control-plane/internal/session/handler"
)

// Options carries the dependencies the router needs.
type Options struct {
	Addr   string
	Tokens *security.TokenProvider

	Auth     *identityhandler.AuthHandler
	Sessions *sessionhandler.SessionHandler
	Audit    *audithandler.Handler
	Health   *healthhandler.Handler

	// Users backs the role guard on the admin routes.
	Users middleware.RoleDirectory

	// LoginRateLimit and LoginRateBurst throttle the login endpoint per IP.
	LoginRateLimit float64
	LoginRateBurst int

	Log *logrus.Logger
}

// Server wraps echo with graceful shutdown.
type Server struct {
	echo *echo.Echo
	addr string
	log  *logrus.Logger
}

// New builds the router with middleware and all routes registered.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomiddleware.Recover())
	e.Use(requestLogger(log))

	if opts.Health != nil {
		e.GET("/healthz", opts.Health.Live)
		e.GET("/readyz", opts.Health.Ready)
	}

	limiter := middleware.NewRateLimiter(rate.Limit(opts.LoginRateLimit), opts.LoginRateBurst, 10*time.Minute)

	v1 := e.Group("/v1")
	v1.POST("/auth/login", opts.Auth.Login, limiter.Middleware())
	v1.POST("/auth/refresh", opts.Auth.Refresh)

	guard := middleware.AuthMiddleware{Tokens: opts.Tokens}
	authed := v1.Group("", guard.RequireAuth)
	authed.POST("/auth/logout", opts.Auth.Logout)
	authed.GET("/sessions", opts.Sessions.List)
	authed.DELETE("/sessions", opts.Sessions.CloseAll)
	authed.DELETE("/sessions/:id", opts.Sessions.Close)

	if opts.Users != nil {
		admin := authed.Group("/admin", middleware.RequireRole(opts.Users, "admin"))
		admin.GET("/users/:id/sessions", opts.Sessions.AdminListForUser)
		admin.DELETE("/users/:id/sessions", opts.Sessions.AdminCloseAllForUser)
		if opts.Audit != nil {
			admin.GET("/users/:id/audit-logs", opts.Audit.ListForUser)
		}
	}

	return &Server{echo: e, addr: opts.Addr, log: log}
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.WithField("addr", s.addr).Info("http server listening")
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// requestLogger logs one structured line per request.
func requestLogger(log *logrus.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.String(),
			}
			if v.Error != nil {
				fields["error"] = v.Error.Error()
			}
			log.WithFields(fields).Info("request")
			return nil
		},
	})
}
