// Package handler exposes the auth operations over HTTP and maps service
// sentinels to status codes. Internal failure detail never reaches clients.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"session-control-plane/internal/anomaly"
	"session-control-plane/internal/identity/service"
	"session-control-plane/internal/server/middleware"
	sessiondomain "session-control-plane/internal/session/domain"
	sessionservice "session-control-plane/internal/session/service"
)

// AuthHandler serves login, refresh, and logout.
type AuthHandler struct {
	auth     *service.AuthService
	validate *validator.Validate
	log      *logrus.Logger
}

// NewAuthHandler returns an AuthHandler for the given service.
func NewAuthHandler(auth *service.AuthService, log *logrus.Logger) *AuthHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuthHandler{auth: auth, validate: validator.New(), log: log}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	// ReauthRequired hints the client to force full re-authentication after a
	// high-severity anomaly. The tokens are still valid; the hint is advisory.
	ReauthRequired bool `json:"reauth_required,omitempty"`
}

// Login handles POST /v1/auth/login.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	res, err := h.auth.Login(c.Request().Context(), req.Email, req.Password, fingerprintFromRequest(c))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrAccountLocked):
			// One answer for bad password and active lockout; do not leak which.
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, service.ErrAccountDisabled):
			return echo.NewHTTPError(http.StatusForbidden, "account disabled")
		default:
			h.log.WithError(err).Error("login failed")
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
	}
	return c.JSON(http.StatusOK, toTokenResponse(res))
}

// Refresh handles POST /v1/auth/refresh.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	res, err := h.auth.Refresh(c.Request().Context(), req.RefreshToken, fingerprintFromRequest(c))
	if err != nil {
		switch {
		case errors.Is(err, sessionservice.ErrRefreshTokenExpired):
			return echo.NewHTTPError(http.StatusUnauthorized, "token expired")
		case errors.Is(err, sessionservice.ErrInvalidRefreshToken), errors.Is(err, sessionservice.ErrTokenReuse):
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		default:
			h.log.WithError(err).Error("refresh failed")
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
	}
	return c.JSON(http.StatusOK, toTokenResponse(res))
}

// Logout handles POST /v1/auth/logout. The bearer token the guard already
// verified names the session to invalidate.
func (h *AuthHandler) Logout(c echo.Context) error {
	token := middleware.ExtractBearerToken(c.Request())
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if err := h.auth.Logout(c.Request().Context(), token); err != nil {
		if errors.Is(err, service.ErrInvalidAccessToken) {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		h.log.WithError(err).Error("logout failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.NoContent(http.StatusNoContent)
}

func toTokenResponse(res *service.AuthResult) tokenResponse {
	return tokenResponse{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshExpiresAt: res.RefreshExpiresAt,
		ReauthRequired:   res.Anomaly != nil && res.Anomaly.Severity == anomaly.SeverityHigh,
	}
}

func fingerprintFromRequest(c echo.Context) sessiondomain.Fingerprint {
	return sessiondomain.Fingerprint{
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		DeviceID:  c.Request().Header.Get("X-Device-Id"),
	}
}
