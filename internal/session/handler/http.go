// Package handler serves session management for the authenticated user.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"session-control-plane/internal/identity/service"
	"session-control-plane/internal/server/middleware"
)

// SessionHandler lists and closes a user's sessions.
type SessionHandler struct {
	auth *service.AuthService
	log  *logrus.Logger
}

func NewSessionHandler(auth *service.AuthService, log *logrus.Logger) *SessionHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SessionHandler{auth: auth, log: log}
}

// List handles GET /v1/sessions.
func (h *SessionHandler) List(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	f := service.SessionFilter{
		ActiveOnly: c.QueryParam("active_only") == "true",
		Limit:      intQueryParam(c, "limit"),
		Offset:     intQueryParam(c, "offset"),
	}
	sessions, err := h.auth.ListSessions(c.Request().Context(), userID, f)
	if err != nil {
		h.log.WithError(err).Error("list sessions failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

// Close handles DELETE /v1/sessions/:id.
func (h *SessionHandler) Close(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing session id")
	}
	if err := h.auth.CloseSession(c.Request().Context(), userID, sessionID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		h.log.WithError(err).Error("close session failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.NoContent(http.StatusNoContent)
}

// CloseAll handles DELETE /v1/sessions.
func (h *SessionHandler) CloseAll(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if err := h.auth.CloseAllSessions(c.Request().Context(), userID); err != nil {
		h.log.WithError(err).Error("close all sessions failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.NoContent(http.StatusNoContent)
}

// AdminListForUser handles GET /v1/admin/users/:id/sessions.
func (h *SessionHandler) AdminListForUser(c echo.Context) error {
	targetID := c.Param("id")
	if targetID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing user id")
	}
	f := service.SessionFilter{
		ActiveOnly: c.QueryParam("active_only") == "true",
		Limit:      intQueryParam(c, "limit"),
		Offset:     intQueryParam(c, "offset"),
	}
	sessions, err := h.auth.ListSessions(c.Request().Context(), targetID, f)
	if err != nil {
		h.log.WithError(err).Error("admin list sessions failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

// AdminCloseAllForUser handles DELETE /v1/admin/users/:id/sessions. Used to
// force a user offline, e.g. after a credential compromise.
func (h *SessionHandler) AdminCloseAllForUser(c echo.Context) error {
	targetID := c.Param("id")
	if targetID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing user id")
	}
	if err := h.auth.CloseAllSessions(c.Request().Context(), targetID); err != nil {
		h.log.WithError(err).Error("admin close sessions failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.NoContent(http.StatusNoContent)
}

func intQueryParam(c echo.Context, name string) int {
	v := c.QueryParam(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
