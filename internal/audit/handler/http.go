// Package handler serves the admin view of the audit trail.
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	auditrepo "session-control-plane/internal/audit/repository"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Handler exposes audit logs to operators.
type Handler struct {
	repo auditrepo.Repository
	log  *logrus.Logger
}

func NewHandler(repo auditrepo.Repository, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{repo: repo, log: log}
}

type auditLogResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Action    string    `json:"action"`
	IP        string    `json:"ip,omitempty"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListForUser handles GET /v1/admin/users/:id/audit-logs.
func (h *Handler) ListForUser(c echo.Context) error {
	userID := c.Param("id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing user id")
	}

	limit := int32QueryParam(c, "limit", defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := int32QueryParam(c, "offset", 0)

	logs, err := h.repo.ListByUser(c.Request().Context(), userID, limit, offset)
	if err != nil {
		h.log.WithError(err).Error("list audit logs failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	out := make([]auditLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, auditLogResponse{
			ID:        l.ID,
			UserID:    l.UserID,
			SessionID: l.SessionID,
			Action:    l.Action,
			IP:        l.IP,
			Metadata:  l.Metadata,
			CreatedAt: l.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"audit_logs": out})
}

func int32QueryParam(c echo.Context, name string, fallback int32) int32 {
	v := c.QueryParam(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n < 0 {
		return fallback
	}
	return int32(n)
}
