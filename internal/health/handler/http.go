// Package handler implements readiness and liveness probes for Kubernetes,
// load balancers, and CI.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StorePinger probes the session store backend.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// Handler reports service health. Nil dependencies are skipped, which lets
// the server come up without a database in store-only deployments.
type Handler struct {
	db    Pinger
	store StorePinger
}

func NewHandler(db Pinger, store StorePinger) *Handler {
	return &Handler{db: db, store: store}
}

type checkResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Live handles GET /healthz. Always 200 while the process serves requests.
func (h *Handler) Live(c echo.Context) error {
	return c.JSON(http.StatusOK, checkResult{Status: "ok"})
}

// Ready handles GET /readyz. 503 when any configured backend fails its probe.
func (h *Handler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	res := checkResult{Status: "ok", Checks: map[string]string{}}
	code := http.StatusOK

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			res.Checks["database"] = err.Error()
			res.Status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			res.Checks["database"] = "ok"
		}
	}
	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			res.Checks["store"] = err.Error()
			res.Status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			res.Checks["store"] = "ok"
		}
	}
	return c.JSON(code, res)
}
