package middleware

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	userdomain "session-control-plane/internal/user/domain"
)

// RoleDirectory is the slice of the user directory the role guard needs.
type RoleDirectory interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// RequireRole is the authorization guard, kept separate from RequireAuth: the
// auth guard proves who the caller is, this one checks what the directory says
// they may do. role "" only requires an active account.
func RequireRole(dir RoleDirectory, role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, ok := UserID(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			user, err := dir.GetByID(c.Request().Context(), userID)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
			}
			if user == nil || user.Status != userdomain.UserStatusActive {
				return echo.NewHTTPError(http.StatusForbidden, "forbidden")
			}
			if role != "" && user.Role != role {
				return echo.NewHTTPError(http.StatusForbidden, "forbidden")
			}
			return next(c)
		}
	}
}
