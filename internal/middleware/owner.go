package middleware

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/appctx"
)

// RequireOwner rejects requests that reached the core without an owner.
// It must run after Context.
func RequireOwner() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if appctx.GetOwnerID(c.Request().Context()) == "" {
				return httperror.NewHTTPError(http.StatusUnauthorized, "missing "+HeaderOwnerID+" header")
			}
			return next(c)
		}
	}
}
