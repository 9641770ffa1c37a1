package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/appctx"
)

const (
	HeaderOwnerID = "X-Owner-ID"
	HeaderActorID = "X-Actor-ID"
)

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := req.Context()
			ctx = appctx.SetRequestID(ctx, requestID)
			ctx = appctx.SetMethod(ctx, req.Method)
			ctx = appctx.SetRoute(ctx, req.URL.Path)
			ctx = appctx.SetOwnerID(ctx, req.Header.Get(HeaderOwnerID))
			ctx = appctx.SetActorID(ctx, req.Header.Get(HeaderActorID))

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
