package graph

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/appctx"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/models"
)

type Handler struct {
	builder *graph.Builder
	scanner *graph.Scanner
}

func Register(g *echo.Group, builder *graph.Builder, scanner *graph.Scanner) {
	h := &Handler{builder: builder, scanner: scanner}
	g.POST("/graph/batch", h.Batch)
	g.GET("/integrity", h.Integrity)
}

// Batch writes the whole request or nothing.
func (h *Handler) Batch(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.BatchRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	result, err := h.builder.BatchCreate(ctx, appctx.GetOwnerID(ctx), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

// Integrity scans the caller's partition. Violations are reported, not errors.
func (h *Handler) Integrity(c echo.Context) error {
	ctx := c.Request().Context()

	report, err := h.scanner.Scan(ctx, appctx.GetOwnerID(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}
