package schemas

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/appctx"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
)

type Handler struct {
	schemas *schema.Registry
}

func Register(g *echo.Group, schemas *schema.Registry) {
	h := &Handler{schemas: schemas}
	g.GET("/schemas", h.List)
	g.PUT("/schemas/:kind/:type", h.Upsert)
	g.GET("/schemas/:kind/:type", h.Get)
}

// Upsert stores the caller's schema. Each change bumps the version.
func (h *Handler) Upsert(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.UpsertSchemaRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	s, err := h.schemas.Upsert(ctx, appctx.GetOwnerID(ctx), models.SubjectKind(c.Param("kind")), c.Param("type"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

// Get returns the effective schema: the caller's, else the global one, else the permissive default.
func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	s, err := h.schemas.Get(ctx, appctx.GetOwnerID(ctx), models.SubjectKind(c.Param("kind")), c.Param("type"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()

	list, err := h.schemas.List(ctx, appctx.GetOwnerID(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}
