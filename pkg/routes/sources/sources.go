package sources

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/appctx"
	"github.com/Ramsey-B/fern/pkg/models"
	sourcesvc "github.com/Ramsey-B/fern/pkg/sources"
)

type Handler struct {
	sources *sourcesvc.Service
}

func Register(g *echo.Group, sources *sourcesvc.Service) {
	h := &Handler{sources: sources}
	g.POST("/sources", h.Put)
	g.GET("/sources/:id", h.Get)
}

// Put stores a source. Content is base64 in JSON; a bare content_hash
// registers bytes the caller uploads out of band.
func (h *Handler) Put(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.PutSourceRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	req.Owner = appctx.GetOwnerID(ctx)

	src, err := h.sources.Put(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, src)
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	src, err := h.sources.Get(ctx, appctx.GetOwnerID(ctx), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, src)
}
