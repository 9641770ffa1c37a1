package subjects

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/appctx"
	"github.com/Ramsey-B/fern/pkg/lifecycle"
	"github.com/Ramsey-B/fern/pkg/models"
)

type Handler struct {
	lifecycle *lifecycle.Service
}

func Register(g *echo.Group, lifecycle *lifecycle.Service) {
	h := &Handler{lifecycle: lifecycle}
	g.DELETE("/subjects/:kind/:id", h.Delete)
	g.POST("/subjects/:kind/:id/restore", h.Restore)
}

type reasonBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) Delete(c echo.Context) error {
	return h.apply(c, h.lifecycle.Delete)
}

func (h *Handler) Restore(c echo.Context) error {
	return h.apply(c, h.lifecycle.Restore)
}

func (h *Handler) apply(c echo.Context, op func(ctx context.Context, owner string, req models.LifecycleRequest) (*models.LifecycleResult, error)) error {
	ctx := c.Request().Context()

	var body reasonBody
	if err := c.Bind(&body); err != nil {
		return err
	}

	result, err := op(ctx, appctx.GetOwnerID(ctx), models.LifecycleRequest{
		SubjectKind: models.SubjectKind(c.Param("kind")),
		SubjectID:   c.Param("id"),
		Reason:      body.Reason,
		Actor:       appctx.GetActorID(ctx),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
