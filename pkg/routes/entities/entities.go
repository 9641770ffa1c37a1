package entities

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/appctx"
	"github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/lifecycle"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolution"
	"github.com/Ramsey-B/fern/pkg/traversal"
)

type Handler struct {
	entities   *entity.Repository
	resolution *resolution.Service
	traversal  *traversal.Service
	lifecycle  *lifecycle.Service
}

func Register(g *echo.Group, entities *entity.Repository, resolution *resolution.Service, traversal *traversal.Service, lifecycle *lifecycle.Service) {
	h := &Handler{
		entities:   entities,
		resolution: resolution,
		traversal:  traversal,
		lifecycle:  lifecycle,
	}
	g.POST("/entities/resolve", h.Resolve)
	g.POST("/entities/:id/merge", h.Merge)
	g.GET("/entities/:id", h.Get)
	g.GET("/entities/:id/related", h.Related)
	g.GET("/entities/:id/neighborhood", h.Neighborhood)
	g.GET("/entities/:id/history", h.History)
}

func (h *Handler) Resolve(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.ResolveRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	result, err := h.resolution.ResolveOrCreate(ctx, appctx.GetOwnerID(ctx), req)
	if err != nil {
		return err
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	return c.JSON(status, result)
}

// Merge folds the path entity into the body's target_id.
func (h *Handler) Merge(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.MergeRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	result, err := h.resolution.Merge(ctx, appctx.GetOwnerID(ctx), c.Param("id"), req, appctx.GetActorID(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Get follows merges to the terminal entity. Deleted entities are hidden
// unless include_deleted=true.
func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var includeDeleted bool
	if err := echo.QueryParamsBinder(c).Bool("include_deleted", &includeDeleted).BindError(); err != nil {
		return apperror.InvalidArgument("invalid query: %v", err)
	}

	e, err := h.entities.Resolve(ctx, appctx.GetOwnerID(ctx), id)
	if err != nil {
		return err
	}
	if e.DeletedAt != nil && !includeDeleted {
		return apperror.NotFound(string(models.SubjectKindEntity), id)
	}

	if e.ID != id {
		c.Response().Header().Set("Content-Location", strings.TrimSuffix(c.Request().URL.Path, id)+e.ID)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Related(c echo.Context) error {
	ctx := c.Request().Context()

	q := models.RelatedQuery{EntityID: c.Param("id")}
	var direction, relType string
	err := echo.QueryParamsBinder(c).
		String("direction", &direction).
		String("relationship_type", &relType).
		Int("limit", &q.Limit).
		Int("offset", &q.Offset).
		Bool("include_deleted", &q.IncludeDeleted).
		BindError()
	if err != nil {
		return apperror.InvalidArgument("invalid query: %v", err)
	}
	q.Direction = models.Direction(direction)
	q.RelationshipType = models.RelationshipType(relType)

	rels, err := h.traversal.Related(ctx, appctx.GetOwnerID(ctx), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rels)
}

func (h *Handler) Neighborhood(c echo.Context) error {
	ctx := c.Request().Context()

	q := models.NeighborhoodQuery{EntityID: c.Param("id"), MaxHops: 1}
	var relTypes []string
	err := echo.QueryParamsBinder(c).
		Int("max_hops", &q.MaxHops).
		Strings("entity_type", &q.EntityTypes).
		Strings("relationship_type", &relTypes).
		BindError()
	if err != nil {
		return apperror.InvalidArgument("invalid query: %v", err)
	}
	for _, t := range relTypes {
		q.RelationshipTypes = append(q.RelationshipTypes, models.RelationshipType(t))
	}

	n, err := h.traversal.Neighborhood(ctx, appctx.GetOwnerID(ctx), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) History(c echo.Context) error {
	ctx := c.Request().Context()

	history, err := h.lifecycle.History(ctx, appctx.GetOwnerID(ctx), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, history)
}
