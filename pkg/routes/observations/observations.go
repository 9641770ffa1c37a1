package observations

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/appctx"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
	obssvc "github.com/Ramsey-B/fern/pkg/observations"
	"github.com/Ramsey-B/fern/pkg/snapshot"
)

type Handler struct {
	observations *obssvc.Service
	snapshots    *snapshot.Service
}

func Register(g *echo.Group, observations *obssvc.Service, snapshots *snapshot.Service) {
	h := &Handler{observations: observations, snapshots: snapshots}
	g.POST("/observations", h.Append)
	g.POST("/corrections", h.Correct)
	g.GET("/snapshots/:kind/:id", h.Snapshot)
}

func (h *Handler) Append(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.AppendRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	obs, err := h.observations.Append(ctx, appctx.GetOwnerID(ctx), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, obs)
}

type CorrectionResponse struct {
	Observation *models.Observation `json:"observation"`
	Snapshot    *models.Snapshot    `json:"snapshot"`
}

func (h *Handler) Correct(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.CorrectionRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	obs, snap, err := h.observations.ApplyCorrection(ctx, appctx.GetOwnerID(ctx), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, CorrectionResponse{Observation: obs, Snapshot: snap})
}

// Snapshot returns the reduced state with a content ETag.
func (h *Handler) Snapshot(c echo.Context) error {
	ctx := c.Request().Context()

	kind := models.SubjectKind(c.Param("kind"))
	if !kind.IsValid() {
		return apperror.InvalidArgument("unknown subject kind %q", kind)
	}

	snap, err := h.snapshots.Reduce(ctx, appctx.GetOwnerID(ctx), kind, c.Param("id"))
	if err != nil {
		return err
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	etag := fmt.Sprintf("%q", fingerprint.HashWithDomain(fingerprint.DomainSnapshot, body))
	c.Response().Header().Set("ETag", etag)
	if c.Request().Header.Get("If-None-Match") == etag {
		return c.NoContent(http.StatusNotModified)
	}

	return c.JSONBlob(http.StatusOK, body)
}
