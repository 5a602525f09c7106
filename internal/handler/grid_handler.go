package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lesson-grid-api/internal/dto"
	"github.com/noah-isme/lesson-grid-api/internal/middleware"
	"github.com/noah-isme/lesson-grid-api/internal/models"
	appErrors "github.com/noah-isme/lesson-grid-api/pkg/errors"
	"github.com/noah-isme/lesson-grid-api/pkg/response"
)

type gridBuilder interface {
	Build(ctx context.Context, viewer string, q dto.GridQuery) (*models.Grid, error)
}

type dragController interface {
	Start(ctx context.Context, req dto.StartDragRequest, viewer, actor string) (*models.DragSession, error)
	Hover(ctx context.Context, id string, req dto.HoverDragRequest, viewer string) (*models.DragSession, error)
	Drop(ctx context.Context, id string, req dto.DropDragRequest, idempotencyKey, viewer string) (*models.DropOutcome, error)
	Cancel(ctx context.Context, id, viewer string) error
}

const (
	// IdempotencyHeader carries the client token that makes a drop safe to retry.
	IdempotencyHeader = "Idempotency-Key"
	// ReplayedHeader is set when a drop response repeats an earlier outcome.
	ReplayedHeader = "Idempotency-Replayed"
)

// GridHandler serves the timetable grid and its drag-and-drop moves.
type GridHandler struct {
	grid  gridBuilder
	drags dragController
}

// NewGridHandler constructs the handler.
func NewGridHandler(grid gridBuilder, drags dragController) *GridHandler {
	return &GridHandler{grid: grid, drags: drags}
}

// Grid godoc
// @Summary Render the timetable grid
// @Description Rows are teachers, classrooms, students or the weeks of a month; columns are days or time buckets. A newer request from the same viewer supersedes this one.
// @Tags Grid
// @Produce json
// @Param row query string true "teacher, classroom, student or month"
// @Param column query string false "day or time_bucket"
// @Param step query string false "Bucket width, e.g. 30m or 1h"
// @Param week_start query string false "Any date of the week"
// @Param day query string false "Single day for time_bucket columns"
// @Param month query string false "Any date of the month"
// @Param branch query string false "Branch"
// @Param teacher query string false "Teacher"
// @Param classroom query string false "Classroom"
// @Param group_id query string false "Group ID"
// @Param include_cancelled query bool false "Show cancelled sessions"
// @Param templates query bool false "Project weekly templates instead of sessions"
// @Param X-Viewer-ID header string false "Separates grid views of the same user"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /grid [get]
func (h *GridHandler) Grid(c *gin.Context) {
	var q dto.GridQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	grid, err := h.grid.Build(c.Request.Context(), viewerKey(c), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "unplaced", grid.Unplaced)
	response.JSON(c, http.StatusOK, grid, middleware.ExtractMeta(c))
}

// StartDrag godoc
// @Summary Pick up a session from a grid cell
// @Tags Grid
// @Accept json
// @Produce json
// @Param payload body dto.StartDragRequest true "Session and origin cell"
// @Success 201 {object} response.Envelope
// @Router /drags [post]
func (h *GridHandler) StartDrag(c *gin.Context) {
	var req dto.StartDragRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid drag payload"))
		return
	}
	drag, err := h.drags.Start(c.Request.Context(), req, viewerKey(c), actorName(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, drag)
}

// HoverDrag godoc
// @Summary Report the cell under the pointer
// @Tags Grid
// @Accept json
// @Produce json
// @Param id path string true "Drag ID"
// @Param payload body dto.HoverDragRequest true "Hovered cell"
// @Success 200 {object} response.Envelope
// @Router /drags/{id}/hover [put]
func (h *GridHandler) HoverDrag(c *gin.Context) {
	var req dto.HoverDragRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid hover payload"))
		return
	}
	drag, err := h.drags.Hover(c.Request.Context(), c.Param("id"), req, viewerKey(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, drag)
}

// DropDrag godoc
// @Summary Drop the session onto a target placement
// @Description Dropping onto the origin is a no-op. Conflicts return 409 with the clashing sessions and keep the drag open.
// @Tags Grid
// @Accept json
// @Produce json
// @Param id path string true "Drag ID"
// @Param Idempotency-Key header string false "Makes retries return the first outcome"
// @Param payload body dto.DropDragRequest true "Target"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /drags/{id}/drop [post]
func (h *GridHandler) DropDrag(c *gin.Context) {
	var req dto.DropDragRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid drop payload"))
		return
	}
	outcome, err := h.drags.Drop(c.Request.Context(), c.Param("id"), req, c.GetHeader(IdempotencyHeader), viewerKey(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if outcome.Replayed {
		c.Header(ReplayedHeader, "true")
	}
	response.JSON(c, http.StatusOK, outcome)
}

// CancelDrag godoc
// @Summary Abandon a drag
// @Tags Grid
// @Param id path string true "Drag ID"
// @Success 204
// @Router /drags/{id} [delete]
func (h *GridHandler) CancelDrag(c *gin.Context) {
	if err := h.drags.Cancel(c.Request.Context(), c.Param("id"), viewerKey(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
