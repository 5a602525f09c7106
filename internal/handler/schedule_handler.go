package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lesson-grid-api/internal/dto"
	"github.com/noah-isme/lesson-grid-api/internal/models"
	appErrors "github.com/noah-isme/lesson-grid-api/pkg/errors"
	"github.com/noah-isme/lesson-grid-api/pkg/response"
)

type conflictDetector interface {
	Check(ctx context.Context, candidates ...models.ConflictCandidate) ([]models.SessionConflict, error)
}

type templateReader interface {
	Templates(ctx context.Context, filter models.TemplateFilter) ([]models.RecurringTemplate, error)
	TemplateOccurrences(ctx context.Context, templateID string, from, to models.Date) ([]models.LessonSession, error)
}

// ScheduleHandler serves the read-only planning endpoints: conflict checks and templates.
type ScheduleHandler struct {
	conflicts conflictDetector
	templates templateReader
}

// NewScheduleHandler constructs the handler.
func NewScheduleHandler(conflicts conflictDetector, templates templateReader) *ScheduleHandler {
	return &ScheduleHandler{conflicts: conflicts, templates: templates}
}

// CheckConflicts godoc
// @Summary Check placements for double-booking
// @Description Read-only. An empty list means every candidate is free right now; commits re-check.
// @Tags Schedule
// @Accept json
// @Produce json
// @Param payload body dto.ConflictCheckRequest true "Candidates"
// @Success 200 {object} response.Envelope
// @Router /conflicts/check [post]
func (h *ScheduleHandler) CheckConflicts(c *gin.Context) {
	var req dto.ConflictCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid conflict check payload"))
		return
	}
	candidates := make([]models.ConflictCandidate, 0, len(req.Candidates))
	for _, p := range req.Candidates {
		candidates = append(candidates, models.ConflictCandidate{
			ResourceType:     p.ResourceType,
			ResourceName:     p.ResourceName,
			Branch:           p.Branch,
			Date:             p.Date,
			Start:            p.Start,
			End:              p.End,
			ExcludeSessionID: p.ExcludeSessionID,
		})
	}
	conflicts, err := h.conflicts.Check(c.Request.Context(), candidates...)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ConflictCheckResponse{Conflicts: conflicts})
}

// ListTemplates godoc
// @Summary List recurring templates
// @Tags Schedule
// @Produce json
// @Param branch query string false "Branch"
// @Param teacher query string false "Teacher name"
// @Param classroom query string false "Classroom"
// @Param group_id query string false "Group ID"
// @Param active_on query string false "Only templates valid on this date"
// @Success 200 {object} response.Envelope
// @Router /templates [get]
func (h *ScheduleHandler) ListTemplates(c *gin.Context) {
	var q dto.TemplateListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	templates, err := h.templates.Templates(c.Request.Context(), models.TemplateFilter{
		Branch:     q.Branch,
		Teacher:    q.Teacher,
		Classroom:  q.Classroom,
		GroupID:    q.GroupID,
		ActiveFrom: q.ActiveOn,
		ActiveTo:   q.ActiveOn,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, templates)
}

// Occurrences godoc
// @Summary Expand a template over a window
// @Description Returns materialized occurrences and virtual ones for dates not yet stored.
// @Tags Schedule
// @Produce json
// @Param id path string true "Template ID"
// @Param from query string true "First date"
// @Param to query string true "Last date"
// @Success 200 {object} response.Envelope
// @Router /templates/{id}/occurrences [get]
func (h *ScheduleHandler) Occurrences(c *gin.Context) {
	var q dto.OccurrenceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	occurrences, err := h.templates.TemplateOccurrences(c.Request.Context(), c.Param("id"), q.From, q.To)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, occurrences)
}
