package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lesson-grid-api/internal/dto"
	"github.com/noah-isme/lesson-grid-api/internal/middleware"
	"github.com/noah-isme/lesson-grid-api/internal/models"
	appErrors "github.com/noah-isme/lesson-grid-api/pkg/errors"
	"github.com/noah-isme/lesson-grid-api/pkg/export"
	"github.com/noah-isme/lesson-grid-api/pkg/response"
)

type sessionLifecycle interface {
	Get(ctx context.Context, id string) (*models.LessonSession, error)
	Create(ctx context.Context, req dto.CreateSessionRequest, actor string) (*models.LessonSession, error)
	UpdateDetails(ctx context.Context, id string, req dto.UpdateSessionRequest, actor string) (*models.LessonSession, error)
	Cancel(ctx context.Context, id string, req dto.CancelSessionRequest, actor string) (*models.BatchResult, error)
	Reschedule(ctx context.Context, id string, req dto.RescheduleSessionRequest, actor string) (*models.BatchResult, error)
	Copy(ctx context.Context, id string, req dto.CopySessionRequest, actor string) (*models.BatchItem, error)
	Makeup(ctx context.Context, id string, req dto.MakeupSessionRequest, actor string) (*models.BatchItem, error)
	Complete(ctx context.Context, id, actor string) (*models.LessonSession, error)
}

type sessionLister interface {
	List(ctx context.Context, q dto.SessionListQuery) ([]dto.SessionListItem, error)
	Table(ctx context.Context, q dto.SessionListQuery) (export.Table, error)
}

type historyReader interface {
	ListFor(ctx context.Context, sessionID string) ([]models.HistoryEvent, error)
}

// SessionHandler exposes lesson session reads and lifecycle operations.
type SessionHandler struct {
	lifecycle sessionLifecycle
	query     sessionLister
	history   historyReader
	csv       *export.CSVExporter
}

// NewSessionHandler constructs the handler.
func NewSessionHandler(lifecycle sessionLifecycle, query sessionLister, history historyReader) *SessionHandler {
	return &SessionHandler{lifecycle: lifecycle, query: query, history: history, csv: export.NewCSVExporter(true)}
}

// List godoc
// @Summary List lesson sessions
// @Description Flat list-by-filter used by rendering and export. include_virtual adds unmaterialized template occurrences and needs both dates.
// @Tags Sessions
// @Produce json
// @Param date_from query string false "First date (YYYY-MM-DD)"
// @Param date_to query string false "Last date (YYYY-MM-DD)"
// @Param branch query string false "Branch"
// @Param teacher query string false "Teacher name"
// @Param classroom query string false "Classroom"
// @Param group_id query string false "Group ID"
// @Param status query []string false "Statuses" collectionFormat(multi)
// @Param include_virtual query bool false "Include template occurrences"
// @Success 200 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	var q dto.SessionListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	items, err := h.query.List(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "total", len(items))
	response.JSON(c, http.StatusOK, items, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Export lesson sessions as CSV
// @Description Same filter and rows as the list endpoint.
// @Tags Sessions
// @Produce text/csv
// @Param date_from query string false "First date (YYYY-MM-DD)"
// @Param date_to query string false "Last date (YYYY-MM-DD)"
// @Param branch query string false "Branch"
// @Param teacher query string false "Teacher name"
// @Param classroom query string false "Classroom"
// @Param group_id query string false "Group ID"
// @Param status query []string false "Statuses" collectionFormat(multi)
// @Param include_virtual query bool false "Include template occurrences"
// @Success 200 {file} file
// @Router /sessions/export [get]
func (h *SessionHandler) Export(c *gin.Context) {
	var q dto.SessionListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	table, err := h.query.Table(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Type", h.csv.ContentType())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(q)))
	c.Status(http.StatusOK)
	if err := h.csv.Write(c.Writer, table); err != nil {
		_ = c.Error(err)
	}
}

func exportFilename(q dto.SessionListQuery) string {
	if q.DateFrom.IsZero() || q.DateTo.IsZero() {
		return "sessions.csv"
	}
	return fmt.Sprintf("sessions_%s_%s.csv", q.DateFrom, q.DateTo)
}

// Get godoc
// @Summary Get a lesson session
// @Description Accepts stored ids and virtual:<template>:<date> occurrence ids.
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.lifecycle.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session)
}

// Create godoc
// @Summary Book a one-off lesson
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.CreateSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid session payload"))
		return
	}
	session, err := h.lifecycle.Create(c.Request.Context(), req, actorName(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// Update godoc
// @Summary Update notes, capacity or student count
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.UpdateSessionRequest true "Patch"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id} [patch]
func (h *SessionHandler) Update(c *gin.Context) {
	var req dto.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid session payload"))
		return
	}
	session, err := h.lifecycle.UpdateDetails(c.Request.Context(), c.Param("id"), req, actorName(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session)
}

// Cancel godoc
// @Summary Cancel a session or the rest of its series
// @Description Series scope responds 207 when some occurrences could not be cancelled.
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.CancelSessionRequest true "Reason and scope"
// @Success 200 {object} response.Envelope
// @Success 207 {object} response.Envelope
// @Router /sessions/{id}/cancel [post]
func (h *SessionHandler) Cancel(c *gin.Context) {
	var req dto.CancelSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "cancellation reason is required"))
		return
	}
	result, err := h.lifecycle.Cancel(c.Request.Context(), c.Param("id"), req, actorName(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Batch(c, result, middleware.ExtractMeta(c))
}

// Reschedule godoc
// @Summary Move a session or the rest of its series
// @Description The source is cancelled with a link to its replacement. Series scope shifts every later scheduled occurrence by the same offset and responds 207 on partial failure.
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.RescheduleSessionRequest true "Target placement"
// @Success 200 {object} response.Envelope
// @Success 207 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/reschedule [post]
func (h *SessionHandler) Reschedule(c *gin.Context) {
	var req dto.RescheduleSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reschedule payload"))
		return
	}
	result, err := h.lifecycle.Reschedule(c.Request.Context(), c.Param("id"), req, actorName(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Batch(c, result, middleware.ExtractMeta(c))
}

// Copy godoc
// @Summary Copy a session to another date
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.CopySessionRequest true "Target date"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/copy [post]
func (h *SessionHandler) Copy(c *gin.Context) {
	var req dto.CopySessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid copy payload"))
		return
	}
	item, err := h.lifecycle.Copy(c.Request.Context(), c.Param("id"), req, actorName(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, mutationResponse(item))
}

// Makeup godoc
// @Summary Schedule a makeup lesson
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Missed session ID"
// @Param payload body dto.MakeupSessionRequest true "Makeup placement"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/makeup [post]
func (h *SessionHandler) Makeup(c *gin.Context) {
	var req dto.MakeupSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid makeup payload"))
		return
	}
	item, err := h.lifecycle.Makeup(c.Request.Context(), c.Param("id"), req, actorName(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, mutationResponse(item))
}

// Complete godoc
// @Summary Mark a finished lesson as completed
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/complete [post]
func (h *SessionHandler) Complete(c *gin.Context) {
	session, err := h.lifecycle.Complete(c.Request.Context(), c.Param("id"), actorName(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session)
}

// History godoc
// @Summary List a session's history
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/history [get]
func (h *SessionHandler) History(c *gin.Context) {
	events, err := h.history.ListFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events)
}

func mutationResponse(item *models.BatchItem) dto.SessionMutationResponse {
	source := item.Source
	return dto.SessionMutationResponse{Session: &source, Created: item.Result}
}
