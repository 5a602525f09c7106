package service

import (
	"context"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lesson-grid-api/internal/dto"
	"github.com/noah-isme/lesson-grid-api/internal/models"
	appErrors "github.com/noah-isme/lesson-grid-api/pkg/errors"
	"github.com/noah-isme/lesson-grid-api/pkg/export"
)

type sessionWindow interface {
	Window(ctx context.Context, filter models.SessionFilter, includeVirtual bool) ([]models.LessonSession, error)
}

type directoryLoader interface {
	Load(ctx context.Context, branch string) *models.ResourceDirectory
	Enrich(dir *models.ResourceDirectory, session *models.LessonSession)
}

// SessionQueryService serves list-by-filter in the flat shape used by rendering and export.
type SessionQueryService struct {
	sessions  sessionWindow
	directory directoryLoader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSessionQueryService constructs the query service.
func NewSessionQueryService(sessions sessionWindow, directory directoryLoader, validate *validator.Validate, logger *zap.Logger) *SessionQueryService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionQueryService{sessions: sessions, directory: directory, validator: validate, logger: logger}
}

// FilterFromQuery converts bound query parameters into a store filter.
func FilterFromQuery(q dto.SessionListQuery) (models.SessionFilter, error) {
	filter := models.SessionFilter{
		DateFrom:  q.DateFrom,
		DateTo:    q.DateTo,
		Branch:    q.Branch,
		Teacher:   q.Teacher,
		Classroom: q.Classroom,
		GroupID:   q.GroupID,
	}
	if !filter.DateFrom.IsZero() && !filter.DateTo.IsZero() && filter.DateTo.Before(filter.DateFrom) {
		return filter, appErrors.Clone(appErrors.ErrValidation, "date_to precedes date_from")
	}
	for _, raw := range q.Status {
		status, err := models.ParseSessionStatus(raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return filter, nil
}

// List returns the sessions matching q ordered by date and start time.
func (s *SessionQueryService) List(ctx context.Context, q dto.SessionListQuery) ([]dto.SessionListItem, error) {
	if err := s.validator.Struct(q); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query")
	}
	filter, err := FilterFromQuery(q)
	if err != nil {
		return nil, err
	}
	if q.IncludeVirtual && (filter.DateFrom.IsZero() || filter.DateTo.IsZero()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "include_virtual requires date_from and date_to")
	}

	sessions, err := s.sessions.Window(ctx, filter, q.IncludeVirtual)
	if err != nil {
		return nil, err
	}

	var dir *models.ResourceDirectory
	if s.directory != nil {
		dir = s.directory.Load(ctx, q.Branch)
	}
	items := make([]dto.SessionListItem, 0, len(sessions))
	for i := range sessions {
		session := sessions[i]
		if s.directory != nil {
			s.directory.Enrich(dir, &session)
		}
		items = append(items, toListItem(dir, session))
	}
	return items, nil
}

func toListItem(dir *models.ResourceDirectory, s models.LessonSession) dto.SessionListItem {
	item := dto.SessionListItem{
		ID:           s.ID,
		LessonDate:   s.LessonDate,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
		TeacherName:  s.TeacherName,
		Branch:       s.Branch,
		Classroom:    s.Classroom,
		Status:       s.Status,
		Notes:        s.Notes,
		StudentCount: s.StudentCount,
		Capacity:     s.Capacity,
		Virtual:      s.Virtual,
	}
	if s.GroupID != nil {
		if group := dir.Group(*s.GroupID); group != nil {
			item.GroupName = group.Name
		}
	}
	if item.GroupName == "" && s.StudentName != nil {
		item.GroupName = *s.StudentName
	}
	return item
}

var exportColumns = []string{"id", "date", "start", "end", "teacher", "branch", "classroom", "group", "status", "students", "capacity", "notes"}

// Table returns the same rows as List laid out for spreadsheet export.
func (s *SessionQueryService) Table(ctx context.Context, q dto.SessionListQuery) (export.Table, error) {
	items, err := s.List(ctx, q)
	if err != nil {
		return export.Table{}, err
	}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ID,
			item.LessonDate.String(),
			item.StartTime.String(),
			item.EndTime.String(),
			item.TeacherName,
			item.Branch,
			item.Classroom,
			item.GroupName,
			string(item.Status),
			strconv.Itoa(item.StudentCount),
			strconv.Itoa(item.Capacity),
			item.Notes,
		})
	}
	return export.Table{Columns: exportColumns, Rows: rows}, nil
}
