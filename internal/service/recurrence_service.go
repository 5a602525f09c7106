package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lesson-grid-api/internal/models"
	appErrors "github.com/noah-isme/lesson-grid-api/pkg/errors"
)

// maxExpansionDays bounds a single expansion window.
const maxExpansionDays = 400

type templateReader interface {
	GetByID(ctx context.Context, id string) (*models.RecurringTemplate, error)
	List(ctx context.Context, filter models.TemplateFilter) ([]models.RecurringTemplate, error)
}

type sessionLister interface {
	List(ctx context.Context, exec sqlx.ExtContext, filter models.SessionFilter) ([]models.LessonSession, error)
	ListBySources(ctx context.Context, exec sqlx.ExtContext, templateIDs []string, from, to models.Date) ([]models.LessonSession, error)
}

// RecurrenceService reconciles recurring templates with materialized occurrences.
// It is the only place that decides whether a template yields a lesson on a given day.
type RecurrenceService struct {
	templates templateReader
	sessions  sessionLister
	logger    *zap.Logger
}

// NewRecurrenceService constructs the expander.
func NewRecurrenceService(templates templateReader, sessions sessionLister, logger *zap.Logger) *RecurrenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecurrenceService{templates: templates, sessions: sessions, logger: logger}
}

type occurrenceKey struct {
	templateID string
	date       string
}

func validateWindow(from, to models.Date) error {
	if from.IsZero() || to.IsZero() {
		return appErrors.Clone(appErrors.ErrValidation, "date window requires both bounds")
	}
	if to.Before(from) {
		return appErrors.Clone(appErrors.ErrValidation, "date window end precedes start")
	}
	if from.DaysUntil(to) > maxExpansionDays {
		return appErrors.Clone(appErrors.ErrValidation, "date window is too large")
	}
	return nil
}

// Expand returns the materialized and virtual occurrences of templates inside [from, to]
// ordered by date and start time. Virtual occurrences carry Virtual=true.
func (s *RecurrenceService) Expand(ctx context.Context, exec sqlx.ExtContext, templates []models.RecurringTemplate, from, to models.Date) ([]models.LessonSession, error) {
	if err := validateWindow(from, to); err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		return []models.LessonSession{}, nil
	}

	ids := make([]string, 0, len(templates))
	for _, tpl := range templates {
		ids = append(ids, tpl.ID)
	}
	materialized, err := s.sessions.ListBySources(ctx, exec, ids, from, to)
	if err != nil {
		return nil, err
	}

	seen := make(map[occurrenceKey]struct{}, len(materialized))
	out := make([]models.LessonSession, 0, len(materialized))
	for _, session := range materialized {
		if session.RecurrenceSourceID == nil {
			continue
		}
		seen[occurrenceKey{*session.RecurrenceSourceID, session.LessonDate.String()}] = struct{}{}
		out = append(out, session)
	}

	for _, tpl := range templates {
		if tpl.StartTime >= tpl.EndTime || len(tpl.Weekdays) == 0 {
			s.logger.Warn("skipping malformed recurring template", zap.String("template_id", tpl.ID))
			continue
		}
		start, end := from, to
		if !tpl.ValidFrom.IsZero() && tpl.ValidFrom.After(start) {
			start = tpl.ValidFrom
		}
		if !tpl.ValidTo.IsZero() && tpl.ValidTo.Before(end) {
			end = tpl.ValidTo
		}
		for day := start; !day.After(end); day = day.AddDays(1) {
			if !tpl.Weekdays.Contains(day.ISOWeekday()) {
				continue
			}
			if _, exists := seen[occurrenceKey{tpl.ID, day.String()}]; exists {
				continue
			}
			out = append(out, tpl.Occurrence(day))
		}
	}

	sortSessions(out)
	return out, nil
}

// Virtual returns only the not-yet-materialized occurrences of templates matching filter.
func (s *RecurrenceService) Virtual(ctx context.Context, exec sqlx.ExtContext, filter models.TemplateFilter, from, to models.Date) ([]models.LessonSession, error) {
	filter.ActiveFrom, filter.ActiveTo = from, to
	templates, err := s.templates.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	expanded, err := s.Expand(ctx, exec, templates, from, to)
	if err != nil {
		return nil, err
	}
	out := expanded[:0]
	for _, session := range expanded {
		if session.Virtual {
			out = append(out, session)
		}
	}
	return out, nil
}

// VirtualForCandidate returns virtual occurrences booking the candidate's resource on its date.
func (s *RecurrenceService) VirtualForCandidate(ctx context.Context, exec sqlx.ExtContext, candidate models.ConflictCandidate) ([]models.LessonSession, error) {
	filter := models.TemplateFilter{}
	switch candidate.ResourceType {
	case models.ResourceTeacher:
		filter.Teacher = candidate.ResourceName
	case models.ResourceClassroom:
		filter.Classroom = candidate.ResourceName
		filter.Branch = candidate.Branch
	}
	return s.Virtual(ctx, exec, filter, candidate.Date, candidate.Date)
}

// Window lists stored sessions matching filter and, when includeVirtual is set, the
// virtual occurrences that would render in the same window.
func (s *RecurrenceService) Window(ctx context.Context, filter models.SessionFilter, includeVirtual bool) ([]models.LessonSession, error) {
	sessions, err := s.sessions.List(ctx, nil, filter)
	if err != nil {
		return nil, err
	}
	if !includeVirtual || !statusAllowsScheduled(filter.Statuses) {
		return sessions, nil
	}
	if err := validateWindow(filter.DateFrom, filter.DateTo); err != nil {
		return nil, err
	}

	virtual, err := s.Virtual(ctx, nil, models.TemplateFilter{
		Branch:    filter.Branch,
		Teacher:   filter.Teacher,
		Classroom: filter.Classroom,
		GroupID:   filter.GroupID,
	}, filter.DateFrom, filter.DateTo)
	if err != nil {
		return nil, err
	}

	out := make([]models.LessonSession, 0, len(sessions)+len(virtual))
	out = append(out, sessions...)
	out = append(out, virtual...)
	sortSessions(out)
	return out, nil
}

// Resolve loads the occurrence addressed by a virtual id. When the occurrence has already
// been materialized the stored session is returned instead.
func (s *RecurrenceService) Resolve(ctx context.Context, exec sqlx.ExtContext, id string) (*models.LessonSession, *models.RecurringTemplate, error) {
	templateID, date, ok := models.ParseVirtualSessionID(id)
	if !ok {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}
	tpl, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, nil, err
	}
	if !tpl.ActiveOn(date) {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "template has no occurrence on that date")
	}

	existing, err := s.sessions.ListBySources(ctx, exec, []string{tpl.ID}, date, date)
	if err != nil {
		return nil, nil, err
	}
	if len(existing) > 0 {
		session := existing[0]
		return &session, tpl, nil
	}
	occurrence := tpl.Occurrence(date)
	return &occurrence, tpl, nil
}

// Templates lists templates for the template endpoints.
func (s *RecurrenceService) Templates(ctx context.Context, filter models.TemplateFilter) ([]models.RecurringTemplate, error) {
	templates, err := s.templates.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if templates == nil {
		templates = []models.RecurringTemplate{}
	}
	return templates, nil
}

// TemplateOccurrences expands one template across the window.
func (s *RecurrenceService) TemplateOccurrences(ctx context.Context, templateID string, from, to models.Date) ([]models.LessonSession, error) {
	tpl, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "template not found")
		}
		return nil, err
	}
	return s.Expand(ctx, nil, []models.RecurringTemplate{*tpl}, from, to)
}

func statusAllowsScheduled(statuses []models.SessionStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, status := range statuses {
		if status == models.SessionStatusScheduled {
			return true
		}
	}
	return false
}

// sortSessions orders by date then start time, keeping insertion order on ties.
func sortSessions(sessions []models.LessonSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.LessonDate.Equal(b.LessonDate) {
			return a.LessonDate.Before(b.LessonDate)
		}
		return a.StartTime < b.StartTime
	})
}
