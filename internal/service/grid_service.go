package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lesson-grid-api/internal/dto"
	"github.com/noah-isme/lesson-grid-api/internal/models"
	appErrors "github.com/noah-isme/lesson-grid-api/pkg/errors"
)

// BuildTracker implements last-request-wins per viewer: starting a build cancels the
// viewer's previous one, and only the newest generation may publish its result.
type BuildTracker struct {
	mu      sync.Mutex
	next    uint64
	current map[string]trackedBuild
}

type trackedBuild struct {
	generation uint64
	cancel     context.CancelFunc
}

// NewBuildTracker constructs an empty tracker.
func NewBuildTracker() *BuildTracker {
	return &BuildTracker{current: make(map[string]trackedBuild)}
}

// Begin registers a build for viewer and returns its context, generation and release func.
// An empty viewer is never superseded.
func (t *BuildTracker) Begin(ctx context.Context, viewer string) (context.Context, uint64, func()) {
	ctx, cancel := context.WithCancel(ctx)
	if t == nil || viewer == "" {
		return ctx, 0, cancel
	}

	t.mu.Lock()
	t.next++
	generation := t.next
	if previous, ok := t.current[viewer]; ok {
		previous.cancel()
	}
	t.current[viewer] = trackedBuild{generation: generation, cancel: cancel}
	t.mu.Unlock()

	release := func() {
		t.mu.Lock()
		if active, ok := t.current[viewer]; ok && active.generation == generation {
			delete(t.current, viewer)
		}
		t.mu.Unlock()
		cancel()
	}
	return ctx, generation, release
}

// Current reports whether generation is still the newest build for viewer.
func (t *BuildTracker) Current(viewer string, generation uint64) bool {
	if t == nil || viewer == "" {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	active, ok := t.current[viewer]
	return ok && active.generation == generation
}

type gridSource interface {
	Window(ctx context.Context, filter models.SessionFilter, includeVirtual bool) ([]models.LessonSession, error)
	Templates(ctx context.Context, filter models.TemplateFilter) ([]models.RecurringTemplate, error)
}

// GridService loads the sessions for a view and projects them with GridBuilder.
type GridService struct {
	source    gridSource
	directory directoryLoader
	builder   *GridBuilder
	tracker   *BuildTracker
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewGridService wires the grid read path.
func NewGridService(source gridSource, directory directoryLoader, builder *GridBuilder, tracker *BuildTracker, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *GridService {
	if builder == nil {
		builder = NewGridBuilder(0, 0)
	}
	if tracker == nil {
		tracker = NewBuildTracker()
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GridService{source: source, directory: directory, builder: builder, tracker: tracker, validator: validate, metrics: metrics, logger: logger}
}

// AxisFromQuery converts bound query parameters into a validated axis.
func AxisFromQuery(q dto.GridQuery) (models.GridAxis, error) {
	axis := models.GridAxis{
		Row:       models.GridRowKey(q.Row),
		Column:    models.GridColumnKey(q.Column),
		Step:      q.Step,
		WeekStart: q.WeekStart,
		Day:       q.Day,
		Month:     q.Month,
	}
	if axis.Column == "" {
		axis.Column = models.GridColumnDay
	}
	if axis.Column == models.GridColumnTimeBucket && axis.Step == 0 {
		axis.Step = time.Hour
	}
	if axis.WeekStart.IsZero() && !axis.Day.IsZero() {
		axis.WeekStart = axis.Day
	}
	if !axis.WeekStart.IsZero() {
		axis.WeekStart = axis.WeekStart.StartOfWeek()
	}
	if !axis.Month.IsZero() {
		axis.Month = axis.Month.StartOfMonth()
	}
	if err := axis.Validate(); err != nil {
		return axis, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	return axis, nil
}

// axisWindow returns the inclusive date range an axis covers.
func axisWindow(axis models.GridAxis) (models.Date, models.Date) {
	switch {
	case axis.Row == models.GridRowMonth:
		first := axis.Month.StartOfMonth()
		last := first
		for next := first.AddDays(1); next.Month() == first.Month(); next = next.AddDays(1) {
			last = next
		}
		return first, last
	case axis.Column == models.GridColumnTimeBucket && !axis.Day.IsZero():
		return axis.Day, axis.Day
	default:
		start := axis.WeekStart.StartOfWeek()
		return start, start.AddDays(6)
	}
}

// Build renders the grid requested by viewer. A newer Build for the same viewer makes this
// one return REQUEST_SUPERSEDED; its result is discarded rather than merged.
func (s *GridService) Build(ctx context.Context, viewer string, q dto.GridQuery) (*models.Grid, error) {
	if err := s.validator.Struct(q); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grid query")
	}
	axis, err := AxisFromQuery(q)
	if err != nil {
		return nil, err
	}

	buildCtx, generation, release := s.tracker.Begin(ctx, viewer)
	defer release()
	started := time.Now()

	grid, err := s.build(buildCtx, axis, q)
	if !s.tracker.Current(viewer, generation) {
		s.metrics.RecordGridSuperseded()
		s.logger.Debug("grid build superseded", zap.String("viewer", viewer), zap.Uint64("generation", generation))
		return nil, appErrors.Clone(appErrors.ErrSuperseded, "")
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			s.metrics.RecordGridSuperseded()
			return nil, appErrors.Clone(appErrors.ErrSuperseded, "")
		}
		return nil, err
	}
	s.metrics.ObserveGridBuild(axis, time.Since(started))
	return grid, nil
}

func (s *GridService) build(ctx context.Context, axis models.GridAxis, q dto.GridQuery) (*models.Grid, error) {
	from, to := axisWindow(axis)

	var entries []GridEntry
	if q.Templates {
		templates, err := s.source.Templates(ctx, models.TemplateFilter{
			Branch:     q.Branch,
			Teacher:    q.Teacher,
			Classroom:  q.Classroom,
			GroupID:    q.GroupID,
			ActiveFrom: from,
			ActiveTo:   to,
		})
		if err != nil {
			return nil, err
		}
		entries = EntriesFromTemplates(templates)
	} else {
		filter := models.SessionFilter{
			DateFrom:  from,
			DateTo:    to,
			Branch:    q.Branch,
			Teacher:   q.Teacher,
			Classroom: q.Classroom,
			GroupID:   q.GroupID,
		}
		if !q.IncludeCancelled {
			filter.Statuses = []models.SessionStatus{models.SessionStatusScheduled, models.SessionStatusCompleted}
		}
		sessions, err := s.source.Window(ctx, filter, true)
		if err != nil {
			return nil, err
		}
		entries = EntriesFromSessions(sessions)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var dir *models.ResourceDirectory
	if s.directory != nil {
		dir = s.directory.Load(ctx, q.Branch)
		for i := range entries {
			s.directory.Enrich(dir, &entries[i].Session)
		}
	}

	return s.builder.Build(ctx, GridInput{
		Axis:      axis,
		Entries:   entries,
		Directory: dir,
		SeedRows:  seedRows(axis, q, dir),
	})
}

// seedRows lists directory resources so idle teachers and rooms still get a row.
// Narrowed views only show what they asked for.
func seedRows(axis models.GridAxis, q dto.GridQuery, dir *models.ResourceDirectory) []string {
	if dir == nil || q.Teacher != "" || q.Classroom != "" || q.GroupID != "" {
		return nil
	}
	var keys []string
	switch axis.Row {
	case models.GridRowTeacher:
		for _, teacher := range dir.Teachers {
			if q.Branch == "" || teacher.Branch == "" || teacher.Branch == q.Branch {
				keys = append(keys, teacher.Name)
			}
		}
	case models.GridRowClassroom:
		for _, room := range dir.Classrooms {
			if q.Branch == "" || room.Branch == q.Branch {
				keys = append(keys, classroomRowKey(room.Branch, room.Name))
			}
		}
	}
	return keys
}
