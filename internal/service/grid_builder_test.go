package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lesson-grid-api/internal/dto"
	"github.com/noah-isme/lesson-grid-api/internal/models"
	appErrors "github.com/noah-isme/lesson-grid-api/pkg/errors"
)

func weekAxis(row models.GridRowKey) models.GridAxis {
	return models.GridAxis{Row: row, Column: models.GridColumnDay, WeekStart: models.MustParseDate("2025-03-10")}
}

func TestGridBuilderDayAxisPlacesByWeekday(t *testing.T) {
	builder := NewGridBuilder(0, 0)
	sessions := []models.LessonSession{
		lesson("mon", "Иванов", "101", "2025-03-10", "10:00", "11:00"),
		lesson("wed", "Иванов", "101", "2025-03-12", "10:00", "11:00"),
		lesson("sun", "Петров", "202", "2025-03-16", "18:00", "19:00"),
		lesson("next", "Петров", "202", "2025-03-17", "18:00", "19:00"),
	}
	entries := EntriesFromSessions(sessions)
	entries = append(entries, GridEntry{Session: lesson("none", "Иванов", "101", "2025-03-11", "12:00", "13:00")})

	grid, err := builder.Build(context.Background(), GridInput{Axis: weekAxis(models.GridRowTeacher), Entries: entries})
	require.NoError(t, err)
	require.Len(t, grid.Columns, 7)
	assert.Equal(t, "2025-03-10", grid.Columns[0].Key)
	assert.Equal(t, "2025-03-16", grid.Columns[6].Key)
	require.Len(t, grid.Rows, 2)

	placements := map[string][]string{}
	for _, row := range grid.Rows {
		for _, cell := range row.Cells {
			for _, s := range cell.Sessions {
				placements[s.ID] = append(placements[s.ID], row.Key+"|"+cell.ColumnKey)
			}
		}
	}
	assert.Equal(t, []string{"Иванов|2025-03-10"}, placements["mon"])
	assert.Equal(t, []string{"Иванов|2025-03-12"}, placements["wed"])
	assert.Equal(t, []string{"Петров|2025-03-16"}, placements["sun"])
	assert.NotContains(t, placements, "none")
	assert.NotContains(t, placements, "next")
	assert.Equal(t, 1, grid.Unplaced)
}

func TestGridBuilderTimeBucketUsesStartTime(t *testing.T) {
	builder := NewGridBuilder(models.MustParseTimeOfDay("08:00"), models.MustParseTimeOfDay("22:00"))
	axis := models.GridAxis{
		Row:       models.GridRowClassroom,
		Column:    models.GridColumnTimeBucket,
		Step:      time.Hour,
		WeekStart: models.MustParseDate("2025-03-10"),
		Day:       models.MustParseDate("2025-03-10"),
	}
	entries := EntriesFromSessions([]models.LessonSession{
		lesson("a", "Иванов", "101", "2025-03-10", "09:30", "10:30"),
		lesson("b", "Петров", "101", "2025-03-10", "07:00", "08:00"),
		lesson("c", "Петров", "101", "2025-03-11", "09:00", "10:00"),
	})

	grid, err := builder.Build(context.Background(), GridInput{Axis: axis, Entries: entries})
	require.NoError(t, err)
	require.Len(t, grid.Columns, 14)
	assert.Equal(t, "08:00-09:00", grid.Columns[0].Key)
	assert.Equal(t, "21:00-22:00", grid.Columns[13].Key)

	cell := grid.Cell("center/101", "09:00-10:00")
	require.NotNil(t, cell)
	require.Len(t, cell.Sessions, 1)
	assert.Equal(t, "a", cell.Sessions[0].ID)
	assert.Equal(t, "101", grid.Rows[0].Label)
	assert.Equal(t, 2, grid.Unplaced)
}

func TestGridBuilderBucketWidths(t *testing.T) {
	builder := NewGridBuilder(0, 0)
	for _, tc := range []struct {
		step    time.Duration
		columns int
		bucket  string
	}{
		{30 * time.Minute, 28, "09:30-10:00"},
		{2 * time.Hour, 7, "08:00-10:00"},
		{3 * time.Hour, 5, "08:00-11:00"},
		{4 * time.Hour, 4, "08:00-12:00"},
	} {
		axis := models.GridAxis{Row: models.GridRowTeacher, Column: models.GridColumnTimeBucket, Step: tc.step, WeekStart: models.MustParseDate("2025-03-10")}
		grid, err := builder.Build(context.Background(), GridInput{
			Axis:    axis,
			Entries: EntriesFromSessions([]models.LessonSession{lesson("a", "Иванов", "101", "2025-03-13", "09:30", "10:30")}),
		})
		require.NoError(t, err)
		assert.Len(t, grid.Columns, tc.columns, tc.step.String())
		cell := grid.Cell("Иванов", tc.bucket)
		require.NotNil(t, cell, tc.step.String())
		assert.Len(t, cell.Sessions, 1)
	}
}

func TestGridBuilderCellOrdering(t *testing.T) {
	builder := NewGridBuilder(0, 0)
	late := lesson("late", "Иванов", "101", "2025-03-10", "15:00", "16:00")
	first := lesson("first", "Иванов", "102", "2025-03-10", "09:00", "10:00")
	first.CreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	second := lesson("second", "Иванов", "103", "2025-03-10", "09:00", "10:00")
	second.CreatedAt = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	grid, err := builder.Build(context.Background(), GridInput{
		Axis:    weekAxis(models.GridRowTeacher),
		Entries: EntriesFromSessions([]models.LessonSession{late, second, first}),
	})
	require.NoError(t, err)
	cell := grid.Cell("Иванов", "2025-03-10")
	require.NotNil(t, cell)
	ids := []string{}
	for _, s := range cell.Sessions {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"first", "second", "late"}, ids)
}

func TestGridBuilderMonthView(t *testing.T) {
	builder := NewGridBuilder(0, 0)
	axis := models.GridAxis{Row: models.GridRowMonth, Column: models.GridColumnDay, Month: models.MustParseDate("2025-03-01")}
	grid, err := builder.Build(context.Background(), GridInput{
		Axis: axis,
		Entries: EntriesFromSessions([]models.LessonSession{
			lesson("a", "Иванов", "101", "2025-03-10", "10:00", "11:00"),
			lesson("b", "Иванов", "101", "2025-03-01", "10:00", "11:00"),
			lesson("feb", "Иванов", "101", "2025-02-28", "10:00", "11:00"),
		}),
	})
	require.NoError(t, err)
	require.Len(t, grid.Columns, 7)
	assert.Equal(t, "Mon", grid.Columns[0].Label)
	assert.Equal(t, "Sun", grid.Columns[6].Label)
	require.Len(t, grid.Rows, 6)
	assert.Equal(t, "2025-02-24", grid.Rows[0].Key)
	assert.Equal(t, "2025-03-31", grid.Rows[5].Key)

	require.Len(t, grid.Cell("2025-03-10", "1").Sessions, 1)
	require.Len(t, grid.Cell("2025-02-24", "6").Sessions, 1)
	assert.Empty(t, grid.Cell("2025-02-24", "5").Sessions)
	assert.Equal(t, 1, grid.Unplaced)
}

func TestGridBuilderStudentRowsUseRoster(t *testing.T) {
	builder := NewGridBuilder(0, 0)
	dir := &models.ResourceDirectory{Groups: []models.StudentGroup{{ID: "grp-a", Name: "B1 evening", Students: []string{"Anna", "Boris"}}}}
	individual := lesson("solo", "Петров", "202", "2025-03-11", "12:00", "13:00")
	student := "Clara"
	individual.StudentName = &student

	grid, err := builder.Build(context.Background(), GridInput{
		Axis:      weekAxis(models.GridRowStudent),
		Entries:   EntriesFromSessions([]models.LessonSession{s1(), individual}),
		Directory: dir,
	})
	require.NoError(t, err)
	require.Len(t, grid.Rows, 3)
	assert.Equal(t, "Anna", grid.Rows[0].Key)
	assert.Len(t, grid.Cell("Anna", "2025-03-10").Sessions, 1)
	assert.Len(t, grid.Cell("Boris", "2025-03-10").Sessions, 1)
	assert.Len(t, grid.Cell("Clara", "2025-03-11").Sessions, 1)
}

func TestGridBuilderTemplatePreview(t *testing.T) {
	builder := NewGridBuilder(0, 0)
	tpl := weeklyTemplate("t1", "Петров", "202", "12:00", "13:00", 1, 3)
	ended := weeklyTemplate("t2", "Петров", "202", "15:00", "16:00", 2)
	ended.ValidTo = models.MustParseDate("2025-03-05")

	grid, err := builder.Build(context.Background(), GridInput{
		Axis:    weekAxis(models.GridRowTeacher),
		Entries: EntriesFromTemplates([]models.RecurringTemplate{tpl, ended}),
	})
	require.NoError(t, err)
	mon := grid.Cell("Петров", "2025-03-10")
	wed := grid.Cell("Петров", "2025-03-12")
	require.Len(t, mon.Sessions, 1)
	require.Len(t, wed.Sessions, 1)
	assert.Equal(t, "2025-03-12", wed.Sessions[0].LessonDate.String())
	assert.True(t, wed.Sessions[0].Virtual)
	assert.Empty(t, grid.Cell("Петров", "2025-03-11").Sessions)
	assert.Zero(t, grid.Unplaced)
}

func TestGridBuilderSeedRowsAndLabels(t *testing.T) {
	builder := NewGridBuilder(0, 0)
	dir := &models.ResourceDirectory{Teachers: []models.Teacher{{Name: "Иванов", DisplayName: "Иван Иванов"}, {Name: "Сидоров"}}}
	grid, err := builder.Build(context.Background(), GridInput{
		Axis:      weekAxis(models.GridRowTeacher),
		Entries:   EntriesFromSessions([]models.LessonSession{s1()}),
		Directory: dir,
		SeedRows:  []string{"Иванов", "Сидоров"},
	})
	require.NoError(t, err)
	require.Len(t, grid.Rows, 2)
	assert.Equal(t, "Иван Иванов", grid.Rows[0].Label)
	assert.Equal(t, "Сидоров", grid.Rows[1].Key)
	for _, cell := range grid.Rows[1].Cells {
		assert.Empty(t, cell.Sessions)
	}
}

func TestGridBuilderStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGridBuilder(0, 0).Build(ctx, GridInput{Axis: weekAxis(models.GridRowTeacher), Entries: EntriesFromSessions([]models.LessonSession{s1()})})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGridBuilderRejectsBadAxis(t *testing.T) {
	axis := weekAxis(models.GridRowStudent)
	axis.Column = models.GridColumnTimeBucket
	axis.Step = time.Hour
	_, err := NewGridBuilder(0, 0).Build(context.Background(), GridInput{Axis: axis})
	assert.Error(t, err)
}

func TestBuildTrackerSupersedesPreviousBuild(t *testing.T) {
	tracker := NewBuildTracker()
	firstCtx, first, releaseFirst := tracker.Begin(context.Background(), "viewer-1")
	secondCtx, second, releaseSecond := tracker.Begin(context.Background(), "viewer-1")
	defer releaseSecond()

	assert.ErrorIs(t, firstCtx.Err(), context.Canceled)
	assert.NoError(t, secondCtx.Err())
	assert.False(t, tracker.Current("viewer-1", first))
	assert.True(t, tracker.Current("viewer-1", second))

	releaseFirst()
	assert.True(t, tracker.Current("viewer-1", second))

	_, other, releaseOther := tracker.Begin(context.Background(), "viewer-2")
	defer releaseOther()
	assert.True(t, tracker.Current("viewer-2", other))
	assert.True(t, tracker.Current("viewer-1", second))
}

type blockingGridSource struct {
	mu       sync.Mutex
	calls    int
	started  chan struct{}
	sessions []models.LessonSession
}

func (b *blockingGridSource) Window(ctx context.Context, _ models.SessionFilter, _ bool) ([]models.LessonSession, error) {
	b.mu.Lock()
	b.calls++
	call := b.calls
	b.mu.Unlock()
	if call == 1 {
		close(b.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.sessions, nil
}

func (b *blockingGridSource) Templates(context.Context, models.TemplateFilter) ([]models.RecurringTemplate, error) {
	return nil, nil
}

func TestGridServiceLastRequestWins(t *testing.T) {
	source := &blockingGridSource{started: make(chan struct{}), sessions: []models.LessonSession{s1()}}
	metrics := NewMetricsService()
	svc := NewGridService(source, nil, nil, nil, nil, metrics, nil)
	query := dto.GridQuery{Row: "teacher", WeekStart: models.MustParseDate("2025-03-12")}

	errs := make(chan error, 1)
	go func() {
		_, err := svc.Build(context.Background(), "viewer-1", query)
		errs <- err
	}()
	<-source.started

	grid, err := svc.Build(context.Background(), "viewer-1", query)
	require.NoError(t, err)
	require.NotNil(t, grid.Cell("Иванов", "2025-03-10"))
	assert.Len(t, grid.Cell("Иванов", "2025-03-10").Sessions, 1)
	assert.Equal(t, "2025-03-10", grid.Axis.WeekStart.String())

	stale := <-errs
	require.Error(t, stale)
	assert.True(t, appErrors.HasCode(stale, appErrors.ErrSuperseded.Code))
	assert.Equal(t, uint64(1), metrics.Snapshot().GridBuildsSuperseded)
}

func TestGridServiceValidatesQuery(t *testing.T) {
	svc := NewGridService(&blockingGridSource{started: make(chan struct{})}, nil, nil, nil, nil, nil, nil)

	_, err := svc.Build(context.Background(), "", dto.GridQuery{Row: "month"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	_, err = svc.Build(context.Background(), "", dto.GridQuery{Row: "teacher", Column: "time_bucket", Step: 45 * time.Minute, WeekStart: models.MustParseDate("2025-03-10")})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}
