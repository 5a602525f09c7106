package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/noah-isme/lesson-grid-api/internal/models"
)

// GridEntry is one item to project. Weekdays lists the ISO weekdays the entry occupies:
// a dated session occupies its own weekday, a template preview every weekday of the
// pattern. An entry with no weekdays is rendered in no cell.
type GridEntry struct {
	Session  models.LessonSession
	Weekdays []int
	// Template marks a weekly pattern preview; its validity limits the dates it covers.
	Template *models.RecurringTemplate
}

// EntriesFromSessions wraps dated sessions for the builder.
func EntriesFromSessions(sessions []models.LessonSession) []GridEntry {
	out := make([]GridEntry, 0, len(sessions))
	for _, s := range sessions {
		entry := GridEntry{Session: s}
		if !s.LessonDate.IsZero() {
			entry.Weekdays = []int{s.LessonDate.ISOWeekday()}
		}
		out = append(out, entry)
	}
	return out
}

// EntriesFromTemplates wraps templates as weekly pattern previews.
func EntriesFromTemplates(templates []models.RecurringTemplate) []GridEntry {
	out := make([]GridEntry, 0, len(templates))
	for i := range templates {
		tpl := templates[i]
		templateID := tpl.ID
		session := models.LessonSession{
			ID:                 tpl.ID,
			GroupID:            tpl.GroupID,
			StudentName:        tpl.StudentName,
			TeacherName:        tpl.TeacherName,
			Branch:             tpl.Branch,
			Classroom:          tpl.Classroom,
			StartTime:          tpl.StartTime,
			EndTime:            tpl.EndTime,
			Status:             models.SessionStatusScheduled,
			RecurrenceSourceID: &templateID,
			Capacity:           tpl.Capacity,
			CreatedAt:          tpl.CreatedAt,
			Virtual:            true,
		}
		out = append(out, GridEntry{Session: session, Weekdays: append([]int(nil), tpl.Weekdays...), Template: &tpl})
	}
	return out
}

// GridInput carries everything one build needs. SeedRows are row keys rendered even when empty.
type GridInput struct {
	Axis      models.GridAxis
	Entries   []GridEntry
	Directory *models.ResourceDirectory
	SeedRows  []string
}

// GridBuilder projects entries onto a grid axis. It is pure and safe for concurrent use.
type GridBuilder struct {
	dayStart models.TimeOfDay
	dayEnd   models.TimeOfDay
}

// NewGridBuilder bounds time-bucket columns to [dayStart, dayEnd).
func NewGridBuilder(dayStart, dayEnd models.TimeOfDay) *GridBuilder {
	if !dayStart.Valid() || !dayEnd.Valid() || dayStart >= dayEnd {
		dayStart, dayEnd = models.NewTimeOfDay(8, 0), models.NewTimeOfDay(22, 0)
	}
	return &GridBuilder{dayStart: dayStart, dayEnd: dayEnd}
}

// columnPlan maps a placement (date, start time) to a column index.
type columnPlan struct {
	columns []models.GridColumn
	dates   []models.Date
	locate  func(date models.Date, start models.TimeOfDay) int
}

// Build renders the grid in a single pass over the entries. It stops early when ctx is
// cancelled so a superseded request does not keep burning CPU.
func (b *GridBuilder) Build(ctx context.Context, in GridInput) (*models.Grid, error) {
	if err := in.Axis.Validate(); err != nil {
		return nil, err
	}
	plan := b.plan(in.Axis)
	grid := &models.Grid{Axis: in.Axis, Columns: plan.columns, Rows: []models.GridRow{}}

	rowIndex := make(map[string]int)
	addRow := func(key, label string) int {
		if idx, ok := rowIndex[key]; ok {
			return idx
		}
		cells := make([]models.GridCell, len(plan.columns))
		for i, col := range plan.columns {
			cells[i] = models.GridCell{ColumnKey: col.Key, Sessions: []models.LessonSession{}}
		}
		grid.Rows = append(grid.Rows, models.GridRow{Key: key, Label: label, Cells: cells})
		rowIndex[key] = len(grid.Rows) - 1
		return rowIndex[key]
	}

	if in.Axis.Row == models.GridRowMonth {
		for _, date := range plan.dates {
			week := date.StartOfWeek()
			addRow(week.String(), "week of "+week.String())
		}
	}
	for _, key := range in.SeedRows {
		addRow(key, rowLabel(in.Axis.Row, key, in.Directory))
	}

	type placed struct{ row, col int }
	seen := make(map[placed]map[string]struct{})

	for i, entry := range in.Entries {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		dates := entryDates(entry, plan.dates)
		if len(dates) == 0 {
			if entry.Template == nil && len(entry.Weekdays) > 0 {
				grid.Unplaced++
			}
			continue
		}
		for _, date := range dates {
			col := plan.locate(date, entry.Session.StartTime)
			if col < 0 {
				grid.Unplaced++
				continue
			}
			for _, key := range rowKeys(in.Axis.Row, entry.Session, date, in.Directory) {
				row := addRow(key, rowLabel(in.Axis.Row, key, in.Directory))
				slot := placed{row, col}
				if seen[slot] == nil {
					seen[slot] = make(map[string]struct{})
				}
				if _, dup := seen[slot][entry.Session.ID]; dup {
					continue
				}
				seen[slot][entry.Session.ID] = struct{}{}
				session := entry.Session
				if entry.Template != nil {
					session.LessonDate = date
					session.SyncDayOfWeek()
				}
				cell := &grid.Rows[row].Cells[col]
				cell.Sessions = append(cell.Sessions, session)
			}
		}
	}

	for ri := range grid.Rows {
		for ci := range grid.Rows[ri].Cells {
			sessions := grid.Rows[ri].Cells[ci].Sessions
			if len(sessions) < 2 {
				continue
			}
			sort.SliceStable(sessions, func(i, j int) bool {
				if sessions[i].StartTime != sessions[j].StartTime {
					return sessions[i].StartTime < sessions[j].StartTime
				}
				return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
			})
		}
	}
	if in.Axis.Row != models.GridRowMonth {
		sort.SliceStable(grid.Rows, func(i, j int) bool { return grid.Rows[i].Label < grid.Rows[j].Label })
	}
	return grid, nil
}

func (b *GridBuilder) plan(axis models.GridAxis) columnPlan {
	switch {
	case axis.Row == models.GridRowMonth:
		return monthPlan(axis.Month)
	case axis.Column == models.GridColumnTimeBucket:
		return b.bucketPlan(axis)
	default:
		return weekPlan(axis.WeekStart)
	}
}

func weekPlan(anchor models.Date) columnPlan {
	start := anchor.StartOfWeek()
	plan := columnPlan{}
	index := make(map[string]int, 7)
	for i := 0; i < 7; i++ {
		date := start.AddDays(i)
		d := date
		plan.columns = append(plan.columns, models.GridColumn{
			Key:   date.String(),
			Label: date.Time().Format("Mon 02.01"),
			Date:  &d,
		})
		plan.dates = append(plan.dates, date)
		index[date.String()] = i
	}
	plan.locate = func(date models.Date, _ models.TimeOfDay) int {
		if idx, ok := index[date.String()]; ok {
			return idx
		}
		return -1
	}
	return plan
}

func monthPlan(anchor models.Date) columnPlan {
	first := anchor.StartOfMonth()
	plan := columnPlan{}
	for day := 1; day <= 7; day++ {
		plan.columns = append(plan.columns, models.GridColumn{
			Key:   strconv.Itoa(day),
			Label: time.Weekday(day % 7).String()[:3],
		})
	}
	for date := first; date.Month() == first.Month(); date = date.AddDays(1) {
		plan.dates = append(plan.dates, date)
	}
	plan.locate = func(date models.Date, _ models.TimeOfDay) int {
		if date.Month() != first.Month() || date.Before(first) {
			return -1
		}
		return date.ISOWeekday() - 1
	}
	return plan
}

func (b *GridBuilder) bucketPlan(axis models.GridAxis) columnPlan {
	plan := columnPlan{}
	step := axis.Step
	for start := b.dayStart; start < b.dayEnd; start = start.Add(step) {
		end := start.Add(step)
		if end > b.dayEnd {
			end = b.dayEnd
		}
		s, e := start, end
		plan.columns = append(plan.columns, models.GridColumn{
			Key:   fmt.Sprintf("%s-%s", start, end),
			Label: fmt.Sprintf("%s-%s", start, end),
			Start: &s,
			End:   &e,
		})
	}
	if !axis.Day.IsZero() {
		plan.dates = []models.Date{axis.Day}
	} else {
		week := axis.WeekStart.StartOfWeek()
		for i := 0; i < 7; i++ {
			plan.dates = append(plan.dates, week.AddDays(i))
		}
	}
	allowed := make(map[string]struct{}, len(plan.dates))
	for _, d := range plan.dates {
		allowed[d.String()] = struct{}{}
	}
	dayStart := b.dayStart
	plan.locate = func(date models.Date, start models.TimeOfDay) int {
		if _, ok := allowed[date.String()]; !ok {
			return -1
		}
		if start < dayStart || start >= b.dayEnd {
			return -1
		}
		return int(start.Sub(dayStart) / step)
	}
	return plan
}

// entryDates returns the view dates the entry lands on.
func entryDates(entry GridEntry, viewDates []models.Date) []models.Date {
	if len(entry.Weekdays) == 0 {
		return nil
	}
	if entry.Template == nil {
		for _, d := range viewDates {
			if d.Equal(entry.Session.LessonDate) {
				return []models.Date{d}
			}
		}
		return nil
	}
	var out []models.Date
	for _, d := range viewDates {
		if !containsInt(entry.Weekdays, d.ISOWeekday()) {
			continue
		}
		if !d.Within(entry.Template.ValidFrom, entry.Template.ValidTo) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func rowKeys(row models.GridRowKey, s models.LessonSession, date models.Date, dir *models.ResourceDirectory) []string {
	switch row {
	case models.GridRowTeacher:
		return []string{s.TeacherName}
	case models.GridRowClassroom:
		return []string{classroomRowKey(s.Branch, s.Classroom)}
	case models.GridRowStudent:
		return studentsOf(s, dir)
	case models.GridRowMonth:
		return []string{date.StartOfWeek().String()}
	}
	return nil
}

func classroomRowKey(branch, classroom string) string {
	if branch == "" {
		return classroom
	}
	return branch + "/" + classroom
}

// studentsOf lists the students attending s. Group sessions without a known roster fall
// back to one row per group.
func studentsOf(s models.LessonSession, dir *models.ResourceDirectory) []string {
	if s.StudentName != nil && *s.StudentName != "" {
		return []string{*s.StudentName}
	}
	if s.GroupID == nil {
		return nil
	}
	if group := dir.Group(*s.GroupID); group != nil {
		if len(group.Students) > 0 {
			return group.Students
		}
		return []string{"group:" + group.Name}
	}
	return []string{"group:" + *s.GroupID}
}

func rowLabel(row models.GridRowKey, key string, dir *models.ResourceDirectory) string {
	switch row {
	case models.GridRowTeacher:
		return dir.TeacherLabel(key)
	case models.GridRowClassroom:
		for i := len(key) - 1; i >= 0; i-- {
			if key[i] == '/' {
				return key[i+1:]
			}
		}
	}
	return key
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
