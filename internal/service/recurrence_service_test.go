package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lesson-grid-api/internal/models"
	appErrors "github.com/noah-isme/lesson-grid-api/pkg/errors"
)

func TestRecurrenceExpandSkipsMaterializedDates(t *testing.T) {
	tpl := weeklyTemplate("t1", "Иванов", "101", "10:00", "11:00", 1, 3)
	templateID := tpl.ID
	materialized := lesson("m1", "Иванов", "101", "2025-03-10", "12:00", "13:00")
	materialized.RecurrenceSourceID = &templateID
	sessions := newMemSessionStore(materialized)
	svc := NewRecurrenceService(&memTemplateStore{templates: []models.RecurringTemplate{tpl}}, sessions, zap.NewNop())

	out, err := svc.Expand(context.Background(), nil, []models.RecurringTemplate{tpl}, models.MustParseDate("2025-03-10"), models.MustParseDate("2025-03-16"))
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "m1", out[0].ID)
	assert.False(t, out[0].Virtual)
	assert.Equal(t, "12:00", out[0].StartTime.String())

	assert.True(t, out[1].Virtual)
	assert.Equal(t, "2025-03-12", out[1].LessonDate.String())
	assert.Equal(t, 3, out[1].DayOfWeek)
	require.NotNil(t, out[1].RecurrenceSourceID)
	assert.Equal(t, "t1", *out[1].RecurrenceSourceID)
}

func TestRecurrenceExpandHonoursValidity(t *testing.T) {
	tpl := weeklyTemplate("t1", "Иванов", "101", "10:00", "11:00", 1)
	svc := NewRecurrenceService(&memTemplateStore{}, newMemSessionStore(), zap.NewNop())

	out, err := svc.Expand(context.Background(), nil, []models.RecurringTemplate{tpl}, models.MustParseDate("2025-02-01"), models.MustParseDate("2025-05-31"))
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, "2025-03-03", out[0].LessonDate.String())
	assert.Equal(t, "2025-04-28", out[len(out)-1].LessonDate.String())
	for _, occurrence := range out {
		assert.Equal(t, 1, occurrence.LessonDate.ISOWeekday())
	}
}

func TestRecurrenceExpandRejectsBadWindow(t *testing.T) {
	svc := NewRecurrenceService(&memTemplateStore{}, newMemSessionStore(), zap.NewNop())

	_, err := svc.Expand(context.Background(), nil, nil, models.MustParseDate("2025-03-10"), models.MustParseDate("2025-03-01"))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
	_, err = svc.Expand(context.Background(), nil, nil, models.MustParseDate("2025-01-01"), models.MustParseDate("2027-01-01"))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestRecurrenceResolveVirtualID(t *testing.T) {
	tpl := weeklyTemplate("t1", "Иванов", "101", "10:00", "11:00", 1)
	svc := NewRecurrenceService(&memTemplateStore{templates: []models.RecurringTemplate{tpl}}, newMemSessionStore(), zap.NewNop())

	session, resolved, err := svc.Resolve(context.Background(), nil, "virtual:t1:2025-03-17")
	require.NoError(t, err)
	assert.True(t, session.Virtual)
	assert.Equal(t, "t1", resolved.ID)
	assert.Equal(t, "2025-03-17", session.LessonDate.String())

	_, _, err = svc.Resolve(context.Background(), nil, "virtual:t1:2025-03-18")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
	_, _, err = svc.Resolve(context.Background(), nil, "virtual:missing:2025-03-17")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
	_, _, err = svc.Resolve(context.Background(), nil, "s1")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

func TestRecurrenceWindowMergesVirtual(t *testing.T) {
	tpl := weeklyTemplate("t1", "Иванов", "101", "09:00", "10:00", 1)
	sessions := newMemSessionStore(lesson("s1", "Иванов", "101", "2025-03-10", "10:00", "11:00"))
	svc := NewRecurrenceService(&memTemplateStore{templates: []models.RecurringTemplate{tpl}}, sessions, zap.NewNop())
	filter := models.SessionFilter{DateFrom: models.MustParseDate("2025-03-10"), DateTo: models.MustParseDate("2025-03-16")}

	out, err := svc.Window(context.Background(), filter, true)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].Virtual)
	assert.Equal(t, "s1", out[1].ID)

	filter.Statuses = []models.SessionStatus{models.SessionStatusCancelled}
	out, err = svc.Window(context.Background(), filter, true)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRecurrenceTemplateOccurrencesNotFound(t *testing.T) {
	svc := NewRecurrenceService(&memTemplateStore{}, newMemSessionStore(), zap.NewNop())

	_, err := svc.TemplateOccurrences(context.Background(), "nope", models.MustParseDate("2025-03-01"), models.MustParseDate("2025-03-31"))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}
