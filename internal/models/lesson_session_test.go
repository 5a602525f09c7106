package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionStatusTransitions(t *testing.T) {
	assert.True(t, SessionStatusScheduled.CanTransitionTo(SessionStatusCancelled))
	assert.True(t, SessionStatusScheduled.CanTransitionTo(SessionStatusCompleted))
	assert.False(t, SessionStatusScheduled.CanTransitionTo(SessionStatusScheduled))
	assert.False(t, SessionStatusCancelled.CanTransitionTo(SessionStatusScheduled))
	assert.False(t, SessionStatusCompleted.CanTransitionTo(SessionStatusCancelled))
	assert.True(t, SessionStatusCancelled.Terminal())
	assert.False(t, SessionStatusScheduled.Terminal())

	_, err := ParseSessionStatus("postponed")
	assert.Error(t, err)
	status, err := ParseSessionStatus(" Cancelled ")
	assert.NoError(t, err)
	assert.Equal(t, SessionStatusCancelled, status)
}

func TestSessionFilterMatches(t *testing.T) {
	group := "g-1"
	s := LessonSession{
		TeacherName: "Иванов",
		Branch:      "center",
		Classroom:   "101",
		LessonDate:  MustParseDate("2025-03-10"),
		GroupID:     &group,
		Status:      SessionStatusScheduled,
	}
	assert.True(t, SessionFilter{}.Matches(s))
	assert.True(t, SessionFilter{Teacher: "Иванов", GroupID: "g-1", Statuses: []SessionStatus{SessionStatusScheduled}}.Matches(s))
	assert.False(t, SessionFilter{Statuses: []SessionStatus{SessionStatusCancelled}}.Matches(s))
	assert.False(t, SessionFilter{DateFrom: MustParseDate("2025-03-11")}.Matches(s))
	assert.False(t, SessionFilter{Classroom: "102"}.Matches(s))
}

func TestAppendNote(t *testing.T) {
	assert.Equal(t, "cancelled: sick", AppendNote("", "cancelled: sick"))
	assert.Equal(t, "bring books\ncancelled: sick", AppendNote("bring books", "cancelled: sick"))
	assert.Equal(t, "bring books", AppendNote("bring books", "  "))
}

func TestGridAxisValidate(t *testing.T) {
	week := MustParseDate("2025-03-10")
	assert.NoError(t, GridAxis{Row: GridRowTeacher, Column: GridColumnDay, WeekStart: week}.Validate())
	assert.NoError(t, GridAxis{Row: GridRowClassroom, Column: GridColumnTimeBucket, Step: AllowedGridSteps[1], WeekStart: week}.Validate())
	assert.Error(t, GridAxis{Row: GridRowClassroom, Column: GridColumnTimeBucket, Step: 45 * 60 * 1e9, WeekStart: week}.Validate())
	assert.Error(t, GridAxis{Row: GridRowStudent, Column: GridColumnTimeBucket, Step: AllowedGridSteps[0], WeekStart: week}.Validate())
	assert.Error(t, GridAxis{Row: GridRowMonth, Column: GridColumnDay}.Validate())
	assert.NoError(t, GridAxis{Row: GridRowMonth, Column: GridColumnDay, Month: week}.Validate())
}
