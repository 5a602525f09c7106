package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lesson-grid-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var sessionColumnNames = []string{"id", "group_id", "student_name", "teacher_name", "branch", "classroom", "lesson_date", "start_time", "end_time",
	"day_of_week", "status", "notes", "recurrence_source_id", "rescheduled_to_id", "capacity", "student_count", "created_at", "updated_at"}

func sessionRow(rows *sqlmock.Rows, id, date, start, end, status string) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(id, "grp-1", nil, "Иванов", "center", "101", date, start, end, 1, status, "", nil, nil, 12, 8, now, now)
}

func TestLessonSessionRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLessonSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lesson_sessions")).
		WithArgs(sqlmock.AnyArg(), nil, nil, "Иванов", "center", "101", "2025-03-12", "10:00:00", "11:00:00",
			3, "scheduled", "", nil, nil, 12, 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	session := &models.LessonSession{
		TeacherName: "Иванов",
		Branch:      "center",
		Classroom:   "101",
		LessonDate:  models.MustParseDate("2025-03-12"),
		StartTime:   models.MustParseTimeOfDay("10:00"),
		EndTime:     models.MustParseTimeOfDay("11:00"),
		Capacity:    12,
	}
	require.NoError(t, repo.Create(context.Background(), nil, session))
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, 3, session.DayOfWeek)
	assert.Equal(t, models.SessionStatusScheduled, session.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonSessionRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLessonSessionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM lesson_sessions WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), nil, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonSessionRepositoryUpdateWithStatusPrecondition(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLessonSessionRepository(db)

	rows := sessionRow(sqlmock.NewRows(sessionColumnNames), "s-1", "2025-03-10", "10:00:00", "11:00:00", "cancelled")
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE lesson_sessions SET status = $1, notes = $2, updated_at = $3 WHERE id = $4 AND status = $5 RETURNING")).
		WithArgs("cancelled", "cancelled: sick", sqlmock.AnyArg(), "s-1", "scheduled").
		WillReturnRows(rows)

	cancelled := models.SessionStatusCancelled
	scheduled := models.SessionStatusScheduled
	notes := "cancelled: sick"
	updated, err := repo.Update(context.Background(), nil, "s-1", models.SessionPatch{
		Status:       &cancelled,
		Notes:        &notes,
		ExpectStatus: &scheduled,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCancelled, updated.Status)
	assert.Equal(t, "2025-03-10", updated.LessonDate.String())
	assert.Equal(t, "10:00", updated.StartTime.String())
	require.NotNil(t, updated.GroupID)
	assert.Equal(t, "grp-1", *updated.GroupID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonSessionRepositoryUpdateLostRace(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLessonSessionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE lesson_sessions SET status = $1")).
		WillReturnRows(sqlmock.NewRows(sessionColumnNames))

	cancelled := models.SessionStatusCancelled
	scheduled := models.SessionStatusScheduled
	_, err := repo.Update(context.Background(), nil, "s-1", models.SessionPatch{Status: &cancelled, ExpectStatus: &scheduled})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonSessionRepositoryListBuildsFilter(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLessonSessionRepository(db)

	rows := sqlmock.NewRows(sessionColumnNames)
	sessionRow(rows, "s-1", "2025-03-10", "10:00:00", "11:00:00", "scheduled")
	sessionRow(rows, "s-2", "2025-03-11", "12:00:00", "13:00:00", "scheduled")
	mock.ExpectQuery(regexp.QuoteMeta("FROM lesson_sessions WHERE lesson_date >= $1 AND lesson_date <= $2 AND teacher_name = $3 AND status = ANY($4) ORDER BY lesson_date ASC, start_time ASC, created_at ASC")).
		WithArgs("2025-03-10", "2025-03-16", "Иванов", sqlmock.AnyArg()).
		WillReturnRows(rows)

	sessions, err := repo.List(context.Background(), nil, models.SessionFilter{
		DateFrom: models.MustParseDate("2025-03-10"),
		DateTo:   models.MustParseDate("2025-03-16"),
		Teacher:  "Иванов",
		Statuses: []models.SessionStatus{models.SessionStatusScheduled},
	})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s-2", sessions[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonSessionRepositoryListOverlappingClassroom(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLessonSessionRepository(db)

	rows := sessionRow(sqlmock.NewRows(sessionColumnNames), "s-3", "2025-03-11", "14:00:00", "14:30:00", "scheduled")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE lesson_date = $1 AND status <> $2 AND start_time < $3 AND end_time > $4 AND classroom = $5 AND branch = $6 AND id <> $7")).
		WithArgs("2025-03-11", "cancelled", "15:00:00", "14:00:00", "101", "center", "s-1").
		WillReturnRows(rows)

	sessions, err := repo.ListOverlapping(context.Background(), nil, models.ConflictCandidate{
		ResourceType:     models.ResourceClassroom,
		ResourceName:     "101",
		Branch:           "center",
		Date:             models.MustParseDate("2025-03-11"),
		Start:            models.MustParseTimeOfDay("14:00"),
		End:              models.MustParseTimeOfDay("15:00"),
		ExcludeSessionID: "s-1",
	})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s-3", sessions[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonSessionRepositoryLockResourcesSorted(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLessonSessionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("classroom:center:101:2025-03-11").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("teacher:Иванов:2025-03-11").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	session := models.LessonSession{TeacherName: "Иванов", Branch: "center", Classroom: "101"}
	keys := models.LockKeys(session, models.MustParseDate("2025-03-11"))
	keys = append(keys, keys[0])
	require.NoError(t, repo.LockResources(context.Background(), tx, keys))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonSessionRepositoryLockResourcesRequiresTx(t *testing.T) {
	db, _, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLessonSessionRepository(db)

	err := repo.LockResources(context.Background(), nil, []string{"teacher:x:2025-03-11"})
	assert.Error(t, err)
}
