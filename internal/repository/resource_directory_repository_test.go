package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceDirectoryRepositoryLoadAttachesRosters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewResourceDirectoryRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, COALESCE(display_name, '') AS display_name, branch FROM teachers WHERE branch = $1")).
		WithArgs("center").
		WillReturnRows(sqlmock.NewRows([]string{"name", "display_name", "branch"}).AddRow("Иванов", "Иванов И.И.", "center"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, branch, capacity FROM classrooms WHERE branch = $1")).
		WithArgs("center").
		WillReturnRows(sqlmock.NewRows([]string{"name", "branch", "capacity"}).AddRow("101", "center", 12))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, branch FROM student_groups WHERE branch = $1")).
		WithArgs("center").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "branch"}).AddRow("grp-1", "Beginners A1", "center"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT group_id, student_name FROM group_members WHERE group_id IN (?)")).
		WithArgs("grp-1").
		WillReturnRows(sqlmock.NewRows([]string{"group_id", "student_name"}).AddRow("grp-1", "Anna").AddRow("grp-1", "Boris"))

	dir, err := repo.Load(context.Background(), "center")
	require.NoError(t, err)
	assert.Equal(t, "Иванов И.И.", dir.TeacherLabel("Иванов"))
	require.NotNil(t, dir.Classroom("center", "101"))
	assert.Equal(t, 12, dir.Classroom("center", "101").Capacity)
	require.NotNil(t, dir.Group("grp-1"))
	assert.Equal(t, []string{"Anna", "Boris"}, dir.Group("grp-1").Students)
	assert.NoError(t, mock.ExpectationsWereMet())
}
