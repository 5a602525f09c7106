package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lesson-grid-api/internal/models"
)

const lessonSessionColumns = `id, group_id, student_name, teacher_name, branch, classroom, lesson_date, start_time, end_time,
day_of_week, status, notes, recurrence_source_id, rescheduled_to_id, capacity, student_count, created_at, updated_at`

// LessonSessionRepository persists dated lesson occurrences.
type LessonSessionRepository struct {
	db *sqlx.DB
}

// NewLessonSessionRepository constructs the repository.
func NewLessonSessionRepository(db *sqlx.DB) *LessonSessionRepository {
	return &LessonSessionRepository{db: db}
}

func (r *LessonSessionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a session, assigning id and timestamps when missing.
func (r *LessonSessionRepository) Create(ctx context.Context, exec sqlx.ExtContext, session *models.LessonSession) error {
	if session == nil {
		return fmt.Errorf("session payload is nil")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Status == "" {
		session.Status = models.SessionStatusScheduled
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	session.SyncDayOfWeek()
	session.Virtual = false

	const query = `INSERT INTO lesson_sessions (` + lessonSessionColumns + `)
VALUES (:id, :group_id, :student_name, :teacher_name, :branch, :classroom, :lesson_date, :start_time, :end_time,
:day_of_week, :status, :notes, :recurrence_source_id, :rescheduled_to_id, :capacity, :student_count, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, session); err != nil {
		return fmt.Errorf("create lesson session: %w", err)
	}
	return nil
}

// GetByID loads a session. Missing rows surface as sql.ErrNoRows.
func (r *LessonSessionRepository) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.LessonSession, error) {
	query := `SELECT ` + lessonSessionColumns + ` FROM lesson_sessions WHERE id = $1`
	var session models.LessonSession
	if err := sqlx.GetContext(ctx, r.exec(exec), &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// Update applies patch and returns the stored row. When patch.ExpectStatus is set the
// update only matches a row still in that status; a mismatch yields sql.ErrNoRows.
func (r *LessonSessionRepository) Update(ctx context.Context, exec sqlx.ExtContext, id string, patch models.SessionPatch) (*models.LessonSession, error) {
	if patch.Empty() {
		return r.GetByID(ctx, exec, id)
	}

	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.Notes != nil {
		add("notes", *patch.Notes)
	}
	if patch.RescheduledToID != nil {
		add("rescheduled_to_id", *patch.RescheduledToID)
	}
	if patch.Capacity != nil {
		add("capacity", *patch.Capacity)
	}
	if patch.StudentCount != nil {
		add("student_count", *patch.StudentCount)
	}
	add("updated_at", time.Now().UTC())

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if patch.ExpectStatus != nil {
		args = append(args, string(*patch.ExpectStatus))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query := fmt.Sprintf("UPDATE lesson_sessions SET %s WHERE %s RETURNING %s", strings.Join(sets, ", "), where, lessonSessionColumns)
	var session models.LessonSession
	if err := sqlx.GetContext(ctx, r.exec(exec), &session, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("update lesson session: %w", err)
	}
	return &session, nil
}

// List returns sessions matching filter ordered by date, start time and creation.
func (r *LessonSessionRepository) List(ctx context.Context, exec sqlx.ExtContext, filter models.SessionFilter) ([]models.LessonSession, error) {
	var conditions []string
	var args []interface{}

	if !filter.DateFrom.IsZero() {
		args = append(args, filter.DateFrom)
		conditions = append(conditions, fmt.Sprintf("lesson_date >= $%d", len(args)))
	}
	if !filter.DateTo.IsZero() {
		args = append(args, filter.DateTo)
		conditions = append(conditions, fmt.Sprintf("lesson_date <= $%d", len(args)))
	}
	if filter.Branch != "" {
		args = append(args, filter.Branch)
		conditions = append(conditions, fmt.Sprintf("branch = $%d", len(args)))
	}
	if filter.Teacher != "" {
		args = append(args, filter.Teacher)
		conditions = append(conditions, fmt.Sprintf("teacher_name = $%d", len(args)))
	}
	if filter.Classroom != "" {
		args = append(args, filter.Classroom)
		conditions = append(conditions, fmt.Sprintf("classroom = $%d", len(args)))
	}
	if filter.GroupID != "" {
		args = append(args, filter.GroupID)
		conditions = append(conditions, fmt.Sprintf("group_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := `SELECT ` + lessonSessionColumns + ` FROM lesson_sessions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY lesson_date ASC, start_time ASC, created_at ASC"

	var sessions []models.LessonSession
	if err := sqlx.SelectContext(ctx, r.exec(exec), &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("list lesson sessions: %w", err)
	}
	return sessions, nil
}

// ListOverlapping returns non-cancelled sessions booking the candidate's resource
// whose interval intersects [Start, End) on the candidate date.
func (r *LessonSessionRepository) ListOverlapping(ctx context.Context, exec sqlx.ExtContext, candidate models.ConflictCandidate) ([]models.LessonSession, error) {
	args := []interface{}{candidate.Date, string(models.SessionStatusCancelled), candidate.End, candidate.Start}
	conditions := []string{"lesson_date = $1", "status <> $2", "start_time < $3", "end_time > $4"}

	switch candidate.ResourceType {
	case models.ResourceTeacher:
		args = append(args, candidate.ResourceName)
		conditions = append(conditions, fmt.Sprintf("teacher_name = $%d", len(args)))
	case models.ResourceClassroom:
		args = append(args, candidate.ResourceName)
		conditions = append(conditions, fmt.Sprintf("classroom = $%d", len(args)))
		if candidate.Branch != "" {
			args = append(args, candidate.Branch)
			conditions = append(conditions, fmt.Sprintf("branch = $%d", len(args)))
		}
	default:
		return nil, fmt.Errorf("unsupported resource type %q", candidate.ResourceType)
	}
	if candidate.ExcludeSessionID != "" {
		args = append(args, candidate.ExcludeSessionID)
		conditions = append(conditions, fmt.Sprintf("id <> $%d", len(args)))
	}

	query := `SELECT ` + lessonSessionColumns + ` FROM lesson_sessions WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY start_time ASC, created_at ASC`
	var sessions []models.LessonSession
	if err := sqlx.SelectContext(ctx, r.exec(exec), &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("list overlapping lesson sessions: %w", err)
	}
	return sessions, nil
}

// ListBySources returns every session, whatever its status, materialized from the given
// templates inside [from, to].
func (r *LessonSessionRepository) ListBySources(ctx context.Context, exec sqlx.ExtContext, templateIDs []string, from, to models.Date) ([]models.LessonSession, error) {
	if len(templateIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + lessonSessionColumns + ` FROM lesson_sessions
WHERE recurrence_source_id = ANY($1) AND lesson_date >= $2 AND lesson_date <= $3
ORDER BY lesson_date ASC, start_time ASC`
	var sessions []models.LessonSession
	if err := sqlx.SelectContext(ctx, r.exec(exec), &sessions, query, pq.Array(templateIDs), from, to); err != nil {
		return nil, fmt.Errorf("list materialized occurrences: %w", err)
	}
	return sessions, nil
}

// LockResources takes transaction-scoped advisory locks for the keys in sorted order so
// concurrent writers touching the same resources serialise without deadlocking.
func (r *LessonSessionRepository) LockResources(ctx context.Context, exec sqlx.ExtContext, keys []string) error {
	if exec == nil {
		return fmt.Errorf("advisory locks require a transaction")
	}
	unique := make(map[string]struct{}, len(keys))
	ordered := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := unique[key]; ok || key == "" {
			continue
		}
		unique[key] = struct{}{}
		ordered = append(ordered, key)
	}
	sort.Strings(ordered)

	for _, key := range ordered {
		if _, err := exec.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("lock resource %s: %w", key, err)
		}
	}
	return nil
}
