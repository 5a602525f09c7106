package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lesson-grid-api/internal/models"
)

const recurringTemplateColumns = `id, teacher_name, branch, classroom, weekdays, start_time, end_time, valid_from, valid_to,
group_id, student_name, capacity, created_at, updated_at`

// RecurringTemplateRepository reads weekly lesson patterns. Templates are authored elsewhere.
type RecurringTemplateRepository struct {
	db *sqlx.DB
}

// NewRecurringTemplateRepository constructs the repository.
func NewRecurringTemplateRepository(db *sqlx.DB) *RecurringTemplateRepository {
	return &RecurringTemplateRepository{db: db}
}

// GetByID loads one template. Missing rows surface as sql.ErrNoRows.
func (r *RecurringTemplateRepository) GetByID(ctx context.Context, id string) (*models.RecurringTemplate, error) {
	query := `SELECT ` + recurringTemplateColumns + ` FROM recurring_templates WHERE id = $1`
	var tpl models.RecurringTemplate
	if err := r.db.GetContext(ctx, &tpl, query, id); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// List returns templates matching the filter. ActiveFrom/ActiveTo keep templates whose
// validity window intersects the requested range; open-ended bounds are stored as NULL.
func (r *RecurringTemplateRepository) List(ctx context.Context, filter models.TemplateFilter) ([]models.RecurringTemplate, error) {
	var conditions []string
	var args []interface{}

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
	if !filter.ActiveTo.IsZero() {
		args = append(args, filter.ActiveTo)
		conditions = append(conditions, fmt.Sprintf("(valid_from IS NULL OR valid_from <= $%d)", len(args)))
	}
	if !filter.ActiveFrom.IsZero() {
		args = append(args, filter.ActiveFrom)
		conditions = append(conditions, fmt.Sprintf("(valid_to IS NULL OR valid_to >= $%d)", len(args)))
	}

	query := `SELECT ` + recurringTemplateColumns + ` FROM recurring_templates`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY start_time ASC, id ASC"

	var templates []models.RecurringTemplate
	if err := r.db.SelectContext(ctx, &templates, query, args...); err != nil {
		return nil, fmt.Errorf("list recurring templates: %w", err)
	}
	return templates, nil
}
