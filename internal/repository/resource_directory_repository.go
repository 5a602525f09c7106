package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lesson-grid-api/internal/models"
)

// ResourceDirectoryRepository reads the teacher, classroom and group reference tables
// maintained by the directory CRUD screens.
type ResourceDirectoryRepository struct {
	db *sqlx.DB
}

// NewResourceDirectoryRepository constructs the repository.
func NewResourceDirectoryRepository(db *sqlx.DB) *ResourceDirectoryRepository {
	return &ResourceDirectoryRepository{db: db}
}

// Load returns the directory for a branch; an empty branch loads every branch.
func (r *ResourceDirectoryRepository) Load(ctx context.Context, branch string) (*models.ResourceDirectory, error) {
	dir := &models.ResourceDirectory{Branch: branch}

	where := ""
	var args []interface{}
	if branch != "" {
		where = " WHERE branch = $1"
		args = append(args, branch)
	}

	if err := r.db.SelectContext(ctx, &dir.Teachers, `SELECT name, COALESCE(display_name, '') AS display_name, branch FROM teachers`+where+` ORDER BY name ASC`, args...); err != nil {
		return nil, fmt.Errorf("load teachers: %w", err)
	}
	if err := r.db.SelectContext(ctx, &dir.Classrooms, `SELECT name, branch, capacity FROM classrooms`+where+` ORDER BY name ASC`, args...); err != nil {
		return nil, fmt.Errorf("load classrooms: %w", err)
	}
	if err := r.db.SelectContext(ctx, &dir.Groups, `SELECT id, name, branch FROM student_groups`+where+` ORDER BY name ASC`, args...); err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	if len(dir.Groups) == 0 {
		return dir, nil
	}

	ids := make([]string, 0, len(dir.Groups))
	index := make(map[string]int, len(dir.Groups))
	for i, g := range dir.Groups {
		ids = append(ids, g.ID)
		index[g.ID] = i
	}
	query, inArgs, err := sqlx.In(`SELECT group_id, student_name FROM group_members WHERE group_id IN (?) ORDER BY student_name ASC`, ids)
	if err != nil {
		return nil, fmt.Errorf("build roster query: %w", err)
	}
	var members []models.GroupMember
	if err := r.db.SelectContext(ctx, &members, r.db.Rebind(query), inArgs...); err != nil {
		return nil, fmt.Errorf("load group rosters: %w", err)
	}
	for _, m := range members {
		if i, ok := index[m.GroupID]; ok {
			dir.Groups[i].Students = append(dir.Groups[i].Students, m.StudentName)
		}
	}
	return dir, nil
}
