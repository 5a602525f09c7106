package models

// Teacher is a directory entry used to label grid rows.
type Teacher struct {
	Name        string `db:"name" json:"name"`
	DisplayName string `db:"display_name" json:"display_name"`
	Branch      string `db:"branch" json:"branch"`
}

// Classroom is a directory entry carrying seat capacity.
type Classroom struct {
	Name     string `db:"name" json:"name"`
	Branch   string `db:"branch" json:"branch"`
	Capacity int    `db:"capacity" json:"capacity"`
}

// StudentGroup maps a group id to its display name and roster.
type StudentGroup struct {
	ID       string   `db:"id" json:"id"`
	Name     string   `db:"name" json:"name"`
	Branch   string   `db:"branch" json:"branch"`
	Students []string `db:"-" json:"students"`
}

// GroupMember is one roster row.
type GroupMember struct {
	GroupID     string `db:"group_id" json:"group_id"`
	StudentName string `db:"student_name" json:"student_name"`
}

// ResourceDirectory is a branch-scoped snapshot used only for display enrichment.
type ResourceDirectory struct {
	Branch     string         `json:"branch"`
	Teachers   []Teacher      `json:"teachers"`
	Classrooms []Classroom    `json:"classrooms"`
	Groups     []StudentGroup `json:"groups"`
}

// Group returns the group with id or nil.
func (d *ResourceDirectory) Group(id string) *StudentGroup {
	if d == nil {
		return nil
	}
	for i := range d.Groups {
		if d.Groups[i].ID == id {
			return &d.Groups[i]
		}
	}
	return nil
}

// Classroom returns the classroom by name within the branch or nil.
func (d *ResourceDirectory) Classroom(branch, name string) *Classroom {
	if d == nil {
		return nil
	}
	for i := range d.Classrooms {
		if d.Classrooms[i].Name == name && (branch == "" || d.Classrooms[i].Branch == branch) {
			return &d.Classrooms[i]
		}
	}
	return nil
}

// TeacherLabel returns the display name for a teacher or the raw name.
func (d *ResourceDirectory) TeacherLabel(name string) string {
	if d != nil {
		for _, t := range d.Teachers {
			if t.Name == name && t.DisplayName != "" {
				return t.DisplayName
			}
		}
	}
	return name
}
