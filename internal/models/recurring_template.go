package models

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
)

// WeekdaySet holds ISO weekdays (1=Monday … 7=Sunday) in ascending order.
type WeekdaySet []int

// NewWeekdaySet deduplicates, validates and sorts the input.
func NewWeekdaySet(days ...int) (WeekdaySet, error) {
	seen := make(map[int]bool, len(days))
	out := make(WeekdaySet, 0, len(days))
	for _, d := range days {
		if d < 1 || d > 7 {
			return nil, fmt.Errorf("weekday %d out of range 1-7", d)
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Ints(out)
	return out, nil
}

// Contains reports whether the ISO weekday is part of the set.
func (w WeekdaySet) Contains(day int) bool {
	for _, d := range w {
		if d == day {
			return true
		}
	}
	return false
}

// Scan reads a Postgres smallint[] column.
func (w *WeekdaySet) Scan(src interface{}) error {
	var arr pq.Int64Array
	if err := arr.Scan(src); err != nil {
		return fmt.Errorf("scan weekdays: %w", err)
	}
	out := make(WeekdaySet, 0, len(arr))
	for _, v := range arr {
		out = append(out, int(v))
	}
	*w = out
	return nil
}

// Value writes the set as a Postgres array literal.
func (w WeekdaySet) Value() (driver.Value, error) {
	arr := make(pq.Int64Array, 0, len(w))
	for _, v := range w {
		arr = append(arr, int64(v))
	}
	return arr.Value()
}

// RecurringTemplate is a weekly pattern that produces lesson occurrences.
type RecurringTemplate struct {
	ID          string     `db:"id" json:"id"`
	TeacherName string     `db:"teacher_name" json:"teacher_name"`
	Branch      string     `db:"branch" json:"branch"`
	Classroom   string     `db:"classroom" json:"classroom"`
	Weekdays    WeekdaySet `db:"weekdays" json:"weekdays"`
	StartTime   TimeOfDay  `db:"start_time" json:"start_time"`
	EndTime     TimeOfDay  `db:"end_time" json:"end_time"`
	ValidFrom   Date       `db:"valid_from" json:"valid_from"`
	ValidTo     Date       `db:"valid_to" json:"valid_to"`
	GroupID     *string    `db:"group_id" json:"group_id,omitempty"`
	StudentName *string    `db:"student_name" json:"student_name,omitempty"`
	Capacity    int        `db:"capacity" json:"capacity"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// ActiveOn reports whether the template produces an occurrence on date.
func (t RecurringTemplate) ActiveOn(date Date) bool {
	return date.Within(t.ValidFrom, t.ValidTo) && t.Weekdays.Contains(date.ISOWeekday())
}

// Occurrence renders the virtual session the template yields on date.
func (t RecurringTemplate) Occurrence(date Date) LessonSession {
	templateID := t.ID
	session := LessonSession{
		ID:                 VirtualSessionID(t.ID, date),
		GroupID:            cloneString(t.GroupID),
		StudentName:        cloneString(t.StudentName),
		TeacherName:        t.TeacherName,
		Branch:             t.Branch,
		Classroom:          t.Classroom,
		LessonDate:         date,
		StartTime:          t.StartTime,
		EndTime:            t.EndTime,
		Status:             SessionStatusScheduled,
		RecurrenceSourceID: &templateID,
		Capacity:           t.Capacity,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
		Virtual:            true,
	}
	session.SyncDayOfWeek()
	return session
}

// TemplateFilter narrows template queries.
type TemplateFilter struct {
	Branch    string
	Teacher   string
	Classroom string
	GroupID   string
	// ActiveFrom/ActiveTo select templates whose validity intersects the window.
	ActiveFrom Date
	ActiveTo   Date
}
