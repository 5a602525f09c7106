package models

import (
	"fmt"
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of a lesson occurrence.
type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// ParseSessionStatus validates a raw status string.
func ParseSessionStatus(raw string) (SessionStatus, error) {
	status := SessionStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown session status %q", raw)
	}
	return status, nil
}

// Valid reports whether s is one of the known states.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusScheduled, SessionStatusCompleted, SessionStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusCancelled:
		return true
	case SessionStatusScheduled:
		return false
	}
	return true
}

// CanTransitionTo encodes the occurrence state machine.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionStatusScheduled:
		return next == SessionStatusCompleted || next == SessionStatusCancelled
	case SessionStatusCompleted, SessionStatusCancelled:
		return false
	}
	return false
}

const virtualIDPrefix = "virtual:"

// LessonSession is one concrete dated lesson occurrence.
type LessonSession struct {
	ID                 string        `db:"id" json:"id"`
	GroupID            *string       `db:"group_id" json:"group_id,omitempty"`
	StudentName        *string       `db:"student_name" json:"student_name,omitempty"`
	TeacherName        string        `db:"teacher_name" json:"teacher_name"`
	Branch             string        `db:"branch" json:"branch"`
	Classroom          string        `db:"classroom" json:"classroom"`
	LessonDate         Date          `db:"lesson_date" json:"lesson_date"`
	StartTime          TimeOfDay     `db:"start_time" json:"start_time"`
	EndTime            TimeOfDay     `db:"end_time" json:"end_time"`
	DayOfWeek          int           `db:"day_of_week" json:"day_of_week"`
	Status             SessionStatus `db:"status" json:"status"`
	Notes              string        `db:"notes" json:"notes"`
	RecurrenceSourceID *string       `db:"recurrence_source_id" json:"recurrence_source_id,omitempty"`
	RescheduledToID    *string       `db:"rescheduled_to_id" json:"rescheduled_to_id,omitempty"`
	Capacity           int           `db:"capacity" json:"capacity"`
	StudentCount       int           `db:"student_count" json:"student_count"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`

	// Virtual marks a template occurrence that has not been materialized yet.
	Virtual bool `db:"-" json:"virtual,omitempty"`
}

// SyncDayOfWeek derives DayOfWeek from LessonDate.
func (s *LessonSession) SyncDayOfWeek() {
	if s.LessonDate.IsZero() {
		s.DayOfWeek = 0
		return
	}
	s.DayOfWeek = s.LessonDate.ISOWeekday()
}

// Duration returns the planned length of the lesson.
func (s LessonSession) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// OverlapsWith applies strict half-open interval intersection on the same date.
func (s LessonSession) OverlapsWith(date Date, start, end TimeOfDay) bool {
	return s.LessonDate.Equal(date) && Overlaps(s.StartTime, s.EndTime, start, end)
}

// InGroup reports whether the session belongs to the given group.
func (s LessonSession) InGroup(groupID string) bool {
	return s.GroupID != nil && *s.GroupID == groupID
}

// Clone returns a deep copy so pointer fields are not shared.
func (s LessonSession) Clone() LessonSession {
	out := s
	out.GroupID = cloneString(s.GroupID)
	out.StudentName = cloneString(s.StudentName)
	out.RecurrenceSourceID = cloneString(s.RecurrenceSourceID)
	out.RescheduledToID = cloneString(s.RescheduledToID)
	return out
}

// SessionFilter narrows list queries. Zero values are ignored.
type SessionFilter struct {
	DateFrom  Date
	DateTo    Date
	Branch    string
	Teacher   string
	Classroom string
	GroupID   string
	Statuses  []SessionStatus
}

// Matches applies the filter in memory.
func (f SessionFilter) Matches(s LessonSession) bool {
	if !s.LessonDate.Within(f.DateFrom, f.DateTo) {
		return false
	}
	if f.Branch != "" && s.Branch != f.Branch {
		return false
	}
	if f.Teacher != "" && s.TeacherName != f.Teacher {
		return false
	}
	if f.Classroom != "" && s.Classroom != f.Classroom {
		return false
	}
	if f.GroupID != "" && !s.InGroup(f.GroupID) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, status := range f.Statuses {
			if s.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SessionPatch lists the mutable columns of a session. Nil fields are left untouched.
// ExpectStatus turns the update into a compare-and-set on the current status.
type SessionPatch struct {
	Status          *SessionStatus
	Notes           *string
	RescheduledToID *string
	Capacity        *int
	StudentCount    *int
	ExpectStatus    *SessionStatus
}

// Empty reports whether the patch changes nothing.
func (p SessionPatch) Empty() bool {
	return p.Status == nil && p.Notes == nil && p.RescheduledToID == nil && p.Capacity == nil && p.StudentCount == nil
}

// Apply mutates s in place with the patch values.
func (p SessionPatch) Apply(s *LessonSession) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Notes != nil {
		s.Notes = *p.Notes
	}
	if p.RescheduledToID != nil {
		s.RescheduledToID = cloneString(p.RescheduledToID)
	}
	if p.Capacity != nil {
		s.Capacity = *p.Capacity
	}
	if p.StudentCount != nil {
		s.StudentCount = *p.StudentCount
	}
}

// VirtualSessionID builds the stable identifier of a not-yet-materialized template occurrence.
func VirtualSessionID(templateID string, date Date) string {
	return virtualIDPrefix + templateID + ":" + date.String()
}

// ParseVirtualSessionID splits a virtual identifier into its template id and date.
func ParseVirtualSessionID(id string) (string, Date, bool) {
	if !strings.HasPrefix(id, virtualIDPrefix) {
		return "", Date{}, false
	}
	rest := strings.TrimPrefix(id, virtualIDPrefix)
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 {
		return "", Date{}, false
	}
	date, err := ParseDate(rest[idx+1:])
	if err != nil {
		return "", Date{}, false
	}
	return rest[:idx], date, true
}

// AppendNote joins a new line onto existing free-text notes.
func AppendNote(existing, line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return line
	}
	return existing + "\n" + line
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// StringPtr returns a pointer to v, or nil for blank strings.
func StringPtr(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}
