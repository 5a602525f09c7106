package models

import (
	"fmt"
	"strings"
)

// ResourceType names what cannot be double-booked.
type ResourceType string

const (
	ResourceTeacher   ResourceType = "teacher"
	ResourceClassroom ResourceType = "classroom"
)

// Valid reports whether r is a known resource type.
func (r ResourceType) Valid() bool {
	return r == ResourceTeacher || r == ResourceClassroom
}

// ConflictCandidate is a proposed placement of a lesson for one resource.
// Branch scopes classroom names, which are only unique within a branch.
type ConflictCandidate struct {
	ResourceType     ResourceType `json:"resource_type"`
	ResourceName     string       `json:"resource_name"`
	Branch           string       `json:"branch,omitempty"`
	Date             Date         `json:"date"`
	Start            TimeOfDay    `json:"start"`
	End              TimeOfDay    `json:"end"`
	ExcludeSessionID string       `json:"exclude_session_id,omitempty"`
}

// CandidatesFor builds the teacher and classroom candidates for placing s at date/start/end.
func CandidatesFor(s LessonSession, date Date, start, end TimeOfDay, excludeID string) []ConflictCandidate {
	out := make([]ConflictCandidate, 0, 2)
	if s.TeacherName != "" {
		out = append(out, ConflictCandidate{
			ResourceType:     ResourceTeacher,
			ResourceName:     s.TeacherName,
			Date:             date,
			Start:            start,
			End:              end,
			ExcludeSessionID: excludeID,
		})
	}
	if s.Classroom != "" {
		out = append(out, ConflictCandidate{
			ResourceType:     ResourceClassroom,
			ResourceName:     s.Classroom,
			Branch:           s.Branch,
			Date:             date,
			Start:            start,
			End:              end,
			ExcludeSessionID: excludeID,
		})
	}
	return out
}

// SessionConflict describes an existing session clashing with a candidate.
type SessionConflict struct {
	Session      LessonSession `json:"session"`
	ResourceType ResourceType  `json:"resource_type"`
	OverlapStart TimeOfDay     `json:"overlap_start"`
	OverlapEnd   TimeOfDay     `json:"overlap_end"`
}

// SessionConflictError is returned when a placement collides with existing sessions.
type SessionConflictError struct {
	Conflicts []SessionConflict `json:"conflicts"`
}

// Error implements the error interface.
func (e *SessionConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s %s on %s %s-%s",
			c.ResourceType, resourceLabel(c), c.Session.LessonDate, c.OverlapStart, c.OverlapEnd))
	}
	return "schedule conflict: " + strings.Join(parts, "; ")
}

func resourceLabel(c SessionConflict) string {
	if c.ResourceType == ResourceClassroom {
		return c.Session.Classroom
	}
	return c.Session.TeacherName
}

// LockKeys names the resources a placement of s on date occupies, for advisory locking.
func LockKeys(s LessonSession, date Date) []string {
	keys := make([]string, 0, 2)
	if s.TeacherName != "" {
		keys = append(keys, "teacher:"+s.TeacherName+":"+date.String())
	}
	if s.Classroom != "" {
		keys = append(keys, "classroom:"+s.Branch+":"+s.Classroom+":"+date.String())
	}
	return keys
}
