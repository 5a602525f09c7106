package dto

import (
	"time"

	"github.com/noah-isme/lesson-grid-api/internal/models"
)

// CreateSessionRequest books a one-off lesson.
type CreateSessionRequest struct {
	GroupID      *string          `json:"group_id"`
	StudentName  *string          `json:"student_name"`
	TeacherName  string           `json:"teacher_name" validate:"required"`
	Branch       string           `json:"branch" validate:"required"`
	Classroom    string           `json:"classroom" validate:"required"`
	LessonDate   models.Date      `json:"lesson_date"`
	StartTime    models.TimeOfDay `json:"start_time"`
	EndTime      models.TimeOfDay `json:"end_time"`
	Notes        string           `json:"notes" validate:"max=2000"`
	Capacity     int              `json:"capacity" validate:"min=0"`
	StudentCount int              `json:"student_count" validate:"min=0"`
}

// UpdateSessionRequest patches descriptive fields of a session.
type UpdateSessionRequest struct {
	Notes        *string `json:"notes" validate:"omitempty,max=2000"`
	Capacity     *int    `json:"capacity" validate:"omitempty,min=0"`
	StudentCount *int    `json:"student_count" validate:"omitempty,min=0"`
}

// CancelSessionRequest cancels one occurrence or the rest of its series.
type CancelSessionRequest struct {
	Reason string             `json:"reason" validate:"required"`
	Scope  models.SeriesScope `json:"scope" validate:"omitempty,oneof=single series"`
}

// RescheduleSessionRequest moves an occurrence. Teacher and classroom are optional overrides.
type RescheduleSessionRequest struct {
	NewDate     models.Date        `json:"new_date"`
	NewStart    models.TimeOfDay   `json:"new_start"`
	NewEnd      models.TimeOfDay   `json:"new_end"`
	TeacherName *string            `json:"teacher_name" validate:"omitempty,min=1"`
	Classroom   *string            `json:"classroom" validate:"omitempty,min=1"`
	Scope       models.SeriesScope `json:"scope" validate:"omitempty,oneof=single series"`
	Reason      string             `json:"reason" validate:"max=500"`
}

// CopySessionRequest duplicates an occurrence onto another date.
type CopySessionRequest struct {
	NewDate models.Date `json:"new_date"`
}

// MakeupSessionRequest schedules a compensating lesson for a missed one.
type MakeupSessionRequest struct {
	NewDate   models.Date      `json:"new_date"`
	NewStart  models.TimeOfDay `json:"new_start"`
	NewEnd    models.TimeOfDay `json:"new_end"`
	Classroom *string          `json:"classroom" validate:"omitempty,min=1"`
	Notes     string           `json:"notes" validate:"max=500"`
}

// SessionListQuery binds list-by-filter query parameters.
type SessionListQuery struct {
	DateFrom       models.Date `form:"date_from"`
	DateTo         models.Date `form:"date_to"`
	Branch         string      `form:"branch"`
	Teacher        string      `form:"teacher"`
	Classroom      string      `form:"classroom"`
	GroupID        string      `form:"group_id"`
	Status         []string    `form:"status" validate:"omitempty,dive,oneof=scheduled completed cancelled"`
	IncludeVirtual bool        `form:"include_virtual"`
}

// SessionListItem is the flat shape consumed by rendering, print and spreadsheet export.
type SessionListItem struct {
	ID           string               `json:"id"`
	LessonDate   models.Date          `json:"lesson_date"`
	StartTime    models.TimeOfDay     `json:"start_time"`
	EndTime      models.TimeOfDay     `json:"end_time"`
	TeacherName  string               `json:"teacher_name"`
	Branch       string               `json:"branch"`
	Classroom    string               `json:"classroom"`
	Status       models.SessionStatus `json:"status"`
	Notes        string               `json:"notes"`
	GroupName    string               `json:"group_name"`
	StudentCount int                  `json:"student_count"`
	Capacity     int                  `json:"capacity"`
	Virtual      bool                 `json:"virtual,omitempty"`
}

// SessionMutationResponse returns the affected sessions of a single-scope operation.
type SessionMutationResponse struct {
	Session *models.LessonSession `json:"session"`
	Created *models.LessonSession `json:"created,omitempty"`
}

// ConflictCandidatePayload is one placement to check.
type ConflictCandidatePayload struct {
	ResourceType     models.ResourceType `json:"resource_type" validate:"required,oneof=teacher classroom"`
	ResourceName     string              `json:"resource_name" validate:"required"`
	Branch           string              `json:"branch"`
	Date             models.Date         `json:"date"`
	Start            models.TimeOfDay    `json:"start"`
	End              models.TimeOfDay    `json:"end"`
	ExcludeSessionID string              `json:"exclude_session_id"`
}

// ConflictCheckRequest asks whether placements would double-book a resource.
type ConflictCheckRequest struct {
	Candidates []ConflictCandidatePayload `json:"candidates" validate:"required,min=1,max=20,dive"`
}

// ConflictCheckResponse lists clashing sessions; an empty list means the placement is free.
type ConflictCheckResponse struct {
	Conflicts []models.SessionConflict `json:"conflicts"`
}

// TemplateListQuery filters recurring templates.
type TemplateListQuery struct {
	Branch    string      `form:"branch"`
	Teacher   string      `form:"teacher"`
	Classroom string      `form:"classroom"`
	GroupID   string      `form:"group_id"`
	ActiveOn  models.Date `form:"active_on"`
}

// OccurrenceQuery selects the window of a template expansion.
type OccurrenceQuery struct {
	From models.Date `form:"from"`
	To   models.Date `form:"to"`
}

// GridQuery selects a grid projection and the sessions feeding it.
type GridQuery struct {
	Row              string        `form:"row" validate:"required,oneof=teacher classroom student month"`
	Column           string        `form:"column" validate:"omitempty,oneof=day time_bucket"`
	Step             time.Duration `form:"step"`
	WeekStart        models.Date   `form:"week_start"`
	Day              models.Date   `form:"day"`
	Month            models.Date   `form:"month"`
	Branch           string        `form:"branch"`
	Teacher          string        `form:"teacher"`
	Classroom        string        `form:"classroom"`
	GroupID          string        `form:"group_id"`
	IncludeCancelled bool          `form:"include_cancelled"`
	Templates        bool          `form:"templates"`
}
