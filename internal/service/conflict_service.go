package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lesson-grid-api/internal/models"
	appErrors "github.com/noah-isme/lesson-grid-api/pkg/errors"
)

type overlapReader interface {
	ListOverlapping(ctx context.Context, exec sqlx.ExtContext, candidate models.ConflictCandidate) ([]models.LessonSession, error)
}

type virtualOccurrenceSource interface {
	VirtualForCandidate(ctx context.Context, exec sqlx.ExtContext, candidate models.ConflictCandidate) ([]models.LessonSession, error)
}

// ConflictService detects double-booked teachers and classrooms. It never writes.
type ConflictService struct {
	sessions overlapReader
	virtual  virtualOccurrenceSource
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewConflictService constructs the detector. virtual may be nil to ignore template
// occurrences that have not been materialized.
func NewConflictService(sessions overlapReader, virtual virtualOccurrenceSource, metrics *MetricsService, logger *zap.Logger) *ConflictService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictService{sessions: sessions, virtual: virtual, metrics: metrics, logger: logger}
}

// Check runs the candidates against the current store.
func (s *ConflictService) Check(ctx context.Context, candidates ...models.ConflictCandidate) ([]models.SessionConflict, error) {
	return s.CheckWith(ctx, nil, candidates...)
}

// CheckWith runs the candidates using exec so commit-time checks see the transaction's view.
func (s *ConflictService) CheckWith(ctx context.Context, exec sqlx.ExtContext, candidates ...models.ConflictCandidate) ([]models.SessionConflict, error) {
	conflicts := make([]models.SessionConflict, 0)
	seen := make(map[string]struct{})

	for _, candidate := range candidates {
		if err := validateCandidate(candidate); err != nil {
			return nil, err
		}

		existing, err := s.sessions.ListOverlapping(ctx, exec, candidate)
		if err != nil {
			return nil, fmt.Errorf("check %s conflicts: %w", candidate.ResourceType, err)
		}
		if s.virtual != nil {
			virtual, err := s.virtual.VirtualForCandidate(ctx, exec, candidate)
			if err != nil {
				return nil, fmt.Errorf("expand %s occurrences: %w", candidate.ResourceType, err)
			}
			existing = append(existing, virtual...)
		}

		for _, session := range existing {
			if !clashes(session, candidate) {
				continue
			}
			key := string(candidate.ResourceType) + "|" + session.ID
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			overlapStart, overlapEnd := session.StartTime, session.EndTime
			if candidate.Start > overlapStart {
				overlapStart = candidate.Start
			}
			if candidate.End < overlapEnd {
				overlapEnd = candidate.End
			}
			conflicts = append(conflicts, models.SessionConflict{
				Session:      session,
				ResourceType: candidate.ResourceType,
				OverlapStart: overlapStart,
				OverlapEnd:   overlapEnd,
			})
		}
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		a, b := conflicts[i], conflicts[j]
		if !a.Session.LessonDate.Equal(b.Session.LessonDate) {
			return a.Session.LessonDate.Before(b.Session.LessonDate)
		}
		return a.OverlapStart < b.OverlapStart
	})
	if len(conflicts) > 0 {
		s.metrics.RecordConflicts(conflicts)
	}
	return conflicts, nil
}

// clashes re-applies the conflict rule in memory so results do not depend on how
// selective the store query was.
func clashes(session models.LessonSession, candidate models.ConflictCandidate) bool {
	if session.Status == models.SessionStatusCancelled {
		return false
	}
	if candidate.ExcludeSessionID != "" && session.ID == candidate.ExcludeSessionID {
		return false
	}
	switch candidate.ResourceType {
	case models.ResourceTeacher:
		if session.TeacherName != candidate.ResourceName {
			return false
		}
	case models.ResourceClassroom:
		if session.Classroom != candidate.ResourceName {
			return false
		}
		if candidate.Branch != "" && session.Branch != candidate.Branch {
			return false
		}
	default:
		return false
	}
	return session.OverlapsWith(candidate.Date, candidate.Start, candidate.End)
}

func validateCandidate(c models.ConflictCandidate) error {
	switch {
	case !c.ResourceType.Valid():
		return appErrors.Clone(appErrors.ErrValidation, "resource_type must be teacher or classroom")
	case c.ResourceName == "":
		return appErrors.Clone(appErrors.ErrValidation, "resource_name is required")
	case c.Date.IsZero():
		return appErrors.Clone(appErrors.ErrValidation, "date is required")
	}
	return validateTimeRange(c.Start, c.End)
}

func validateTimeRange(start, end models.TimeOfDay) error {
	if !start.Valid() || !end.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "time must be within the day")
	}
	if start >= end {
		return appErrors.Clone(appErrors.ErrValidation, "start time must be before end time")
	}
	return nil
}

// conflictError builds the typed error carrying the clashing sessions.
func conflictError(conflicts []models.SessionConflict) error {
	cause := &models.SessionConflictError{Conflicts: conflicts}
	err := appErrors.WithDetails(appErrors.ErrConflict, conflicts)
	err.Message = "placement overlaps existing sessions"
	err.Err = cause
	return err
}
