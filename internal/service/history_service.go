package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/lesson-grid-api/internal/models"
)

type historyRepository interface {
	Append(ctx context.Context, exec sqlx.ExtContext, event *models.HistoryEvent) error
	LastChangedAt(ctx context.Context, exec sqlx.ExtContext, sessionID string) (time.Time, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.HistoryEvent, error)
}

// HistoryService appends audit entries. It is write-only from the engine's point of view;
// lifecycle decisions never read it back.
type HistoryService struct {
	repo   historyRepository
	clock  Clock
	logger *zap.Logger
}

// NewHistoryService constructs the history log.
func NewHistoryService(repo historyRepository, clock Clock, logger *zap.Logger) *HistoryService {
	if clock == nil {
		clock = NewSystemClock(time.UTC)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryService{repo: repo, clock: clock, logger: logger}
}

// HistoryEntry describes one event to append.
type HistoryEntry struct {
	SessionID   string
	Type        models.HistoryEventType
	OldValue    interface{}
	NewValue    interface{}
	Actor       string
	Description string
}

// Record appends entry through exec. changed_at never goes backwards for a session even
// when clocks of different replicas disagree.
func (s *HistoryService) Record(ctx context.Context, exec sqlx.ExtContext, entry HistoryEntry) (*models.HistoryEvent, error) {
	oldValue, err := toJSONText(entry.OldValue)
	if err != nil {
		return nil, fmt.Errorf("encode old history value: %w", err)
	}
	newValue, err := toJSONText(entry.NewValue)
	if err != nil {
		return nil, fmt.Errorf("encode new history value: %w", err)
	}

	changedAt := s.clock.Now().UTC().Truncate(time.Microsecond)
	last, err := s.repo.LastChangedAt(ctx, exec, entry.SessionID)
	if err != nil {
		return nil, err
	}
	if !last.IsZero() && !changedAt.After(last) {
		changedAt = last.Add(time.Microsecond)
	}

	actor := entry.Actor
	if actor == "" {
		actor = models.SystemActor
	}
	event := &models.HistoryEvent{
		SessionID:   entry.SessionID,
		EventType:   entry.Type,
		OldValue:    oldValue,
		NewValue:    newValue,
		ChangedAt:   changedAt,
		ChangedBy:   actor,
		Description: entry.Description,
	}
	if err := s.repo.Append(ctx, exec, event); err != nil {
		s.logger.Error("history append failed",
			zap.String("session_id", entry.SessionID),
			zap.String("event_type", string(entry.Type)),
			zap.Error(err))
		return nil, err
	}
	return event, nil
}

// ListFor returns a session's events ordered by changed_at.
func (s *HistoryService) ListFor(ctx context.Context, sessionID string) ([]models.HistoryEvent, error) {
	events, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.HistoryEvent{}
	}
	return events, nil
}

func toJSONText(value interface{}) (types.JSONText, error) {
	if value == nil {
		return nil, nil
	}
	if raw, ok := value.(types.JSONText); ok {
		return raw, nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return types.JSONText(payload), nil
}

// sessionSnapshot is the subset of a session recorded in history values.
type sessionSnapshot struct {
	ID              string               `json:"id"`
	TeacherName     string               `json:"teacher_name"`
	Branch          string               `json:"branch"`
	Classroom       string               `json:"classroom"`
	LessonDate      models.Date          `json:"lesson_date"`
	StartTime       models.TimeOfDay     `json:"start_time"`
	EndTime         models.TimeOfDay     `json:"end_time"`
	Status          models.SessionStatus `json:"status"`
	Notes           string               `json:"notes,omitempty"`
	Capacity        int                  `json:"capacity"`
	StudentCount    int                  `json:"student_count"`
	RescheduledToID *string              `json:"rescheduled_to_id,omitempty"`
}

func snapshotOf(s *models.LessonSession) *sessionSnapshot {
	if s == nil {
		return nil
	}
	return &sessionSnapshot{
		ID:              s.ID,
		TeacherName:     s.TeacherName,
		Branch:          s.Branch,
		Classroom:       s.Classroom,
		LessonDate:      s.LessonDate,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		Status:          s.Status,
		Notes:           s.Notes,
		Capacity:        s.Capacity,
		StudentCount:    s.StudentCount,
		RescheduledToID: s.RescheduledToID,
	}
}
