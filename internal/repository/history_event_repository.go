package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/lesson-grid-api/internal/models"
)

// HistoryEventRepository stores the append-only session audit trail.
// There is intentionally no update or delete.
type HistoryEventRepository struct {
	db *sqlx.DB
}

// NewHistoryEventRepository constructs the repository.
func NewHistoryEventRepository(db *sqlx.DB) *HistoryEventRepository {
	return &HistoryEventRepository{db: db}
}

func (r *HistoryEventRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// LastChangedAt returns the newest changed_at recorded for the session, or the zero time.
func (r *HistoryEventRepository) LastChangedAt(ctx context.Context, exec sqlx.ExtContext, sessionID string) (time.Time, error) {
	const query = `SELECT COALESCE(MAX(changed_at), 'epoch'::timestamptz) FROM session_history WHERE session_id = $1`
	var last time.Time
	if err := sqlx.GetContext(ctx, r.exec(exec), &last, query, sessionID); err != nil {
		return time.Time{}, fmt.Errorf("load last history timestamp: %w", err)
	}
	if last.Unix() == 0 {
		return time.Time{}, nil
	}
	return last, nil
}

// Append inserts one event.
func (r *HistoryEventRepository) Append(ctx context.Context, exec sqlx.ExtContext, event *models.HistoryEvent) error {
	if event == nil {
		return fmt.Errorf("history event is nil")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ChangedAt.IsZero() {
		event.ChangedAt = time.Now().UTC()
	}
	if len(event.OldValue) == 0 {
		event.OldValue = types.JSONText(`null`)
	}
	if len(event.NewValue) == 0 {
		event.NewValue = types.JSONText(`null`)
	}

	const query = `INSERT INTO session_history (id, session_id, event_type, old_value, new_value, changed_at, changed_by, description)
VALUES (:id, :session_id, :event_type, :old_value, :new_value, :changed_at, :changed_by, :description)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, event); err != nil {
		return fmt.Errorf("append history event: %w", err)
	}
	return nil
}

// ListBySession returns the events of a session in chronological order.
func (r *HistoryEventRepository) ListBySession(ctx context.Context, sessionID string) ([]models.HistoryEvent, error) {
	const query = `SELECT id, session_id, event_type, old_value, new_value, changed_at, changed_by, description
FROM session_history WHERE session_id = $1 ORDER BY changed_at ASC, id ASC`
	var events []models.HistoryEvent
	if err := r.db.SelectContext(ctx, &events, query, sessionID); err != nil {
		return nil, fmt.Errorf("list session history: %w", err)
	}
	return events, nil
}
