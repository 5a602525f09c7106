package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// HistoryEventType classifies audit entries.
type HistoryEventType string

const (
	HistoryEventCreated     HistoryEventType = "created"
	HistoryEventRescheduled HistoryEventType = "rescheduled"
	HistoryEventCancelled   HistoryEventType = "cancelled"
	HistoryEventCompleted   HistoryEventType = "completed"
	HistoryEventUpdated     HistoryEventType = "updated"
)

// HistoryEvent is one append-only audit entry for a session.
type HistoryEvent struct {
	ID          string           `db:"id" json:"id"`
	SessionID   string           `db:"session_id" json:"session_id"`
	EventType   HistoryEventType `db:"event_type" json:"event_type"`
	OldValue    types.JSONText   `db:"old_value" json:"old_value,omitempty"`
	NewValue    types.JSONText   `db:"new_value" json:"new_value,omitempty"`
	ChangedAt   time.Time        `db:"changed_at" json:"changed_at"`
	ChangedBy   string           `db:"changed_by" json:"changed_by"`
	Description string           `db:"description" json:"description"`
}
