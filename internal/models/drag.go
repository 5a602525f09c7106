package models

import "time"

// DragState is a step of the interactive move sequence.
type DragState string

const (
	DragIdle       DragState = "idle"
	DragDragging   DragState = "dragging"
	DragHovering   DragState = "hovering"
	DragCommitting DragState = "committing"
)

// DragSession tracks one user's in-flight move of a lesson on the grid.
type DragSession struct {
	ID        string        `json:"id"`
	Viewer    string        `json:"viewer"`
	Actor     string        `json:"actor"`
	SessionID string        `json:"session_id"`
	Session   LessonSession `json:"session"`
	Origin    GridCellKey   `json:"origin"`
	Hover     *GridCellKey  `json:"hover,omitempty"`
	State     DragState     `json:"state"`
	StartedAt time.Time     `json:"started_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// DropOutcome reports what a drop did. NoOp is set when the target equals the origin.
type DropOutcome struct {
	DragID    string            `json:"drag_id"`
	State     DragState         `json:"state"`
	NoOp      bool              `json:"no_op"`
	Source    *LessonSession    `json:"source,omitempty"`
	Result    *LessonSession    `json:"result,omitempty"`
	Conflicts []SessionConflict `json:"conflicts,omitempty"`
	// Replayed marks an outcome served from the idempotency store instead of a new commit.
	Replayed bool `json:"-"`
}
