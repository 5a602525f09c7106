package dto

import "github.com/noah-isme/lesson-grid-api/internal/models"

// StartDragRequest opens a drag for a session picked up from a grid cell.
type StartDragRequest struct {
	SessionID string             `json:"session_id" validate:"required"`
	Origin    models.GridCellKey `json:"origin" validate:"required"`
}

// HoverDragRequest reports the cell currently under the pointer.
type HoverDragRequest struct {
	Cell models.GridCellKey `json:"cell" validate:"required"`
}

// DropDragRequest commits the drag onto a target placement. End defaults to start plus
// the original duration; the resource defaults to the session's current one.
type DropDragRequest struct {
	ResourceType models.ResourceType `json:"resource_type" validate:"omitempty,oneof=teacher classroom"`
	ResourceName string              `json:"resource_name"`
	Date         models.Date         `json:"date"`
	Start        models.TimeOfDay    `json:"start"`
	End          *models.TimeOfDay   `json:"end"`
}
