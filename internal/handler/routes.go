package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lesson-grid-api/internal/middleware"
)

// Handlers groups everything mounted under the API prefix.
type Handlers struct {
	Sessions *SessionHandler
	Schedule *ScheduleHandler
	Grid     *GridHandler
	Metrics  *MetricsHandler
}

// RegisterRoutes mounts the scheduling API on api. auth must authenticate the caller;
// reads are open to every role while mutations need a scheduler role.
func RegisterRoutes(api *gin.RouterGroup, h Handlers, auth gin.HandlerFunc) {
	api.Use(auth)
	read := middleware.Readers()
	write := middleware.Schedulers()

	sessions := api.Group("/sessions")
	sessions.GET("", read, h.Sessions.List)
	sessions.POST("", write, h.Sessions.Create)
	sessions.GET("/export", read, h.Sessions.Export)
	sessions.GET("/:id", read, h.Sessions.Get)
	sessions.PATCH("/:id", write, h.Sessions.Update)
	sessions.GET("/:id/history", read, h.Sessions.History)
	sessions.POST("/:id/cancel", write, h.Sessions.Cancel)
	sessions.POST("/:id/reschedule", write, h.Sessions.Reschedule)
	sessions.POST("/:id/copy", write, h.Sessions.Copy)
	sessions.POST("/:id/makeup", write, h.Sessions.Makeup)
	sessions.POST("/:id/complete", write, h.Sessions.Complete)

	api.POST("/conflicts/check", read, h.Schedule.CheckConflicts)
	api.GET("/templates", read, h.Schedule.ListTemplates)
	api.GET("/templates/:id/occurrences", read, h.Schedule.Occurrences)

	api.GET("/grid", read, h.Grid.Grid)
	drags := api.Group("/drags", write)
	drags.POST("", h.Grid.StartDrag)
	drags.PUT("/:id/hover", h.Grid.HoverDrag)
	drags.POST("/:id/drop", h.Grid.DropDrag)
	drags.DELETE("/:id", h.Grid.CancelDrag)

	if h.Metrics != nil {
		api.GET("/metrics/summary", read, h.Metrics.Summary)
	}
}
