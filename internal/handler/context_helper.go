package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lesson-grid-api/internal/middleware"
	"github.com/noah-isme/lesson-grid-api/internal/models"
)

// ViewerHeader lets one user keep several grid views apart, e.g. one per browser tab.
const ViewerHeader = "X-Viewer-ID"

func actorName(c *gin.Context) string {
	return middleware.Claims(c).ActorName()
}

// viewerKey scopes last-request-wins grid builds and drag ownership.
func viewerKey(c *gin.Context) string {
	base := models.SystemActor
	if claims := middleware.Claims(c); claims != nil && claims.UserID != "" {
		base = claims.UserID
	}
	if tab := strings.TrimSpace(c.GetHeader(ViewerHeader)); tab != "" {
		return base + "/" + tab
	}
	return base
}
