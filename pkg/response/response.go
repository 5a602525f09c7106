package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lesson-grid-api/internal/models"
	appErrors "github.com/noah-isme/lesson-grid-api/pkg/errors"
)

// Envelope represents the common response contract.
type Envelope struct {
	Data  interface{}            `json:"data,omitempty"`
	Error *appErrors.Error       `json:"error,omitempty"`
	Meta  map[string]interface{} `json:"meta,omitempty"`
}

// JSON sends a success response with optional metadata.
func JSON(c *gin.Context, status int, data interface{}, meta ...map[string]interface{}) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	envelope := Envelope{Data: data}
	if len(meta) > 0 && meta[0] != nil {
		envelope.Meta = meta[0]
	}
	c.JSON(status, envelope)
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data)
}

// Batch renders a series operation result. Any failed item turns the response into
// 207 Multi-Status with PARTIAL_BATCH_FAILURE in meta; succeeded items stay committed.
func Batch(c *gin.Context, result *models.BatchResult, meta map[string]interface{}) {
	if !result.Partial() {
		JSON(c, http.StatusOK, result, meta)
		return
	}
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["code"] = appErrors.ErrPartialBatch.Code
	meta["message"] = appErrors.ErrPartialBatch.Message
	meta["failed"] = len(result.Failed)
	JSON(c, appErrors.ErrPartialBatch.Status, result, meta)
}

// Error sends an error response converting the error to the common structure.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(appErr.Status, Envelope{Error: appErr})
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
