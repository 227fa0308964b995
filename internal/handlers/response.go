package handlers

import (
	"errors"
	"net/http"
	"time"

	"catalog-import-service/internal/models"
	"catalog-import-service/internal/repository"
	"catalog-import-service/internal/services"
	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, models.ErrorResponse{
		Success: false,
		Error: models.Error{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// respondServiceError maps a service error onto the error envelope
func respondServiceError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrSessionNotFound) {
		respondError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Import session not found")
		return
	}
	if errors.Is(err, repository.ErrStatusConflict) || errors.Is(err, repository.ErrVersionConflict) {
		respondError(c, http.StatusConflict, "SESSION_CONFLICT", "The session was changed by another request, reload and try again")
		return
	}

	var importErr *models.ImportError
	if !errors.As(err, &importErr) {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	status := http.StatusInternalServerError
	switch {
	case importErr.Code == models.CodeInvalidTransition:
		status = http.StatusConflict
	case importErr.Code == models.CodeValidationFailed:
		status = http.StatusUnprocessableEntity
	case importErr.Kind == models.ErrorKindFileUpload,
		importErr.Kind == models.ErrorKindFieldMapping,
		importErr.Kind == models.ErrorKindDataValidation:
		status = http.StatusBadRequest
	}

	body := models.Error{
		Code:    importErr.Code,
		Message: importErr.Message,
		Details: map[string]interface{}{"kind": importErr.Kind},
	}
	if importErr.Remediation != "" {
		body.Details["remediation"] = importErr.Remediation
	}
	c.JSON(status, models.ErrorResponse{
		Success:   false,
		Error:     body,
		Timestamp: importErr.Timestamp.Format(time.RFC3339),
	})
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, models.SuccessResponse{
		Success: true,
		Data:    data,
	})
}
