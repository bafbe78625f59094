package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-sync/models"
)

type JSONResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func RespondJSON(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, JSONResponse{
		Status:  code >= 200 && code < 300,
		Message: message,
		Data:    data,
	})
}

// RespondError memilih status HTTP dari kategori error domain.
func RespondError(c *gin.Context, err error) {
	code := StatusFor(err)
	if code >= http.StatusInternalServerError {
		ErrorLogger.WithField("path", c.FullPath()).Errorf("Request failed: %v", err)
	}
	c.JSON(code, JSONResponse{
		Status:  false,
		Message: err.Error(),
		Code:    ErrorCode(err),
	})
}

func RespondBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, JSONResponse{
		Status:  false,
		Message: err.Error(),
		Code:    "bad_request",
	})
}

func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode dipakai pada payload ERROR websocket dan body error HTTP.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	case errors.Is(err, models.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, models.ErrTransient):
		return "transient"
	default:
		return "internal"
	}
}
