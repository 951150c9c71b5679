package api

import (
	"net/http"

	"stall-service/internal/models"
	"stall-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Error codes of the response body
const (
	codeValidation       = "VALIDATION_ERROR"
	codeCapacityExceeded = "CAPACITY_EXCEEDED"
	codeStallUnavailable = "STALL_UNAVAILABLE"
	codeNotFound         = "NOT_FOUND"
	codeConflict         = "CONFLICT"
	codeInternal         = "INTERNAL_ERROR"
)

// writeError maps a service error onto a status code and an {error, message} body
func writeError(c *gin.Context, err error) {
	var be *models.BusinessError
	if !errors.As(err, &be) {
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   codeInternal,
			"message": "An unexpected error occurred",
		})
		return
	}

	status, code := http.StatusInternalServerError, codeInternal
	switch {
	case errors.Is(be, models.ErrValidation):
		status, code = http.StatusBadRequest, codeValidation
	case errors.Is(be, models.ErrCapacityExceeded):
		status, code = http.StatusBadRequest, codeCapacityExceeded
	case errors.Is(be, models.ErrStallUnavailable):
		status, code = http.StatusConflict, codeStallUnavailable
	case errors.Is(be, models.ErrNotFound):
		status, code = http.StatusNotFound, codeNotFound
	case errors.Is(be, models.ErrConflict):
		status, code = http.StatusConflict, codeConflict
	}
	if be.Code != "" {
		code = be.Code
	}

	body := gin.H{
		"error":   code,
		"message": be.Message,
	}
	if be.StallID != 0 {
		body["stallId"] = be.StallID
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   codeValidation,
		"message": message,
	})
}
