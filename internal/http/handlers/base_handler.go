// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"agronet/internal/modules/delivery"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeDeliveryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, delivery.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, delivery.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, delivery.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, delivery.ErrAlreadyAssigned), errors.Is(err, delivery.ErrInvalidTransition):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
