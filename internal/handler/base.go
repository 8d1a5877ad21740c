package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/sportadm/events-api/pkg/errors"
)

// RespondError maps an application error to an HTTP status and envelope.
func RespondError(c *gin.Context, err error) {
	switch {
	case apperrors.IsCode(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, NewErrorResponse(err.Error()))
	case apperrors.IsCode(err, apperrors.ErrBadRequest):
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
	case apperrors.IsCode(err, apperrors.ErrInvalidTransition):
		c.JSON(http.StatusConflict, NewErrorResponse(err.Error()))
	case apperrors.IsCode(err, apperrors.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, NewErrorResponse(err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, NewErrorResponse("internal server error"))
	}
}
