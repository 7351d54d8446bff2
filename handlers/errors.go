package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"energyquiz/services"
	"energyquiz/session"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, services.ErrActivityNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrWrongPhase),
		errors.Is(err, session.ErrDuplicateUsername),
		errors.Is(err, session.ErrSessionFull),
		errors.Is(err, session.ErrJokerUsed),
		errors.Is(err, session.ErrNoActiveRound):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInvalidSeat):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrEmptyDataSource), errors.Is(err, services.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
