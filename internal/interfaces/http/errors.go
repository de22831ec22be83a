package http

import (
	"errors"
	"net/http"

	"chatrelay/internal/entities"

	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func statusFor(kind entities.ErrorKind) int {
	switch kind {
	case entities.KindValidation:
		return http.StatusBadRequest
	case entities.KindNotFound:
		return http.StatusNotFound
	case entities.KindUpstream:
		return http.StatusBadGateway
	case entities.KindNotConfigured:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as the error envelope. Persistence failures hide
// their cause from the caller.
func writeError(c *gin.Context, err error) {
	var typed *entities.Error
	if !errors.As(err, &typed) {
		typed = entities.NewPersistenceError(err, "internal error")
	}
	message := typed.Message
	if typed.Kind == entities.KindUpstream && typed.Err != nil {
		message = typed.Message + ": " + typed.Err.Error()
	}
	c.AbortWithStatusJSON(statusFor(typed.Kind), gin.H{"error": errorBody{
		Kind:    string(typed.Kind),
		Code:    typed.Code,
		Message: message,
	}})
}

func abortWithError(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{Kind: kind, Message: message}})
}
