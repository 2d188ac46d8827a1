package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Tyrowin/corpchat/internal/attachments"
	"github.com/Tyrowin/corpchat/internal/auth"
	"github.com/Tyrowin/corpchat/internal/chat"
	"github.com/gin-gonic/gin"
)

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrValidation), errors.Is(err, chat.ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthenticated),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, attachments.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, chat.ErrLogExhausted):
		return http.StatusInsufficientStorage
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError aborts the request with the status matching err. The message
// is sent under "detail", the key existing API clients read.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": message})
}

// invalid wraps a request binding error as a validation failure.
func invalid(err error) error {
	return fmt.Errorf("%w: %v", chat.ErrValidation, err)
}
