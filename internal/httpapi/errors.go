package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps messaging errors to HTTP status codes and stable codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, messenger.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, messenger.ErrThreadNotFound):
		return http.StatusNotFound, "thread_not_found"
	case errors.Is(err, messenger.ErrNonceConflict):
		return http.StatusConflict, "nonce_conflict"
	case errors.Is(err, messenger.ErrContextRequired):
		return http.StatusUnprocessableEntity, "context_required"
	case errors.Is(err, messenger.ErrInvalidContext),
		errors.Is(err, messenger.ErrEmptyMessage),
		errors.Is(err, messenger.ErrSelfConversation):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, messenger.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zapRequest(c, err)...)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, errorBody{Error: msg, Code: code})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: msg, Code: "bad_request"})
}
