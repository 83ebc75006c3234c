package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainwf "github.com/garyjia/fleet-maintenance/internal/domain/workflow"
)

// errorStatus maps an application error to its HTTP status and reason code
func errorStatus(err error) (int, string) {
	var te *domainwf.TransitionError
	switch {
	case errors.As(err, &te):
		return http.StatusConflict, te.Reason
	case errors.Is(err, domainwf.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domainwf.ErrConcurrentModification):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domainwf.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, domainwf.ErrInvalidCommand):
		return http.StatusBadRequest, "invalid_command"
	case errors.Is(err, domainwf.ErrNotApproved):
		return http.StatusConflict, "not_approved"
	case errors.Is(err, domainwf.ErrBillingUnavailable):
		return http.StatusServiceUnavailable, "billing_unavailable"
	default:
		return http.StatusInternalServerError, ""
	}
}

// respondError writes the error envelope. Internal errors are logged and masked.
func (h *Handlers) respondError(c *gin.Context, op string, err error) {
	status, reason := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "op", op, "error", err)
		message = "internal error"
	}

	c.JSON(status, Response{
		Success: false,
		Error:   message,
		Reason:  reason,
	})
}
