package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/LeventeLantos/reviewgate/internal/service"
)

// ErrorResponse is the envelope of every error answer.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

const (
	CodeBadRequest           = "bad_request"
	CodeUnauthorized         = "unauthorized"
	CodeNotAuthenticated     = "not_authenticated"
	CodeSubscriptionInactive = "subscription_inactive"
	CodeTrialExpired         = "trial_expired"
	CodeMonthlyLimitReached  = "monthly_limit_reached"
	CodeNotFound             = "not_found"
	CodeDuplicateSubmission  = "duplicate_submission"
	CodeAlreadyCompleted     = "already_completed"
	CodeInternal             = "internal"
)

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("api error",
			"request_id", w.Header().Get(requestIDHeader),
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"message", msg,
		)
		msg = "internal server error"
	}
	writeJSON(w, status, ErrorResponse{
		RequestID: w.Header().Get(requestIDHeader),
		Code:      code,
		Message:   msg,
	})
}

// failErr maps service errors to status codes and stable error codes.
func (h *Handler) failErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		h.fail(w, r, http.StatusBadRequest, CodeBadRequest, validationMessage(err))
	case errors.Is(err, service.ErrNotAuthenticated):
		h.fail(w, r, http.StatusUnauthorized, CodeNotAuthenticated, "sign in to continue")
	case errors.Is(err, service.ErrSubscriptionInactive):
		h.fail(w, r, http.StatusForbidden, CodeSubscriptionInactive, "your subscription is not active; update your payment details to keep sending")
	case errors.Is(err, service.ErrTrialExpired):
		h.fail(w, r, http.StatusForbidden, CodeTrialExpired, "your free trial has ended; choose a plan to keep sending")
	case errors.Is(err, service.ErrMonthlyLimitReached):
		h.fail(w, r, http.StatusForbidden, CodeMonthlyLimitReached, "you have used all review requests for this month; upgrade your plan for more")
	case errors.Is(err, service.ErrNotFound):
		h.fail(w, r, http.StatusNotFound, CodeNotFound, "link invalid or expired")
	case errors.Is(err, service.ErrDuplicateSubmission):
		h.fail(w, r, http.StatusConflict, CodeDuplicateSubmission, "feedback has already been submitted")
	case errors.Is(err, service.ErrAlreadyCompleted):
		h.fail(w, r, http.StatusConflict, CodeAlreadyCompleted, "this review request is already complete")
	default:
		h.fail(w, r, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}

func validationMessage(err error) string {
	msg := err.Error()
	prefix := service.ErrValidation.Error() + ": "
	if strings.HasPrefix(msg, prefix) {
		return strings.TrimPrefix(msg, prefix)
	}
	return msg
}
