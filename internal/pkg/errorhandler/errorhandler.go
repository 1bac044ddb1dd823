package errorhandler

import (
	"context"
	"errors"
	"net/http"

	"github.com/smsbra/otp-api/internal/pkg/apperror"
	"github.com/smsbra/otp-api/internal/pkg/logger"
	"github.com/smsbra/otp-api/internal/pkg/response"
)

// Problem is the HTTP rendering of an error.
type Problem struct {
	Status  int
	Code    string
	Message string
	Details map[string]string
}

var statusByKind = map[apperror.Kind]int{
	apperror.KindInvalidAmount:       http.StatusBadRequest,
	apperror.KindInvalidInput:        http.StatusBadRequest,
	apperror.KindInsufficientCredits: http.StatusPaymentRequired,
	apperror.KindInvalidState:        http.StatusConflict,
	apperror.KindConcurrencyConflict: http.StatusConflict,
	apperror.KindNotFound:            http.StatusNotFound,
	apperror.KindForbidden:           http.StatusForbidden,
	apperror.KindProviderRejected:    http.StatusUnprocessableEntity,
	apperror.KindProviderUnavailable: http.StatusServiceUnavailable,
}

// Classify maps an error chain to a stable code, status and message.
// Anything not built from apperror is reported as an internal error.
func Classify(err error) Problem {
	var ae *apperror.Error
	if err == nil || !errors.As(err, &ae) || ae.Kind == apperror.KindInternal {
		return Problem{
			Status:  http.StatusInternalServerError,
			Code:    string(apperror.KindInternal),
			Message: "An unexpected error occurred",
		}
	}

	status, ok := statusByKind[ae.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	p := Problem{Status: status, Code: string(ae.Kind), Message: ae.Message}

	var d interface{ Details() map[string]string }
	if errors.As(err, &d) {
		p.Details = d.Details()
	}
	return p
}

// HandleError logs err with the request-scoped logger and writes the error envelope.
func HandleError(ctx context.Context, w http.ResponseWriter, err error) {
	p := Classify(err)

	l := logger.FromContext(ctx)
	event := l.Warn()
	if p.Status >= http.StatusInternalServerError {
		event = l.Error()
	}
	event.Err(err).
		Str("error_code", p.Code).
		Int("status_code", p.Status).
		Msg("Request error")

	response.ErrorWithDetails(w, p.Status, p.Code, p.Message, p.Details)
}
