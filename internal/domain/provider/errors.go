package provider

import (
	"errors"

	"github.com/smsbra/otp-api/internal/pkg/apperror"
)

var (
	// ErrUnavailable is a transient failure (network, timeout, 5xx, open breaker).
	ErrUnavailable = apperror.New(apperror.KindProviderUnavailable, "number provider is temporarily unavailable")

	// ErrRejected matches every *RejectedError via errors.Is.
	ErrRejected = apperror.New(apperror.KindProviderRejected, "number provider rejected the request")
)

// Reason explains a terminal rejection.
type Reason string

const (
	ReasonNoNumbers         Reason = "no_numbers"
	ReasonNoProviderBalance Reason = "no_provider_balance"
	ReasonBadService        Reason = "bad_service"
	ReasonBadCountry        Reason = "bad_country"
	ReasonBadKey            Reason = "bad_key"
	ReasonBadAction         Reason = "bad_action"
	ReasonBadStatus         Reason = "bad_status"
	ReasonNoActivation      Reason = "no_activation"
	ReasonUnknown           Reason = "unknown"
)

var reasonMessages = map[Reason]string{
	ReasonNoNumbers:         "no numbers available",
	ReasonNoProviderBalance: "insufficient provider balance",
	ReasonBadService:        "invalid service",
	ReasonBadCountry:        "invalid country",
	ReasonBadKey:            "invalid provider credentials",
	ReasonBadAction:         "invalid provider action",
	ReasonBadStatus:         "invalid activation status change",
	ReasonNoActivation:      "activation not found at provider",
	ReasonUnknown:           "unexpected provider response",
}

// RejectedError is a terminal provider refusal. Raw keeps the provider's
// response token for logs.
type RejectedError struct {
	Reason Reason
	Raw    string
}

// Rejected builds a *RejectedError.
func Rejected(reason Reason, raw string) *RejectedError {
	return &RejectedError{Reason: reason, Raw: raw}
}

func (e *RejectedError) Error() string {
	msg, ok := reasonMessages[e.Reason]
	if !ok {
		msg = string(e.Reason)
	}
	return "provider rejected: " + msg
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// Details is rendered into the API error envelope.
func (e *RejectedError) Details() map[string]string {
	return map[string]string{"reason": string(e.Reason)}
}

// ReasonOf returns the rejection reason in err's chain, if any.
func ReasonOf(err error) (Reason, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
