// Package provider defines the boundary to the upstream number provider.
// The rental lifecycle only ever talks to a Gateway; the wire protocol lives
// in internal/pkg/smsactivate.
package provider

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway is the upstream number rental API. Implementations never retry;
// callers decide what to do with ErrUnavailable.
type Gateway interface {
	RequestNumber(ctx context.Context, req NumberRequest) (*Number, error)
	PollStatus(ctx context.Context, activationID string) (Status, error)
	RequestAdditionalCode(ctx context.Context, activationID string) error
	Cancel(ctx context.Context, activationID string) error
	ConfirmCompletion(ctx context.Context, activationID string) error
}

// Inspector exposes read-only provider account data for operators.
type Inspector interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
	Availability(ctx context.Context, countryCode string) (map[string]int, error)
}

// NumberRequest asks for a number able to receive codes for ServiceCode.
// Empty CountryCode and Operator leave the choice to the provider.
type NumberRequest struct {
	ServiceCode string
	CountryCode string
	Operator    string
}

// Number is a granted activation.
type Number struct {
	ActivationID string
	PhoneNumber  string
}

// StatusKind is the provider-side activation state.
type StatusKind string

const (
	StatusAwaitingCode  StatusKind = "awaiting_code"
	StatusAwaitingRetry StatusKind = "awaiting_retry"
	StatusCodeReceived  StatusKind = "code_received"
	StatusCancelled     StatusKind = "cancelled"
	StatusUnknown       StatusKind = "unknown"
)

// Status is the result of PollStatus. Code is set only for StatusCodeReceived.
type Status struct {
	Kind StatusKind
	Code string
}
