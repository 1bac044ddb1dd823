// Package apperror holds the error kinds shared by every domain package.
// Domain sentinels are built with New so the HTTP layer can classify them
// without importing the domains.
package apperror

// Kind is a stable, user-visible error category.
type Kind string

const (
	KindInvalidAmount       Kind = "INVALID_AMOUNT"
	KindInsufficientCredits Kind = "INSUFFICIENT_CREDITS"
	KindInvalidState        Kind = "INVALID_STATE"
	KindNotFound            Kind = "NOT_FOUND"
	KindForbidden           Kind = "FORBIDDEN"
	KindProviderUnavailable Kind = "PROVIDER_UNAVAILABLE"
	KindProviderRejected    Kind = "PROVIDER_REJECTED"
	KindConcurrencyConflict Kind = "CONCURRENCY_CONFLICT"
	KindInvalidInput        Kind = "INVALID_INPUT"
	KindInternal            Kind = "INTERNAL_ERROR"
)

// Error is a sentinel carrying its kind. Compare with errors.Is against the
// package-level variable that created it.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// New returns a sentinel of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}
