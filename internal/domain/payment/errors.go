package payment

import (
	"github.com/smsbra/otp-api/internal/pkg/apperror"
)

var (
	ErrPackageNotFound = apperror.New(apperror.KindNotFound, "credit package not found")

	// ErrInvalidSignature means the callback body was not signed with the shared secret.
	ErrInvalidSignature = apperror.New(apperror.KindForbidden, "invalid payment signature")

	ErrInvalidCallback = apperror.New(apperror.KindInvalidInput, "invalid payment callback")

	ErrInternal = apperror.New(apperror.KindInternal, "internal error")
)
