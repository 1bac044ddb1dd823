package account

import "github.com/smsbra/otp-api/internal/pkg/apperror"

var (
	ErrNotFound        = apperror.New(apperror.KindNotFound, "account not found")
	ErrDisabled        = apperror.New(apperror.KindForbidden, "account is disabled")
	ErrDuplicateHandle = apperror.New(apperror.KindInvalidInput, "username or email already registered")
	ErrInternal        = apperror.New(apperror.KindInternal, "internal error")
)
