package catalog

import (
	"errors"

	"github.com/smsbra/otp-api/internal/pkg/apperror"
)

var (
	ErrServiceNotFound = apperror.New(apperror.KindNotFound, "service not found")
	ErrServiceInactive = apperror.New(apperror.KindInvalidState, "service is not available")
	ErrInvalidPrice    = apperror.New(apperror.KindInvalidAmount, "price must be greater than zero")
	ErrInternal        = errors.New("catalog internal error")
)
