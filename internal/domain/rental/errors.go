package rental

import (
	"errors"

	"github.com/smsbra/otp-api/internal/domain/catalog"
	"github.com/smsbra/otp-api/internal/domain/ledger"
	"github.com/smsbra/otp-api/internal/pkg/apperror"
)

var (
	ErrRentalNotFound      = apperror.New(apperror.KindNotFound, "rental not found")
	ErrInvalidState        = apperror.New(apperror.KindInvalidState, "rental is not active")
	ErrConcurrencyConflict = apperror.New(apperror.KindConcurrencyConflict, "rental was modified concurrently, re-fetch and retry")
	ErrInvalidFilter       = apperror.New(apperror.KindInvalidInput, "invalid rental filter")
	ErrEmptyCode           = apperror.New(apperror.KindInvalidInput, "code is required")
	ErrDuplicateActivation = errors.New("activation already recorded")

	ErrInsufficientCredits = ledger.ErrInsufficientCredits
	ErrServiceNotFound     = catalog.ErrServiceNotFound
	ErrServiceInactive     = catalog.ErrServiceInactive

	ErrInternal = errors.New("rental internal error")
)
