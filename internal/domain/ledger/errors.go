package ledger

import (
	"github.com/smsbra/otp-api/internal/domain/account"
	"github.com/smsbra/otp-api/internal/pkg/apperror"
)

var (
	// ErrInsufficientCredits is returned when the balance does not cover a debit
	ErrInsufficientCredits = apperror.New(apperror.KindInsufficientCredits, "insufficient credits")

	// ErrInvalidAmount is returned when amount is <= 0
	ErrInvalidAmount = apperror.New(apperror.KindInvalidAmount, "invalid amount: must be greater than 0")

	ErrAccountNotFound = account.ErrNotFound
	ErrAccountDisabled = account.ErrDisabled

	ErrTransactionNotFound = apperror.New(apperror.KindNotFound, "transaction not found")

	// ErrDuplicateReference is a unique violation on a gateway reference.
	ErrDuplicateReference = apperror.New(apperror.KindInvalidState, "gateway reference already used")

	// ErrReferenceConflict means a reference was reused with a different account or amount.
	ErrReferenceConflict = apperror.New(apperror.KindInvalidState, "reference already used for a different transaction")

	ErrInvalidKind = apperror.New(apperror.KindInvalidInput, "unsupported transaction kind")

	ErrInvalidFilter = apperror.New(apperror.KindInvalidInput, "invalid transaction filter")

	ErrReferenceRequired = apperror.New(apperror.KindInvalidInput, "reference is required")

	ErrInternal = apperror.New(apperror.KindInternal, "internal error")
)
