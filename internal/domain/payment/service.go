package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/smsbra/otp-api/internal/domain/ledger"
	"github.com/smsbra/otp-api/internal/pkg/metrics"
	"github.com/smsbra/otp-api/internal/pkg/signature"
)

// Ledger is the part of the credit ledger payments settle through.
type Ledger interface {
	OpenPurchase(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, gateway, reference string, meta ledger.Meta) (*ledger.Transaction, error)
	SettlePurchase(ctx context.Context, gateway, reference string, outcome ledger.Outcome, fields ledger.Metadata) (*ledger.Transaction, bool, error)
	Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, kind ledger.Kind, meta ledger.Meta) (*ledger.Transaction, error)
	ExpirePending(ctx context.Context, maxAge time.Duration, limit int) (int, error)
}

// Service turns package purchases and gateway callbacks into ledger
// purchase rows.
type Service struct {
	ledger  Ledger
	repo    Repository
	metrics *metrics.Metrics
	secret  string

	newReference func() string
	now          func() time.Time
}

// NewService wires the payment service. repo may be nil, in which case
// callbacks are settled without an audit log.
func NewService(l Ledger, repo Repository, m *metrics.Metrics, webhookSecret string) *Service {
	return &Service{
		ledger:       l,
		repo:         repo,
		metrics:      m,
		secret:       webhookSecret,
		newReference: func() string { return "pur_" + uuid.NewString() },
		now:          time.Now,
	}
}

func (s *Service) Packages() []Package {
	return Packages()
}

// Purchase opens a pending purchase for a package. The returned reference
// is what the gateway must echo back as gateway_reference.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (*Purchase, error) {
	pkg, ok := findPackage(req.PackageID)
	if !ok {
		return nil, ErrPackageNotFound
	}

	reference := s.newReference()
	tx, err := s.ledger.OpenPurchase(ctx, req.AccountID, pkg.Credits, req.Gateway, reference, ledger.Meta{
		Description: fmt.Sprintf("Purchase of %s credits via %s", pkg.Credits, req.Gateway),
		Fields: ledger.Metadata{
			"package":  pkg.ID,
			"price":    pkg.Price.StringFixed(2),
			"currency": pkg.Currency,
		},
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("account_id", req.AccountID.String()).
		Str("transaction_id", tx.ID.String()).
		Str("package", pkg.ID).
		Str("gateway", req.Gateway).
		Str("reference", reference).
		Msg("Purchase opened")

	return &Purchase{Transaction: tx, Package: pkg, Reference: reference}, nil
}

// VerifySignature checks the callback body against the shared secret.
func (s *Service) VerifySignature(body []byte, sig string) error {
	if !signature.Verify(body, sig, s.secret) {
		return ErrInvalidSignature
	}
	return nil
}

// Settle applies a verified callback. Replays of an already applied
// callback return ResultDuplicate and change nothing.
func (s *Service) Settle(ctx context.Context, cb Callback, raw []byte) (*Outcome, error) {
	out, err := s.settle(ctx, cb)

	result := ResultIgnored
	if out != nil {
		result = out.Result
	}
	if err != nil {
		s.metrics.PaymentCallback(cb.Gateway, "error")
	} else {
		s.metrics.PaymentCallback(cb.Gateway, string(result))
		s.record(ctx, cb, result, raw)
	}
	return out, err
}

func (s *Service) settle(ctx context.Context, cb Callback) (*Outcome, error) {
	fields := ledger.Metadata{"callback_status": string(cb.Status)}

	switch cb.Status {
	case CallbackSuccess:
		tx, changed, err := s.ledger.SettlePurchase(ctx, cb.Gateway, cb.GatewayReference, ledger.StatusCompleted, fields)
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return s.creditUnopened(ctx, cb)
		}
		if err != nil {
			return nil, err
		}
		return s.settled(tx, changed, ledger.StatusCompleted, ResultCompleted), nil

	case CallbackFailed:
		tx, changed, err := s.ledger.SettlePurchase(ctx, cb.Gateway, cb.GatewayReference, ledger.StatusFailed, fields)
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			log.Info().
				Str("gateway", cb.Gateway).
				Str("reference", cb.GatewayReference).
				Msg("Failed payment for unknown purchase ignored")
			return &Outcome{Result: ResultIgnored}, nil
		}
		if err != nil {
			return nil, err
		}
		return s.settled(tx, changed, ledger.StatusFailed, ResultFailed), nil
	}
	return nil, ErrInvalidCallback
}

func (s *Service) settled(tx *ledger.Transaction, changed bool, want ledger.Status, result Result) *Outcome {
	switch {
	case changed:
		return &Outcome{Result: result, Transaction: tx}
	case tx.Status == want && tx.Metadata["failure"] != ledger.FailureExpired:
		return &Outcome{Result: ResultDuplicate, Transaction: tx}
	}

	// The purchase was closed another way first, e.g. expired and then paid.
	// Money may have moved without credits; an operator grants them by hand.
	ev := log.Info()
	if want == ledger.StatusCompleted {
		ev = log.Error()
	}
	ev.
		Str("account_id", tx.AccountID.String()).
		Str("transaction_id", tx.ID.String()).
		Str("gateway", tx.Gateway).
		Str("status", string(tx.Status)).
		Str("callback_status", string(want)).
		Msg("Payment callback for a closed purchase")
	return &Outcome{Result: ResultClosed, Transaction: tx}
}

// creditUnopened grants credits for a paid checkout that never had a pending
// row, e.g. one started outside this API.
func (s *Service) creditUnopened(ctx context.Context, cb Callback) (*Outcome, error) {
	if cb.AccountID == uuid.Nil {
		return nil, fmt.Errorf("%w: account_id is required without a pending purchase", ErrInvalidCallback)
	}
	if !cb.Amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}

	tx, err := s.ledger.Credit(ctx, cb.AccountID, cb.Amount, ledger.KindPurchase, ledger.Meta{
		Description: fmt.Sprintf("Purchase of %s credits via %s", cb.Amount, cb.Gateway),
		Gateway:     cb.Gateway,
		Reference:   cb.GatewayReference,
		Fields:      ledger.Metadata{"callback_status": string(cb.Status), "source": "webhook"},
	})
	if errors.Is(err, ledger.ErrDuplicateReference) {
		// A concurrent delivery of the same callback won the insert.
		existing, _, serr := s.ledger.SettlePurchase(ctx, cb.Gateway, cb.GatewayReference, ledger.StatusCompleted, nil)
		if serr != nil {
			return nil, serr
		}
		return &Outcome{Result: ResultDuplicate, Transaction: existing}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: ResultCredited, Transaction: tx}, nil
}

func (s *Service) record(ctx context.Context, cb Callback, result Result, raw []byte) {
	if s.repo == nil {
		return
	}
	ev := &Event{
		ID:               uuid.New(),
		Gateway:          cb.Gateway,
		GatewayReference: cb.GatewayReference,
		Status:           cb.Status,
		Result:           result,
		Payload:          raw,
		ReceivedAt:       s.now().UTC(),
	}
	if err := s.repo.RecordEvent(ctx, ev); err != nil {
		log.Warn().Err(err).
			Str("gateway", cb.Gateway).
			Str("reference", cb.GatewayReference).
			Msg("Failed to record payment event")
	}
}

// Events returns the callbacks received for one gateway reference.
func (s *Service) Events(ctx context.Context, gateway, reference string) ([]Event, error) {
	if s.repo == nil {
		return []Event{}, nil
	}
	return s.repo.ListEvents(ctx, gateway, reference)
}

// ExpireStale cancels purchases left pending longer than maxAge.
func (s *Service) ExpireStale(ctx context.Context, maxAge time.Duration, limit int) (int, error) {
	return s.ledger.ExpirePending(ctx, maxAge, limit)
}
