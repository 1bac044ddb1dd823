package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/smsbra/otp-api/internal/pkg/metrics"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	statsWindow      = 30 * 24 * time.Hour
)

// Service is the only writer of account balances.
type Service struct {
	store   Store
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(store Store, m *metrics.Metrics) *Service {
	return &Service{store: store, metrics: m, now: time.Now}
}

func validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// Credit adds credits. Refund-kind credits go through Refund and need
// meta.Reference as their idempotency key.
func (s *Service) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, kind Kind, meta Meta) (*Transaction, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}

	switch kind {
	case KindRefund:
		return s.Refund(ctx, accountID, amount, meta.Description, meta.Reference)
	case KindPurchase:
	default:
		return nil, ErrInvalidKind
	}

	if meta.Gateway == "" {
		meta.Gateway = GatewayInternal
	}
	t, err := s.store.Credit(ctx, accountID, amount, meta)
	s.metrics.LedgerOp("credit", err)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("account_id", accountID.String()).
		Str("transaction_id", t.ID.String()).
		Str("amount", amount.String()).
		Str("gateway", meta.Gateway).
		Msg("Credits added")
	return t, nil
}

// Debit charges the account. It fails with ErrInsufficientCredits without
// writing anything when the balance does not cover amount.
func (s *Service) Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, meta Meta) (*Transaction, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}

	t, err := s.store.Debit(ctx, accountID, amount, meta)
	s.metrics.LedgerOp("debit", err)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("account_id", accountID.String()).
		Str("transaction_id", t.ID.String()).
		Str("amount", amount.String()).
		Str("reference", meta.Reference).
		Msg("Credits debited")
	return t, nil
}

// Refund returns credits once per reference. Repeating a reference returns
// the original refund and leaves the balance alone.
func (s *Service) Refund(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, reason, reference string) (*Transaction, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ErrReferenceRequired
	}
	if strings.TrimSpace(reason) == "" {
		reason = "refund"
	}

	t, created, err := s.store.Refund(ctx, accountID, amount, reference, Meta{
		Description: reason,
		Fields:      Metadata{"reason": reason},
	})
	s.metrics.LedgerOp("refund", err)
	if err != nil {
		return nil, err
	}

	if !created {
		log.Info().
			Str("account_id", accountID.String()).
			Str("reference", reference).
			Msg("Refund already applied")
		return t, nil
	}

	log.Info().
		Str("account_id", accountID.String()).
		Str("transaction_id", t.ID.String()).
		Str("amount", amount.String()).
		Str("reference", reference).
		Str("reason", reason).
		Msg("Credits refunded")
	return t, nil
}

// OpenPurchase records a pending purchase awaiting gateway settlement.
func (s *Service) OpenPurchase(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, gateway, reference string, meta Meta) (*Transaction, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reference) == "" {
		return nil, ErrReferenceRequired
	}

	meta.Gateway = gateway
	meta.Reference = reference
	t, err := s.store.OpenPurchase(ctx, accountID, amount, meta)
	s.metrics.LedgerOp("open_purchase", err)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// SettlePurchase finalizes a pending purchase. Settling twice is a no-op
// that returns the already-settled row with changed=false.
func (s *Service) SettlePurchase(ctx context.Context, gateway, reference string, outcome Outcome, fields Metadata) (*Transaction, bool, error) {
	if outcome != StatusCompleted && outcome != StatusFailed {
		return nil, false, ErrInvalidKind
	}

	t, changed, err := s.store.SettlePurchase(ctx, gateway, reference, outcome, fields)
	s.metrics.LedgerOp("settle_purchase", err)
	if err != nil {
		return nil, false, err
	}

	event := log.Info()
	if !changed {
		event = log.Debug()
	}
	event.
		Str("account_id", t.AccountID.String()).
		Str("transaction_id", t.ID.String()).
		Str("gateway", gateway).
		Str("reference", reference).
		Str("status", string(t.Status)).
		Bool("changed", changed).
		Msg("Purchase settled")
	return t, changed, nil
}

// ExpirePending fails purchases left pending longer than maxAge and tags
// them with FailureExpired.
func (s *Service) ExpirePending(ctx context.Context, maxAge time.Duration, limit int) (int, error) {
	n, err := s.store.ExpirePending(ctx, s.now().Add(-maxAge), limit)
	s.metrics.LedgerOp("expire_pending", err)
	return n, err
}

func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	return s.store.Balance(ctx, accountID)
}

// History returns one page of transactions, newest first.
func (s *Service) History(ctx context.Context, accountID uuid.UUID, filter HistoryFilter) (*TransactionPage, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageLimit
	}
	if filter.Limit > maxPageLimit {
		filter.Limit = maxPageLimit
	}
	for _, k := range filter.Kinds {
		if !k.Valid() {
			return nil, ErrInvalidFilter
		}
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidFilter
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, ErrInvalidFilter
	}

	items, total, err := s.store.History(ctx, accountID, filter)
	if err != nil {
		return nil, err
	}
	return &TransactionPage{Items: items, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

func (s *Service) Stats(ctx context.Context, accountID uuid.UUID) (*Stats, error) {
	balance, err := s.store.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	totals, err := s.store.Totals(ctx, accountID, s.now().Add(-statsWindow))
	if err != nil {
		return nil, err
	}
	return &Stats{
		Balance:            balance,
		TotalPurchased:     totals.Purchased,
		TotalSpent:         totals.Spent,
		TotalRefunded:      totals.Refunded,
		TransactionsLast30: totals.RecentTransactions,
	}, nil
}

// Reconcile compares the stored balance with the signed ledger sum.
func (s *Service) Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error) {
	balance, err := s.store.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	sum, err := s.store.LedgerSum(ctx, accountID)
	if err != nil {
		return nil, err
	}

	rec := &Reconciliation{
		AccountID:  accountID,
		Balance:    balance,
		LedgerSum:  sum,
		Drift:      balance.Sub(sum),
		Consistent: balance.Equal(sum),
	}
	if !rec.Consistent {
		log.Error().
			Str("account_id", accountID.String()).
			Str("balance", balance.String()).
			Str("ledger_sum", sum.String()).
			Msg("Ledger drift detected")
	}
	return rec, nil
}
