// Package ledgertest provides an in-memory ledger.Store with the same
// per-account serialization as the Postgres row lock.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smsbra/otp-api/internal/domain/ledger"
)

type acct struct {
	mu      sync.Mutex // held across check-and-apply, like SELECT ... FOR UPDATE
	balance decimal.Decimal
	active  bool
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*acct
	txs      []*ledger.Transaction
	fail     map[string][]error
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]*acct),
		fail:     make(map[string][]error),
		now:      time.Now,
	}
}

// AddAccount creates an active account holding balance, recorded as one
// completed purchase so the ledger sum matches.
func (s *Store) AddAccount(balance decimal.Decimal) uuid.UUID {
	id := uuid.New()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[id] = &acct{balance: balance, active: true}
	if balance.IsPositive() {
		s.appendLocked(&ledger.Transaction{
			AccountID: id, Kind: ledger.KindPurchase, Amount: balance,
			Gateway: ledger.GatewayInternal, Status: ledger.StatusCompleted, Description: "opening balance",
		})
	}
	return id
}

func (s *Store) SetActive(id uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		a.active = active
	}
}

// FailNext makes the next calls of op ("credit", "debit", "refund",
// "open_purchase", "settle_purchase", "balance") fail with errs in order.
func (s *Store) FailNext(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = append(s.fail[op], errs...)
}

func (s *Store) injected(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q := s.fail[op]; len(q) > 0 {
		s.fail[op] = q[1:]
		return q[0]
	}
	return nil
}

// Transactions returns a copy of every row for accountID, oldest first.
func (s *Store) Transactions(accountID uuid.UUID) []ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Transaction, 0)
	for _, t := range s.txs {
		if t.AccountID == accountID {
			out = append(out, *t)
		}
	}
	return out
}

// Count returns how many rows of kind exist for accountID.
func (s *Store) Count(accountID uuid.UUID, kind ledger.Kind) int {
	n := 0
	for _, t := range s.Transactions(accountID) {
		if t.Kind == kind {
			n++
		}
	}
	return n
}

func (s *Store) account(id uuid.UUID) (*acct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return a, nil
}

func (s *Store) appendLocked(t *ledger.Transaction) {
	t.ID = uuid.New()
	t.CreatedAt = s.now()
	if t.Metadata == nil {
		t.Metadata = ledger.Metadata{}
	}
	if t.Status != ledger.StatusPending {
		at := t.CreatedAt
		t.CompletedAt = &at
	}
	s.txs = append(s.txs, t)
}

func (s *Store) apply(a *acct, t *ledger.Transaction) *ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.balance = a.balance.Add(t.Signed())
	s.appendLocked(t)
	cp := *t
	return &cp
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Store) Credit(_ context.Context, accountID uuid.UUID, amount decimal.Decimal, meta ledger.Meta) (*ledger.Transaction, error) {
	if err := s.injected("credit"); err != nil {
		return nil, err
	}
	a, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if meta.Reference != "" && s.findPurchase(meta.Gateway, meta.Reference) != nil {
		return nil, ledger.ErrDuplicateReference
	}

	return s.apply(a, &ledger.Transaction{
		AccountID: accountID, Kind: ledger.KindPurchase, Amount: amount, Gateway: meta.Gateway,
		GatewayReference: ref(meta.Reference), Status: ledger.StatusCompleted,
		Description: meta.Description, Metadata: meta.Fields,
	}), nil
}

func (s *Store) Debit(_ context.Context, accountID uuid.UUID, amount decimal.Decimal, meta ledger.Meta) (*ledger.Transaction, error) {
	if err := s.injected("debit"); err != nil {
		return nil, err
	}
	a, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	s.mu.Lock()
	balance, active := a.balance, a.active
	s.mu.Unlock()

	if !active {
		return nil, ledger.ErrAccountDisabled
	}
	if balance.LessThan(amount) {
		return nil, ledger.ErrInsufficientCredits
	}

	return s.apply(a, &ledger.Transaction{
		AccountID: accountID, Kind: ledger.KindRentalDebit, Amount: amount, Gateway: ledger.GatewayInternal,
		GatewayReference: ref(meta.Reference), Status: ledger.StatusCompleted,
		Description: meta.Description, Metadata: meta.Fields,
	}), nil
}

func (s *Store) findRefund(reference string) *ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txs {
		if t.Kind == ledger.KindRefund && t.GatewayReference != nil && *t.GatewayReference == reference {
			cp := *t
			return &cp
		}
	}
	return nil
}

func (s *Store) findPurchase(gateway, reference string) *ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txs {
		if t.Kind == ledger.KindPurchase && t.Gateway == gateway && t.GatewayReference != nil && *t.GatewayReference == reference {
			return t
		}
	}
	return nil
}

func (s *Store) Refund(_ context.Context, accountID uuid.UUID, amount decimal.Decimal, reference string, meta ledger.Meta) (*ledger.Transaction, bool, error) {
	if err := s.injected("refund"); err != nil {
		return nil, false, err
	}
	a, err := s.account(accountID)
	if err != nil {
		return nil, false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing := s.findRefund(reference); existing != nil {
		if existing.AccountID != accountID || !existing.Amount.Equal(amount) {
			return nil, false, ledger.ErrReferenceConflict
		}
		return existing, false, nil
	}

	return s.apply(a, &ledger.Transaction{
		AccountID: accountID, Kind: ledger.KindRefund, Amount: amount, Gateway: ledger.GatewayInternal,
		GatewayReference: &reference, Status: ledger.StatusCompleted,
		Description: meta.Description, Metadata: meta.Fields,
	}), true, nil
}

func (s *Store) OpenPurchase(_ context.Context, accountID uuid.UUID, amount decimal.Decimal, meta ledger.Meta) (*ledger.Transaction, error) {
	if err := s.injected("open_purchase"); err != nil {
		return nil, err
	}
	a, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing := s.findPurchase(meta.Gateway, meta.Reference); existing != nil {
		if existing.AccountID != accountID || !existing.Amount.Equal(amount) {
			return nil, ledger.ErrReferenceConflict
		}
		cp := *existing
		return &cp, nil
	}

	return s.apply(a, &ledger.Transaction{
		AccountID: accountID, Kind: ledger.KindPurchase, Amount: amount, Gateway: meta.Gateway,
		GatewayReference: ref(meta.Reference), Status: ledger.StatusPending,
		Description: meta.Description, Metadata: meta.Fields,
	}), nil
}

func (s *Store) SettlePurchase(_ context.Context, gateway, reference string, outcome ledger.Outcome, fields ledger.Metadata) (*ledger.Transaction, bool, error) {
	if err := s.injected("settle_purchase"); err != nil {
		return nil, false, err
	}
	t := s.findPurchase(gateway, reference)
	if t == nil {
		return nil, false, ledger.ErrTransactionNotFound
	}
	a, err := s.account(t.AccountID)
	if err != nil {
		return nil, false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Status != ledger.StatusPending {
		cp := *t
		return &cp, false, nil
	}
	t.Status = outcome
	at := s.now()
	t.CompletedAt = &at
	for k, v := range fields {
		t.Metadata[k] = v
	}
	a.balance = a.balance.Add(t.Signed())
	cp := *t
	return &cp, true, nil
}

func (s *Store) ExpirePending(_ context.Context, olderThan time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.txs {
		if n >= limit {
			break
		}
		if t.Status == ledger.StatusPending && t.CreatedAt.Before(olderThan) {
			t.Status = ledger.StatusFailed
			if t.Metadata == nil {
				t.Metadata = ledger.Metadata{}
			}
			t.Metadata["failure"] = ledger.FailureExpired
			at := s.now()
			t.CompletedAt = &at
			n++
		}
	}
	return n, nil
}

func (s *Store) Balance(_ context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	if err := s.injected("balance"); err != nil {
		return decimal.Zero, err
	}
	a, err := s.account(accountID)
	if err != nil {
		return decimal.Zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return a.balance, nil
}

func (s *Store) History(_ context.Context, accountID uuid.UUID, f ledger.HistoryFilter) ([]ledger.Transaction, int, error) {
	if _, err := s.account(accountID); err != nil {
		return nil, 0, err
	}
	matched := make([]ledger.Transaction, 0)
	for _, t := range s.Transactions(accountID) {
		if len(f.Kinds) > 0 && !containsKind(f.Kinds, t.Kind) {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.From != nil && t.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && t.CreatedAt.After(*f.To) {
			continue
		}
		matched = append(matched, t)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func containsKind(kinds []ledger.Kind, k ledger.Kind) bool {
	for _, c := range kinds {
		if c == k {
			return true
		}
	}
	return false
}

func (s *Store) Totals(_ context.Context, accountID uuid.UUID, since time.Time) (*ledger.Totals, error) {
	if _, err := s.account(accountID); err != nil {
		return nil, err
	}
	out := &ledger.Totals{}
	for _, t := range s.Transactions(accountID) {
		if !t.CreatedAt.Before(since) {
			out.RecentTransactions++
		}
		if t.Status != ledger.StatusCompleted {
			continue
		}
		switch t.Kind {
		case ledger.KindPurchase:
			out.Purchased = out.Purchased.Add(t.Amount)
		case ledger.KindRentalDebit:
			out.Spent = out.Spent.Add(t.Amount)
		case ledger.KindRefund:
			out.Refunded = out.Refunded.Add(t.Amount)
		}
	}
	return out, nil
}

func (s *Store) LedgerSum(_ context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, t := range s.Transactions(accountID) {
		sum = sum.Add(t.Signed())
	}
	return sum, nil
}

var _ ledger.Store = (*Store)(nil)
