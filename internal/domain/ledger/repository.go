package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const queryTimeout = 3 * time.Second

// Store persists balances and transactions. Every balance change and its
// transaction row are written atomically.
type Store interface {
	// Credit adds a completed purchase.
	Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, meta Meta) (*Transaction, error)
	Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, meta Meta) (*Transaction, error)
	// Refund returns created=false when reference was already refunded.
	Refund(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, reference string, meta Meta) (tx *Transaction, created bool, err error)
	OpenPurchase(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, meta Meta) (*Transaction, error)
	// SettlePurchase returns changed=false when the purchase was already settled.
	SettlePurchase(ctx context.Context, gateway, reference string, outcome Outcome, fields Metadata) (tx *Transaction, changed bool, err error)
	ExpirePending(ctx context.Context, olderThan time.Time, limit int) (int, error)

	Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
	History(ctx context.Context, accountID uuid.UUID, filter HistoryFilter) ([]Transaction, int, error)
	Totals(ctx context.Context, accountID uuid.UUID, since time.Time) (*Totals, error)
	LedgerSum(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
}

const txColumns = `id, account_id, kind, amount, gateway, gateway_reference, status, description, metadata, created_at, completed_at`

// Repository is the Postgres Store.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) begin(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	return tx, nil
}

// lockAccount takes the row lock that serializes every balance change.
func (r *Repository) lockAccount(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID) (decimal.Decimal, bool, error) {
	var row struct {
		Balance decimal.Decimal `db:"credit_balance"`
		Active  bool            `db:"active"`
	}
	err := tx.GetContext(ctx, &row, `SELECT credit_balance, active FROM accounts WHERE id = $1 FOR UPDATE`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, false, ErrAccountNotFound
		}
		return decimal.Zero, false, fmt.Errorf("%w: lock account row", ErrInternal)
	}
	return row.Balance, row.Active, nil
}

func (r *Repository) addBalance(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, delta decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET credit_balance = credit_balance + $2, updated_at = NOW()
		WHERE id = $1
	`, accountID, delta)
	if err != nil {
		return fmt.Errorf("%w: update account balance", ErrInternal)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *Repository) insertTransaction(ctx context.Context, tx *sqlx.Tx, t *Transaction) error {
	if strings.TrimSpace(t.Description) == "" {
		t.Description = "credit balance adjustment"
	}
	if t.Gateway == "" {
		t.Gateway = GatewayInternal
	}
	if t.Metadata == nil {
		t.Metadata = Metadata{}
	}
	t.ID = uuid.New()

	err := tx.QueryRowxContext(ctx, `
		INSERT INTO transactions (
			id, account_id, kind, amount, gateway, gateway_reference, status, description, metadata, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CASE WHEN $7::text = 'pending' THEN NULL ELSE NOW() END)
		RETURNING created_at, completed_at
	`, t.ID, t.AccountID, t.Kind, t.Amount, t.Gateway, t.GatewayReference, t.Status, t.Description, t.Metadata).
		Scan(&t.CreatedAt, &t.CompletedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return fmt.Errorf("%w: insert transaction", ErrInternal)
	}
	return nil
}

func (r *Repository) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, meta Meta) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, _, err := r.lockAccount(ctx, tx, accountID); err != nil {
		return nil, err
	}
	if err := r.addBalance(ctx, tx, accountID, amount); err != nil {
		return nil, err
	}

	t := &Transaction{
		AccountID:        accountID,
		Kind:             KindPurchase,
		Amount:           amount,
		Gateway:          meta.Gateway,
		GatewayReference: nullable(meta.Reference),
		Status:           StatusCompleted,
		Description:      meta.Description,
		Metadata:         meta.Fields,
	}
	if err := r.insertTransaction(ctx, tx, t); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return t, nil
}

// Debit checks and applies under the account row lock.
func (r *Repository) Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, meta Meta) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	balance, active, err := r.lockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrAccountDisabled
	}
	if balance.LessThan(amount) {
		return nil, ErrInsufficientCredits
	}

	if err := r.addBalance(ctx, tx, accountID, amount.Neg()); err != nil {
		return nil, err
	}

	t := &Transaction{
		AccountID:        accountID,
		Kind:             KindRentalDebit,
		Amount:           amount,
		Gateway:          GatewayInternal,
		GatewayReference: nullable(meta.Reference),
		Status:           StatusCompleted,
		Description:      meta.Description,
		Metadata:         meta.Fields,
	}
	if err := r.insertTransaction(ctx, tx, t); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return t, nil
}

func (r *Repository) refundByReference(ctx context.Context, q sqlx.QueryerContext, reference string) (*Transaction, error) {
	var t Transaction
	err := sqlx.GetContext(ctx, q, &t, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE kind = 'refund' AND gateway_reference = $1
	`, reference)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get refund", ErrInternal)
	}
	return &t, nil
}

func sameRefund(t *Transaction, accountID uuid.UUID, amount decimal.Decimal) bool {
	return t.AccountID == accountID && t.Amount.Equal(amount)
}

// Refund is idempotent by reference. The account lock orders concurrent
// refunds for the same account; the unique index catches the rest.
func (r *Repository) Refund(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, reference string, meta Meta) (*Transaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	if _, _, err := r.lockAccount(ctx, tx, accountID); err != nil {
		return nil, false, err
	}

	existing, err := r.refundByReference(ctx, tx, reference)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if !sameRefund(existing, accountID, amount) {
			return nil, false, ErrReferenceConflict
		}
		return existing, false, nil
	}

	if err := r.addBalance(ctx, tx, accountID, amount); err != nil {
		return nil, false, err
	}

	t := &Transaction{
		AccountID:        accountID,
		Kind:             KindRefund,
		Amount:           amount,
		Gateway:          GatewayInternal,
		GatewayReference: &reference,
		Status:           StatusCompleted,
		Description:      meta.Description,
		Metadata:         meta.Fields,
	}
	if err := r.insertTransaction(ctx, tx, t); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			tx.Rollback()
			existing, getErr := r.refundByReference(ctx, r.db, reference)
			if getErr != nil {
				return nil, false, getErr
			}
			if existing == nil || !sameRefund(existing, accountID, amount) {
				return nil, false, ErrReferenceConflict
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return t, true, nil
}

func (r *Repository) purchaseByReference(ctx context.Context, q sqlx.QueryerContext, gateway, reference string, forUpdate bool) (*Transaction, error) {
	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE kind = 'purchase' AND gateway = $1 AND gateway_reference = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var t Transaction
	if err := sqlx.GetContext(ctx, q, &t, query, gateway, reference); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get purchase", ErrInternal)
	}
	return &t, nil
}

// OpenPurchase records a pending purchase. Reopening the same reference with
// the same account and amount returns the existing row.
func (r *Repository) OpenPurchase(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, meta Meta) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, _, err := r.lockAccount(ctx, tx, accountID); err != nil {
		return nil, err
	}

	existing, err := r.purchaseByReference(ctx, tx, meta.Gateway, meta.Reference, false)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.AccountID != accountID || !existing.Amount.Equal(amount) {
			return nil, ErrReferenceConflict
		}
		return existing, nil
	}

	t := &Transaction{
		AccountID:        accountID,
		Kind:             KindPurchase,
		Amount:           amount,
		Gateway:          meta.Gateway,
		GatewayReference: nullable(meta.Reference),
		Status:           StatusPending,
		Description:      meta.Description,
		Metadata:         meta.Fields,
	}
	if err := r.insertTransaction(ctx, tx, t); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return t, nil
}

// SettlePurchase moves a pending purchase to outcome, crediting the balance
// in the same transaction when the outcome is completed.
func (r *Repository) SettlePurchase(ctx context.Context, gateway, reference string, outcome Outcome, fields Metadata) (*Transaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	t, err := r.purchaseByReference(ctx, tx, gateway, reference, true)
	if err != nil {
		return nil, false, err
	}
	if t == nil {
		return nil, false, ErrTransactionNotFound
	}
	if t.Status != StatusPending {
		return t, false, nil
	}

	if outcome == StatusCompleted {
		if err := r.addBalance(ctx, tx, t.AccountID, t.Amount); err != nil {
			return nil, false, err
		}
	}

	if fields == nil {
		fields = Metadata{}
	}
	err = tx.QueryRowxContext(ctx, `
		UPDATE transactions
		SET status = $2, completed_at = NOW(), metadata = metadata || $3::jsonb
		WHERE id = $1 AND status = 'pending'
		RETURNING status, metadata, completed_at
	`, t.ID, outcome, fields).Scan(&t.Status, &t.Metadata, &t.CompletedAt)
	if err != nil {
		return nil, false, fmt.Errorf("%w: settle purchase", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return t, true, nil
}

// ExpirePending fails pending purchases created before olderThan.
func (r *Repository) ExpirePending(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = 'failed', completed_at = NOW(),
			metadata = metadata || jsonb_build_object('failure', $3::text)
		WHERE id IN (
			SELECT id FROM transactions
			WHERE status = 'pending' AND created_at < $1
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
	`, olderThan, limit, FailureExpired)
	if err != nil {
		return 0, fmt.Errorf("%w: expire pending purchases", ErrInternal)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected", ErrInternal)
	}
	return int(n), nil
}

func (r *Repository) Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance decimal.Decimal
	err := r.db.GetContext(ctx, &balance, `SELECT credit_balance FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, fmt.Errorf("%w: get balance", ErrInternal)
	}
	return balance, nil
}

func (r *Repository) History(ctx context.Context, accountID uuid.UUID, filter HistoryFilter) ([]Transaction, int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	where := ` WHERE account_id = $1`
	args := []interface{}{accountID}
	idx := 2

	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		where += fmt.Sprintf(" AND kind = ANY($%d)", idx)
		args = append(args, pq.Array(kinds))
		idx++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, filter.Status)
		idx++
	}
	if filter.From != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, *filter.From)
		idx++
	}
	if filter.To != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", idx)
		args = append(args, *filter.To)
		idx++
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM transactions`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("%w: count transactions", ErrInternal)
	}

	query := `SELECT ` + txColumns + ` FROM transactions` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, filter.Limit, filter.Offset())

	items := make([]Transaction, 0)
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("%w: list transactions", ErrInternal)
	}
	return items, total, nil
}

func (r *Repository) Totals(ctx context.Context, accountID uuid.UUID, since time.Time) (*Totals, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t Totals
	err := r.db.GetContext(ctx, &t, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE kind = 'purchase' AND status = 'completed'), 0) AS total_purchased,
			COALESCE(SUM(amount) FILTER (WHERE kind = 'rental_debit' AND status = 'completed'), 0) AS total_spent,
			COALESCE(SUM(amount) FILTER (WHERE kind = 'refund' AND status = 'completed'), 0) AS total_refunded,
			COUNT(*) FILTER (WHERE created_at >= $2) AS recent_transactions
		FROM transactions
		WHERE account_id = $1
	`, accountID, since)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction totals", ErrInternal)
	}
	return &t, nil
}

// LedgerSum is the signed sum of completed transactions.
func (r *Repository) LedgerSum(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sum decimal.Decimal
	err := r.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(CASE WHEN kind = 'rental_debit' THEN -amount ELSE amount END), 0)
		FROM transactions
		WHERE account_id = $1 AND status = 'completed'
	`, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: ledger sum", ErrInternal)
	}
	return sum, nil
}

var _ Store = (*Repository)(nil)
