package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind is the transaction type.
type Kind string

const (
	KindPurchase    Kind = "purchase"
	KindRentalDebit Kind = "rental_debit"
	KindRefund      Kind = "refund"
)

// Sign is +1 for kinds that add credits and -1 for debits.
func (k Kind) Sign() int64 {
	if k == KindRentalDebit {
		return -1
	}
	return 1
}

func (k Kind) Valid() bool {
	switch k {
	case KindPurchase, KindRentalDebit, KindRefund:
		return true
	}
	return false
}

// Status of a transaction. Only pending rows ever change.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Gateway names where the money came from.
const (
	GatewayStripe      = "stripe"
	GatewayMercadoPago = "mercadopago"
	GatewayInternal    = "internal"
)

// FailureExpired is the metadata "failure" value on purchases closed by
// ExpirePending.
const FailureExpired = "expired"

// Metadata is a flat JSONB object attached to a transaction.
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("ledger metadata: unsupported type %T", src)
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// Transaction is an append-only ledger row. Amount is always positive; the
// direction comes from Kind.
type Transaction struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	AccountID        uuid.UUID       `db:"account_id" json:"account_id"`
	Kind             Kind            `db:"kind" json:"kind"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Gateway          string          `db:"gateway" json:"gateway"`
	GatewayReference *string         `db:"gateway_reference" json:"gateway_reference,omitempty"`
	Status           Status          `db:"status" json:"status"`
	Description      string          `db:"description" json:"description"`
	Metadata         Metadata        `db:"metadata" json:"metadata,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	CompletedAt      *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// Signed returns the balance effect of a completed transaction.
func (t *Transaction) Signed() decimal.Decimal {
	if t.Status != StatusCompleted {
		return decimal.Zero
	}
	return t.Amount.Mul(decimal.NewFromInt(t.Kind.Sign()))
}

// Meta describes why a transaction is written.
type Meta struct {
	Description string
	Gateway     string
	Reference   string
	Fields      Metadata
}

// Outcome is the final state a pending purchase settles into.
type Outcome = Status

// HistoryFilter narrows History. Zero values mean "any".
type HistoryFilter struct {
	Kinds  []Kind
	Status Status
	From   *time.Time
	To     *time.Time
	Page   int
	Limit  int
}

// Offset returns the row offset for the filter's page.
func (f HistoryFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// TransactionPage is one page of history.
type TransactionPage struct {
	Items []Transaction `json:"items"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// Totals are the completed sums per kind for one account.
type Totals struct {
	Purchased          decimal.Decimal `db:"total_purchased"`
	Spent              decimal.Decimal `db:"total_spent"`
	Refunded           decimal.Decimal `db:"total_refunded"`
	RecentTransactions int             `db:"recent_transactions"`
}

// Stats summarizes an account's credit activity.
type Stats struct {
	Balance            decimal.Decimal `json:"balance"`
	TotalPurchased     decimal.Decimal `json:"total_purchased"`
	TotalSpent         decimal.Decimal `json:"total_spent"`
	TotalRefunded      decimal.Decimal `json:"total_refunded"`
	TransactionsLast30 int             `json:"transactions_last_30_days"`
}

// Reconciliation compares the stored balance with the ledger sum.
type Reconciliation struct {
	AccountID  uuid.UUID       `json:"account_id"`
	Balance    decimal.Decimal `json:"balance"`
	LedgerSum  decimal.Decimal `json:"ledger_sum"`
	Drift      decimal.Decimal `json:"drift"`
	Consistent bool            `json:"consistent"`
}
