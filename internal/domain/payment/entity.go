package payment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smsbra/otp-api/internal/domain/ledger"
)

// CallbackStatus is the payment outcome a gateway reports.
type CallbackStatus string

const (
	CallbackSuccess CallbackStatus = "success"
	CallbackFailed  CallbackStatus = "failed"
)

// Result is what a callback did to the ledger.
type Result string

const (
	ResultCompleted Result = "completed"
	ResultFailed    Result = "failed"
	ResultCredited  Result = "credited"
	ResultDuplicate Result = "duplicate"
	ResultIgnored   Result = "ignored"
	ResultClosed    Result = "closed"
)

// Package is a fixed bundle of credits sold for a price.
type Package struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Credits     decimal.Decimal `json:"credits"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Popular     bool            `json:"popular"`
	Discount    int             `json:"discount,omitempty"`
}

var packages = []Package{
	{ID: "basic", Name: "Basic", Credits: decimal.NewFromInt(10), Price: decimal.RequireFromString("5.00"), Currency: "BRL", Description: "For personal use"},
	{ID: "standard", Name: "Standard", Credits: decimal.NewFromInt(50), Price: decimal.RequireFromString("20.00"), Currency: "BRL", Description: "Best value", Popular: true, Discount: 20},
	{ID: "premium", Name: "Premium", Credits: decimal.NewFromInt(100), Price: decimal.RequireFromString("35.00"), Currency: "BRL", Description: "For heavy use", Discount: 30},
	{ID: "enterprise", Name: "Enterprise", Credits: decimal.NewFromInt(500), Price: decimal.RequireFromString("150.00"), Currency: "BRL", Description: "For businesses", Discount: 40},
}

// Packages returns a copy of the credit package list.
func Packages() []Package {
	out := make([]Package, len(packages))
	copy(out, packages)
	return out
}

func findPackage(id string) (Package, bool) {
	for _, p := range packages {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}

// PurchaseRequest opens a pending purchase for a package.
type PurchaseRequest struct {
	AccountID uuid.UUID `json:"-"`
	PackageID string    `json:"package" validate:"required,oneof=basic standard premium enterprise"`
	Gateway   string    `json:"gateway" validate:"required,oneof=stripe mercadopago"`
}

// Purchase is the pending ledger row plus what the client needs to start
// checkout at the gateway.
type Purchase struct {
	Transaction *ledger.Transaction `json:"transaction"`
	Package     Package             `json:"package"`
	Reference   string              `json:"reference"`
}

// Callback is the body a gateway posts to /webhooks/payments. Amount is in
// credits and only matters when no pending purchase exists.
type Callback struct {
	AccountID        uuid.UUID       `json:"account_id"`
	Amount           decimal.Decimal `json:"amount"`
	Gateway          string          `json:"gateway" validate:"required,oneof=stripe mercadopago"`
	GatewayReference string          `json:"gateway_reference" validate:"required,max=255"`
	Status           CallbackStatus  `json:"status" validate:"required,oneof=success failed"`
}

// Outcome is the reply to a settled callback.
type Outcome struct {
	Result      Result              `json:"result"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
}

// RawPayload keeps a callback body as received. NULL scans to nil.
type RawPayload []byte

func (p *RawPayload) Scan(src any) error {
	if src == nil {
		*p = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		*p = append((*p)[0:0], v...)
	case string:
		*p = []byte(v)
	default:
		return fmt.Errorf("unsupported type: %T", src)
	}
	return nil
}

func (p RawPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 || !json.Valid(p) {
		return []byte("null"), nil
	}
	return p, nil
}

// Event is one received callback, kept for audit and replay.
type Event struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	Gateway          string         `db:"gateway" json:"gateway"`
	GatewayReference string         `db:"gateway_reference" json:"gateway_reference"`
	Status           CallbackStatus `db:"status" json:"status"`
	Result           Result         `db:"result" json:"result"`
	Payload          RawPayload     `db:"payload" json:"payload"`
	ReceivedAt       time.Time      `db:"received_at" json:"received_at"`
}
