package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service is a rentable SMS service. Code is the provider's service code.
type Service struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	Code           string          `db:"code" json:"code"`
	Description    string          `db:"description" json:"description,omitempty"`
	Category       string          `db:"category" json:"category,omitempty"`
	PricePerRental decimal.Decimal `db:"price_per_rental" json:"price_per_rental"`
	Active         bool            `db:"active" json:"active"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// UpsertRequest creates or replaces a service by code.
type UpsertRequest struct {
	Name           string          `json:"name" validate:"required,max=100"`
	Code           string          `json:"code" validate:"required,service_code"`
	Description    string          `json:"description" validate:"max=500"`
	Category       string          `json:"category" validate:"max=50"`
	PricePerRental decimal.Decimal `json:"price_per_rental"`
	Active         *bool           `json:"active"`
}
