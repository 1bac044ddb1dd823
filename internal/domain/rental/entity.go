package rental

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smsbra/otp-api/internal/domain/ledger"
	"github.com/smsbra/otp-api/internal/domain/provider"
)

// Status of a rental. Everything but active is terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s != StatusActive
}

var transitions = map[Status][]Status{
	StatusActive: {StatusCompleted, StatusCancelled, StatusExpired},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// End reasons recorded on terminal rentals.
const (
	ReasonUserCancelled     = "cancelled by user"
	ReasonProviderCancelled = "cancelled by provider"
	ReasonExpired           = "automatic cancellation: no code received within window"
)

// Rental is one leased number bound to a single OTP attempt.
type Rental struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	AccountID     uuid.UUID       `db:"account_id" json:"account_id"`
	ServiceID     uuid.UUID       `db:"service_id" json:"service_id"`
	ServiceCode   string          `db:"service_code" json:"service_code"`
	PhoneNumber   string          `db:"phone_number" json:"phone_number"`
	ActivationID  string          `db:"activation_id" json:"activation_id"`
	CountryCode   string          `db:"country_code" json:"country_code,omitempty"`
	Operator      string          `db:"operator" json:"operator,omitempty"`
	Status        Status          `db:"status" json:"status"`
	Cost          decimal.Decimal `db:"cost" json:"cost"`
	Reactivations int             `db:"reactivations" json:"reactivations"`
	Code          *string         `db:"code" json:"code,omitempty"`
	EndReason     *string         `db:"end_reason" json:"end_reason,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	DeadlineAt    time.Time       `db:"deadline_at" json:"deadline_at"`
	EndedAt       *time.Time      `db:"ended_at" json:"ended_at,omitempty"`
	LastCodeAt    *time.Time      `db:"last_code_at" json:"last_code_at,omitempty"`
	Metadata      ledger.Metadata `db:"metadata" json:"metadata,omitempty"`
	Version       int             `db:"version" json:"-"`
}

// Charged is everything debited for this rental so far.
func (r *Rental) Charged() decimal.Decimal {
	return r.Cost.Mul(decimal.NewFromInt(int64(1 + r.Reactivations)))
}

// HasCode reports whether any code was ever received.
func (r *Rental) HasCode() bool {
	return r.Code != nil
}

// Due reports whether the expiry check should fire at now.
func (r *Rental) Due(now time.Time) bool {
	return r.Status == StatusActive && !r.HasCode() && !now.Before(r.DeadlineAt)
}

func (r *Rental) moveTo(to Status) error {
	if !CanTransition(r.Status, to) {
		return ErrInvalidState
	}
	r.Status = to
	return nil
}

func (r *Rental) end(to Status, reason string, now time.Time) error {
	if err := r.moveTo(to); err != nil {
		return err
	}
	r.EndReason = &reason
	r.EndedAt = &now
	return nil
}

// Complete records code and closes the rental.
func (r *Rental) Complete(code string, now time.Time) error {
	if err := r.moveTo(StatusCompleted); err != nil {
		return err
	}
	r.Code = &code
	r.LastCodeAt = &now
	r.EndedAt = &now
	return nil
}

func (r *Rental) Cancel(reason string, now time.Time) error {
	if reason == "" {
		reason = ReasonUserCancelled
	}
	return r.end(StatusCancelled, reason, now)
}

func (r *Rental) Expire(now time.Time) error {
	return r.end(StatusExpired, ReasonExpired, now)
}

// Reactivate counts one more paid attempt and re-arms the deadline.
func (r *Rental) Reactivate(now time.Time, window time.Duration) error {
	if r.Status != StatusActive {
		return ErrInvalidState
	}
	r.Reactivations++
	r.DeadlineAt = now.Add(window)
	return nil
}

// ListFilter narrows List. Zero values mean "any".
type ListFilter struct {
	Status      Status
	ServiceCode string
	From        *time.Time
	To          *time.Time
	Page        int
	Limit       int
}

func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Page is one page of rentals.
type Page struct {
	Items []Rental `json:"items"`
	Total int      `json:"total"`
	Page  int      `json:"page"`
	Limit int      `json:"limit"`
}

// CreateRequest asks for a new rental.
type CreateRequest struct {
	AccountID   uuid.UUID `json:"-"`
	ServiceCode string    `json:"service_code" validate:"required,service_code"`
	CountryCode string    `json:"country_code" validate:"provider_country"`
	Operator    string    `json:"operator" validate:"max=32"`
}

// Callback is a provider notification about an activation. Status uses
// the provider.StatusKind values; a non-empty Code implies code_received.
type Callback struct {
	ActivationID string              `json:"activation_id" validate:"required"`
	Status       provider.StatusKind `json:"status"`
	Code         string              `json:"code" validate:"max=64"`
}
