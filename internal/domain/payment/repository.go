package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// Repository keeps the raw callback log. Balances and purchase state live in
// the ledger; this table only answers "what did the gateway send us".
type Repository interface {
	RecordEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, gateway, reference string) ([]Event, error)
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) RecordEvent(ctx context.Context, e *Event) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	payload := "null"
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_events (id, gateway, gateway_reference, status, result, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.Gateway, e.GatewayReference, e.Status, e.Result, payload, e.ReceivedAt)
	if err != nil {
		return fmt.Errorf("%w: insert payment event", ErrInternal)
	}
	return nil
}

func (r *repository) ListEvents(ctx context.Context, gateway, reference string) ([]Event, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	events := []Event{}
	err := r.db.SelectContext(ctx, &events, `
		SELECT id, gateway, gateway_reference, status, result, payload, received_at
		FROM payment_events
		WHERE gateway = $1 AND gateway_reference = $2
		ORDER BY received_at
	`, gateway, reference)
	if err != nil {
		return nil, fmt.Errorf("%w: list payment events", ErrInternal)
	}
	return events, nil
}
