package rental

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

// Repository persists rentals. Update is optimistic: it only applies when
// the stored version still equals r.Version and bumps it on success.
type Repository interface {
	Create(ctx context.Context, r *Rental) error
	GetByID(ctx context.Context, id uuid.UUID) (*Rental, error)
	GetByActivation(ctx context.Context, activationID string) (*Rental, error)
	Update(ctx context.Context, r *Rental) error
	List(ctx context.Context, accountID uuid.UUID, filter ListFilter) ([]Rental, int, error)
	// ListDue returns active rentals without a code whose deadline has
	// passed, ordered by (deadline_at, id) and starting after the cursor.
	ListDue(ctx context.Context, now time.Time, after DueCursor, limit int) ([]Rental, error)
}

const rentalColumns = `id, account_id, service_id, service_code, phone_number, activation_id, country_code, operator,
	status, cost, reactivations, code, end_reason, created_at, deadline_at, ended_at, last_code_at, metadata, version`

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, rent *Rental) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO rentals (
			id, account_id, service_id, service_code, phone_number, activation_id, country_code, operator,
			status, cost, reactivations, created_at, deadline_at, metadata, version
		) VALUES (
			:id, :account_id, :service_id, :service_code, :phone_number, :activation_id, :country_code, :operator,
			:status, :cost, :reactivations, :created_at, :deadline_at, :metadata, :version
		)
	`, rent)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateActivation
		}
		return fmt.Errorf("%w: insert rental", ErrInternal)
	}
	return nil
}

func (r *repository) getOne(ctx context.Context, where string, arg interface{}) (*Rental, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rent Rental
	err := r.db.GetContext(ctx, &rent, `SELECT `+rentalColumns+` FROM rentals WHERE `+where, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRentalNotFound
		}
		return nil, fmt.Errorf("%w: get rental", ErrInternal)
	}
	return &rent, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Rental, error) {
	return r.getOne(ctx, `id = $1`, id)
}

func (r *repository) GetByActivation(ctx context.Context, activationID string) (*Rental, error) {
	return r.getOne(ctx, `activation_id = $1`, activationID)
}

func (r *repository) Update(ctx context.Context, rent *Rental) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE rentals SET
			status = $3,
			reactivations = $4,
			code = $5,
			end_reason = $6,
			deadline_at = $7,
			ended_at = $8,
			last_code_at = $9,
			metadata = $10,
			version = version + 1
		WHERE id = $1 AND version = $2
	`, rent.ID, rent.Version, rent.Status, rent.Reactivations, rent.Code, rent.EndReason,
		rent.DeadlineAt, rent.EndedAt, rent.LastCodeAt, rent.Metadata)
	if err != nil {
		return fmt.Errorf("%w: update rental", ErrInternal)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if n == 0 {
		return ErrConcurrencyConflict
	}
	rent.Version++
	return nil
}

func (r *repository) List(ctx context.Context, accountID uuid.UUID, filter ListFilter) ([]Rental, int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	where := ` WHERE account_id = $1`
	args := []interface{}{accountID}
	idx := 2

	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, filter.Status)
		idx++
	}
	if filter.ServiceCode != "" {
		where += fmt.Sprintf(" AND service_code = $%d", idx)
		args = append(args, filter.ServiceCode)
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
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM rentals`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("%w: count rentals", ErrInternal)
	}

	query := `SELECT ` + rentalColumns + ` FROM rentals` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, filter.Limit, filter.Offset())

	items := make([]Rental, 0)
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("%w: list rentals", ErrInternal)
	}
	return items, total, nil
}

func (r *repository) ListDue(ctx context.Context, now time.Time, after DueCursor, limit int) ([]Rental, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	items := make([]Rental, 0)
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+rentalColumns+`
		FROM rentals
		WHERE status = 'active' AND code IS NULL AND deadline_at <= $1
		  AND (deadline_at, id) > ($2, $3)
		ORDER BY deadline_at, id
		LIMIT $4
	`, now, after.DeadlineAt, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list due rentals", ErrInternal)
	}
	return items, nil
}
