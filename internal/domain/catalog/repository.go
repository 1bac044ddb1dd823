package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// Repository reads and writes sms_services.
type Repository interface {
	GetByCode(ctx context.Context, code string) (*Service, error)
	ListActive(ctx context.Context) ([]Service, error)
	Upsert(ctx context.Context, s *Service) error
}

const serviceColumns = `id, name, code, COALESCE(description, '') AS description, COALESCE(category, '') AS category, price_per_rental, active, created_at, updated_at`

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByCode(ctx context.Context, code string) (*Service, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var s Service
	err := r.db.GetContext(ctx, &s, `SELECT `+serviceColumns+` FROM sms_services WHERE code = $1`, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, fmt.Errorf("%w: get service", ErrInternal)
	}
	return &s, nil
}

func (r *repository) ListActive(ctx context.Context) ([]Service, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	items := make([]Service, 0)
	err := r.db.SelectContext(ctx, &items, `SELECT `+serviceColumns+` FROM sms_services WHERE active = TRUE ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("%w: list services", ErrInternal)
	}
	return items, nil
}

func (r *repository) Upsert(ctx context.Context, s *Service) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO sms_services (id, name, code, description, category, price_per_rental, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			price_per_rental = EXCLUDED.price_per_rental,
			active = EXCLUDED.active,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, s.ID, s.Name, s.Code, s.Description, s.Category, s.PricePerRental, s.Active).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: upsert service", ErrInternal)
	}
	return nil
}
