package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Catalog resolves service codes to rentable services.
type Catalog struct {
	repo Repository
}

func NewCatalog(repo Repository) *Catalog {
	return &Catalog{repo: repo}
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Get returns the service for code, active or not.
func (c *Catalog) Get(ctx context.Context, code string) (*Service, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, ErrServiceNotFound
	}
	return c.repo.GetByCode(ctx, code)
}

// Rentable returns the service only when it can be rented right now.
func (c *Catalog) Rentable(ctx context.Context, code string) (*Service, error) {
	s, err := c.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if !s.Active {
		return nil, ErrServiceInactive
	}
	return s, nil
}

func (c *Catalog) ListActive(ctx context.Context) ([]Service, error) {
	return c.repo.ListActive(ctx)
}

func (c *Catalog) Upsert(ctx context.Context, req UpsertRequest) (*Service, error) {
	if !req.PricePerRental.IsPositive() {
		return nil, ErrInvalidPrice
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	s := &Service{
		ID:             uuid.New(),
		Name:           strings.TrimSpace(req.Name),
		Code:           normalizeCode(req.Code),
		Description:    strings.TrimSpace(req.Description),
		Category:       strings.TrimSpace(req.Category),
		PricePerRental: req.PricePerRental,
		Active:         active,
	}
	if err := c.repo.Upsert(ctx, s); err != nil {
		return nil, err
	}

	log.Info().
		Str("code", s.Code).
		Str("price", s.PricePerRental.String()).
		Bool("active", s.Active).
		Msg("Service upserted")
	return s, nil
}
