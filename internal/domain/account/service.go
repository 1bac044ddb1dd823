package account

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateRequest registers an account on behalf of the identity provider.
type CreateRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Account, error) {
	a := &Account{
		ID:       uuid.New(),
		Username: strings.TrimSpace(req.Username),
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Active:   true,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	log.Info().Str("account_id", a.ID.String()).Msg("Account created")
	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.repo.GetByID(ctx, id)
}

// RequireActive returns the account or ErrNotFound / ErrDisabled.
func (s *Service) RequireActive(ctx context.Context, id uuid.UUID) (*Account, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Active {
		return nil, ErrDisabled
	}
	return a, nil
}

func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return err
	}
	log.Info().Str("account_id", id.String()).Bool("active", active).Msg("Account status changed")
	return nil
}

// Each calls fn for every account id, batch ids per query, stopping at the
// first error.
func (s *Service) Each(ctx context.Context, batch int, fn func(id uuid.UUID) error) error {
	if batch <= 0 {
		batch = 500
	}
	after := uuid.Nil
	for {
		ids, err := s.repo.ListIDs(ctx, after, batch)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := fn(id); err != nil {
				return err
			}
		}
		if len(ids) < batch {
			return nil
		}
		after = ids[len(ids)-1]
	}
}
