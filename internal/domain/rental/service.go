package rental

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/smsbra/otp-api/internal/domain/account"
	"github.com/smsbra/otp-api/internal/domain/catalog"
	"github.com/smsbra/otp-api/internal/domain/ledger"
	"github.com/smsbra/otp-api/internal/domain/provider"
	"github.com/smsbra/otp-api/internal/pkg/logger"
	"github.com/smsbra/otp-api/internal/pkg/metrics"
	"github.com/smsbra/otp-api/internal/pkg/resilience"
)

const (
	defaultWindow    = 2 * time.Minute
	defaultPageLimit = 20
	maxPageLimit     = 100
	conflictRetries  = 3
)

// Ledger is the part of the ledger the rental lifecycle uses.
type Ledger interface {
	Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
	Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, meta ledger.Meta) (*ledger.Transaction, error)
	Refund(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, reason, reference string) (*ledger.Transaction, error)
}

type Accounts interface {
	RequireActive(ctx context.Context, id uuid.UUID) (*account.Account, error)
}

type Catalog interface {
	Rentable(ctx context.Context, code string) (*catalog.Service, error)
}

type Config struct {
	// Window is how long a rental waits for a code before expiring.
	Window time.Duration
	// RefundUnused returns the charge when a rental ends without a code.
	RefundUnused bool
	// PersistRetries bounds retries of the rental insert after the debit.
	PersistRetries int
}

type Service struct {
	repo     Repository
	ledger   Ledger
	accounts Accounts
	catalog  Catalog
	gateway  provider.Gateway
	upstream *resilience.Executor
	store    *resilience.Executor
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time
}

// NewService wires the rental lifecycle. upstream wraps every provider call;
// a nil upstream calls the gateway directly.
func NewService(repo Repository, l Ledger, accounts Accounts, c Catalog, gateway provider.Gateway, upstream *resilience.Executor, m *metrics.Metrics, cfg Config) *Service {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.PersistRetries < 0 {
		cfg.PersistRetries = 0
	}
	return &Service{
		repo:     repo,
		ledger:   l,
		accounts: accounts,
		catalog:  c,
		gateway:  gateway,
		upstream: upstream,
		store: resilience.New(resilience.Config{
			Name:       "rental_store",
			MaxRetries: cfg.PersistRetries,
			BaseDelay:  50 * time.Millisecond,
			MaxDelay:   500 * time.Millisecond,
			Retryable:  func(err error) bool { return !errors.Is(err, ErrDuplicateActivation) },
			OpenErr:    ErrInternal,
		}),
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (s *Service) callProvider(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := s.upstream.Run(ctx, fn)
	s.metrics.ProviderCall(op, err, time.Since(start))
	return err
}

func debitMeta(r *Rental, description string) ledger.Meta {
	return ledger.Meta{
		Description: description,
		Reference:   "rental:" + r.ActivationID,
		Fields: ledger.Metadata{
			"rental_id":     r.ID.String(),
			"activation_id": r.ActivationID,
			"service_code":  r.ServiceCode,
		},
	}
}

// Create rents a number. The provider is asked first and the account is
// debited only once a number was granted.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Rental, error) {
	l := logger.FromContext(ctx)

	if s.accounts != nil {
		if _, err := s.accounts.RequireActive(ctx, req.AccountID); err != nil {
			return nil, err
		}
	}

	svc, err := s.catalog.Rentable(ctx, req.ServiceCode)
	if err != nil {
		return nil, err
	}
	price := svc.PricePerRental

	balance, err := s.ledger.Balance(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(price) {
		return nil, ErrInsufficientCredits
	}

	var number *provider.Number
	err = s.callProvider(ctx, "request_number", func(ctx context.Context) error {
		n, err := s.gateway.RequestNumber(ctx, provider.NumberRequest{
			ServiceCode: svc.Code,
			CountryCode: req.CountryCode,
			Operator:    req.Operator,
		})
		number = n
		return err
	})
	if err != nil {
		l.Warn().Err(err).Str("service_code", svc.Code).Msg("Number request failed")
		return nil, err
	}

	now := s.now()
	r := &Rental{
		ID:           uuid.New(),
		AccountID:    req.AccountID,
		ServiceID:    svc.ID,
		ServiceCode:  svc.Code,
		PhoneNumber:  number.PhoneNumber,
		ActivationID: number.ActivationID,
		CountryCode:  req.CountryCode,
		Operator:     req.Operator,
		Status:       StatusActive,
		Cost:         price,
		CreatedAt:    now,
		DeadlineAt:   now.Add(s.cfg.Window),
		Metadata:     ledger.Metadata{"service_name": svc.Name},
	}

	if _, err := s.ledger.Debit(ctx, r.AccountID, price, debitMeta(r, "Number rental: "+svc.Name)); err != nil {
		l.Warn().Err(err).Str("activation_id", r.ActivationID).Msg("Debit failed after number grant, releasing number")
		s.releaseNumber(ctx, r.ActivationID)
		return nil, err
	}

	err = s.store.Run(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, r)
	})
	if err != nil {
		s.compensateLostRental(ctx, r, err)
		return nil, fmt.Errorf("%w: rental could not be saved, charge refunded", ErrInternal)
	}

	s.metrics.RentalTransition(string(StatusActive))
	l.Info().
		Str("rental_id", r.ID.String()).
		Str("activation_id", r.ActivationID).
		Str("service_code", r.ServiceCode).
		Str("cost", r.Cost.String()).
		Time("deadline_at", r.DeadlineAt).
		Msg("Rental created")
	return r, nil
}

// releaseNumber cancels an activation nobody will pay for. Failures only log.
func (s *Service) releaseNumber(ctx context.Context, activationID string) {
	err := s.callProvider(ctx, "cancel", func(ctx context.Context) error {
		return s.gateway.Cancel(ctx, activationID)
	})
	s.metrics.Compensation("provider_cancel")
	if err != nil {
		log.Error().Err(err).Str("activation_id", activationID).Msg("Failed to release provider number")
	}
}

// compensateLostRental runs when the number was granted and paid for but the
// rental row never landed.
func (s *Service) compensateLostRental(ctx context.Context, r *Rental, cause error) {
	s.releaseNumber(ctx, r.ActivationID)

	_, refundErr := s.ledger.Refund(ctx, r.AccountID, r.Cost, "rental could not be recorded", "rental:"+r.ID.String()+":lost")
	s.metrics.Compensation("refund_lost_rental")

	event := log.Error().
		Err(cause).
		Str("rental_id", r.ID.String()).
		Str("account_id", r.AccountID.String()).
		Str("activation_id", r.ActivationID).
		Str("phone_number", r.PhoneNumber).
		Str("amount", r.Cost.String())
	if refundErr != nil {
		event = event.AnErr("refund_error", refundErr)
	}
	event.Msg("Rental persist failed after debit, needs reconciliation")
}

// refundUnused returns the charge of a rental that ended without a code.
// The reference makes the refund apply at most once.
func (s *Service) refundUnused(ctx context.Context, r *Rental) {
	if !s.cfg.RefundUnused || r.HasCode() || r.Status == StatusCompleted {
		return
	}
	amount := r.Charged()
	reason := "unused rental"
	if r.EndReason != nil {
		reason = *r.EndReason
	}
	if _, err := s.ledger.Refund(ctx, r.AccountID, amount, reason, "rental:"+r.ID.String()+":unused"); err != nil {
		log.Error().
			Err(err).
			Str("rental_id", r.ID.String()).
			Str("account_id", r.AccountID.String()).
			Str("amount", amount.String()).
			Msg("Unused rental refund failed")
		return
	}
	s.metrics.Compensation("refund_unused")
}

func (s *Service) confirm(ctx context.Context, r *Rental) {
	err := s.callProvider(ctx, "confirm", func(ctx context.Context) error {
		return s.gateway.ConfirmCompletion(ctx, r.ActivationID)
	})
	if err != nil {
		log.Warn().Err(err).
			Str("rental_id", r.ID.String()).
			Str("activation_id", r.ActivationID).
			Msg("Provider completion confirm failed, local state kept")
	}
}

// HandleCode completes the rental owning activationID. A repeated delivery
// for a completed rental returns it unchanged.
func (s *Service) HandleCode(ctx context.Context, activationID, code string) (*Rental, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrEmptyCode
	}

	for attempt := 0; attempt < conflictRetries; attempt++ {
		r, err := s.repo.GetByActivation(ctx, activationID)
		if err != nil {
			return nil, err
		}
		switch r.Status {
		case StatusCompleted:
			return r, nil
		case StatusCancelled, StatusExpired:
			return nil, ErrInvalidState
		}

		if err := r.Complete(code, s.now()); err != nil {
			return nil, err
		}
		if err := s.repo.Update(ctx, r); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				continue
			}
			return nil, err
		}

		s.metrics.RentalTransition(string(StatusCompleted))
		logger.FromContext(ctx).Info().
			Str("rental_id", r.ID.String()).
			Str("activation_id", r.ActivationID).
			Msg("Code received")

		s.confirm(ctx, r)
		return r, nil
	}
	return nil, ErrConcurrencyConflict
}

func (s *Service) owned(ctx context.Context, accountID, rentalID uuid.UUID) (*Rental, error) {
	r, err := s.repo.GetByID(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	if r.AccountID != accountID {
		return nil, ErrRentalNotFound
	}
	return r, nil
}

// Reactivate asks the provider for another code on the same number and
// charges the rental's cost again.
func (s *Service) Reactivate(ctx context.Context, accountID, rentalID uuid.UUID) (*Rental, error) {
	r, err := s.owned(ctx, accountID, rentalID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusActive {
		return nil, ErrInvalidState
	}

	balance, err := s.ledger.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(r.Cost) {
		return nil, ErrInsufficientCredits
	}

	err = s.callProvider(ctx, "additional_code", func(ctx context.Context) error {
		return s.gateway.RequestAdditionalCode(ctx, r.ActivationID)
	})
	if err != nil {
		return nil, err
	}

	attempt := r.Reactivations + 1
	meta := debitMeta(r, fmt.Sprintf("Number reactivation #%d", attempt))
	meta.Fields["reactivation"] = fmt.Sprint(attempt)
	if _, err := s.ledger.Debit(ctx, accountID, r.Cost, meta); err != nil {
		// The provider already re-armed the number; nothing was charged for it.
		logEvent(log.Warn(), *r).
			Err(err).
			Str("account_id", accountID.String()).
			Int("reactivation", attempt).
			Str("amount", r.Cost.String()).
			Msg("Reactivation debit failed after provider re-armed the number, needs reconciliation")
		return nil, err
	}

	if err := r.Reactivate(s.now(), s.cfg.Window); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, r); err != nil {
		ref := fmt.Sprintf("rental:%s:reactivation:%d", r.ID, attempt)
		if _, refundErr := s.ledger.Refund(ctx, accountID, r.Cost, "reactivation lost a concurrent update", ref); refundErr != nil {
			log.Error().Err(refundErr).Str("rental_id", r.ID.String()).Str("reference", ref).Msg("Reactivation refund failed")
		}
		s.metrics.Compensation("refund_reactivation")
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("rental_id", r.ID.String()).
		Int("reactivations", r.Reactivations).
		Time("deadline_at", r.DeadlineAt).
		Msg("Rental reactivated")
	return r, nil
}

// Cancel ends an active rental at the user's request. Local state changes
// only after the provider accepted the cancellation.
func (s *Service) Cancel(ctx context.Context, accountID, rentalID uuid.UUID, reason string) (*Rental, error) {
	r, err := s.owned(ctx, accountID, rentalID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusActive {
		return nil, ErrInvalidState
	}

	err = s.callProvider(ctx, "cancel", func(ctx context.Context) error {
		return s.gateway.Cancel(ctx, r.ActivationID)
	})
	if err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	r, changed, err := s.settle(ctx, r, func(r *Rental) error { return r.Cancel(reason, s.now()) })
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, ErrInvalidState
	}

	s.metrics.RentalTransition(string(StatusCancelled))
	logger.FromContext(ctx).Info().
		Str("rental_id", r.ID.String()).
		Str("reason", *r.EndReason).
		Msg("Rental cancelled")

	s.refundUnused(ctx, r)
	return r, nil
}

// Expire is the deadline check. It re-reads the rental and does nothing
// unless it is still active, has no code and is past its deadline. A
// provider outage leaves the rental active for the next sweep.
func (s *Service) Expire(ctx context.Context, rentalID uuid.UUID) (bool, error) {
	r, err := s.repo.GetByID(ctx, rentalID)
	if err != nil {
		return false, err
	}
	if !r.Due(s.now()) {
		return false, nil
	}

	err = s.callProvider(ctx, "cancel", func(ctx context.Context) error {
		return s.gateway.Cancel(ctx, r.ActivationID)
	})
	if err != nil {
		if provider.IsRetryable(err) {
			return false, err
		}
		reason, _ := provider.ReasonOf(err)
		log.Warn().Err(err).
			Str("rental_id", r.ID.String()).
			Str("reason", string(reason)).
			Msg("Provider refused cancel on expiry, expiring locally")
	}

	r, changed, err := s.settle(ctx, r, func(r *Rental) error { return r.Expire(s.now()) })
	if err != nil || !changed {
		return false, err
	}

	s.metrics.RentalTransition(string(StatusExpired))
	log.Info().
		Str("rental_id", r.ID.String()).
		Str("activation_id", r.ActivationID).
		Msg("Rental expired")

	s.refundUnused(ctx, r)
	return true, nil
}

// Status returns the rental, first syncing it with the provider while it is
// still active. A provider outage returns the stored state.
func (s *Service) Status(ctx context.Context, accountID, rentalID uuid.UUID) (*Rental, error) {
	r, err := s.owned(ctx, accountID, rentalID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusActive {
		return r, nil
	}

	var st provider.Status
	err = s.callProvider(ctx, "poll_status", func(ctx context.Context) error {
		got, err := s.gateway.PollStatus(ctx, r.ActivationID)
		st = got
		return err
	})
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("rental_id", r.ID.String()).Msg("Status poll failed")
		return r, nil
	}

	switch st.Kind {
	case provider.StatusCodeReceived:
		return s.HandleCode(ctx, r.ActivationID, st.Code)
	case provider.StatusCancelled:
		return s.providerCancelled(ctx, r)
	}
	return r, nil
}

// providerCancelled records a cancellation that originated upstream.
func (s *Service) providerCancelled(ctx context.Context, r *Rental) (*Rental, error) {
	r, changed, err := s.settle(ctx, r, func(r *Rental) error { return r.Cancel(ReasonProviderCancelled, s.now()) })
	if err != nil || !changed {
		return r, err
	}
	s.metrics.RentalTransition(string(StatusCancelled))
	log.Info().Str("rental_id", r.ID.String()).Msg("Rental cancelled by provider")
	s.refundUnused(ctx, r)
	return r, nil
}

// settle applies a terminal transition once the provider side is already
// gone. Version conflicts re-read and reapply until the rental is terminal;
// changed is false when another writer ended it first.
func (s *Service) settle(ctx context.Context, r *Rental, apply func(*Rental) error) (*Rental, bool, error) {
	for attempt := 0; attempt < conflictRetries; attempt++ {
		if r.Status.Terminal() {
			return r, false, nil
		}
		if err := apply(r); err != nil {
			return nil, false, err
		}
		err := s.repo.Update(ctx, r)
		if err == nil {
			return r, true, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) {
			return nil, false, err
		}
		if r, err = s.repo.GetByID(ctx, r.ID); err != nil {
			return nil, false, err
		}
	}
	return nil, false, ErrConcurrencyConflict
}

// ProviderCallback applies an inbound provider notification. The status
// decides what happens; a code only counts on code_received, or on a bare
// code push without a status.
func (s *Service) ProviderCallback(ctx context.Context, cb Callback) (*Rental, error) {
	if cb.Status == provider.StatusCodeReceived || (cb.Status == "" && cb.Code != "") {
		return s.HandleCode(ctx, cb.ActivationID, cb.Code)
	}

	r, err := s.repo.GetByActivation(ctx, cb.ActivationID)
	if err != nil {
		return nil, err
	}
	if cb.Status == provider.StatusCancelled && r.Status == StatusActive {
		return s.providerCancelled(ctx, r)
	}
	return r, nil
}

func (s *Service) List(ctx context.Context, accountID uuid.UUID, filter ListFilter) (*Page, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageLimit
	}
	if filter.Limit > maxPageLimit {
		filter.Limit = maxPageLimit
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidFilter
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, ErrInvalidFilter
	}
	filter.ServiceCode = strings.ToLower(strings.TrimSpace(filter.ServiceCode))

	items, total, err := s.repo.List(ctx, accountID, filter)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// ExpireDue runs deadline checks on one page of due rentals after the
// cursor. It stops at the first provider outage; Next then points at the
// last rental handled so the outage row is retried.
func (s *Service) ExpireDue(ctx context.Context, after DueCursor, limit int) (SweepResult, error) {
	res := SweepResult{Next: after}
	due, err := s.repo.ListDue(ctx, s.now(), after, limit)
	if err != nil {
		return res, err
	}
	res.Scanned = len(due)

	for _, r := range due {
		ok, err := s.Expire(ctx, r.ID)
		if err != nil {
			if provider.IsRetryable(err) {
				return res, err
			}
			res.Failed++
			logEvent(log.Error(), r).Err(err).Msg("Expiry check failed")
		} else if ok {
			res.Expired++
		}
		res.Next = DueCursor{DeadlineAt: r.DeadlineAt, ID: r.ID}
	}
	return res, nil
}

func logEvent(e *zerolog.Event, r Rental) *zerolog.Event {
	return e.Str("rental_id", r.ID.String()).Str("activation_id", r.ActivationID)
}
