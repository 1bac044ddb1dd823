package rental

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smsbra/otp-api/internal/domain/catalog"
	"github.com/smsbra/otp-api/internal/domain/ledger"
)

type memRepo struct {
	mu            sync.Mutex
	rentals       map[uuid.UUID]*Rental
	createErrs    []error
	conflictsNext int
	updateErrs    map[uuid.UUID]error
}

func newMemRepo() *memRepo {
	return &memRepo{rentals: make(map[uuid.UUID]*Rental)}
}

func clone(r *Rental) *Rental {
	cp := *r
	cp.Metadata = ledger.Metadata{}
	for k, v := range r.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

func (m *memRepo) Create(_ context.Context, r *Rental) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		return err
	}
	for _, existing := range m.rentals {
		if existing.ActivationID == r.ActivationID {
			return ErrDuplicateActivation
		}
	}
	m.rentals[r.ID] = clone(r)
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Rental, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rentals[id]
	if !ok {
		return nil, ErrRentalNotFound
	}
	return clone(r), nil
}

func (m *memRepo) GetByActivation(_ context.Context, activationID string) (*Rental, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rentals {
		if r.ActivationID == activationID {
			return clone(r), nil
		}
	}
	return nil, ErrRentalNotFound
}

func (m *memRepo) Update(_ context.Context, r *Rental) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rentals[r.ID]
	if !ok {
		return ErrRentalNotFound
	}
	if err, ok := m.updateErrs[r.ID]; ok {
		return err
	}
	if m.conflictsNext > 0 {
		m.conflictsNext--
		return ErrConcurrencyConflict
	}
	if stored.Version != r.Version {
		return ErrConcurrencyConflict
	}
	r.Version++
	m.rentals[r.ID] = clone(r)
	return nil
}

func (m *memRepo) List(_ context.Context, accountID uuid.UUID, f ListFilter) ([]Rental, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Rental, 0)
	for _, r := range m.rentals {
		if r.AccountID != accountID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.ServiceCode != "" && r.ServiceCode != f.ServiceCode {
			continue
		}
		out = append(out, *clone(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return out[start:end], total, nil
}

func (m *memRepo) ListDue(_ context.Context, now time.Time, after DueCursor, limit int) ([]Rental, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Rental, 0)
	for _, r := range m.rentals {
		if r.Due(now) && dueAfter(*r, after) {
			out = append(out, *clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return dueLess(out[i], out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func dueLess(a, b Rental) bool {
	if !a.DeadlineAt.Equal(b.DeadlineAt) {
		return a.DeadlineAt.Before(b.DeadlineAt)
	}
	return a.ID.String() < b.ID.String()
}

func dueAfter(r Rental, c DueCursor) bool {
	return dueLess(Rental{DeadlineAt: c.DeadlineAt, ID: c.ID}, r)
}

// failUpdates makes every update of id fail with err.
func (m *memRepo) failUpdates(id uuid.UUID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErrs == nil {
		m.updateErrs = make(map[uuid.UUID]error)
	}
	m.updateErrs[id] = err
}

// forceStatus bypasses the lifecycle to set up fixtures.
func (m *memRepo) forceStatus(id uuid.UUID, st Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rentals[id].Status = st
	m.rentals[id].Version++
}

type fakeCatalog struct {
	services map[string]*catalog.Service
}

func newFakeCatalog(items ...catalog.Service) *fakeCatalog {
	c := &fakeCatalog{services: make(map[string]*catalog.Service)}
	for i := range items {
		c.services[items[i].Code] = &items[i]
	}
	return c
}

func (c *fakeCatalog) Rentable(_ context.Context, code string) (*catalog.Service, error) {
	s, ok := c.services[code]
	if !ok {
		return nil, catalog.ErrServiceNotFound
	}
	if !s.Active {
		return nil, catalog.ErrServiceInactive
	}
	cp := *s
	return &cp, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
