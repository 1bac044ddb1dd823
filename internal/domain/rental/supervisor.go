package rental

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/smsbra/otp-api/internal/pkg/lock"
	"github.com/smsbra/otp-api/internal/pkg/metrics"
)

const (
	sweepLockName    = "rental-sweep"
	defaultInterval  = 5 * time.Second
	defaultBatchSize = 100
	recoverMaxRounds = 1000
)

// DueCursor is the keyset position of the last due rental a sweep looked at.
// The zero value starts from the oldest deadline.
type DueCursor struct {
	DeadlineAt time.Time
	ID         uuid.UUID
}

// SweepResult reports one page of deadline checks.
type SweepResult struct {
	Scanned int
	Expired int
	Failed  int
	Next    DueCursor
}

// Sweeper is the part of Service the supervisor drives.
type Sweeper interface {
	ExpireDue(ctx context.Context, after DueCursor, limit int) (SweepResult, error)
}

// Supervisor owns rental deadlines. Deadlines live in the database, so a
// restart only needs Recover to catch up on what passed while down.
type Supervisor struct {
	sweeper  Sweeper
	locker   *lock.Locker
	metrics  *metrics.Metrics
	interval time.Duration
	batch    int

	// cursor carries a sweep past rows that keep failing, so a full page of
	// them cannot hide rentals behind it. It resets after a short page.
	mu     sync.Mutex
	cursor DueCursor

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewSupervisor(sweeper Sweeper, locker *lock.Locker, m *metrics.Metrics, interval time.Duration, batch int) *Supervisor {
	if interval <= 0 {
		interval = defaultInterval
	}
	if batch <= 0 {
		batch = defaultBatchSize
	}
	if locker == nil {
		locker = lock.NewLocker(nil, "")
	}
	return &Supervisor{
		sweeper:  sweeper,
		locker:   locker,
		metrics:  m,
		interval: interval,
		batch:    batch,
		stopCh:   make(chan struct{}),
	}
}

// Start runs Recover and then sweeps every interval until Stop.
func (s *Supervisor) Start() {
	log.Info().Dur("interval", s.interval).Int("batch", s.batch).Msg("Starting rental supervisor...")
	s.wg.Add(1)
	go s.loop()
}

// Stop ends the loop and waits for an in-flight sweep.
func (s *Supervisor) Stop() {
	log.Info().Msg("Stopping rental supervisor...")
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Supervisor) loop() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stopCh
		cancel()
	}()

	if n, err := s.Recover(ctx); err != nil {
		log.Error().Err(err).Int("expired", n).Msg("Rental recovery sweep incomplete")
	} else if n > 0 {
		log.Info().Int("expired", n).Msg("Expired rentals overdue since last run")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Warn().Err(err).Msg("Rental sweep failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// Sweep runs one page under the replica lease and returns how many rentals
// expired. It returns 0 without work when another replica holds the lease.
func (s *Supervisor) Sweep(ctx context.Context) (int, error) {
	res, err := s.sweep(ctx)
	return res.Expired, err
}

func (s *Supervisor) sweep(ctx context.Context) (SweepResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.interval*6)
	defer cancel()

	lease, err := s.locker.TryAcquire(ctx, sweepLockName, s.interval*6)
	if err != nil {
		s.metrics.Sweep(0, err)
		return SweepResult{}, err
	}
	if lease == nil {
		log.Debug().Msg("Rental sweep skipped, lease held elsewhere")
		return SweepResult{}, nil
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Rental sweep lease release failed")
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.sweeper.ExpireDue(ctx, s.cursor, s.batch)
	switch {
	case err != nil:
		s.cursor = res.Next
	case res.Scanned < s.batch:
		s.cursor = DueCursor{}
	default:
		s.cursor = res.Next
	}

	s.metrics.Sweep(res.Expired, err)
	if res.Expired > 0 || res.Failed > 0 {
		log.Info().Int("expired", res.Expired).Int("failed", res.Failed).Msg("Rentals expired")
	}
	return res, err
}

// Recover pages through every rental whose deadline already passed before
// normal ticking starts. Paging stops on a short page, not on a short count
// of expiries, so failing rows do not end it early.
func (s *Supervisor) Recover(ctx context.Context) (int, error) {
	s.mu.Lock()
	s.cursor = DueCursor{}
	s.mu.Unlock()

	total := 0
	for round := 0; round < recoverMaxRounds; round++ {
		res, err := s.sweep(ctx)
		total += res.Expired
		if err != nil {
			return total, err
		}
		if res.Scanned < s.batch {
			return total, nil
		}
	}
	return total, nil
}
