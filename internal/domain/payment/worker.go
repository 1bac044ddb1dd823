package payment

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smsbra/otp-api/internal/pkg/lock"
)

const (
	expiryLockName = "payment-expiry"
	expiryBatch    = 500
)

// Expirer cancels stale pending purchases.
type Expirer interface {
	ExpireStale(ctx context.Context, maxAge time.Duration, limit int) (int, error)
}

// Worker cancels purchases whose checkout was abandoned, so pending rows do
// not pile up and late callbacks are reported as closed.
type Worker struct {
	expirer  Expirer
	locker   *lock.Locker
	maxAge   time.Duration
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewWorker(expirer Expirer, locker *lock.Locker, maxAge, interval time.Duration) *Worker {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if locker == nil {
		locker = lock.NewLocker(nil, "")
	}
	return &Worker{
		expirer:  expirer,
		locker:   locker,
		maxAge:   maxAge,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background worker
func (w *Worker) Start() {
	log.Info().Dur("max_age", w.maxAge).Msg("Starting payment expiry worker...")
	w.wg.Add(1)
	go w.loop()
}

// Stop gracefully stops the background worker
func (w *Worker) Stop() {
	log.Info().Msg("Stopping payment expiry worker...")
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Worker) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	w.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			w.RunOnce(context.Background())
		case <-w.stopCh:
			return
		}
	}
}

// RunOnce expires one batch under the replica lease and returns how many
// purchases were expired.
func (w *Worker) RunOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	lease, err := w.locker.TryAcquire(ctx, expiryLockName, w.interval)
	if err != nil {
		log.Warn().Err(err).Msg("Payment expiry lease unavailable")
		return 0
	}
	if lease == nil {
		return 0
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Payment expiry lease release failed")
		}
	}()

	n, err := w.expirer.ExpireStale(ctx, w.maxAge, expiryBatch)
	if err != nil {
		log.Error().Err(err).Msg("Failed to expire pending purchases")
		return n
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("Expired pending purchases")
	}
	return n
}
