/*
scheduler.go - Automated overdue fine refresh

PURPOSE:
  Periodically recomputes the overdue days and fine of every open bill so
  that bill listings show the amount a tenant owes today without waiting
  for a staff edit.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Bills whose fine was set by staff (FineLocked) are left alone by the
    billing engine
  - Failures are logged and retried on the next tick

CONFIGURATION:
  - CheckInterval: How often to refresh (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewFineScheduler(services.Billing, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RefreshFines endpoint (manual refresh)
  - tenancy/billing.go: RefreshFines
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FineRefresher is the billing operation the scheduler drives.
type FineRefresher interface {
	RefreshFines(ctx context.Context) (int, error)
}

// FineScheduler refreshes overdue fines on a ticker.
type FineScheduler struct {
	Billing       FineRefresher
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewFineScheduler creates a new scheduler.
func NewFineScheduler(billing FineRefresher, logger *zap.Logger) *FineScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FineScheduler{
		Billing:       billing,
		Logger:        logger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (fs *FineScheduler) Start() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.Enabled {
		fs.Logger.Info("fine scheduler disabled, not starting")
		return
	}
	if fs.ticker != nil {
		return
	}

	fs.ticker = time.NewTicker(fs.CheckInterval)
	fs.stop = make(chan struct{})
	fs.wg.Add(1)

	go fs.run(fs.ticker, fs.stop)

	fs.Logger.Info("fine scheduler started", zap.Duration("interval", fs.CheckInterval))
}

// Stop stops the scheduler and waits for a running refresh to finish.
func (fs *FineScheduler) Stop() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.ticker != nil {
		fs.ticker.Stop()
		close(fs.stop)
		fs.wg.Wait()
		fs.ticker = nil
		fs.Logger.Info("fine scheduler stopped")
	}
}

func (fs *FineScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer fs.wg.Done()

	// Run immediately on start
	fs.RunNow()

	for {
		select {
		case <-ticker.C:
			fs.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow refreshes fines once and returns how many bills changed.
func (fs *FineScheduler) RunNow() int {
	start := time.Now()
	n, err := fs.Billing.RefreshFines(context.Background())
	if err != nil {
		fs.Logger.Error("fine refresh failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		fs.Logger.Info("fines refreshed",
			zap.Int("bills_updated", n),
			zap.Duration("took", time.Since(start)),
		)
	}
	return n
}

// GetNextRunTime returns when the next scheduled check will occur.
func (fs *FineScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(fs.CheckInterval)
}
