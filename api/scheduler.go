/*
scheduler.go - Automated inventory reconciliation

PURPOSE:
  Periodically compares every product's inventory total with its batch
  balances and adjustment history; the ledger logs each drifted product.
  It never writes:
  a drifted product needs a person to decide which side is wrong.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Keeps the most recent result for GET /api/reconciliation/last
  - Uses bakery.SystemActor, so it is authorized as admin

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (RECONCILE_ENABLED, default false)

USAGE:
  scheduler := NewReconciliationScheduler(ledger, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Reconcile endpoint (manual reconciliation)
  - bakery/reconcile.go: Drift computation
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/bakery-ops/bakery"
	"go.uber.org/zap"
)

// Reconciler is the part of *bakery.Ledger the scheduler needs.
type Reconciler interface {
	Reconcile(ctx context.Context, actor bakery.Actor) (*bakery.Reconciliation, error)
}

// ReconciliationRun is the outcome of one scheduled check.
type ReconciliationRun struct {
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt time.Time              `json:"completedAt"`
	Status      string                 `json:"status"` // completed | failed
	Error       string                 `json:"error,omitempty"`
	Result      *bakery.Reconciliation `json:"result,omitempty"`
}

// ReconciliationScheduler runs drift reconciliation on an interval.
type ReconciliationScheduler struct {
	Reconciler    Reconciler
	CheckInterval time.Duration
	Enabled       bool
	Timeout       time.Duration // per run; zero means CheckInterval
	Now           func() time.Time

	log *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.RWMutex
	last   *ReconciliationRun
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(r Reconciler, log *zap.Logger) *ReconciliationScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconciliationScheduler{
		Reconciler:    r,
		CheckInterval: time.Hour,
		Enabled:       true,
		Now:           time.Now,
		log:           log.Named("scheduler"),
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.log.Info("reconciliation scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.log.Info("reconciliation scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight run.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.log.Info("reconciliation scheduler stopped")
}

func (rs *ReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	rs.check(ctx)

	for {
		select {
		case <-ticker.C:
			rs.check(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow runs one check synchronously and returns its record.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) ReconciliationRun {
	return rs.check(ctx)
}

// LastRun returns the most recent run, if any.
func (rs *ReconciliationScheduler) LastRun() (ReconciliationRun, bool) {
	rs.lastMu.RLock()
	defer rs.lastMu.RUnlock()
	if rs.last == nil {
		return ReconciliationRun{}, false
	}
	return *rs.last, true
}

func (rs *ReconciliationScheduler) check(ctx context.Context) ReconciliationRun {
	timeout := rs.Timeout
	if timeout <= 0 {
		timeout = rs.CheckInterval
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	run := ReconciliationRun{StartedAt: rs.Now()}
	result, err := rs.Reconciler.Reconcile(ctx, bakery.SystemActor)
	run.CompletedAt = rs.Now()

	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		rs.log.Error("reconciliation failed", zap.Error(err))
	} else {
		run.Status = "completed"
		run.Result = result
		rs.log.Info("reconciliation completed",
			zap.Int("products", len(result.Rows)),
			zap.Int("drifted", result.Drifted),
			zap.Duration("took", run.CompletedAt.Sub(run.StartedAt)),
		)
	}

	rs.lastMu.Lock()
	rs.last = &run
	rs.lastMu.Unlock()
	return run
}
