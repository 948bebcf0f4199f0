/*
scheduler.go - Periodic reconciliation

PURPOSE:
  Runs Reconciler.Run in the background so drift introduced outside the
  ledger primitives (manual SQL, imports) is found without anyone asking.
  Every pass is persisted as a ReconciliationRun and shown by
  GET /api/reconciliation/runs.

DESIGN:
  - One goroutine, a ticker, and a stop channel
  - Runs once immediately on Start
  - AutoRepair=false only reports drift; true also repairs it as the
    "system" actor
  - A pass never overlaps the previous one

CONFIGURATION:
  - CheckInterval: RECONCILE_INTERVAL (default 1 hour, 0 disables)
  - AutoRepair:    RECONCILE_AUTO_REPAIR

USAGE:
  scheduler := NewReconciliationScheduler(reconciler, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/reconcile.go: Check / Repair / Run
  - cmd/reconcile: on-demand runs
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/backoffice/ledger"
)

// ReconciliationScheduler runs reconciliation on a fixed interval.
type ReconciliationScheduler struct {
	Reconciler    *ledger.Reconciler
	CheckInterval time.Duration
	AutoRepair    bool
	Enabled       bool
	// PassTimeout bounds one pass. Default 5 minutes.
	PassTimeout time.Duration

	logger  logrus.FieldLogger
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	passMu  sync.Mutex
	lastMu  sync.Mutex
	lastRun *ledger.ReconciliationRun
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(r *ledger.Reconciler, logger logrus.FieldLogger) *ReconciliationScheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ReconciliationScheduler{
		Reconciler:    r,
		CheckInterval: time.Hour,
		Enabled:       true,
		PassTimeout:   5 * time.Minute,
		logger:        logger.WithField("module", "scheduler"),
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.logger.Info("reconciliation scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)
	go rs.run(rs.ticker, rs.stop)

	rs.logger.WithFields(logrus.Fields{"interval": rs.CheckInterval.String(), "auto_repair": rs.AutoRepair}).
		Info("reconciliation scheduler started")
}

// Stop stops the scheduler and waits for a pass in flight.
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
	rs.logger.Info("reconciliation scheduler stopped")
}

func (rs *ReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	rs.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			rs.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one pass synchronously and returns its run record.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) (*ledger.ReconciliationRun, error) {
	rs.passMu.Lock()
	defer rs.passMu.Unlock()

	if rs.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.PassTimeout)
		defer cancel()
	}

	run, _, err := rs.Reconciler.Run(ctx, rs.AutoRepair, ledger.Actor{})
	if err != nil {
		rs.logger.WithError(err).Error("reconciliation pass failed")
	}
	if run != nil {
		rs.lastMu.Lock()
		rs.lastRun = run
		rs.lastMu.Unlock()
	}
	return run, err
}

// LastRun returns the most recent pass, nil before the first one.
func (rs *ReconciliationScheduler) LastRun() *ledger.ReconciliationRun {
	rs.lastMu.Lock()
	defer rs.lastMu.Unlock()
	return rs.lastRun
}
