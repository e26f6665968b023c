/*
scheduler.go - Automated expiration scheduler

PURPOSE:
  Periodically checks whether the previous quarter's expiration cycle has
  been settled and, if not, runs it. Balances earned in Q(n) are forfeited
  once Q(n+1) begins, without an operator having to call the admin
  endpoint.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Only the quarter that has already ENDED is ever settled; the current
    quarter stays live until its boundary passes
  - Skips cycles a completed run already covers (crash-safe: the Expire
    entries' idempotency keys make a partial re-run settle only the
    remainder)
  - Records every run in expiration_runs for audit and UI display

USAGE:
  scheduler := NewExpirationScheduler(store, handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunExpiration endpoint (manual trigger)
  - ledger/expiration.go: ExpirationProcessor
*/
package api

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/store/sqlite"
)

// ExpirationScheduler settles ended quarters automatically.
type ExpirationScheduler struct {
	Store         *sqlite.Store
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpirationScheduler creates a new scheduler.
func NewExpirationScheduler(store *sqlite.Store, handler *Handler) *ExpirationScheduler {
	return &ExpirationScheduler{
		Store:         store,
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (es *ExpirationScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.wg.Add(1)

	go es.run()

	log.Printf("[Scheduler] Started with check interval: %v", es.CheckInterval)
}

// Stop stops the scheduler.
func (es *ExpirationScheduler) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		es.ticker.Stop()
		close(es.stop)
		es.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (es *ExpirationScheduler) run() {
	defer es.wg.Done()

	// Run immediately on start
	es.checkAndProcess()

	for {
		select {
		case <-es.ticker.C:
			es.checkAndProcess()
		case <-es.stop:
			return
		}
	}
}

func (es *ExpirationScheduler) checkAndProcess() {
	ctx := context.Background()
	now := time.Now().UTC()

	// The quarter before the one containing 'now' has ended and is the
	// candidate for settlement.
	cycle := ledger.CycleFor(now).Previous()

	done, err := es.Store.IsCycleComplete(ctx, cycle.Label())
	if err != nil {
		log.Printf("[Scheduler] Error checking cycle %s: %v", cycle.Label(), err)
		return
	}
	if done {
		return
	}

	log.Printf("[Scheduler] Settling expiration cycle %s", cycle.Label())
	if err := es.processCycle(ctx, cycle); err != nil {
		log.Printf("[Scheduler] Error settling cycle %s: %v", cycle.Label(), err)
	}
}

func (es *ExpirationScheduler) processCycle(ctx context.Context, cycle ledger.Cycle) error {
	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	startTime := time.Now().UTC()

	run := sqlite.ExpirationRun{
		ID:         runID,
		CycleLabel: cycle.Label(),
		AsOf:       cycle.End,
		Status:     "running",
		StartedAt:  &startTime,
	}
	if err := es.Store.SaveExpirationRun(ctx, run); err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}

	// cycle.End sits inside the cycle, so the processor settles the
	// ended quarter, not the current one.
	summary, err := es.Handler.Expiration.RunExpirationCycle(ctx, cycle.End)
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		es.Store.SaveExpirationRun(ctx, run)
		return err
	}

	completedTime := time.Now().UTC()
	run.Status = "completed"
	run.ExpiredAccounts = summary.ExpiredAccounts
	run.ExpiredTotal = summary.ExpiredTotal.String()
	run.CompaniesReset = summary.CompaniesReset
	run.CompletedAt = &completedTime
	if err := es.Store.SaveExpirationRun(ctx, run); err != nil {
		return fmt.Errorf("failed to update run record: %w", err)
	}

	total, _ := summary.ExpiredTotal.Value.Float64()
	es.Handler.Metrics.CycleSettled(summary.ExpiredAccounts, total)

	log.Printf("[Scheduler] Settled %s: %d accounts expired, %s points forfeited, %d companies reset",
		cycle.Label(), summary.ExpiredAccounts, summary.ExpiredTotal.String(), summary.CompaniesReset)
	return nil
}

// RunNow triggers an immediate check (for testing/admin).
func (es *ExpirationScheduler) RunNow() {
	es.checkAndProcess()
}

// NextRunTime returns when the next scheduled check will occur.
func (es *ExpirationScheduler) NextRunTime() time.Time {
	return time.Now().Add(es.CheckInterval)
}
