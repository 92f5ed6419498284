/*
scheduler.go - Automated month-end closing

PURPOSE:
  Periodically closes the previous calendar month: every collector without
  a live calculation for that month is run through a batch, and, when
  AutoRemunerate is set, each completed calculation is remunerated.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Skips collectors that already have a calculation for the month
  - Skips calculations that were already remunerated
  - Safe to run on several instances: the store's uniqueness on
    (collector, period) and on remuneration per calculation rejects the
    second attempt

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)
  - AutoRemunerate: Distribute S right after closing (default: false)

USAGE:
  scheduler := NewClosingScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunBatch endpoint (manual closing)
  - commission/batch.go: Batch
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/ledger"
)

// ClosingScheduler handles automated month-end commission runs.
type ClosingScheduler struct {
	Handler        *Handler
	CheckInterval  time.Duration
	Enabled        bool
	AutoRemunerate bool
	Clock          ledger.Clock

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

// ClosingSummary reports one pass of the scheduler.
type ClosingSummary struct {
	Period      commission.Period
	Processed   []string
	Failed      []string
	AlreadyDone []string
	Remunerated []string
}

// NewClosingScheduler creates a new scheduler.
func NewClosingScheduler(h *Handler) *ClosingScheduler {
	return &ClosingScheduler{
		Handler:       h,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Clock:         ledger.SystemClock{},
	}
}

// Start begins the scheduler.
func (cs *ClosingScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	log := cs.Handler.Logger
	if !cs.Enabled {
		log.Info("closing scheduler disabled")
		return
	}
	if cs.ticker != nil {
		return
	}

	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.stop = make(chan struct{})
	cs.wg.Add(1)
	go cs.run()

	log.Info("closing scheduler started", "interval", cs.CheckInterval)
}

// Stop stops the scheduler and waits for a pass in progress.
func (cs *ClosingScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		cs.ticker.Stop()
		close(cs.stop)
		cs.wg.Wait()
		cs.ticker = nil
		cs.Handler.Logger.Info("closing scheduler stopped")
	}
}

func (cs *ClosingScheduler) run() {
	defer cs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-cs.stop
		cancel()
	}()

	// Run immediately on start
	cs.RunNow(ctx)

	for {
		select {
		case <-cs.ticker.C:
			cs.RunNow(ctx)
		case <-cs.stop:
			return
		}
	}
}

// RunNow closes the month before the current one.
func (cs *ClosingScheduler) RunNow(ctx context.Context) ClosingSummary {
	now := cs.Clock.Now()
	period := PreviousMonth(now)
	summary := ClosingSummary{Period: period}
	log := cs.Handler.Logger.With("period", period.String())

	store := cs.Handler.Store
	ids, err := store.CollectorIDs(ctx)
	if err != nil {
		log.Error("closing: list collectors", "error", err)
		return summary
	}

	var pending []string
	for _, id := range ids {
		_, err := store.ActiveCalculation(ctx, id, period)
		switch {
		case err == nil:
			summary.AlreadyDone = append(summary.AlreadyDone, id)
		case errors.Is(err, commission.ErrCalculationNotFound):
			pending = append(pending, id)
		default:
			log.Error("closing: check calculation", "collector_id", id, "error", err)
			summary.Failed = append(summary.Failed, id)
		}
	}

	for _, item := range cs.Handler.Batch.Run(ctx, pending, period, false) {
		if item.Err != nil {
			summary.Failed = append(summary.Failed, item.CollectorID)
			continue
		}
		summary.Processed = append(summary.Processed, item.CollectorID)
	}

	if cs.AutoRemunerate {
		summary.Remunerated = cs.remunerate(ctx, ids, period)
	}

	cs.mu.Lock()
	cs.lastRun = now
	cs.mu.Unlock()

	log.Info("closing pass finished",
		"processed", len(summary.Processed),
		"already_done", len(summary.AlreadyDone),
		"failed", len(summary.Failed),
		"remunerated", len(summary.Remunerated),
	)
	return summary
}

func (cs *ClosingScheduler) remunerate(ctx context.Context, ids []string, period commission.Period) []string {
	var done []string
	for _, id := range ids {
		calc, err := cs.Handler.Store.ActiveCalculation(ctx, id, period)
		if err != nil || calc.Status != commission.StatusCompleted || calc.Remunerated {
			continue
		}
		if _, err := cs.Handler.Processor.RemunerateCalculation(ctx, calc.ID); err != nil {
			cs.Handler.Logger.Error("closing: remunerate", "collector_id", id, "calculation_id", calc.ID, "error", err)
			continue
		}
		done = append(done, id)
	}
	return done
}

// GetNextRunTime returns when the next pass is due.
func (cs *ClosingScheduler) GetNextRunTime() time.Time {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.lastRun.IsZero() {
		return cs.Clock.Now()
	}
	return cs.lastRun.Add(cs.CheckInterval)
}

// PreviousMonth returns the full calendar month before t.
func PreviousMonth(t time.Time) commission.Period {
	t = t.UTC()
	firstOfMonth := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return commission.NewPeriod(firstOfMonth.AddDate(0, -1, 0), firstOfMonth.AddDate(0, 0, -1))
}
