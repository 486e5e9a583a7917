package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/edgeoffload/dispatch/internal/dispatch"
)

// Report is one ledger health sample.
type Report struct {
	Entries int
	Stale   []string
}

// LedgerReporter periodically publishes the ledger size and warns about
// entries that outlived staleAfter. Entries are expected to be cleared
// within a few hops, so a stale one means a task left the protocol
// without passing through a terminal branch.
type LedgerReporter struct {
	ledger     dispatch.LedgerInspector
	metrics    *dispatch.Metrics
	staleAfter time.Duration
	cron       *cron.Cron
	logger     *slog.Logger
}

// NewLedgerReporter creates a reporter. metrics may be nil.
func NewLedgerReporter(ledger dispatch.LedgerInspector, metrics *dispatch.Metrics, staleAfter time.Duration, logger *slog.Logger) *LedgerReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerReporter{
		ledger:     ledger,
		metrics:    metrics,
		staleAfter: staleAfter,
		cron:       cron.New(),
		logger:     logger.With("component", "ledger_reporter"),
	}
}

// Start schedules Report every interval.
func (r *LedgerReporter) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("report interval must be positive, got %s", interval)
	}
	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() { r.Report() }); err != nil {
		return fmt.Errorf("schedule ledger report: %w", err)
	}
	r.cron.Start()
	r.logger.Info("Ledger reporter started", "interval", interval.String(), "stale_after", r.staleAfter.String())
	return nil
}

// Stop halts the schedule and returns a context done when a running
// report finishes.
func (r *LedgerReporter) Stop() context.Context {
	return r.cron.Stop()
}

// Report takes one sample.
func (r *LedgerReporter) Report() Report {
	rep := Report{
		Entries: r.ledger.Len(),
		Stale:   r.ledger.Stale(r.staleAfter),
	}
	r.metrics.SetLedgerEntries(rep.Entries)

	if len(rep.Stale) > 0 {
		r.logger.Warn("Stale ledger entries",
			"count", len(rep.Stale),
			"task_ids", rep.Stale,
		)
	} else {
		r.logger.Debug("Ledger healthy", "entries", rep.Entries)
	}
	return rep
}
