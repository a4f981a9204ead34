package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/kailas-cloud/watchledger/internal/domain"
	"github.com/kailas-cloud/watchledger/internal/logger"
	"github.com/kailas-cloud/watchledger/internal/metrics"
)

// Config sets the quota cost charged per source call.
type Config struct {
	ListCost  int64
	FetchCost int64
}

// Engine runs reconciliation passes and the discover-new path. Passes are
// serialized; the scheduler and manual triggers share one engine.
type Engine struct {
	passMu sync.Mutex
	ledger Ledger
	budget Budget
	source Source
	cfg    Config
	clock  quartz.Clock
	logger *zap.Logger
}

// New creates an engine.
func New(ledger Ledger, budget Budget, source Source, cfg Config, clock quartz.Clock, logger *zap.Logger) *Engine {
	if cfg.ListCost <= 0 {
		cfg.ListCost = 1
	}
	if cfg.FetchCost <= 0 {
		cfg.FetchCost = 1
	}
	return &Engine{ledger: ledger, budget: budget, source: source, cfg: cfg, clock: clock, logger: logger}
}

// Reconcile runs one pass: precondition, fetch, apply. The returned report
// is populated for every outcome. Whatever the outcome, the ledger is made
// to re-derive its totals and persist before Reconcile returns.
func (e *Engine) Reconcile(ctx context.Context) (report domain.ReconcileReport, err error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	ctx, log, passID := logger.WithPassID(ctx, e.logger)
	start := e.clock.Now()
	report = domain.ReconcileReport{ID: passID, Status: domain.ReportOK, Timestamp: start.UTC()}

	defer func() {
		e.ledger.UpdateQuota(e.budget.Snapshot())
		if rerr := e.ledger.Reassert(context.WithoutCancel(ctx)); rerr != nil {
			log.Error("Ledger reassertion failed", zap.Error(rerr))
			if err == nil {
				report.Status = domain.ReportFailed
				report.Error = rerr.Error()
				err = rerr
			}
		}
		report.Quota = e.budget.Snapshot()

		metrics.ReconcilePassesTotal.WithLabelValues(string(report.Status)).Inc()
		metrics.ReconcilePassDuration.Observe(e.clock.Since(start).Seconds())
		log.Info("Reconciliation finished",
			zap.String("status", string(report.Status)),
			zap.Int("removed", report.RemovedCount),
			zap.Float64("time_saved_minutes", report.Changes.TimeSaved),
			zap.Int("attempts", report.Attempts),
			zap.Float64("quota_pct", report.Quota.PercentageUsed()),
		)
	}()

	// Precondition.
	if !e.source.Ready() {
		return fail(report, domain.ReportNotInitialized, domain.ErrNotInitialized)
	}
	e.budget.ResetIfDue(e.clock.Now())
	if !e.budget.CanAfford(e.cfg.ListCost) {
		q := e.budget.Snapshot()
		return fail(report, domain.ReportQuotaExceeded,
			fmt.Errorf("%w: %.1f%% of %d used", domain.ErrQuotaExceeded, q.PercentageUsed(), q.Limit))
	}

	// Fetch.
	listing, ferr := e.source.ListCurrentIDs(ctx)
	e.budget.RecordUsage(listing.Cost)
	report.Attempts = listing.Attempts
	if ferr != nil {
		status := domain.ReportTransportError
		if errors.Is(ferr, domain.ErrNotInitialized) {
			status = domain.ReportNotInitialized
		}
		return fail(report, status, ferr)
	}

	// Apply.
	res, serr := e.ledger.Sync(ctx, listing.IDSet())

	report.Before, report.After = res.Before, res.After
	report.RemovedCount = res.Removed
	report.Changes = domain.Changes{
		VideosRemoved: res.Removed,
		TimeSaved:     res.TimeSaved,
	}
	metrics.ReconcileRemovedTotal.Add(float64(report.RemovedCount))

	if serr != nil {
		return fail(report, domain.ReportFailed, serr)
	}
	return report, nil
}

func fail(r domain.ReconcileReport, status domain.ReportStatus, err error) (domain.ReconcileReport, error) {
	r.Status = status
	r.Error = err.Error()
	return r, err
}

// Track fetches one entity from the source and adds it to the ledger.
func (e *Engine) Track(ctx context.Context, id string) (domain.TrackResult, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	log := logger.FromContext(ctx)
	if !e.source.Ready() {
		return domain.TrackResult{}, domain.ErrNotInitialized
	}
	e.budget.ResetIfDue(e.clock.Now())
	if !e.budget.CanAfford(e.cfg.FetchCost) {
		return domain.TrackResult{Quota: e.budget.Snapshot()}, domain.ErrQuotaExceeded
	}

	src, err := e.source.FetchEntity(ctx, id)
	e.budget.RecordUsage(src.Cost)
	e.ledger.UpdateQuota(e.budget.Snapshot())
	res := domain.TrackResult{Quota: e.budget.Snapshot(), Attempts: src.Attempts}
	if err != nil {
		return res, err
	}

	minutes, err := domain.ParseISODuration(src.Duration)
	if err != nil {
		return res, err
	}
	entity, err := domain.NewTrackedEntity(id, src.Title, minutes, e.clock.Now().UTC())
	if err != nil {
		return res, err
	}
	if err := e.ledger.AddEntity(ctx, entity); err != nil {
		return res, err
	}

	res.Entity = entity
	log.Info("Entity tracked",
		zap.String("id", id),
		zap.Float64("duration_minutes", entity.DurationMinutes),
		zap.Int("attempts", src.Attempts),
	)
	return res, nil
}

// SyncWithTracker resets the quota if its period elapsed, copies it into the
// ledger and makes the ledger re-derive and persist its totals.
func (e *Engine) SyncWithTracker(ctx context.Context) (domain.Stats, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	e.budget.ResetIfDue(e.clock.Now())
	e.ledger.UpdateQuota(e.budget.Snapshot())
	if err := e.ledger.Reassert(ctx); err != nil {
		return e.ledger.Stats(), err
	}
	return e.ledger.Stats(), nil
}
