package chi

import (
	"context"

	"github.com/kailas-cloud/watchledger/internal/domain"
	healthuc "github.com/kailas-cloud/watchledger/internal/usecase/health"
)

// Ledger is the read side of the ledger plus manual removal.
type Ledger interface {
	Stats() domain.Stats
	TrackedIDs() []string
	Entity(id string) (domain.TrackedEntity, bool)
	DailyStats(days int) []domain.DailyStat
	History(limit int) []domain.HistoryEntry
	RemoveEntity(ctx context.Context, id string) (float64, error)
}

// Reconciler runs passes on demand.
type Reconciler interface {
	Reconcile(ctx context.Context) (domain.ReconcileReport, error)
	Track(ctx context.Context, id string) (domain.TrackResult, error)
	SyncWithTracker(ctx context.Context) (domain.Stats, error)
}

// Scheduler exposes the allowed windows and loop control.
type Scheduler interface {
	Start(ctx context.Context) bool
	Stop() bool
	Schedule() domain.ScheduleConfig
	SetScheduleTimes(ctx context.Context, times []string) (domain.ScheduleConfig, error)
	Status() domain.SchedulerStatus
}

// Quota exposes the current budget.
type Quota interface {
	Snapshot() domain.QuotaSnapshot
}

// Health aggregates component checks.
type Health interface {
	Check(ctx context.Context) healthuc.Report
}
