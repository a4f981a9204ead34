package reconcile

import (
	"context"
	"time"

	"github.com/kailas-cloud/watchledger/internal/domain"
)

// Ledger is the subset of the ledger the engine drives (ISP).
type Ledger interface {
	Stats() domain.Stats
	Sync(ctx context.Context, currentIDs map[string]struct{}) (domain.SyncResult, error)
	AddEntity(ctx context.Context, e domain.TrackedEntity) error
	UpdateQuota(q domain.QuotaSnapshot)
	Reassert(ctx context.Context) error
}

// Budget gates calls to the external source.
type Budget interface {
	CanAfford(cost int64) bool
	RecordUsage(cost int64)
	ResetIfDue(now time.Time) bool
	Snapshot() domain.QuotaSnapshot
}

// Source is the collaborator boundary.
type Source interface {
	Ready() bool
	ListCurrentIDs(ctx context.Context) (domain.SourceListing, error)
	FetchEntity(ctx context.Context, id string) (domain.SourceEntity, error)
}
