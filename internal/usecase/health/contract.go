package health

import (
	"context"

	"github.com/kailas-cloud/watchledger/internal/domain"
)

// StoragePinger checks blob store availability.
type StoragePinger interface {
	Ping(ctx context.Context) error
}

// SourceChecker checks external source readiness.
type SourceChecker interface {
	HealthCheck(ctx context.Context) error
}

// SchedulerStatus reports the background loop state.
type SchedulerStatus interface {
	Status() domain.SchedulerStatus
}
