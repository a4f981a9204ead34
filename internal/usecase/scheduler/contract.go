package scheduler

import (
	"context"

	"github.com/kailas-cloud/watchledger/internal/domain"
)

// ScheduleStore persists the allowed windows (ISP).
type ScheduleStore interface {
	Load(ctx context.Context) (domain.ScheduleConfig, error)
	Save(ctx context.Context, cfg domain.ScheduleConfig) error
}

// Action is the work a task performs. A returned error or a panic marks
// the run as failed; the task is retried at the next eligible tick.
type Action func(ctx context.Context) error
