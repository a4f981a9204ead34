package quota

import (
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/kailas-cloud/watchledger/internal/domain"
	"github.com/kailas-cloud/watchledger/internal/metrics"
)

// Config holds the budget policy.
type Config struct {
	Limit          int64
	Period         time.Duration
	RefuseAbovePct float64
}

// Budget tracks consumed units of a periodically resetting call allowance.
// All reads and writes go through one mutex, so a reconciliation pass can
// read-then-record without interleaving with another caller.
type Budget struct {
	mu          sync.Mutex
	used        int64
	limit       int64
	period      time.Duration
	refuseAbove float64
	resetAt     time.Time
	clock       quartz.Clock
	logger      *zap.Logger
}

// NewBudget creates a budget whose first period starts now.
func NewBudget(cfg Config, clock quartz.Clock, logger *zap.Logger) *Budget {
	if cfg.Period <= 0 {
		cfg.Period = domain.DefaultQuotaPeriod
	}
	if cfg.RefuseAbovePct <= 0 {
		cfg.RefuseAbovePct = domain.DefaultRefuseAbovePct
	}
	b := &Budget{
		limit:       cfg.Limit,
		period:      cfg.Period,
		refuseAbove: cfg.RefuseAbovePct,
		resetAt:     clock.Now().UTC().Add(cfg.Period),
		clock:       clock,
		logger:      logger,
	}
	b.publish()
	return b
}

// Restore loads persisted usage. The configured limit wins over the stored one;
// a zero ResetAt keeps the current period boundary.
func (b *Budget) Restore(s domain.QuotaSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.used = max(s.Used, 0)
	if b.limit > 0 && b.used > b.limit {
		b.used = b.limit
	}
	if !s.ResetAt.IsZero() {
		b.resetAt = s.ResetAt.UTC()
	}
	b.resetIfDueLocked(b.clock.Now())
	b.publish()

	b.logger.Info("Quota restored",
		zap.Int64("used", b.used),
		zap.Int64("limit", b.limit),
		zap.Time("reset_at", b.resetAt),
	)
}

// RecordUsage adds cost to the current period. Usage is clamped at the limit.
func (b *Budget) RecordUsage(cost int64) {
	if cost <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetIfDueLocked(b.clock.Now())
	b.used += cost
	if b.limit > 0 && b.used > b.limit {
		b.logger.Warn("Quota usage clamped at limit",
			zap.Int64("attempted", b.used),
			zap.Int64("limit", b.limit),
		)
		b.used = b.limit
	}
	b.publish()
}

// PercentageUsed returns used/limit in percent.
func (b *Budget) PercentageUsed() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked().PercentageUsed()
}

// ResetIfDue zeroes usage when now has reached the reset boundary and moves
// the boundary forward by whole periods. Reports whether a reset happened.
func (b *Budget) ResetIfDue(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	reset := b.resetIfDueLocked(now)
	if reset {
		b.publish()
	}
	return reset
}

// CanAfford reports whether a call of the given cost is allowed: the budget
// must be at or below the refusal threshold and the cost must fit.
func (b *Budget) CanAfford(cost int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetIfDueLocked(b.clock.Now())
	if b.refusingLocked() {
		return false
	}
	if b.limit <= 0 {
		return true
	}
	return b.used+cost <= b.limit
}

// Refusing reports whether usage is above the refusal threshold. New
// reconciliation attempts are refused while this holds, even when the next
// call would fit, to leave headroom for other consumers of the budget.
func (b *Budget) Refusing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetIfDueLocked(b.clock.Now())
	return b.refusingLocked()
}

// Snapshot returns the current state.
func (b *Budget) Snapshot() domain.QuotaSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Budget) snapshotLocked() domain.QuotaSnapshot {
	return domain.QuotaSnapshot{Used: b.used, Limit: b.limit, ResetAt: b.resetAt}
}

func (b *Budget) refusingLocked() bool {
	return b.snapshotLocked().PercentageUsed() > b.refuseAbove
}

func (b *Budget) resetIfDueLocked(now time.Time) bool {
	if now.Before(b.resetAt) {
		return false
	}
	for !now.Before(b.resetAt) {
		b.resetAt = b.resetAt.Add(b.period)
	}
	b.logger.Info("Quota period reset",
		zap.Int64("used_before", b.used),
		zap.Time("next_reset_at", b.resetAt),
	)
	b.used = 0
	return true
}

func (b *Budget) publish() {
	metrics.QuotaUsed.Set(float64(b.used))
	metrics.QuotaLimit.Set(float64(b.limit))
}
