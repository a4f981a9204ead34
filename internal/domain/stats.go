package domain

import "time"

// Stats is a read-only snapshot of ledger aggregates.
type Stats struct {
	TotalEntities        int
	TotalDurationMinutes float64
	Today                string
	TodayRollup          DailyRollup
	Month                string
	MonthRollup          MonthlyRollup
	Quota                QuotaSnapshot
	LastCheck            time.Time
}

// Totals is the before/after pair recorded in a reconciliation report.
type Totals struct {
	Count           int
	DurationMinutes float64
}

// SyncResult describes one ledger sync. Before and After are read under
// the same lock as the removal.
type SyncResult struct {
	Before    Totals
	After     Totals
	Removed   int
	TimeSaved float64
}

// Totals extracts the count and duration from a snapshot.
func (s Stats) Totals() Totals {
	return Totals{Count: s.TotalEntities, DurationMinutes: s.TotalDurationMinutes}
}
