package domain

import "time"

// QuotaSnapshot is the persisted state of the call budget.
type QuotaSnapshot struct {
	Used    int64
	Limit   int64
	ResetAt time.Time
}

// PercentageUsed returns used/limit in percent. A zero limit means unlimited (0%).
func (q QuotaSnapshot) PercentageUsed() float64 {
	if q.Limit <= 0 {
		return 0
	}
	return float64(q.Used) / float64(q.Limit) * 100
}

// Remaining returns calls left in the period, never negative.
func (q QuotaSnapshot) Remaining() int64 {
	if q.Limit <= 0 {
		return -1 // unlimited
	}
	if r := q.Limit - q.Used; r > 0 {
		return r
	}
	return 0
}
