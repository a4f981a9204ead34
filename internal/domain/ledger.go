package domain

import (
	"maps"
	"slices"
	"time"
)

// LedgerState is the full durable ledger document.
type LedgerState struct {
	SchemaVersion        int
	TotalEntities        int
	TotalDurationMinutes float64
	TrackedEntities      map[string]TrackedEntity
	DailyRollup          map[string]DailyRollup
	MonthlyRollup        map[string]MonthlyRollup
	History              []HistoryEntry
	Quota                QuotaSnapshot
	LastCheck            time.Time
}

// NewLedgerState returns an empty ledger at the given schema version.
func NewLedgerState(schemaVersion int) LedgerState {
	return LedgerState{
		SchemaVersion:   schemaVersion,
		TrackedEntities: make(map[string]TrackedEntity),
		DailyRollup:     make(map[string]DailyRollup),
		MonthlyRollup:   make(map[string]MonthlyRollup),
		History:         []HistoryEntry{},
	}
}

// Normalize replaces nil collections with empty ones.
func (s *LedgerState) Normalize() {
	if s.TrackedEntities == nil {
		s.TrackedEntities = make(map[string]TrackedEntity)
	}
	if s.DailyRollup == nil {
		s.DailyRollup = make(map[string]DailyRollup)
	}
	if s.MonthlyRollup == nil {
		s.MonthlyRollup = make(map[string]MonthlyRollup)
	}
	if s.History == nil {
		s.History = []HistoryEntry{}
	}
}

// Recompute derives the totals from TrackedEntities. Totals are never
// maintained incrementally.
func (s *LedgerState) Recompute() {
	ids := slices.Sorted(maps.Keys(s.TrackedEntities))
	durations := make([]float64, len(ids))
	for i, id := range ids {
		durations[i] = s.TrackedEntities[id].DurationMinutes
	}
	s.TotalEntities = len(ids)
	s.TotalDurationMinutes = SumMinutes(durations...)
}

// Consistent reports whether the stored totals match the tracked entities.
func (s LedgerState) Consistent() bool {
	c := s.Clone()
	c.Recompute()
	return c.TotalEntities == s.TotalEntities && c.TotalDurationMinutes == s.TotalDurationMinutes
}

// Clone returns a deep copy.
func (s LedgerState) Clone() LedgerState {
	out := s
	out.TrackedEntities = maps.Clone(s.TrackedEntities)
	out.DailyRollup = maps.Clone(s.DailyRollup)
	out.MonthlyRollup = maps.Clone(s.MonthlyRollup)
	out.History = slices.Clone(s.History)
	out.Normalize()
	return out
}
