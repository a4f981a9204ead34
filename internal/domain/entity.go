package domain

import (
	"fmt"
	"strings"
	"time"
)

// TrackedEntity is one item consumed from the external source and owned by the ledger.
type TrackedEntity struct {
	ID              string
	Title           string
	DurationMinutes float64
	AddedAt         time.Time
}

// NewTrackedEntity validates and builds an entity. Minutes are rounded to two decimals.
func NewTrackedEntity(id, title string, minutes float64, addedAt time.Time) (TrackedEntity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return TrackedEntity{}, fmt.Errorf("%w: id is required", ErrInvalidEntity)
	}
	if minutes < 0 {
		return TrackedEntity{}, fmt.Errorf("%w: negative duration %.2f for %s", ErrInvalidEntity, minutes, id)
	}
	if title == "" {
		title = "Untitled"
	}
	return TrackedEntity{
		ID:              id,
		Title:           title,
		DurationMinutes: RoundMinutes(minutes),
		AddedAt:         addedAt,
	}, nil
}

// HistoryEntry records one add_entity event. History is kept newest-first.
type HistoryEntry struct {
	ID           string
	Title        string
	WatchMinutes float64
	AddedAt      time.Time
}

// DailyRollup aggregates entities added on one calendar day.
type DailyRollup struct {
	Added        int
	WatchMinutes float64
}

// MonthlyRollup aggregates entities added in one calendar month.
type MonthlyRollup struct {
	Count        int
	WatchMinutes float64
}

// DailyStat is one zero-filled row of the per-day report.
type DailyStat struct {
	Date         string
	Added        int
	WatchMinutes float64
}
