package ledger

import (
	"time"

	"github.com/kailas-cloud/watchledger/internal/domain"
)

// JSON field names of the ledger document. The migrator edits raw documents
// with these names, so they are part of the on-disk format.
const (
	FieldSchemaVersion        = "schema_version"
	FieldTotalEntities        = "total_entities"
	FieldTotalDurationMinutes = "total_duration_minutes"
	FieldTrackedEntities      = "tracked_entities"
	FieldDailyRollup          = "daily_rollup"
	FieldMonthlyRollup        = "monthly_rollup"
	FieldHistory              = "history"
	FieldQuota                = "quota"
	FieldLastCheck            = "last_check"
)

type ledgerDoc struct {
	SchemaVersion        int                   `json:"schema_version"`
	TotalEntities        int                   `json:"total_entities"`
	TotalDurationMinutes float64               `json:"total_duration_minutes"`
	TrackedEntities      map[string]entityDoc  `json:"tracked_entities"`
	DailyRollup          map[string]dailyDoc   `json:"daily_rollup"`
	MonthlyRollup        map[string]monthlyDoc `json:"monthly_rollup"`
	History              []historyDoc          `json:"history"`
	Quota                QuotaDoc              `json:"quota"`
	LastCheck            time.Time             `json:"last_check"`
}

type entityDoc struct {
	Title           string    `json:"title"`
	DurationMinutes float64   `json:"duration_minutes"`
	AddedAt         time.Time `json:"added_at"`
}

type dailyDoc struct {
	Added        int     `json:"added"`
	WatchMinutes float64 `json:"watch_minutes"`
}

type monthlyDoc struct {
	Count        int     `json:"count"`
	WatchMinutes float64 `json:"watch_minutes"`
}

type historyDoc struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	WatchMinutes float64   `json:"watch_minutes"`
	AddedAt      time.Time `json:"added_at"`
}

// QuotaDoc is the persisted quota snapshot. Exported for the migrator.
type QuotaDoc struct {
	Used    int64     `json:"used"`
	Limit   int64     `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

func toDoc(s domain.LedgerState) ledgerDoc {
	doc := ledgerDoc{
		SchemaVersion:        s.SchemaVersion,
		TotalEntities:        s.TotalEntities,
		TotalDurationMinutes: s.TotalDurationMinutes,
		TrackedEntities:      make(map[string]entityDoc, len(s.TrackedEntities)),
		DailyRollup:          make(map[string]dailyDoc, len(s.DailyRollup)),
		MonthlyRollup:        make(map[string]monthlyDoc, len(s.MonthlyRollup)),
		History:              make([]historyDoc, len(s.History)),
		Quota:                QuotaDoc{Used: s.Quota.Used, Limit: s.Quota.Limit, ResetAt: s.Quota.ResetAt},
		LastCheck:            s.LastCheck,
	}
	for id, e := range s.TrackedEntities {
		doc.TrackedEntities[id] = entityDoc{Title: e.Title, DurationMinutes: e.DurationMinutes, AddedAt: e.AddedAt}
	}
	for k, v := range s.DailyRollup {
		doc.DailyRollup[k] = dailyDoc{Added: v.Added, WatchMinutes: v.WatchMinutes}
	}
	for k, v := range s.MonthlyRollup {
		doc.MonthlyRollup[k] = monthlyDoc{Count: v.Count, WatchMinutes: v.WatchMinutes}
	}
	for i, h := range s.History {
		doc.History[i] = historyDoc{ID: h.ID, Title: h.Title, WatchMinutes: h.WatchMinutes, AddedAt: h.AddedAt}
	}
	return doc
}

func fromDoc(doc ledgerDoc) domain.LedgerState {
	s := domain.NewLedgerState(doc.SchemaVersion)
	s.TotalEntities = doc.TotalEntities
	s.TotalDurationMinutes = doc.TotalDurationMinutes
	s.Quota = domain.QuotaSnapshot{Used: doc.Quota.Used, Limit: doc.Quota.Limit, ResetAt: doc.Quota.ResetAt}
	s.LastCheck = doc.LastCheck
	for id, e := range doc.TrackedEntities {
		s.TrackedEntities[id] = domain.TrackedEntity{
			ID:              id,
			Title:           e.Title,
			DurationMinutes: e.DurationMinutes,
			AddedAt:         e.AddedAt,
		}
	}
	for k, v := range doc.DailyRollup {
		s.DailyRollup[k] = domain.DailyRollup{Added: v.Added, WatchMinutes: v.WatchMinutes}
	}
	for k, v := range doc.MonthlyRollup {
		s.MonthlyRollup[k] = domain.MonthlyRollup{Count: v.Count, WatchMinutes: v.WatchMinutes}
	}
	for _, h := range doc.History {
		s.History = append(s.History, domain.HistoryEntry{
			ID:           h.ID,
			Title:        h.Title,
			WatchMinutes: h.WatchMinutes,
			AddedAt:      h.AddedAt,
		})
	}
	return s
}
