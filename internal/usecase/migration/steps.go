package migration

import (
	"time"

	"github.com/kailas-cloud/watchledger/internal/domain"
)

// Legacy field names written by earlier versions of the ledger.
var legacyRenames = map[string]string{
	"total_videos":     "total_entities",
	"total_watch_time": "total_duration_minutes",
	"videos_by_month":  "monthly_rollup",
	"daily_stats":      "daily_rollup",
	"quota_usage":      "quota",
	"video_history":    "history",
}

// DefaultSteps returns the ledger migrations in version order.
func DefaultSteps(now func() time.Time, quotaLimit int64) []Step {
	return []Step{
		{
			Version:     1,
			Description: "base structure",
			Apply: func(doc Document) (Document, error) {
				renameLegacy(doc)
				setDefault(doc, "total_entities", 0)
				setDefault(doc, "total_duration_minutes", 0)
				setDefault(doc, "daily_rollup", Document{})
				setDefault(doc, "monthly_rollup", Document{})
				setDefault(doc, "last_check", now().UTC().Format(time.RFC3339))
				doc["last_check"] = normalizeTimestamp(doc["last_check"], now)
				normalizeRollups(doc)
				return doc, nil
			},
		},
		{
			Version:     2,
			Description: "quota tracking",
			Apply: func(doc Document) (Document, error) {
				q, ok := doc["quota"].(Document)
				if !ok {
					q = Document{}
				}
				if v, ok := q["reset_date"]; ok {
					q["reset_at"] = v
					delete(q, "reset_date")
				}
				setDefault(q, "used", 0)
				setDefault(q, "limit", quotaLimit)
				setDefault(q, "reset_at", now().UTC().Add(domain.DefaultQuotaPeriod).Format(time.RFC3339))
				doc["quota"] = q
				return doc, nil
			},
		},
		{
			Version:     3,
			Description: "entity history",
			Apply: func(doc Document) (Document, error) {
				if _, ok := doc["history"].([]any); !ok {
					doc["history"] = []any{}
				}
				return doc, nil
			},
		},
		{
			Version:     4,
			Description: "tracked entity map",
			Apply: func(doc Document) (Document, error) {
				if _, ok := doc["tracked_entities"].(Document); !ok {
					doc["tracked_entities"] = Document{}
				}
				return doc, nil
			},
		},
	}
}

// naiveTimestampLayout is the zone-less ISO form older ledgers stored.
const naiveTimestampLayout = "2006-01-02T15:04:05.999999"

// normalizeTimestamp rewrites zone-less timestamps as RFC 3339 UTC.
func normalizeTimestamp(v any, now func() time.Time) string {
	s, _ := v.(string)
	if _, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return s
	}
	if t, err := time.Parse(naiveTimestampLayout, s); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	return now().UTC().Format(time.RFC3339)
}

func setDefault(doc Document, key string, value any) {
	if _, ok := doc[key]; !ok {
		doc[key] = value
	}
}

func renameLegacy(doc Document) {
	for from, to := range legacyRenames {
		v, ok := doc[from]
		if !ok {
			continue
		}
		if _, exists := doc[to]; !exists {
			doc[to] = v
		}
		delete(doc, from)
	}
}

// normalizeRollups maps legacy rollup fields onto the current names.
func normalizeRollups(doc Document) {
	renameIn := func(key string, renames map[string]string) {
		rollups, ok := doc[key].(Document)
		if !ok {
			return
		}
		for _, r := range rollups {
			entry, ok := r.(Document)
			if !ok {
				continue
			}
			for from, to := range renames {
				if v, ok := entry[from]; ok {
					setDefault(entry, to, v)
					delete(entry, from)
				}
			}
		}
	}
	renameIn("daily_rollup", map[string]string{"videos_added": "added", "watch_time": "watch_minutes"})
	renameIn("monthly_rollup", map[string]string{"watch_time": "watch_minutes"})
}
