package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/watchledger/internal/db"
	"github.com/kailas-cloud/watchledger/internal/domain"
)

// store is the consumer interface for schedule persistence (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

type scheduleDoc struct {
	AllowedMinutesOfDay []int     `json:"allowed_minutes_of_day"`
	Times               []string  `json:"times"`
	LastUpdated         time.Time `json:"last_updated"`
}

// Repo persists the scheduler's allowed windows separately from the ledger.
type Repo struct {
	store store
	key   string
}

// New creates a schedule repository bound to key.
func New(s store, key string) *Repo {
	return &Repo{store: s, key: key}
}

// Load reads the schedule. Accepts the legacy format, a bare JSON array of
// hours (e.g. [9, 12, 15]). Missing -> domain.ErrNotFound, unparseable or
// out-of-range -> domain.ErrConfiguration.
func (r *Repo) Load(ctx context.Context) (domain.ScheduleConfig, error) {
	data, err := r.store.Get(ctx, r.key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.ScheduleConfig{}, fmt.Errorf("schedule %s: %w", r.key, domain.ErrNotFound)
		}
		return domain.ScheduleConfig{}, fmt.Errorf("read schedule %s: %w: %w", r.key, domain.ErrPersistence, err)
	}

	var minutes []int
	var updated time.Time

	var legacy []int
	if err := json.Unmarshal(data, &legacy); err == nil {
		for _, h := range legacy {
			minutes = append(minutes, h*60)
		}
	} else {
		var doc scheduleDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return domain.ScheduleConfig{}, fmt.Errorf("decode schedule %s: %w: %w", r.key, domain.ErrConfiguration, err)
		}
		minutes = doc.AllowedMinutesOfDay
		updated = doc.LastUpdated
	}

	cfg, err := domain.NewScheduleConfig(minutes, updated)
	if err != nil {
		return domain.ScheduleConfig{}, fmt.Errorf("schedule %s: %w: %w", r.key, domain.ErrConfiguration, err)
	}
	return cfg, nil
}

// Save writes the schedule document.
func (r *Repo) Save(ctx context.Context, cfg domain.ScheduleConfig) error {
	data, err := json.MarshalIndent(scheduleDoc{
		AllowedMinutesOfDay: cfg.AllowedMinutesOfDay,
		Times:               cfg.Times(),
		LastUpdated:         cfg.LastUpdated,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schedule: %w: %w", domain.ErrPersistence, err)
	}
	if err := r.store.Set(ctx, r.key, data); err != nil {
		return fmt.Errorf("write schedule %s: %w: %w", r.key, domain.ErrPersistence, err)
	}
	return nil
}
