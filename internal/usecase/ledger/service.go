package ledger

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/kailas-cloud/watchledger/internal/domain"
	"github.com/kailas-cloud/watchledger/internal/metrics"
)

// Config holds ledger retention settings.
type Config struct {
	HistoryMax int
}

// Service owns the ledger state. Every read and mutation goes through mu,
// and every mutation recomputes totals from the tracked entities and
// persists the full document before returning.
type Service struct {
	mu     sync.RWMutex
	state  domain.LedgerState
	repo   Repository
	cfg    Config
	clock  quartz.Clock
	logger *zap.Logger
}

// New loads the ledger or initializes a default one.
// A missing document is created; a corrupt one is replaced in memory only
// and left on disk for inspection.
func New(ctx context.Context, repo Repository, cfg Config, clock quartz.Clock, logger *zap.Logger) (*Service, error) {
	if cfg.HistoryMax <= 0 || cfg.HistoryMax > domain.DefaultHistoryMax {
		cfg.HistoryMax = domain.DefaultHistoryMax
	}
	s := &Service{repo: repo, cfg: cfg, clock: clock, logger: logger}

	state, err := repo.Load(ctx)
	switch {
	case err == nil:
		if !state.Consistent() {
			logger.Warn("Ledger totals drifted from tracked entities; recomputing in memory",
				zap.Int("stored_entities", state.TotalEntities),
				zap.Float64("stored_minutes", state.TotalDurationMinutes),
			)
			state.Recompute()
		}
		if len(state.History) > cfg.HistoryMax {
			state.History = state.History[:cfg.HistoryMax]
		}
		s.state = state
	case errors.Is(err, domain.ErrNotFound):
		s.state = domain.NewLedgerState(domain.CurrentSchemaVersion)
		if err := repo.Save(ctx, s.state); err != nil {
			return nil, fmt.Errorf("initialize ledger: %w", err)
		}
		logger.Info("Ledger initialized")
	case errors.Is(err, domain.ErrConfiguration):
		logger.Error("Ledger document is corrupt, starting from defaults", zap.Error(err))
		s.state = domain.NewLedgerState(domain.CurrentSchemaVersion)
	default:
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	s.publish()
	logger.Info("Ledger loaded",
		zap.Int("schema_version", s.state.SchemaVersion),
		zap.Int("entities", s.state.TotalEntities),
		zap.Float64("duration_minutes", s.state.TotalDurationMinutes),
	)
	return s, nil
}

// AddEntity upserts e, records a history entry and today's rollups,
// recomputes totals and persists.
func (s *Service) AddEntity(ctx context.Context, e domain.TrackedEntity) error {
	now := s.clock.Now().UTC()
	if e.AddedAt.IsZero() {
		e.AddedAt = now
	}
	e, err := domain.NewTrackedEntity(e.ID, e.Title, e.DurationMinutes, e.AddedAt)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.TrackedEntities[e.ID] = e

	day := now.Format(domain.DayLayout)
	d := s.state.DailyRollup[day]
	d.Added++
	d.WatchMinutes = domain.SumMinutes(d.WatchMinutes, e.DurationMinutes)
	s.state.DailyRollup[day] = d

	month := now.Format(domain.MonthLayout)
	m := s.state.MonthlyRollup[month]
	m.Count++
	m.WatchMinutes = domain.SumMinutes(m.WatchMinutes, e.DurationMinutes)
	s.state.MonthlyRollup[month] = m

	entry := domain.HistoryEntry{ID: e.ID, Title: e.Title, WatchMinutes: e.DurationMinutes, AddedAt: e.AddedAt}
	s.state.History = slices.Insert(s.state.History, 0, entry)
	if len(s.state.History) > s.cfg.HistoryMax {
		s.state.History = s.state.History[:s.cfg.HistoryMax]
	}
	s.state.LastCheck = now

	s.logger.Debug("Entity added",
		zap.String("id", e.ID),
		zap.Float64("duration_minutes", e.DurationMinutes),
	)
	return s.commitLocked(ctx)
}

// RemoveEntity deletes id and returns its duration. Removing an id that is
// not tracked is a no-op returning 0 and does not write.
func (s *Service) RemoveEntity(ctx context.Context, id string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, ok := s.removeLocked(id)
	if !ok {
		return 0, nil
	}
	return removed, s.commitLocked(ctx)
}

// Sync removes every tracked id missing from currentIDs. It never adds
// entities. Nothing is written when no id is stale.
func (s *Service) Sync(ctx context.Context, currentIDs map[string]struct{}) (domain.SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := domain.SyncResult{Before: s.totalsLocked()}
	res.After = res.Before

	var stale []string
	for id := range s.state.TrackedEntities {
		if _, ok := currentIDs[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return res, nil
	}
	slices.Sort(stale)

	removed := make([]float64, 0, len(stale))
	for _, id := range stale {
		if d, ok := s.removeLocked(id); ok {
			removed = append(removed, d)
		}
	}
	err := s.commitLocked(ctx)
	res.After = s.totalsLocked()
	res.Removed = len(removed)
	res.TimeSaved = domain.SumMinutes(removed...)

	s.logger.Info("Stale entities removed",
		zap.Int("count", res.Removed),
		zap.Float64("duration_minutes", res.TimeSaved),
	)
	return res, err
}

// Stats returns a read-only snapshot of the aggregates.
func (s *Service) Stats() domain.Stats {
	now := s.clock.Now().UTC()
	today := now.Format(domain.DayLayout)
	month := now.Format(domain.MonthLayout)

	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.Stats{
		TotalEntities:        s.state.TotalEntities,
		TotalDurationMinutes: s.state.TotalDurationMinutes,
		Today:                today,
		TodayRollup:          s.state.DailyRollup[today],
		Month:                month,
		MonthRollup:          s.state.MonthlyRollup[month],
		Quota:                s.state.Quota,
		LastCheck:            s.state.LastCheck,
	}
}

// DailyStats returns one row per day for the last days days, oldest first,
// with days that saw no activity filled with zeros.
func (s *Service) DailyStats(days int) []domain.DailyStat {
	if days <= 0 {
		return []domain.DailyStat{}
	}
	now := s.clock.Now().UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DailyStat, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := now.AddDate(0, 0, -i).Format(domain.DayLayout)
		r := s.state.DailyRollup[day]
		out = append(out, domain.DailyStat{Date: day, Added: r.Added, WatchMinutes: r.WatchMinutes})
	}
	return out
}

// History returns up to limit entries, newest first. limit <= 0 returns all.
func (s *Service) History(limit int) []domain.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.state.History
	if limit > 0 && limit < len(h) {
		h = h[:limit]
	}
	return slices.Clone(h)
}

// TrackedIDs returns the tracked ids in sorted order.
func (s *Service) TrackedIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.state.TrackedEntities))
}

// Entity returns one tracked entity.
func (s *Service) Entity(id string) (domain.TrackedEntity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.TrackedEntities[id]
	return e, ok
}

// CleanupOldStats drops daily rollups older than retentionDays and keeps
// only the keepMonths newest monthly rollups. Returns how many rollups
// were dropped.
func (s *Service) CleanupOldStats(ctx context.Context, retentionDays, keepMonths int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = domain.DefaultRetentionDays
	}
	if keepMonths <= 0 {
		keepMonths = domain.DefaultKeepMonths
	}
	cutoff := s.clock.Now().UTC().AddDate(0, 0, -retentionDays).Format(domain.DayLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for day := range s.state.DailyRollup {
		// Day keys sort lexically in date order.
		if day < cutoff {
			delete(s.state.DailyRollup, day)
			dropped++
		}
	}

	months := slices.Sorted(maps.Keys(s.state.MonthlyRollup))
	if excess := len(months) - keepMonths; excess > 0 {
		for _, m := range months[:excess] {
			delete(s.state.MonthlyRollup, m)
			dropped++
		}
	}

	if dropped == 0 {
		return 0, nil
	}
	s.logger.Info("Old statistics cleaned up",
		zap.Int("dropped", dropped),
		zap.String("cutoff", cutoff),
	)
	return dropped, s.commitLocked(ctx)
}

// UpdateQuota stores the quota snapshot in memory. It is persisted by the
// next mutation or Reassert.
func (s *Service) UpdateQuota(q domain.QuotaSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Quota = q
}

// Quota returns the persisted quota snapshot.
func (s *Service) Quota() domain.QuotaSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Quota
}

// Reassert re-derives totals from the tracked entities and persists the
// whole document, restoring consistency after a partially failed pass.
func (s *Service) Reassert(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(ctx)
}

// Snapshot returns a deep copy of the full state.
func (s *Service) Snapshot() domain.LedgerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

func (s *Service) removeLocked(id string) (float64, bool) {
	e, ok := s.state.TrackedEntities[id]
	if !ok {
		return 0, false
	}
	delete(s.state.TrackedEntities, id)
	s.logger.Debug("Entity removed", zap.String("id", id), zap.Float64("duration_minutes", e.DurationMinutes))
	return e.DurationMinutes, true
}

// commitLocked recomputes totals and persists. On write failure the
// in-memory state is kept and the error returned.
func (s *Service) commitLocked(ctx context.Context) error {
	s.state.Recompute()
	s.publish()
	if err := s.repo.Save(ctx, s.state); err != nil {
		s.logger.Error("Ledger save failed, in-memory state retained", zap.Error(err))
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

func (s *Service) totalsLocked() domain.Totals {
	return domain.Totals{Count: s.state.TotalEntities, DurationMinutes: s.state.TotalDurationMinutes}
}

func (s *Service) publish() {
	metrics.LedgerEntities.Set(float64(s.state.TotalEntities))
	metrics.LedgerDurationMinutes.Set(s.state.TotalDurationMinutes)
}
