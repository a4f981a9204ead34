package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/kailas-cloud/watchledger/internal/domain"
)

// --- Mocks ---

type mockRepo struct {
	mu      sync.Mutex
	state   *domain.LedgerState
	loadErr error
	saveErr error
	saves   int
}

func (m *mockRepo) Load(_ context.Context) (domain.LedgerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return domain.LedgerState{}, m.loadErr
	}
	if m.state == nil {
		return domain.LedgerState{}, domain.ErrNotFound
	}
	return m.state.Clone(), nil
}

func (m *mockRepo) Save(_ context.Context, s domain.LedgerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	c := s.Clone()
	m.state = &c
	return nil
}

// --- Helpers ---

var now = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, repo *mockRepo) (*Service, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(now)
	svc, err := New(context.Background(), repo, Config{HistoryMax: 100}, clock, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, clock
}

func entity(id string, minutes float64) domain.TrackedEntity {
	return domain.TrackedEntity{ID: id, Title: "title " + id, DurationMinutes: minutes}
}

func assertConsistent(t *testing.T, svc *Service) {
	t.Helper()
	s := svc.Snapshot()
	var sum []float64
	for _, e := range s.TrackedEntities {
		sum = append(sum, e.DurationMinutes)
	}
	if s.TotalEntities != len(s.TrackedEntities) {
		t.Fatalf("total_entities %d != %d tracked", s.TotalEntities, len(s.TrackedEntities))
	}
	if want := domain.SumMinutes(sum...); s.TotalDurationMinutes != want {
		t.Fatalf("total_duration_minutes %v != sum %v", s.TotalDurationMinutes, want)
	}
}

// --- Tests ---

func TestNew_MissingCreatesDefault(t *testing.T) {
	repo := &mockRepo{}
	svc, _ := newTestService(t, repo)

	if repo.saves != 1 {
		t.Errorf("expected the default ledger to be saved once, got %d", repo.saves)
	}
	if svc.Snapshot().SchemaVersion != domain.CurrentSchemaVersion {
		t.Errorf("unexpected schema version %d", svc.Snapshot().SchemaVersion)
	}
}

func TestNew_CorruptKeepsDiskUntouched(t *testing.T) {
	repo := &mockRepo{loadErr: fmt.Errorf("decode: %w", domain.ErrConfiguration)}
	svc, _ := newTestService(t, repo)

	if repo.saves != 0 {
		t.Errorf("corrupt ledger must not be overwritten on load, got %d saves", repo.saves)
	}
	if svc.Stats().TotalEntities != 0 {
		t.Error("expected empty defaults")
	}
}

func TestNew_PersistenceErrorFails(t *testing.T) {
	repo := &mockRepo{loadErr: fmt.Errorf("read: %w", domain.ErrPersistence)}
	clock := quartz.NewMock(t)
	if _, err := New(context.Background(), repo, Config{}, clock, zap.NewNop()); !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", err)
	}
}

func TestNew_LoadIsPure(t *testing.T) {
	repo := &mockRepo{}
	svc, _ := newTestService(t, repo)
	_ = svc.AddEntity(context.Background(), entity("A", 12.5))
	before := repo.saves

	reloaded, _ := newTestService(t, repo)
	if repo.saves != before {
		t.Errorf("reload wrote to storage")
	}
	a, b := svc.Snapshot(), reloaded.Snapshot()
	if a.TotalDurationMinutes != b.TotalDurationMinutes || len(a.History) != len(b.History) || !a.LastCheck.Equal(b.LastCheck) {
		t.Errorf("reload differs: %+v vs %+v", a, b)
	}
}

func TestNew_TrimsOversizedHistory(t *testing.T) {
	state := domain.NewLedgerState(domain.CurrentSchemaVersion)
	for i := 149; i >= 0; i-- {
		state.History = append(state.History, domain.HistoryEntry{ID: fmt.Sprintf("h%03d", i), AddedAt: now})
	}
	repo := &mockRepo{state: &state}

	clock := quartz.NewMock(t)
	clock.Set(now)
	svc, err := New(context.Background(), repo, Config{HistoryMax: 500}, clock, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	h := svc.History(0)
	if len(h) != domain.DefaultHistoryMax {
		t.Fatalf("expected %d entries, got %d", domain.DefaultHistoryMax, len(h))
	}
	if h[0].ID != "h149" || h[len(h)-1].ID != "h050" {
		t.Errorf("expected newest entries kept, got %s..%s", h[0].ID, h[len(h)-1].ID)
	}
	if repo.saves != 0 {
		t.Error("trimming on load must not write")
	}
}

func TestAddEntity_UpdatesRollupsAndHistory(t *testing.T) {
	repo := &mockRepo{}
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	if err := svc.AddEntity(ctx, entity("A", 10)); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddEntity(ctx, entity("B", 5.5)); err != nil {
		t.Fatal(err)
	}

	st := svc.Stats()
	if st.TotalEntities != 2 || st.TotalDurationMinutes != 15.5 {
		t.Errorf("unexpected totals %+v", st)
	}
	if st.TodayRollup.Added != 2 || st.TodayRollup.WatchMinutes != 15.5 {
		t.Errorf("unexpected daily rollup %+v", st.TodayRollup)
	}
	if st.Month != "2026-06" || st.MonthRollup.Count != 2 {
		t.Errorf("unexpected monthly rollup %s %+v", st.Month, st.MonthRollup)
	}
	if !st.LastCheck.Equal(now) {
		t.Errorf("expected last_check %v, got %v", now, st.LastCheck)
	}
	h := svc.History(0)
	if len(h) != 2 || h[0].ID != "B" {
		t.Errorf("expected newest first, got %+v", h)
	}
	if repo.state == nil || repo.state.TotalEntities != 2 {
		t.Error("expected mutation to be persisted")
	}
}

func TestAddEntity_UpsertLastWriteWins(t *testing.T) {
	svc, _ := newTestService(t, &mockRepo{})
	ctx := context.Background()
	_ = svc.AddEntity(ctx, entity("A", 10))
	_ = svc.AddEntity(ctx, entity("A", 3))

	st := svc.Stats()
	if st.TotalEntities != 1 || st.TotalDurationMinutes != 3 {
		t.Errorf("expected upsert, got %+v", st)
	}
	assertConsistent(t, svc)
}

func TestAddEntity_Invalid(t *testing.T) {
	svc, _ := newTestService(t, &mockRepo{})
	err := svc.AddEntity(context.Background(), entity("", 1))
	if !errors.Is(err, domain.ErrInvalidEntity) {
		t.Errorf("expected ErrInvalidEntity, got %v", err)
	}
}

func TestRemoveEntity(t *testing.T) {
	repo := &mockRepo{}
	svc, _ := newTestService(t, repo)
	ctx := context.Background()
	_ = svc.AddEntity(ctx, entity("A", 10))

	got, err := svc.RemoveEntity(ctx, "A")
	if err != nil || got != 10 {
		t.Fatalf("RemoveEntity = %v, %v", got, err)
	}

	saves := repo.saves
	got, err = svc.RemoveEntity(ctx, "missing")
	if err != nil || got != 0 {
		t.Errorf("absent id: expected 0, nil; got %v, %v", got, err)
	}
	if repo.saves != saves {
		t.Error("absent id must not write")
	}
	assertConsistent(t, svc)
}

func TestSync_Removal(t *testing.T) {
	svc, _ := newTestService(t, &mockRepo{})
	ctx := context.Background()
	_ = svc.AddEntity(ctx, entity("A", 10.0))
	_ = svc.AddEntity(ctx, entity("B", 5.5))

	res, err := svc.Sync(ctx, map[string]struct{}{"A": {}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 1 || res.TimeSaved != 5.5 {
		t.Errorf("expected one entity and 5.5 minutes removed, got %+v", res)
	}
	if res.Before != (domain.Totals{Count: 2, DurationMinutes: 15.5}) || res.After != (domain.Totals{Count: 1, DurationMinutes: 10}) {
		t.Errorf("unexpected before/after %+v / %+v", res.Before, res.After)
	}
	if ids := svc.TrackedIDs(); len(ids) != 1 || ids[0] != "A" {
		t.Errorf("expected only A tracked, got %v", ids)
	}
	if st := svc.Stats(); st.TotalDurationMinutes != 10.0 {
		t.Errorf("expected total 10, got %v", st.TotalDurationMinutes)
	}
}

func TestSync_NoOp(t *testing.T) {
	repo := &mockRepo{}
	svc, _ := newTestService(t, repo)
	ctx := context.Background()
	_ = svc.AddEntity(ctx, entity("A", 10))
	before := svc.Snapshot()
	saves := repo.saves

	res, err := svc.Sync(ctx, map[string]struct{}{"A": {}, "Z": {}})
	if err != nil || res.Removed != 0 || res.TimeSaved != 0 || res.Before != res.After {
		t.Fatalf("Sync = %+v, %v", res, err)
	}
	after := svc.Snapshot()
	if after.TotalEntities != before.TotalEntities || after.TotalDurationMinutes != before.TotalDurationMinutes {
		t.Error("superset sync changed totals")
	}
	if len(after.TrackedEntities) != 1 {
		t.Error("sync must never add entities")
	}
	if repo.saves != saves {
		t.Error("no-op sync must not write")
	}
}

func TestInvariant_RandomOperations(t *testing.T) {
	svc, _ := newTestService(t, &mockRepo{})
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(1, 2))

	for range 300 {
		id := fmt.Sprintf("e%d", rng.IntN(40))
		switch rng.IntN(3) {
		case 0:
			_ = svc.AddEntity(ctx, entity(id, float64(rng.IntN(10000))/100))
		case 1:
			_, _ = svc.RemoveEntity(ctx, id)
		case 2:
			keep := map[string]struct{}{}
			for _, tracked := range svc.TrackedIDs() {
				if rng.IntN(4) != 0 {
					keep[tracked] = struct{}{}
				}
			}
			_, _ = svc.Sync(ctx, keep)
		}
		assertConsistent(t, svc)
	}
}

func TestInvariant_ConcurrentOperations(t *testing.T) {
	svc, _ := newTestService(t, &mockRepo{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(w), 7))
			for range 200 {
				id := fmt.Sprintf("e%d", rng.IntN(30))
				switch rng.IntN(4) {
				case 0:
					_ = svc.AddEntity(ctx, entity(id, float64(rng.IntN(10000))/100))
				case 1:
					_, _ = svc.RemoveEntity(ctx, id)
				case 2:
					keep := map[string]struct{}{}
					for i := range 30 {
						if rng.IntN(3) != 0 {
							keep[fmt.Sprintf("e%d", i)] = struct{}{}
						}
					}
					_, _ = svc.Sync(ctx, keep)
				case 3:
					st := svc.Stats()
					if st.TotalEntities < 0 || st.TotalDurationMinutes < 0 {
						t.Errorf("negative totals %+v", st)
					}
				}
			}
		}()
	}
	wg.Wait()
	assertConsistent(t, svc)
}

func TestHistory_Cap(t *testing.T) {
	svc, _ := newTestService(t, &mockRepo{})
	ctx := context.Background()
	for i := range 150 {
		_ = svc.AddEntity(ctx, entity(fmt.Sprintf("e%03d", i), 1))
	}

	h := svc.History(0)
	if len(h) != 100 {
		t.Fatalf("expected 100 entries, got %d", len(h))
	}
	if h[0].ID != "e149" || h[99].ID != "e050" {
		t.Errorf("expected e149..e050, got %s..%s", h[0].ID, h[99].ID)
	}
	if got := svc.History(5); len(got) != 5 || got[0].ID != "e149" {
		t.Errorf("unexpected limited history %+v", got)
	}
}

func TestDailyStats_ZeroFilled(t *testing.T) {
	svc, clock := newTestService(t, &mockRepo{})
	ctx := context.Background()

	clock.Set(now.AddDate(0, 0, -2))
	_ = svc.AddEntity(ctx, entity("A", 4))
	clock.Set(now)
	_ = svc.AddEntity(ctx, entity("B", 6))

	rows := svc.DailyStats(3)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	want := []domain.DailyStat{
		{Date: "2026-06-13", Added: 1, WatchMinutes: 4},
		{Date: "2026-06-14"},
		{Date: "2026-06-15", Added: 1, WatchMinutes: 6},
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row %d: expected %+v, got %+v", i, want[i], rows[i])
		}
	}
}

func TestCleanupOldStats(t *testing.T) {
	svc, clock := newTestService(t, &mockRepo{})
	ctx := context.Background()

	for i := range 4 {
		clock.Set(now.AddDate(0, -i, 0))
		_ = svc.AddEntity(ctx, entity(fmt.Sprintf("m%d", i), 1))
	}
	clock.Set(now)

	dropped, err := svc.CleanupOldStats(ctx, 30, 2)
	if err != nil {
		t.Fatal(err)
	}
	// Three daily rollups older than 30 days and two excess months.
	if dropped != 5 {
		t.Errorf("expected 5 dropped, got %d", dropped)
	}
	s := svc.Snapshot()
	if len(s.DailyRollup) != 1 || len(s.MonthlyRollup) != 2 {
		t.Errorf("unexpected rollups %v %v", s.DailyRollup, s.MonthlyRollup)
	}
	if _, ok := s.MonthlyRollup["2026-06"]; !ok {
		t.Error("newest month must be kept")
	}
	if s.TotalEntities != 4 {
		t.Error("cleanup must not touch tracked entities")
	}
}

func TestSaveFailure_KeepsMemoryState(t *testing.T) {
	repo := &mockRepo{}
	svc, _ := newTestService(t, repo)
	repo.saveErr = fmt.Errorf("disk: %w", domain.ErrPersistence)

	err := svc.AddEntity(context.Background(), entity("A", 7))
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if svc.Stats().TotalEntities != 1 {
		t.Error("in-memory state must be retained after a failed save")
	}
	assertConsistent(t, svc)
}

func TestReassert_RecomputesAndPersists(t *testing.T) {
	repo := &mockRepo{}
	svc, _ := newTestService(t, repo)
	svc.UpdateQuota(domain.QuotaSnapshot{Used: 3, Limit: 10})
	saves := repo.saves

	if err := svc.Reassert(context.Background()); err != nil {
		t.Fatal(err)
	}
	if repo.saves != saves+1 {
		t.Error("expected one save")
	}
	if repo.state.Quota.Used != 3 {
		t.Errorf("expected quota persisted, got %+v", repo.state.Quota)
	}
}
