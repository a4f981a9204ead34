package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/watchledger/internal/domain"
	healthuc "github.com/kailas-cloud/watchledger/internal/usecase/health"
)

// --- Mocks ---

type fakeLedger struct {
	stats      domain.Stats
	entities   map[string]domain.TrackedEntity
	daily      []domain.DailyStat
	history    []domain.HistoryEntry
	removeErr  error
	removed    []string
	lastDays   int
	lastLimit  int
	removedMin float64
}

func (f *fakeLedger) Stats() domain.Stats { return f.stats }

func (f *fakeLedger) TrackedIDs() []string {
	ids := make([]string, 0, len(f.entities))
	for id := range f.entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (f *fakeLedger) Entity(id string) (domain.TrackedEntity, bool) {
	e, ok := f.entities[id]
	return e, ok
}

func (f *fakeLedger) DailyStats(days int) []domain.DailyStat {
	f.lastDays = days
	return f.daily
}

func (f *fakeLedger) History(limit int) []domain.HistoryEntry {
	f.lastLimit = limit
	return f.history
}

func (f *fakeLedger) RemoveEntity(_ context.Context, id string) (float64, error) {
	if f.removeErr != nil {
		return 0, f.removeErr
	}
	f.removed = append(f.removed, id)
	return f.removedMin, nil
}

type fakeReconciler struct {
	report   domain.ReconcileReport
	err      error
	track    domain.TrackResult
	trackErr error
	trackIDs []string
	stats    domain.Stats
	syncErr  error
}

func (f *fakeReconciler) Reconcile(context.Context) (domain.ReconcileReport, error) {
	return f.report, f.err
}

func (f *fakeReconciler) Track(_ context.Context, id string) (domain.TrackResult, error) {
	f.trackIDs = append(f.trackIDs, id)
	return f.track, f.trackErr
}

func (f *fakeReconciler) SyncWithTracker(context.Context) (domain.Stats, error) {
	return f.stats, f.syncErr
}

type fakeScheduler struct {
	cfg         domain.ScheduleConfig
	setErr      error
	status      domain.SchedulerStatus
	stopTimeout bool
	startCtx    context.Context
}

func (f *fakeScheduler) Start(ctx context.Context) bool {
	if f.status.Running {
		return false
	}
	f.startCtx = ctx
	f.status.Running = true
	return true
}

func (f *fakeScheduler) Stop() bool {
	if f.stopTimeout {
		return false
	}
	f.status.Running = false
	return true
}

func (f *fakeScheduler) Schedule() domain.ScheduleConfig { return f.cfg }

func (f *fakeScheduler) SetScheduleTimes(_ context.Context, times []string) (domain.ScheduleConfig, error) {
	if f.setErr != nil {
		return domain.ScheduleConfig{}, f.setErr
	}
	minutes, err := domain.ParseClocks(times)
	if err != nil {
		return domain.ScheduleConfig{}, err
	}
	cfg, err := domain.NewScheduleConfig(minutes, f.cfg.LastUpdated)
	if err != nil {
		return domain.ScheduleConfig{}, err
	}
	f.cfg = cfg
	return cfg, nil
}

func (f *fakeScheduler) Status() domain.SchedulerStatus { return f.status }

type fakeQuota struct{ snap domain.QuotaSnapshot }

func (f fakeQuota) Snapshot() domain.QuotaSnapshot { return f.snap }

type fakeHealth struct{ report healthuc.Report }

func (f fakeHealth) Check(context.Context) healthuc.Report { return f.report }

type fixture struct {
	ledger     *fakeLedger
	reconciler *fakeReconciler
	scheduler  *fakeScheduler
	health     *fakeHealth
	handler    http.Handler
}

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	f := &fixture{
		ledger:     &fakeLedger{},
		reconciler: &fakeReconciler{},
		scheduler:  &fakeScheduler{cfg: domain.ScheduleConfig{AllowedMinutesOfDay: []int{540}, LastUpdated: fixedNow}},
		health:     &fakeHealth{report: healthuc.Report{Status: healthuc.Healthy, Checks: map[string]healthuc.CheckResult{"storage": healthuc.CheckOK}}},
	}
	quota := fakeQuota{snap: domain.QuotaSnapshot{Used: 25, Limit: 100, ResetAt: fixedNow.Add(24 * time.Hour)}}
	srv := NewServer(f.ledger, f.reconciler, f.scheduler, quota, f.health, zap.NewNop())
	r := chi.NewRouter()
	srv.Register(r)
	f.handler = r
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
	return v
}

// --- Tests ---

func TestGetStats(t *testing.T) {
	f := newFixture()
	f.ledger.stats = domain.Stats{
		TotalEntities:        2,
		TotalDurationMinutes: 15.5,
		Today:                "2026-03-10",
		TodayRollup:          domain.DailyRollup{Added: 1, WatchMinutes: 5.5},
		Month:                "2026-03",
		MonthRollup:          domain.MonthlyRollup{Count: 2, WatchMinutes: 15.5},
		Quota:                domain.QuotaSnapshot{Used: 25, Limit: 100},
		LastCheck:            fixedNow,
	}

	rr := f.do(t, http.MethodGet, "/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	got := decode[statsResponse](t, rr)
	if got.TotalEntities != 2 || got.TotalDurationMinutes != 15.5 {
		t.Errorf("totals: got %d/%v", got.TotalEntities, got.TotalDurationMinutes)
	}
	if got.Today.Count != 1 || got.Month.Count != 2 {
		t.Errorf("rollups: today %d month %d", got.Today.Count, got.Month.Count)
	}
	if got.Quota.Remaining != 75 || got.Quota.PercentageUsed != 25 {
		t.Errorf("quota: %+v", got.Quota)
	}
	if got.LastCheck == nil || !got.LastCheck.Equal(fixedNow) {
		t.Errorf("last_check: got %v", got.LastCheck)
	}
}

func TestGetDailyStats_Params(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode int
		wantDays int
	}{
		{"default", "", http.StatusOK, defaultDailyDays},
		{"explicit", "?days=30", http.StatusOK, 30},
		{"zero", "?days=0", http.StatusBadRequest, 0},
		{"not a number", "?days=abc", http.StatusBadRequest, 0},
		{"too large", fmt.Sprintf("?days=%d", maxDailyDays+1), http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.ledger.daily = []domain.DailyStat{{Date: "2026-03-10", Added: 1, WatchMinutes: 3}}

			rr := f.do(t, http.MethodGet, "/stats/daily"+tt.query, "")
			if rr.Code != tt.wantCode {
				t.Fatalf("status: got %d, want %d", rr.Code, tt.wantCode)
			}
			if f.ledger.lastDays != tt.wantDays {
				t.Errorf("days: got %d, want %d", f.ledger.lastDays, tt.wantDays)
			}
			if tt.wantCode == http.StatusBadRequest {
				if e := decode[ErrorResponse](t, rr); e.Code != CodeInvalidInput {
					t.Errorf("code: got %s", e.Code)
				}
			}
		})
	}
}

func TestGetHistory(t *testing.T) {
	f := newFixture()
	f.ledger.history = []domain.HistoryEntry{{ID: "e2", Title: "Two", WatchMinutes: 4, AddedAt: fixedNow}}

	rr := f.do(t, http.MethodGet, "/history?limit=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if f.ledger.lastLimit != 5 {
		t.Errorf("limit: got %d, want 5", f.ledger.lastLimit)
	}
	got := decode[struct {
		Items []historyEntryResponse `json:"items"`
	}](t, rr)
	if len(got.Items) != 1 || got.Items[0].ID != "e2" {
		t.Errorf("items: %+v", got.Items)
	}
}

func TestReconcile_OK(t *testing.T) {
	f := newFixture()
	f.reconciler.report = domain.ReconcileReport{
		ID:           "pass-1",
		Status:       domain.ReportOK,
		RemovedCount: 1,
		Before:       domain.Totals{Count: 2, DurationMinutes: 15.5},
		After:        domain.Totals{Count: 1, DurationMinutes: 5.5},
		Changes:      domain.Changes{VideosRemoved: 1, TimeSaved: 10},
		Timestamp:    fixedNow,
	}

	rr := f.do(t, http.MethodPost, "/reconcile", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	got := decode[reportResponse](t, rr)
	if got.Status != "ok" || got.RemovedCount != 1 || got.Changes.TimeSaved != 10 {
		t.Errorf("report: %+v", got)
	}
	if got.Error != nil {
		t.Errorf("unexpected error: %+v", got.Error)
	}
}

func TestReconcile_FailureKeepsReport(t *testing.T) {
	tests := []struct {
		name       string
		status     domain.ReportStatus
		err        error
		wantStatus int
		wantCode   ErrorCode
	}{
		{"quota", domain.ReportQuotaExceeded, domain.ErrQuotaExceeded, http.StatusTooManyRequests, CodeQuotaExceeded},
		{"not initialized", domain.ReportNotInitialized, domain.ErrNotInitialized, http.StatusConflict, CodeNotInitialized},
		{"transport", domain.ReportTransportError, fmt.Errorf("%w after 3 attempts: %w", domain.ErrTransport, errors.New("dial")), http.StatusBadGateway, CodeSourceError},
		{"persistence", domain.ReportFailed, fmt.Errorf("save ledger: %w", domain.ErrPersistence), http.StatusServiceUnavailable, CodeStorageError},
		{"unknown", domain.ReportFailed, errors.New("boom"), http.StatusInternalServerError, CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.reconciler.report = domain.ReconcileReport{ID: "pass-2", Status: tt.status, Error: tt.err.Error()}
			f.reconciler.err = tt.err

			rr := f.do(t, http.MethodPost, "/reconcile", "")
			if rr.Code != tt.wantStatus {
				t.Fatalf("status: got %d, want %d", rr.Code, tt.wantStatus)
			}
			got := decode[reportResponse](t, rr)
			if got.ID != "pass-2" || got.Status != string(tt.status) {
				t.Errorf("report: %+v", got)
			}
			if got.Error == nil || got.Error.Code != tt.wantCode {
				t.Fatalf("error: got %+v, want code %s", got.Error, tt.wantCode)
			}
			if strings.Contains(got.Error.Message, "dial") || strings.Contains(got.Error.Message, "boom") {
				t.Errorf("message leaks internals: %q", got.Error.Message)
			}
		})
	}
}

func TestSync(t *testing.T) {
	f := newFixture()
	f.reconciler.stats = domain.Stats{TotalEntities: 3}

	rr := f.do(t, http.MethodPost, "/sync", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if got := decode[statsResponse](t, rr); got.TotalEntities != 3 {
		t.Errorf("total: got %d", got.TotalEntities)
	}

	f.reconciler.syncErr = domain.ErrQuotaExceeded
	rr = f.do(t, http.MethodPost, "/sync", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("quota status: got %d", rr.Code)
	}
}

func TestTrackEntity(t *testing.T) {
	f := newFixture()
	f.reconciler.track = domain.TrackResult{
		Entity:   domain.TrackedEntity{ID: "abc", Title: "A", DurationMinutes: 62.5, AddedAt: fixedNow},
		Quota:    domain.QuotaSnapshot{Used: 2, Limit: 100},
		Attempts: 1,
	}

	rr := f.do(t, http.MethodPost, "/entities", `{"id":"abc"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want 201", rr.Code)
	}
	got := decode[trackResponse](t, rr)
	if got.Entity.ID != "abc" || got.Entity.DurationMinutes != 62.5 || got.Quota.Used != 2 {
		t.Errorf("response: %+v", got)
	}
	if len(f.reconciler.trackIDs) != 1 || f.reconciler.trackIDs[0] != "abc" {
		t.Errorf("track calls: %v", f.reconciler.trackIDs)
	}
}

func TestTrackEntity_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   ErrorCode
	}{
		{"bad json", `{`, nil, http.StatusBadRequest, CodeBadRequest},
		{"missing id", `{}`, nil, http.StatusBadRequest, CodeInvalidInput},
		{"not found", `{"id":"x"}`, fmt.Errorf("fetch x: %w", domain.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"bad duration", `{"id":"x"}`, fmt.Errorf("%w: \"1H\"", domain.ErrInvalidDuration), http.StatusBadRequest, CodeInvalidInput},
		{"quota", `{"id":"x"}`, domain.ErrQuotaExceeded, http.StatusTooManyRequests, CodeQuotaExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.reconciler.trackErr = tt.err

			rr := f.do(t, http.MethodPost, "/entities", tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status: got %d, want %d", rr.Code, tt.wantStatus)
			}
			if e := decode[ErrorResponse](t, rr); e.Code != tt.wantCode {
				t.Errorf("code: got %s, want %s", e.Code, tt.wantCode)
			}
		})
	}
}

func TestListEntities(t *testing.T) {
	f := newFixture()
	f.ledger.entities = map[string]domain.TrackedEntity{
		"b": {ID: "b", Title: "Second", DurationMinutes: 3.5, AddedAt: fixedNow},
		"a": {ID: "a", Title: "First", DurationMinutes: 10, AddedAt: fixedNow},
	}

	rr := f.do(t, http.MethodGet, "/entities", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	got := decode[entityListResponse](t, rr)
	if got.Count != 2 || len(got.Entities) != 2 || got.Entities[0].ID != "a" || got.Entities[1].DurationMinutes != 3.5 {
		t.Errorf("response: %+v", got)
	}

	empty := newFixture()
	rr = empty.do(t, http.MethodGet, "/entities", "")
	if body := strings.TrimSpace(rr.Body.String()); body != `{"entities":[],"count":0}` {
		t.Errorf("empty ledger body: %s", body)
	}
}

func TestGetEntity(t *testing.T) {
	f := newFixture()
	f.ledger.entities = map[string]domain.TrackedEntity{
		"abc": {ID: "abc", Title: "Talk", DurationMinutes: 42, AddedAt: fixedNow},
	}

	rr := f.do(t, http.MethodGet, "/entities/abc", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if got := decode[entityResponse](t, rr); got.Title != "Talk" || got.DurationMinutes != 42 || !got.AddedAt.Equal(fixedNow) {
		t.Errorf("response: %+v", got)
	}

	rr = f.do(t, http.MethodGet, "/entities/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing status: got %d", rr.Code)
	}
	if e := decode[ErrorResponse](t, rr); e.Code != CodeNotFound {
		t.Errorf("code: got %s", e.Code)
	}
}

func TestRemoveEntity(t *testing.T) {
	f := newFixture()
	f.ledger.removedMin = 10

	rr := f.do(t, http.MethodDelete, "/entities/abc", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	got := decode[removeResponse](t, rr)
	if got.ID != "abc" || got.RemovedMinutes != 10 {
		t.Errorf("response: %+v", got)
	}

	f.ledger.removeErr = fmt.Errorf("save ledger: %w", domain.ErrPersistence)
	rr = f.do(t, http.MethodDelete, "/entities/abc", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("persistence status: got %d", rr.Code)
	}
}

func TestSchedule_GetAndPut(t *testing.T) {
	f := newFixture()

	rr := f.do(t, http.MethodGet, "/schedule", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status: got %d", rr.Code)
	}
	if got := decode[scheduleResponse](t, rr); len(got.Times) != 1 || got.Times[0] != "09:00" {
		t.Errorf("times: %v", got.Times)
	}

	rr = f.do(t, http.MethodPut, "/schedule", `{"times":["18:30","07:15"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put status: got %d (%s)", rr.Code, rr.Body.String())
	}
	got := decode[scheduleResponse](t, rr)
	if len(got.AllowedMinutesOfDay) != 2 || got.AllowedMinutesOfDay[0] != 435 || got.AllowedMinutesOfDay[1] != 1110 {
		t.Errorf("minutes: %v", got.AllowedMinutesOfDay)
	}
}

func TestPutSchedule_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		code ErrorCode
	}{
		{"bad json", `[`, CodeBadRequest},
		{"empty", `{"times":[]}`, CodeInvalidInput},
		{"bad time", `{"times":["25:00"]}`, CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			rr := f.do(t, http.MethodPut, "/schedule", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d", rr.Code)
			}
			if e := decode[ErrorResponse](t, rr); e.Code != tt.code {
				t.Errorf("code: got %s, want %s", e.Code, tt.code)
			}
			if got := f.scheduler.cfg.AllowedMinutesOfDay; len(got) != 1 || got[0] != 540 {
				t.Errorf("schedule changed: %v", got)
			}
		})
	}
}

func TestGetSchedulerStatus(t *testing.T) {
	f := newFixture()
	ran := fixedNow
	f.scheduler.status = domain.SchedulerStatus{
		Running:      true,
		AllowedTimes: []string{"09:00"},
		Tasks:        []domain.TaskStatus{{ID: "reconcile", Description: "reconcile", LastRunAt: &ran}},
	}

	rr := f.do(t, http.MethodGet, "/scheduler/status", "")
	got := decode[schedulerStatusResponse](t, rr)
	if !got.Running || len(got.Tasks) != 1 || got.Tasks[0].LastRunAt == nil {
		t.Errorf("status: %+v", got)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	f := newFixture()

	rr := f.do(t, http.MethodPost, "/scheduler/start", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("start status: got %d", rr.Code)
	}
	if got := decode[schedulerStatusResponse](t, rr); !got.Running {
		t.Errorf("expected running after start: %+v", got)
	}
	if f.scheduler.startCtx == nil || f.scheduler.startCtx.Done() != nil {
		t.Error("loop context must not end with the request")
	}

	rr = f.do(t, http.MethodPost, "/scheduler/start", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("second start status: got %d", rr.Code)
	}
	if e := decode[ErrorResponse](t, rr); e.Code != CodeConflict {
		t.Errorf("code: got %s", e.Code)
	}

	f.scheduler.stopTimeout = true
	rr = f.do(t, http.MethodPost, "/scheduler/stop", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("timed out stop status: got %d", rr.Code)
	}
	if got := decode[schedulerStatusResponse](t, rr); !got.Running {
		t.Error("loop still finishing must report running")
	}

	f.scheduler.stopTimeout = false
	rr = f.do(t, http.MethodPost, "/scheduler/stop", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("stop status: got %d", rr.Code)
	}
	if got := decode[schedulerStatusResponse](t, rr); got.Running {
		t.Error("expected stopped status")
	}
}

func TestGetQuota(t *testing.T) {
	f := newFixture()
	rr := f.do(t, http.MethodGet, "/quota", "")
	got := decode[quotaResponse](t, rr)
	if got.Used != 25 || got.Limit != 100 || got.Remaining != 75 {
		t.Errorf("quota: %+v", got)
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name   string
		status healthuc.Status
		want   int
	}{
		{"healthy", healthuc.Healthy, http.StatusOK},
		{"degraded", healthuc.Degraded, http.StatusOK},
		{"unhealthy", healthuc.Unhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.health.report.Status = tt.status

			rr := f.do(t, http.MethodGet, "/health", "")
			if rr.Code != tt.want {
				t.Fatalf("status: got %d, want %d", rr.Code, tt.want)
			}
			got := decode[healthResponse](t, rr)
			if got.Status != string(tt.status) || got.Checks["storage"] != "ok" {
				t.Errorf("body: %+v", got)
			}
		})
	}
}
