package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/watchledger/internal/domain"
	"github.com/kailas-cloud/watchledger/internal/logger"
	healthuc "github.com/kailas-cloud/watchledger/internal/usecase/health"
)

const (
	defaultDailyDays = 7
	maxDailyDays     = 366
	defaultHistory   = 20
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// errorMapping ties a sentinel error to an HTTP status and code.
type errorMapping struct {
	sentinel error
	status   int
	code     ErrorCode
}

// errorMappings are checked in order; the first match wins.
var errorMappings = []errorMapping{
	{domain.ErrQuotaExceeded, http.StatusTooManyRequests, CodeQuotaExceeded},
	{domain.ErrNotInitialized, http.StatusConflict, CodeNotInitialized},
	{domain.ErrDuplicateTask, http.StatusConflict, CodeConflict},
	{domain.ErrInvalidSchedule, http.StatusBadRequest, CodeInvalidInput},
	{domain.ErrInvalidDuration, http.StatusBadRequest, CodeInvalidInput},
	{domain.ErrInvalidEntity, http.StatusBadRequest, CodeInvalidInput},
	{domain.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{domain.ErrTransport, http.StatusBadGateway, CodeSourceError},
	{domain.ErrPersistence, http.StatusServiceUnavailable, CodeStorageError},
}

// Server serves the ledger HTTP API.
type Server struct {
	ledger        Ledger
	reconciler    Reconciler
	scheduler     Scheduler
	quota         Quota
	health        Health
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	ledger Ledger,
	reconciler Reconciler,
	scheduler Scheduler,
	quota Quota,
	health Health,
	logger *zap.Logger,
) *Server {
	s := &Server{
		ledger:     ledger,
		reconciler: reconciler,
		scheduler:  scheduler,
		quota:      quota,
		health:     health,
		logger:     logger,
	}
	for _, m := range errorMappings {
		s.errorHandlers = append(s.errorHandlers, sentinelHandler(m.sentinel, m.status, m.code))
	}
	return s
}

// Register mounts the API routes on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/stats", s.GetStats)
	r.Get("/stats/daily", s.GetDailyStats)
	r.Get("/history", s.GetHistory)
	r.Get("/quota", s.GetQuota)

	r.Post("/reconcile", s.Reconcile)
	r.Post("/sync", s.Sync)

	r.Get("/entities", s.ListEntities)
	r.Post("/entities", s.TrackEntity)
	r.Get("/entities/{id}", s.GetEntity)
	r.Delete("/entities/{id}", s.RemoveEntity)

	r.Get("/schedule", s.GetSchedule)
	r.Put("/schedule", s.PutSchedule)
	r.Get("/scheduler/status", s.GetSchedulerStatus)
	r.Post("/scheduler/start", s.StartScheduler)
	r.Post("/scheduler/stop", s.StopScheduler)
}

// GetStats handles GET /stats.
func (s *Server) GetStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsToResponse(s.ledger.Stats()))
}

// GetDailyStats handles GET /stats/daily?days=N.
func (s *Server) GetDailyStats(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, "days", defaultDailyDays, maxDailyDays)
	if !ok {
		return
	}
	rows := s.ledger.DailyStats(days)
	items := make([]dailyStatResponse, len(rows))
	for i, d := range rows {
		items[i] = dailyStatResponse{Date: d.Date, Added: d.Added, WatchMinutes: d.WatchMinutes}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetHistory handles GET /history?limit=N.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", defaultHistory, domain.DefaultHistoryMax)
	if !ok {
		return
	}
	entries := s.ledger.History(limit)
	items := make([]historyEntryResponse, len(entries))
	for i, h := range entries {
		items[i] = historyEntryResponse{ID: h.ID, Title: h.Title, WatchMinutes: h.WatchMinutes, AddedAt: h.AddedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetQuota handles GET /quota.
func (s *Server) GetQuota(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, quotaToResponse(s.quota.Snapshot()))
}

// Reconcile handles POST /reconcile. The report is returned for failed
// passes too, with the error attached and a matching status code.
func (s *Server) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.reconciler.Reconcile(r.Context())
	resp := reportToResponse(report)
	if err == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	logger.FromContext(r.Context()).Warn("reconciliation failed", zap.Error(err))
	status, code := statusFor(err)
	resp.Error = &ErrorResponse{Code: code, Message: safeDomainMessage(err)}
	writeJSON(w, status, resp)
}

// Sync handles POST /sync.
func (s *Server) Sync(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reconciler.SyncWithTracker(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsToResponse(stats))
}

// TrackEntity handles POST /entities.
func (s *Server) TrackEntity(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "Entity id is required")
		return
	}

	res, err := s.reconciler.Track(r.Context(), req.ID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trackResponse{
		Entity:   entityToResponse(res.Entity),
		Quota:    quotaToResponse(res.Quota),
		Attempts: res.Attempts,
	})
}

// ListEntities handles GET /entities. Entities are sorted by id.
func (s *Server) ListEntities(w http.ResponseWriter, _ *http.Request) {
	ids := s.ledger.TrackedIDs()
	items := make([]entityResponse, 0, len(ids))
	for _, id := range ids {
		// Removed since TrackedIDs.
		e, ok := s.ledger.Entity(id)
		if !ok {
			continue
		}
		items = append(items, entityToResponse(e))
	}
	writeJSON(w, http.StatusOK, entityListResponse{Entities: items, Count: len(items)})
}

// GetEntity handles GET /entities/{id}.
func (s *Server) GetEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, ok := s.ledger.Entity(id)
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "Entity "+id+" is not tracked")
		return
	}
	writeJSON(w, http.StatusOK, entityToResponse(e))
}

// RemoveEntity handles DELETE /entities/{id}. Unknown ids remove nothing.
func (s *Server) RemoveEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := s.ledger.RemoveEntity(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, removeResponse{ID: id, RemovedMinutes: removed})
}

// GetSchedule handles GET /schedule.
func (s *Server) GetSchedule(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, scheduleToResponse(s.scheduler.Schedule()))
}

// PutSchedule handles PUT /schedule with a list of "HH:MM" times.
func (s *Server) PutSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Times) == 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "At least one time is required")
		return
	}

	cfg, err := s.scheduler.SetScheduleTimes(r.Context(), req.Times)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSchedule) {
			writeError(w, http.StatusBadRequest, CodeInvalidInput, err.Error())
			return
		}
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleToResponse(cfg))
}

// GetSchedulerStatus handles GET /scheduler/status.
func (s *Server) GetSchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, schedulerStatusToResponse(s.scheduler.Status()))
}

// StartScheduler handles POST /scheduler/start. The loop outlives the
// request and stops on POST /scheduler/stop or server shutdown.
func (s *Server) StartScheduler(w http.ResponseWriter, r *http.Request) {
	if !s.scheduler.Start(context.WithoutCancel(r.Context())) {
		writeError(w, http.StatusConflict, CodeConflict, "Scheduler is already running")
		return
	}
	writeJSON(w, http.StatusOK, schedulerStatusToResponse(s.scheduler.Status()))
}

// StopScheduler handles POST /scheduler/stop. A loop still finishing an
// in-flight task answers 202 and keeps reporting running.
func (s *Server) StopScheduler(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	if !s.scheduler.Stop() {
		status = http.StatusAccepted
	}
	writeJSON(w, status, schedulerStatusToResponse(s.scheduler.Status()))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{Status: string(report.Status), Checks: checks})
}

func intParam(w http.ResponseWriter, r *http.Request, name string, def, maxVal int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 || v > maxVal {
		writeError(w, http.StatusBadRequest, CodeInvalidInput,
			name+" must be an integer between 1 and "+strconv.Itoa(maxVal))
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	for _, m := range errorMappings {
		if errors.Is(err, m.sentinel) {
			return m.sentinel.Error()
		}
	}
	return "internal error"
}

// statusFor maps err to a status and code, defaulting to 500.
func statusFor(err error) (int, ErrorCode) {
	for _, m := range errorMappings {
		if errors.Is(err, m.sentinel) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternalError
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
