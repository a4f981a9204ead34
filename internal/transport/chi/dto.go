package chi

import (
	"time"

	"github.com/kailas-cloud/watchledger/internal/domain"
)

// ErrorCode is the machine-readable error code in error responses.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest     ErrorCode = "bad_request"
	CodeUnauthorized   ErrorCode = "unauthorized"
	CodeNotFound       ErrorCode = "not_found"
	CodeQuotaExceeded  ErrorCode = "quota_exceeded"
	CodeNotInitialized ErrorCode = "source_not_initialized"
	CodeSourceError    ErrorCode = "source_error"
	CodeInvalidInput   ErrorCode = "validation_failed"
	CodeConflict       ErrorCode = "conflict"
	CodeStorageError   ErrorCode = "storage_error"
	CodeInternalError  ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type quotaResponse struct {
	Used           int64     `json:"used"`
	Limit          int64     `json:"limit"`
	Remaining      int64     `json:"remaining"`
	PercentageUsed float64   `json:"percentage_used"`
	ResetAt        time.Time `json:"reset_at"`
}

type rollupResponse struct {
	Date         string  `json:"date"`
	Count        int     `json:"count"`
	WatchMinutes float64 `json:"watch_minutes"`
}

type statsResponse struct {
	TotalEntities        int            `json:"total_entities"`
	TotalDurationMinutes float64        `json:"total_duration_minutes"`
	Today                rollupResponse `json:"today"`
	Month                rollupResponse `json:"month"`
	Quota                quotaResponse  `json:"quota"`
	LastCheck            *time.Time     `json:"last_check,omitempty"`
}

type dailyStatResponse struct {
	Date         string  `json:"date"`
	Added        int     `json:"added"`
	WatchMinutes float64 `json:"watch_minutes"`
}

type historyEntryResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	WatchMinutes float64   `json:"watch_minutes"`
	AddedAt      time.Time `json:"added_at"`
}

type totalsResponse struct {
	Count           int     `json:"count"`
	DurationMinutes float64 `json:"duration_minutes"`
}

type changesResponse struct {
	VideosRemoved int     `json:"videos_removed"`
	TimeSaved     float64 `json:"time_saved"`
}

type reportResponse struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	RemovedCount int             `json:"removed_count"`
	Before       totalsResponse  `json:"before"`
	After        totalsResponse  `json:"after"`
	Changes      changesResponse `json:"changes"`
	Quota        quotaResponse   `json:"quota"`
	Attempts     int             `json:"attempts"`
	Error        *ErrorResponse  `json:"error,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

type trackRequest struct {
	ID string `json:"id"`
}

type entityResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	DurationMinutes float64   `json:"duration_minutes"`
	AddedAt         time.Time `json:"added_at"`
}

type entityListResponse struct {
	Entities []entityResponse `json:"entities"`
	Count    int              `json:"count"`
}

type trackResponse struct {
	Entity   entityResponse `json:"entity"`
	Quota    quotaResponse  `json:"quota"`
	Attempts int            `json:"attempts"`
}

type removeResponse struct {
	ID             string  `json:"id"`
	RemovedMinutes float64 `json:"removed_minutes"`
}

type scheduleRequest struct {
	Times []string `json:"times"`
}

type scheduleResponse struct {
	Times               []string  `json:"times"`
	AllowedMinutesOfDay []int     `json:"allowed_minutes_of_day"`
	LastUpdated         time.Time `json:"last_updated"`
}

type taskStatusResponse struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

type schedulerStatusResponse struct {
	Running bool                 `json:"running"`
	Times   []string             `json:"times"`
	Tasks   []taskStatusResponse `json:"tasks"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func quotaToResponse(q domain.QuotaSnapshot) quotaResponse {
	return quotaResponse{
		Used:           q.Used,
		Limit:          q.Limit,
		Remaining:      q.Remaining(),
		PercentageUsed: domain.RoundMinutes(q.PercentageUsed()),
		ResetAt:        q.ResetAt,
	}
}

func statsToResponse(s domain.Stats) statsResponse {
	resp := statsResponse{
		TotalEntities:        s.TotalEntities,
		TotalDurationMinutes: s.TotalDurationMinutes,
		Today:                rollupResponse{Date: s.Today, Count: s.TodayRollup.Added, WatchMinutes: s.TodayRollup.WatchMinutes},
		Month:                rollupResponse{Date: s.Month, Count: s.MonthRollup.Count, WatchMinutes: s.MonthRollup.WatchMinutes},
		Quota:                quotaToResponse(s.Quota),
	}
	if !s.LastCheck.IsZero() {
		lc := s.LastCheck
		resp.LastCheck = &lc
	}
	return resp
}

func reportToResponse(r domain.ReconcileReport) reportResponse {
	return reportResponse{
		ID:           r.ID,
		Status:       string(r.Status),
		RemovedCount: r.RemovedCount,
		Before:       totalsResponse{Count: r.Before.Count, DurationMinutes: r.Before.DurationMinutes},
		After:        totalsResponse{Count: r.After.Count, DurationMinutes: r.After.DurationMinutes},
		Changes:      changesResponse{VideosRemoved: r.Changes.VideosRemoved, TimeSaved: r.Changes.TimeSaved},
		Quota:        quotaToResponse(r.Quota),
		Attempts:     r.Attempts,
		Timestamp:    r.Timestamp,
	}
}

func entityToResponse(e domain.TrackedEntity) entityResponse {
	return entityResponse{ID: e.ID, Title: e.Title, DurationMinutes: e.DurationMinutes, AddedAt: e.AddedAt}
}

func scheduleToResponse(c domain.ScheduleConfig) scheduleResponse {
	minutes := c.AllowedMinutesOfDay
	if minutes == nil {
		minutes = []int{}
	}
	return scheduleResponse{Times: c.Times(), AllowedMinutesOfDay: minutes, LastUpdated: c.LastUpdated}
}

func schedulerStatusToResponse(s domain.SchedulerStatus) schedulerStatusResponse {
	tasks := make([]taskStatusResponse, len(s.Tasks))
	for i, t := range s.Tasks {
		tasks[i] = taskStatusResponse{ID: t.ID, Description: t.Description, LastRunAt: t.LastRunAt, LastError: t.LastError}
	}
	times := s.AllowedTimes
	if times == nil {
		times = []string{}
	}
	return schedulerStatusResponse{Running: s.Running, Times: times, Tasks: tasks}
}
