package domain

import "time"

// ReportStatus is the terminal phase of a reconciliation pass.
type ReportStatus string

// Reconciliation outcomes.
const (
	ReportOK             ReportStatus = "ok"
	ReportQuotaExceeded  ReportStatus = "quota_exceeded"
	ReportNotInitialized ReportStatus = "not_initialized"
	ReportTransportError ReportStatus = "transport_error"
	ReportFailed         ReportStatus = "failed"
)

// Changes is the before-minus-after difference of one pass.
type Changes struct {
	VideosRemoved int
	TimeSaved     float64
}

// ReconcileReport is the structured result of one reconciliation pass.
// It is returned for failed passes too; Error carries the reason.
type ReconcileReport struct {
	ID           string
	Status       ReportStatus
	RemovedCount int
	Before       Totals
	After        Totals
	Changes      Changes
	Quota        QuotaSnapshot
	Attempts     int
	Error        string
	Timestamp    time.Time
}

// Succeeded reports whether the pass reached the apply phase without error.
func (r ReconcileReport) Succeeded() bool { return r.Status == ReportOK }

// TrackResult is returned by the discover-new path.
type TrackResult struct {
	Entity   TrackedEntity
	Quota    QuotaSnapshot
	Attempts int
}
