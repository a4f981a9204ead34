package domain

import "time"

// Ledger and quota defaults shared by config and use cases.
const (
	DefaultHistoryMax     = 100
	DefaultRetentionDays  = 30
	DefaultKeepMonths     = 12
	DefaultQuotaLimit     = 10000
	DefaultQuotaPeriod    = 24 * time.Hour
	DefaultRefuseAbovePct = 95.0
)

// Rollup key layouts.
const (
	DayLayout   = "2006-01-02"
	MonthLayout = "2006-01"
)

// CurrentSchemaVersion is the highest ledger migration this build knows.
const CurrentSchemaVersion = 4
