package domain

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"time"
)

// MinutesPerDay bounds a minute-of-day value: valid range is [0, MinutesPerDay).
const MinutesPerDay = 24 * 60

// DefaultScheduleTimes are the allowed windows used when no schedule is persisted.
var DefaultScheduleTimes = []string{"09:00", "12:00", "15:00", "18:00", "21:00"}

var clockRegex = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):([0-5][0-9])$`)

// ScheduleConfig is the persisted set of allowed minutes of day.
type ScheduleConfig struct {
	AllowedMinutesOfDay []int
	LastUpdated         time.Time
}

// NewScheduleConfig validates, deduplicates and sorts the minutes.
func NewScheduleConfig(minutes []int, updated time.Time) (ScheduleConfig, error) {
	out := make([]int, 0, len(minutes))
	for _, m := range minutes {
		if m < 0 || m >= MinutesPerDay {
			return ScheduleConfig{}, fmt.Errorf("%w: minute %d out of range 0-%d", ErrInvalidSchedule, m, MinutesPerDay-1)
		}
		out = append(out, m)
	}
	slices.Sort(out)
	return ScheduleConfig{AllowedMinutesOfDay: slices.Compact(out), LastUpdated: updated}, nil
}

// Times renders the windows as HH:MM strings.
func (c ScheduleConfig) Times() []string {
	out := make([]string, len(c.AllowedMinutesOfDay))
	for i, m := range c.AllowedMinutesOfDay {
		out[i] = FormatClock(m)
	}
	return out
}

// ParseClock converts "HH:MM" to minutes since midnight.
func ParseClock(s string) (int, error) {
	m := clockRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidSchedule, s)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return h*60 + mm, nil
}

// ParseClocks converts a list of "HH:MM" strings.
func ParseClocks(times []string) ([]int, error) {
	out := make([]int, 0, len(times))
	for _, t := range times {
		m, err := ParseClock(t)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// MinuteOfDay returns t's minutes since midnight in t's location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// TaskStatus describes one registered task for status reporting.
type TaskStatus struct {
	ID          string
	Description string
	LastRunAt   *time.Time
	LastError   string
}

// SchedulerStatus is the scheduler's reportable state.
type SchedulerStatus struct {
	Running             bool
	AllowedMinutesOfDay []int
	AllowedTimes        []string
	Tasks               []TaskStatus
}
