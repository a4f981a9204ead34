package main

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/watchledger/internal/domain"
)

type quotaOut struct {
	Used    int64     `yaml:"used"`
	Limit   int64     `yaml:"limit"`
	Percent float64   `yaml:"percentage_used"`
	ResetAt time.Time `yaml:"reset_at"`
}

type dayOut struct {
	Date         string  `yaml:"date"`
	Added        int     `yaml:"added"`
	WatchMinutes float64 `yaml:"watch_minutes"`
}

type historyOut struct {
	ID           string    `yaml:"id"`
	Title        string    `yaml:"title"`
	WatchMinutes float64   `yaml:"watch_minutes"`
	AddedAt      time.Time `yaml:"added_at"`
}

type statsOut struct {
	TotalEntities        int          `yaml:"total_entities"`
	TotalDurationMinutes float64      `yaml:"total_duration_minutes"`
	Today                dayOut       `yaml:"today"`
	Month                dayOut       `yaml:"month"`
	Quota                quotaOut     `yaml:"quota"`
	LastCheck            *time.Time   `yaml:"last_check,omitempty"`
	Daily                []dayOut     `yaml:"daily"`
	History              []historyOut `yaml:"history"`
}

type totalsOut struct {
	Count           int     `yaml:"count"`
	DurationMinutes float64 `yaml:"duration_minutes"`
}

type reportOut struct {
	ID           string    `yaml:"id"`
	Status       string    `yaml:"status"`
	RemovedCount int       `yaml:"removed_count"`
	Before       totalsOut `yaml:"before"`
	After        totalsOut `yaml:"after"`
	TimeSaved    float64   `yaml:"time_saved"`
	Quota        quotaOut  `yaml:"quota"`
	Attempts     int       `yaml:"attempts"`
	Error        string    `yaml:"error,omitempty"`
	Timestamp    time.Time `yaml:"timestamp"`
}

type scheduleOut struct {
	Times       []string  `yaml:"times"`
	Minutes     []int     `yaml:"allowed_minutes_of_day"`
	LastUpdated time.Time `yaml:"last_updated"`
}

type migrationView struct {
	From    int      `yaml:"from"`
	To      int      `yaml:"to"`
	Applied []int    `yaml:"applied"`
	Backups []string `yaml:"backups"`
}

func quotaView(q domain.QuotaSnapshot) quotaOut {
	return quotaOut{Used: q.Used, Limit: q.Limit, Percent: domain.RoundMinutes(q.PercentageUsed()), ResetAt: q.ResetAt}
}

func statsOutput(s domain.Stats, daily []domain.DailyStat, history []domain.HistoryEntry) statsOut {
	out := statsOut{
		TotalEntities:        s.TotalEntities,
		TotalDurationMinutes: s.TotalDurationMinutes,
		Today:                dayOut{Date: s.Today, Added: s.TodayRollup.Added, WatchMinutes: s.TodayRollup.WatchMinutes},
		Month:                dayOut{Date: s.Month, Added: s.MonthRollup.Count, WatchMinutes: s.MonthRollup.WatchMinutes},
		Quota:                quotaView(s.Quota),
		Daily:                make([]dayOut, len(daily)),
		History:              make([]historyOut, len(history)),
	}
	if !s.LastCheck.IsZero() {
		lc := s.LastCheck
		out.LastCheck = &lc
	}
	for i, d := range daily {
		out.Daily[i] = dayOut{Date: d.Date, Added: d.Added, WatchMinutes: d.WatchMinutes}
	}
	for i, h := range history {
		out.History[i] = historyOut{ID: h.ID, Title: h.Title, WatchMinutes: h.WatchMinutes, AddedAt: h.AddedAt}
	}
	return out
}

func reportView(r domain.ReconcileReport) reportOut {
	return reportOut{
		ID:           r.ID,
		Status:       string(r.Status),
		RemovedCount: r.RemovedCount,
		Before:       totalsOut{Count: r.Before.Count, DurationMinutes: r.Before.DurationMinutes},
		After:        totalsOut{Count: r.After.Count, DurationMinutes: r.After.DurationMinutes},
		TimeSaved:    r.Changes.TimeSaved,
		Quota:        quotaView(r.Quota),
		Attempts:     r.Attempts,
		Error:        r.Error,
		Timestamp:    r.Timestamp,
	}
}

func scheduleView(c domain.ScheduleConfig) scheduleOut {
	return scheduleOut{Times: c.Times(), Minutes: c.AllowedMinutesOfDay, LastUpdated: c.LastUpdated}
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return enc.Close()
}
