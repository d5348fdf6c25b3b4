// Package monitor drives the measurement and reporting schedule.
package monitor

import (
	"errors"
	"time"

	"netmon/internal/report"
)

// Config is the slice of configuration the schedule and loop need.
type Config struct {
	CheckInterval   time.Duration
	SummaryInterval time.Duration
	DailyHour       int
	DailyMinute     int
	// Location anchors the daily wall-clock boundary. Nil means local time.
	Location *time.Location

	DownloadThresholdMbps float64
	UploadThresholdMbps   float64
}

func (c Config) validate() error {
	if c.CheckInterval <= 0 {
		return errors.New("check interval must be > 0")
	}
	if c.SummaryInterval <= 0 {
		return errors.New("summary interval must be > 0")
	}
	if c.DailyHour < 0 || c.DailyHour > 23 || c.DailyMinute < 0 || c.DailyMinute > 59 {
		return errors.New("daily report time out of range")
	}
	return nil
}

func (c Config) loc() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.Local
}

// ScheduleState holds the three due-times the loop sleeps against, plus the
// start of the window currently accumulating for each report kind. It is a
// value: Tick returns an advanced copy and the loop threads it through.
// Nothing here is persisted; a restart starts fresh from the current time.
type ScheduleState struct {
	NextSampleDue  time.Time
	NextSixHourDue time.Time
	NextDailyDue   time.Time

	sixHourStart time.Time
	dailyStart   time.Time
	cfg          Config
}

// NewScheduleState anchors the schedule at start: the first sample is due one
// interval later and the first report windows open at start.
func NewScheduleState(start time.Time, cfg Config) ScheduleState {
	return ScheduleState{
		NextSampleDue:  start.Add(cfg.CheckInterval),
		NextSixHourDue: start.Add(cfg.SummaryInterval),
		NextDailyDue:   nextDaily(start, cfg.DailyHour, cfg.DailyMinute, cfg.loc()),
		sixHourStart:   start,
		dailyStart:     start,
		cfg:            cfg,
	}
}

// NextDue is the earliest of the three due-times; the loop sleeps until it.
func (s ScheduleState) NextDue() time.Time {
	next := s.NextSampleDue
	if s.NextSixHourDue.Before(next) {
		next = s.NextSixHourDue
	}
	if s.NextDailyDue.Before(next) {
		next = s.NextDailyDue
	}
	return next
}

// Actions lists what fired in one tick. Report windows carry the half-open
// range [window start, due) so a delayed wake-up still reports the scheduled
// range.
type Actions struct {
	Measure bool
	SixHour *report.Window
	Daily   *report.Window
}

// Any reports whether the tick fired anything.
func (a Actions) Any() bool { return a.Measure || a.SixHour != nil || a.Daily != nil }

// Tick decides which actions are due at now and returns the advanced state.
// Each next due-time moves by the configured period from the PREVIOUS due,
// never from now, so execution latency cannot accumulate into drift. Each
// kind fires at most once per call; a loop that fell behind calls Tick again
// and drains one period per call, so missed boundaries are made up rather
// than skipped.
func Tick(s ScheduleState, now time.Time) (Actions, ScheduleState) {
	var acts Actions

	if !now.Before(s.NextSampleDue) {
		acts.Measure = true
		s.NextSampleDue = s.NextSampleDue.Add(s.cfg.CheckInterval)
	}
	if !now.Before(s.NextSixHourDue) {
		w := report.Window{Start: s.sixHourStart, End: s.NextSixHourDue, Kind: report.KindSixHour}
		acts.SixHour = &w
		s.sixHourStart = s.NextSixHourDue
		s.NextSixHourDue = s.NextSixHourDue.Add(s.cfg.SummaryInterval)
	}
	if !now.Before(s.NextDailyDue) {
		w := report.Window{Start: s.dailyStart, End: s.NextDailyDue, Kind: report.KindDaily}
		acts.Daily = &w
		s.dailyStart = s.NextDailyDue
		s.NextDailyDue = nextDaily(s.NextDailyDue, s.cfg.DailyHour, s.cfg.DailyMinute, s.cfg.loc())
	}
	return acts, s
}

// nextDaily returns the first instant strictly after the given one whose
// wall clock in loc reads hour:minute.
func nextDaily(after time.Time, hour, minute int, loc *time.Location) time.Time {
	t := after.In(loc)
	due := time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, loc)
	if !due.After(after) {
		due = due.AddDate(0, 0, 1)
	}
	return due
}
