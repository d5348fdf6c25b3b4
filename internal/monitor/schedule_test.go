package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netmon/internal/report"
)

var testStart = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func testCfg() Config {
	return Config{
		CheckInterval:   30 * time.Minute,
		SummaryInterval: 6 * time.Hour,
		DailyHour:       23,
		DailyMinute:     59,
		Location:        time.UTC,
	}
}

type firing struct {
	at   time.Time
	acts Actions
}

// simulate runs the schedule event by event: jump to the next due instant,
// tick, record, repeat until the horizon.
func simulate(t *testing.T, cfg Config, start, until time.Time) []firing {
	t.Helper()
	state := NewScheduleState(start, cfg)
	var out []firing
	for {
		now := state.NextDue()
		if now.After(until) {
			return out
		}
		var acts Actions
		acts, state = Tick(state, now)
		require.True(t, acts.Any(), "tick at a due instant must fire")
		out = append(out, firing{at: now, acts: acts})
	}
}

func TestTickExactCountsOverTwoDays(t *testing.T) {
	t.Parallel()

	state := NewScheduleState(testStart, testCfg())
	var measures, sixHours, dailies int
	end := testStart.Add(48 * time.Hour)
	for now := testStart.Add(time.Minute); !now.After(end); now = now.Add(time.Minute) {
		var acts Actions
		acts, state = Tick(state, now)
		if acts.Measure {
			measures++
		}
		if acts.SixHour != nil {
			sixHours++
		}
		if acts.Daily != nil {
			dailies++
		}
	}

	require.Equal(t, 96, measures, "one measurement per half hour over 48h")
	require.Equal(t, 8, sixHours, "one six-hour report per six hours")
	require.Equal(t, 2, dailies, "one daily report per day")
}

func TestTickNothingDueAtStart(t *testing.T) {
	t.Parallel()

	state := NewScheduleState(testStart, testCfg())
	acts, next := Tick(state, testStart)
	require.False(t, acts.Any())
	require.Equal(t, state, next)
}

func TestTickAdvancesFromDueNotFromNow(t *testing.T) {
	t.Parallel()

	state := NewScheduleState(testStart, testCfg())

	// Wake up seven minutes late: the action fires but the next due keeps
	// the original grid.
	acts, state := Tick(state, testStart.Add(37*time.Minute))
	require.True(t, acts.Measure)
	require.Equal(t, testStart.Add(time.Hour), state.NextSampleDue)

	// Same for reports: the window ends at the scheduled due, not at now.
	state.NextSampleDue = testStart.Add(100 * time.Hour) // park it out of the way
	acts, state = Tick(state, testStart.Add(6*time.Hour+5*time.Minute))
	require.NotNil(t, acts.SixHour)
	require.Equal(t, testStart.Add(6*time.Hour), acts.SixHour.End)
	require.Equal(t, testStart.Add(12*time.Hour), state.NextSixHourDue)
}

func TestTickCatchUpDrainsOnePeriodPerCall(t *testing.T) {
	t.Parallel()

	state := NewScheduleState(testStart, testCfg())
	now := testStart.Add(65 * time.Minute) // two sample periods behind

	acts, state := Tick(state, now)
	require.True(t, acts.Measure)
	acts, state = Tick(state, now)
	require.True(t, acts.Measure)
	acts, _ = Tick(state, now)
	require.False(t, acts.Measure, "only two periods elapsed")
}

func TestTickBoundaryCoincidence(t *testing.T) {
	t.Parallel()

	cfg := testCfg()
	cfg.DailyHour, cfg.DailyMinute = 0, 0 // midnight collides with a six-hour due

	fired := simulate(t, cfg, testStart, testStart.Add(24*time.Hour))
	last := fired[len(fired)-1]

	require.Equal(t, testStart.Add(24*time.Hour), last.at)
	require.True(t, last.acts.Measure)
	require.NotNil(t, last.acts.SixHour)
	require.NotNil(t, last.acts.Daily)
	require.Equal(t, testStart.Add(18*time.Hour), last.acts.SixHour.Start)
	require.Equal(t, testStart.Add(24*time.Hour), last.acts.SixHour.End)
	require.Equal(t, testStart, last.acts.Daily.Start)
	require.Equal(t, testStart.Add(24*time.Hour), last.acts.Daily.End)
}

func TestSixHourWindowsContiguous(t *testing.T) {
	t.Parallel()

	var windows []report.Window
	for _, f := range simulate(t, testCfg(), testStart, testStart.Add(48*time.Hour)) {
		if f.acts.SixHour != nil {
			windows = append(windows, *f.acts.SixHour)
		}
	}

	require.Len(t, windows, 8)
	require.Equal(t, testStart, windows[0].Start)
	for i, w := range windows {
		require.Equal(t, 6*time.Hour, w.End.Sub(w.Start))
		require.Equal(t, report.KindSixHour, w.Kind)
		if i > 0 {
			require.Equal(t, windows[i-1].End, w.Start, "window %d must start where %d ended", i, i-1)
		}
	}
}

func TestDailyWindows(t *testing.T) {
	t.Parallel()

	var windows []report.Window
	for _, f := range simulate(t, testCfg(), testStart, testStart.Add(72*time.Hour)) {
		if f.acts.Daily != nil {
			windows = append(windows, *f.acts.Daily)
		}
	}

	firstDue := time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC)
	require.Len(t, windows, 3)
	// The first window runs from process start to the first boundary and is
	// shorter than a day; the rest are exactly 24h and contiguous.
	require.Equal(t, testStart, windows[0].Start)
	require.Equal(t, firstDue, windows[0].End)
	require.Equal(t, firstDue, windows[1].Start)
	require.Equal(t, firstDue.AddDate(0, 0, 1), windows[1].End)
	require.Equal(t, 24*time.Hour, windows[2].End.Sub(windows[2].Start))
}

func TestScheduleSequence(t *testing.T) {
	t.Parallel()

	fired := simulate(t, testCfg(), testStart, testStart.Add(24*time.Hour))

	require.Equal(t, testStart.Add(30*time.Minute), fired[0].at, "first sample one interval after start")
	require.True(t, fired[0].acts.Measure)

	bySixHour := map[time.Time]report.Window{}
	var daily *firing
	for i := range fired {
		if w := fired[i].acts.SixHour; w != nil {
			bySixHour[fired[i].at] = *w
		}
		if fired[i].acts.Daily != nil {
			daily = &fired[i]
		}
	}

	at0600 := testStart.Add(6 * time.Hour)
	w, ok := bySixHour[at0600]
	require.True(t, ok, "six-hour report due at 06:00")
	require.Equal(t, testStart, w.Start)
	require.Equal(t, at0600, w.End)

	require.NotNil(t, daily)
	require.Equal(t, time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC), daily.at)
	require.Equal(t, testStart, daily.acts.Daily.Start)
	require.Equal(t, daily.at, daily.acts.Daily.End)
}

func TestNextDaily(t *testing.T) {
	t.Parallel()

	ist := time.FixedZone("IST", 5*3600+1800)
	for _, tc := range []struct {
		name         string
		after        time.Time
		hour, minute int
		loc          *time.Location
		want         time.Time
	}{
		{
			name:  "later same day",
			after: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
			hour:  23, minute: 59, loc: time.UTC,
			want: time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC),
		},
		{
			name:  "exactly at the boundary rolls over",
			after: time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC),
			hour:  23, minute: 59, loc: time.UTC,
			want: time.Date(2025, 3, 11, 23, 59, 0, 0, time.UTC),
		},
		{
			name:  "just past the boundary",
			after: time.Date(2025, 3, 10, 23, 59, 30, 0, time.UTC),
			hour:  23, minute: 59, loc: time.UTC,
			want: time.Date(2025, 3, 11, 23, 59, 0, 0, time.UTC),
		},
		{
			name:  "midnight schedule",
			after: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			hour:  0, minute: 0, loc: time.UTC,
			want: time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "boundary follows the configured zone",
			after: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), // 05:30 IST
			hour:  6, minute: 0, loc: ist,
			want: time.Date(2025, 3, 10, 6, 0, 0, 0, ist),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := nextDaily(tc.after, tc.hour, tc.minute, tc.loc)
			require.True(t, tc.want.Equal(got), "want %v, got %v", tc.want, got)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, testCfg().validate())

	for name, mutate := range map[string]func(*Config){
		"zero check interval":   func(c *Config) { c.CheckInterval = 0 },
		"zero summary interval": func(c *Config) { c.SummaryInterval = 0 },
		"hour out of range":     func(c *Config) { c.DailyHour = 24 },
		"minute out of range":   func(c *Config) { c.DailyMinute = 60 },
		"negative hour":         func(c *Config) { c.DailyHour = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := testCfg()
			mutate(&cfg)
			require.Error(t, cfg.validate())
		})
	}
}
