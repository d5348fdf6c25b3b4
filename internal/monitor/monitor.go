package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"netmon/internal/metrics"
	"netmon/internal/report"
	"netmon/internal/storage"
	"netmon/pkg/logx"
	"netmon/pkg/speedtest"
)

// ErrNoData marks a report window that held no samples. The scheduled loop
// logs it and moves on; the CLI surfaces it to the operator.
var ErrNoData = errors.New("no samples in window")

// Prober runs one measurement.
type Prober interface {
	Run(ctx context.Context) (*speedtest.Result, error)
}

// IPResolver looks up the host's current public address.
type IPResolver interface {
	Lookup(ctx context.Context) (string, error)
}

// Mailer delivers a finished window report.
type Mailer interface {
	SendReport(ctx context.Context, rep *report.Report) error
}

// AlertSink receives samples and address changes for threshold alerting.
type AlertSink interface {
	ObserveSample(ctx context.Context, s storage.Sample)
	ObserveIPChange(ctx context.Context, previous, current string)
}

// Deps are the monitor's collaborators. Alerts may be nil.
type Deps struct {
	Store    storage.Store
	Prober   Prober
	Resolver IPResolver
	Mailer   Mailer
	Alerts   AlertSink
	Log      logx.Logger
}

// Monitor owns the measurement loop: probe on the check interval, persist,
// and mail the six-hour and daily reports. Failures in any one step are
// contained there; only context cancellation stops the loop.
type Monitor struct {
	cfg   Config
	deps  Deps
	clock clockwork.Clock
	log   logx.Logger

	lastIP string
}

// Option adjusts a Monitor at construction time.
type Option func(*Monitor)

// WithClock substitutes the wall clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// New validates cfg and assembles the loop.
func New(cfg Config, deps Deps, opts ...Option) (*Monitor, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("monitor config: %w", err)
	}
	if deps.Store == nil || deps.Prober == nil || deps.Resolver == nil || deps.Mailer == nil {
		return nil, errors.New("monitor: store, prober, resolver and mailer are required")
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Monitor{
		cfg:   cfg,
		deps:  deps,
		clock: clockwork.NewRealClock(),
		log:   log.With(logx.String("component", "monitor")),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Run drives the loop until ctx is cancelled, which is the normal way to
// stop it and returns nil. One measurement runs immediately at startup; the
// schedule governs everything after that.
func (m *Monitor) Run(ctx context.Context) error {
	state := NewScheduleState(m.clock.Now(), m.cfg)
	m.log.Info("monitor started",
		logx.Duration("check_interval", m.cfg.CheckInterval),
		logx.Duration("summary_interval", m.cfg.SummaryInterval),
		logx.String("daily_report_time", fmt.Sprintf("%02d:%02d", m.cfg.DailyHour, m.cfg.DailyMinute)),
	)

	m.measure(ctx)

	for {
		if wait := state.NextDue().Sub(m.clock.Now()); wait > 0 {
			select {
			case <-ctx.Done():
				m.log.Info("monitor stopping")
				return nil
			case <-m.clock.After(wait):
			}
		}
		if ctx.Err() != nil {
			m.log.Info("monitor stopping")
			return nil
		}

		var acts Actions
		acts, state = Tick(state, m.clock.Now())
		if acts.Measure {
			m.measure(ctx)
		}
		if acts.SixHour != nil {
			m.report(ctx, *acts.SixHour)
		}
		if acts.Daily != nil {
			m.report(ctx, *acts.Daily)
		}
	}
}

// measure runs one probe and records the outcome. A failed probe becomes a
// failed sample so outage minutes stay visible in reports; it never
// propagates out of the loop. The public address check rides along with
// every measurement.
func (m *Monitor) measure(ctx context.Context) {
	started := m.clock.Now()
	res, err := m.deps.Prober.Run(ctx)
	if err != nil && ctx.Err() != nil {
		// Shutting down mid-probe, nothing worth recording.
		return
	}

	var sample storage.Sample
	if err != nil {
		m.log.Error("measurement failed", logx.Err(err))
		sample = storage.Sample{Timestamp: m.clock.Now(), Status: storage.StatusFailed}
	} else {
		sample = storage.Sample{
			Timestamp:    m.clock.Now(),
			DownloadMbps: res.DownloadMbps,
			UploadMbps:   res.UploadMbps,
			LatencyMs:    res.LatencyMs,
			Status:       storage.StatusOK,
		}
		m.log.Info("check completed",
			logx.Float64("download_mbps", res.DownloadMbps),
			logx.Float64("upload_mbps", res.UploadMbps),
			logx.Float64("latency_ms", res.LatencyMs),
			logx.String("server", res.ServerName),
			logx.Duration("took", res.Duration),
		)
	}

	m.recordSample(ctx, sample)
	metrics.ObserveSample(sample, m.clock.Now().Sub(started))
	if m.deps.Alerts != nil {
		m.deps.Alerts.ObserveSample(ctx, sample)
	}

	m.checkIP(ctx)
}

// recordSample persists at-most-once: a failed write is logged, counted and
// dropped rather than retried.
func (m *Monitor) recordSample(ctx context.Context, s storage.Sample) {
	if err := m.deps.Store.InsertSample(ctx, s); err != nil {
		metrics.PersistErrorsTotal.Inc()
		m.log.Error("sample write dropped", logx.Err(err), logx.Time("sample_ts", s.Timestamp))
	}
}

// checkIP compares the current public address against the last one seen and
// records an observation on first sight or change.
func (m *Monitor) checkIP(ctx context.Context) {
	addr, err := m.deps.Resolver.Lookup(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.log.Warn("public ip lookup failed", logx.Err(err))
		}
		return
	}
	if addr == m.lastIP {
		return
	}
	previous := m.lastIP
	m.lastIP = addr

	obs := storage.IPObservation{Timestamp: m.clock.Now(), Address: addr}
	if err := m.deps.Store.InsertIPObservation(ctx, obs); err != nil {
		metrics.PersistErrorsTotal.Inc()
		m.log.Error("ip observation write dropped", logx.Err(err))
	}
	if previous == "" {
		m.log.Info("public ip observed", logx.String("address", addr))
	} else {
		metrics.IPChangesTotal.Inc()
		m.log.Warn("public ip changed",
			logx.String("previous", previous), logx.String("address", addr))
	}
	if m.deps.Alerts != nil {
		m.deps.Alerts.ObserveIPChange(ctx, previous, addr)
	}
}

// report builds and mails one scheduled window. Failures are logged and the
// window is never retried; the next one will cover new ground anyway.
func (m *Monitor) report(ctx context.Context, w report.Window) {
	err := m.sendWindowReport(ctx, w)
	switch {
	case err == nil:
		metrics.ObserveReport(string(w.Kind), metrics.ReportSent)
	case errors.Is(err, ErrNoData):
		metrics.ObserveReport(string(w.Kind), metrics.ReportSkipped)
		m.log.Warn(fmt.Sprintf("no data available for the past %d hours", w.Hours()),
			logx.String("kind", string(w.Kind)),
			logx.Time("start", w.Start), logx.Time("end", w.End),
		)
	default:
		metrics.ObserveReport(string(w.Kind), metrics.ReportFailed)
		m.log.Error("report failed", logx.String("kind", string(w.Kind)), logx.Err(err))
	}
}

// ReportNow builds and mails an ad-hoc report covering the trailing hours,
// for the report CLI command. Returns ErrNoData when the range is empty.
func (m *Monitor) ReportNow(ctx context.Context, hours int) error {
	if hours <= 0 {
		return errors.New("hours must be > 0")
	}
	end := m.clock.Now()
	w := report.Window{
		Start: end.Add(-time.Duration(hours) * time.Hour),
		End:   end,
		Kind:  report.KindAdHoc,
	}
	return m.sendWindowReport(ctx, w)
}

func (m *Monitor) sendWindowReport(ctx context.Context, w report.Window) error {
	samples, err := m.deps.Store.QuerySamples(ctx, w.Start, w.End)
	if err != nil {
		return fmt.Errorf("query samples: %w", err)
	}
	observations, err := m.deps.Store.QueryIPObservations(ctx, w.Start, w.End)
	if err != nil {
		return fmt.Errorf("query ip observations: %w", err)
	}

	rep := report.Build(w, samples, observations, report.Thresholds{
		DownloadMbps: m.cfg.DownloadThresholdMbps,
		UploadMbps:   m.cfg.UploadThresholdMbps,
	})
	if rep.Aggregate.NoData {
		return ErrNoData
	}

	if err := m.deps.Mailer.SendReport(ctx, rep); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	m.log.Info("report sent",
		logx.String("kind", string(w.Kind)),
		logx.Int("samples", rep.Aggregate.TotalSamples),
		logx.Int("incidents", len(rep.Aggregate.Incidents)),
		logx.Time("start", w.Start), logx.Time("end", w.End),
	)
	return nil
}
