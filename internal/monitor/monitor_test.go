package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"netmon/internal/report"
	"netmon/internal/storage"
	"netmon/pkg/speedtest"
)

type fakeProber struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (*speedtest.Result, error)
}

func (p *fakeProber) Run(ctx context.Context) (*speedtest.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fn != nil {
		return p.fn(p.calls)
	}
	return &speedtest.Result{DownloadMbps: 600, UploadMbps: 400, LatencyMs: 12}, nil
}

func (p *fakeProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeResolver struct {
	mu   sync.Mutex
	addr string
	err  error
}

func (r *fakeResolver) Lookup(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr, r.err
}

func (r *fakeResolver) set(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addr = addr
}

type fakeMailer struct {
	mu       sync.Mutex
	err      error
	attempts int
	sent     []*report.Report
}

func (m *fakeMailer) SendReport(ctx context.Context, rep *report.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, rep)
	return nil
}

func (m *fakeMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *fakeMailer) attemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *fakeMailer) report(i int) *report.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[i]
}

type recordSink struct {
	mu      sync.Mutex
	samples []storage.Sample
	changes [][2]string
}

func (s *recordSink) ObserveSample(ctx context.Context, sm storage.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sm)
}

func (s *recordSink) ObserveIPChange(ctx context.Context, previous, current string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, [2]string{previous, current})
}

func (s *recordSink) changeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.changes)
}

// memStore is an in-memory storage.Store with the same half-open query
// semantics as the real drivers.
type memStore struct {
	mu           sync.Mutex
	insertErr    error
	samples      []storage.Sample
	observations []storage.IPObservation
}

func (s *memStore) InsertSample(ctx context.Context, sm storage.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.samples = append(s.samples, sm)
	return nil
}

func (s *memStore) InsertIPObservation(ctx context.Context, o storage.IPObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.observations = append(s.observations, o)
	return nil
}

func (s *memStore) QuerySamples(ctx context.Context, start, end time.Time) ([]storage.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Sample
	for _, sm := range s.samples {
		if !sm.Timestamp.Before(start) && sm.Timestamp.Before(end) {
			out = append(out, sm)
		}
	}
	return out, nil
}

func (s *memStore) QueryIPObservations(ctx context.Context, start, end time.Time) ([]storage.IPObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.IPObservation
	for _, o := range s.observations {
		if !o.Timestamp.Before(start) && o.Timestamp.Before(end) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []storage.Sample
	var pruned int64
	for _, sm := range s.samples {
		if sm.Timestamp.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, sm)
	}
	s.samples = kept
	return pruned, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) sampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func (s *memStore) sample(i int) storage.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples[i]
}

func (s *memStore) observationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observations)
}

func (s *memStore) setInsertErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErr = err
}

type loopHarness struct {
	clk      *clockwork.FakeClock
	store    *memStore
	prober   *fakeProber
	resolver *fakeResolver
	mailer   *fakeMailer
	sink     *recordSink

	cancel  context.CancelFunc
	done    chan error
	stopped bool
}

func startLoop(t *testing.T, cfg Config, mutate func(*loopHarness)) *loopHarness {
	t.Helper()

	h := &loopHarness{
		clk:      clockwork.NewFakeClockAt(testStart),
		store:    &memStore{},
		prober:   &fakeProber{},
		resolver: &fakeResolver{addr: "198.51.100.7"},
		mailer:   &fakeMailer{},
		sink:     &recordSink{},
	}
	if mutate != nil {
		mutate(h)
	}

	mon, err := New(cfg, Deps{
		Store:    h.store,
		Prober:   h.prober,
		Resolver: h.resolver,
		Mailer:   h.mailer,
		Alerts:   h.sink,
	}, WithClock(h.clk))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- mon.Run(ctx) }()

	t.Cleanup(func() {
		if !h.stopped {
			h.stop(t)
		}
	})
	return h
}

func (h *loopHarness) stop(t *testing.T) error {
	t.Helper()
	h.stopped = true
	h.cancel()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
		return nil
	}
}

// advance waits for the loop to reach its sleep, then moves the clock.
func (h *loopHarness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clk.BlockUntilContext(ctx, 1))
	h.clk.Advance(d)
}

func (h *loopHarness) waitProbes(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.prober.count() >= n },
		2*time.Second, time.Millisecond)
}

func quietCfg() Config {
	cfg := testCfg()
	// Park the reports far away so sample tests only see measurements.
	cfg.SummaryInterval = 1000 * time.Hour
	return cfg
}

func TestRunStartupProbe(t *testing.T) {
	t.Parallel()

	h := startLoop(t, quietCfg(), nil)
	h.waitProbes(t, 1)

	require.Eventually(t, func() bool { return h.store.sampleCount() == 1 },
		2*time.Second, time.Millisecond)
	s := h.store.sample(0)
	require.Equal(t, testStart, s.Timestamp)
	require.Equal(t, storage.StatusOK, s.Status)
	require.Equal(t, 600.0, s.DownloadMbps)
}

func TestRunMeasuresOnSchedule(t *testing.T) {
	t.Parallel()

	h := startLoop(t, quietCfg(), nil)
	h.waitProbes(t, 1)

	h.advance(t, 30*time.Minute)
	h.waitProbes(t, 2)
	h.advance(t, 30*time.Minute)
	h.waitProbes(t, 3)

	require.Eventually(t, func() bool { return h.store.sampleCount() == 3 },
		2*time.Second, time.Millisecond)
	require.Equal(t, testStart, h.store.sample(0).Timestamp)
	require.Equal(t, testStart.Add(30*time.Minute), h.store.sample(1).Timestamp)
	require.Equal(t, testStart.Add(time.Hour), h.store.sample(2).Timestamp)
}

func TestRunSixHourReport(t *testing.T) {
	t.Parallel()

	cfg := testCfg()
	cfg.SummaryInterval = time.Hour

	h := startLoop(t, cfg, nil)
	h.waitProbes(t, 1)

	h.advance(t, 30*time.Minute)
	h.waitProbes(t, 2)
	h.advance(t, 30*time.Minute) // measure and report land on the same wake-up
	h.waitProbes(t, 3)

	require.Eventually(t, func() bool { return h.mailer.sentCount() == 1 },
		2*time.Second, time.Millisecond)

	rep := h.mailer.report(0)
	require.Equal(t, report.KindSixHour, rep.Window.Kind)
	require.Equal(t, testStart, rep.Window.Start)
	require.Equal(t, testStart.Add(time.Hour), rep.Window.End)
	// The sample measured at the boundary instant belongs to the next window.
	require.Equal(t, 2, rep.Aggregate.TotalSamples)
}

func TestRunDailyReport(t *testing.T) {
	t.Parallel()

	cfg := quietCfg()
	cfg.DailyHour, cfg.DailyMinute = 1, 0

	h := startLoop(t, cfg, nil)
	h.waitProbes(t, 1)

	h.advance(t, 30*time.Minute)
	h.waitProbes(t, 2)
	h.advance(t, 30*time.Minute)
	h.waitProbes(t, 3)

	require.Eventually(t, func() bool { return h.mailer.sentCount() == 1 },
		2*time.Second, time.Millisecond)

	rep := h.mailer.report(0)
	require.Equal(t, report.KindDaily, rep.Window.Kind)
	require.Equal(t, testStart, rep.Window.Start)
	require.Equal(t, testStart.Add(time.Hour), rep.Window.End)
	require.Equal(t, 2, rep.Aggregate.TotalSamples)
}

func TestRunProbeFailureRecordsFailedSample(t *testing.T) {
	t.Parallel()

	h := startLoop(t, quietCfg(), func(h *loopHarness) {
		h.prober.fn = func(call int) (*speedtest.Result, error) {
			if call == 2 {
				return nil, errors.New("all servers unreachable")
			}
			return &speedtest.Result{DownloadMbps: 500, UploadMbps: 350, LatencyMs: 10}, nil
		}
	})
	h.waitProbes(t, 1)

	h.advance(t, 30*time.Minute)
	h.waitProbes(t, 2)
	h.advance(t, 30*time.Minute)
	h.waitProbes(t, 3)

	require.Eventually(t, func() bool { return h.store.sampleCount() == 3 },
		2*time.Second, time.Millisecond)

	failed := h.store.sample(1)
	require.Equal(t, storage.StatusFailed, failed.Status)
	require.Zero(t, failed.DownloadMbps)
	require.Zero(t, failed.UploadMbps)
	require.Equal(t, testStart.Add(30*time.Minute), failed.Timestamp)

	// The failure did not disturb the grid.
	require.Equal(t, testStart.Add(time.Hour), h.store.sample(2).Timestamp)
	require.Equal(t, storage.StatusOK, h.store.sample(2).Status)
}

func TestRunPersistErrorDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	h := startLoop(t, quietCfg(), func(h *loopHarness) {
		h.store.setInsertErr(errors.New("disk full"))
	})
	h.waitProbes(t, 1)

	h.advance(t, 30*time.Minute)
	h.waitProbes(t, 2)

	require.Zero(t, h.store.sampleCount(), "dropped writes must not be buffered")
}

func TestRunNoDataSkipsReport(t *testing.T) {
	t.Parallel()

	cfg := testCfg()
	cfg.SummaryInterval = time.Hour

	h := startLoop(t, cfg, func(h *loopHarness) {
		h.store.setInsertErr(errors.New("disk full"))
	})
	h.waitProbes(t, 1)

	h.advance(t, 30*time.Minute)
	h.waitProbes(t, 2)
	h.advance(t, 30*time.Minute) // report window closes empty
	h.waitProbes(t, 3)
	h.advance(t, 30*time.Minute) // one more wake-up proves the loop survived
	h.waitProbes(t, 4)

	require.Zero(t, h.mailer.attemptCount(), "empty windows are skipped, not sent")
}

func TestRunMailerFailureKeepsSchedule(t *testing.T) {
	t.Parallel()

	cfg := testCfg()
	cfg.SummaryInterval = time.Hour

	h := startLoop(t, cfg, func(h *loopHarness) {
		h.mailer.err = errors.New("smtp down")
	})
	h.waitProbes(t, 1)

	for i := 0; i < 4; i++ { // through two report boundaries
		h.advance(t, 30*time.Minute)
		h.waitProbes(t, i+2)
	}

	require.Eventually(t, func() bool { return h.mailer.attemptCount() == 2 },
		2*time.Second, time.Millisecond)
	require.Zero(t, h.mailer.sentCount())
}

func TestRunRecordsIPChanges(t *testing.T) {
	t.Parallel()

	h := startLoop(t, quietCfg(), nil)
	h.waitProbes(t, 1)

	// First sight writes an observation without flagging a change upstream.
	require.Eventually(t, func() bool { return h.store.observationCount() == 1 },
		2*time.Second, time.Millisecond)

	h.resolver.set("203.0.113.99")
	h.advance(t, 30*time.Minute)
	h.waitProbes(t, 2)

	require.Eventually(t, func() bool { return h.store.observationCount() == 2 },
		2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return h.sink.changeCount() == 2 },
		2*time.Second, time.Millisecond)

	h.sink.mu.Lock()
	changes := append([][2]string(nil), h.sink.changes...)
	h.sink.mu.Unlock()
	require.Equal(t, [2]string{"", "198.51.100.7"}, changes[0])
	require.Equal(t, [2]string{"198.51.100.7", "203.0.113.99"}, changes[1])

	// A stable address adds nothing.
	h.advance(t, 30*time.Minute)
	h.waitProbes(t, 3)
	h.advance(t, 30*time.Minute)
	h.waitProbes(t, 4)
	require.Equal(t, 2, h.store.observationCount())
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	h := startLoop(t, quietCfg(), nil)
	h.waitProbes(t, 1)

	require.NoError(t, h.stop(t))
}

func TestReportNow(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClockAt(testStart.Add(12 * time.Hour))
	store := &memStore{}
	mailer := &fakeMailer{}

	for i := 0; i < 3; i++ {
		require.NoError(t, store.InsertSample(context.Background(), storage.Sample{
			Timestamp:    testStart.Add(time.Duration(7+i) * time.Hour),
			DownloadMbps: 550,
			UploadMbps:   380,
			LatencyMs:    11,
			Status:       storage.StatusOK,
		}))
	}

	mon, err := New(testCfg(), Deps{
		Store:    store,
		Prober:   &fakeProber{},
		Resolver: &fakeResolver{addr: "198.51.100.7"},
		Mailer:   mailer,
	}, WithClock(clk))
	require.NoError(t, err)

	require.NoError(t, mon.ReportNow(context.Background(), 6))
	require.Equal(t, 1, mailer.sentCount())

	rep := mailer.report(0)
	require.Equal(t, report.KindAdHoc, rep.Window.Kind)
	require.Equal(t, testStart.Add(6*time.Hour), rep.Window.Start)
	require.Equal(t, testStart.Add(12*time.Hour), rep.Window.End)
	require.Equal(t, 3, rep.Aggregate.TotalSamples)

	require.ErrorIs(t, mon.ReportNow(context.Background(), 1), ErrNoData)
	require.Error(t, mon.ReportNow(context.Background(), 0))
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	deps := Deps{
		Store:    &memStore{},
		Prober:   &fakeProber{},
		Resolver: &fakeResolver{},
		Mailer:   &fakeMailer{},
	}

	_, err := New(Config{}, deps)
	require.ErrorContains(t, err, "monitor config")

	deps.Mailer = nil
	_, err = New(testCfg(), deps)
	require.ErrorContains(t, err, "required")
}
