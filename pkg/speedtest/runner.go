// Package speedtest runs bounded speedtest.net probes and reports the
// measured download, upload and latency.
package speedtest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"

	"netmon/pkg/logx"
)

// Defaults applied when the corresponding Config field is zero.
const (
	defaultServers         = 3
	defaultPingConcurrency = 3
	defaultMaxConnections  = 4
)

// Config controls how a probe run is executed.
type Config struct {
	// Servers is how many of the nearest servers to ping before choosing one.
	Servers int
	// PingConcurrency caps concurrent latency probes.
	PingConcurrency int
	// Timeout bounds the whole run, server discovery included.
	// Zero means the caller's context is the only bound.
	Timeout time.Duration
	// MaxConnections is handed to speedtest-go for the transfer tests.
	MaxConnections int
}

func (c Config) withDefaults() Config {
	if c.Servers <= 0 {
		c.Servers = defaultServers
	}
	if c.PingConcurrency <= 0 {
		c.PingConcurrency = defaultPingConcurrency
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaultMaxConnections
	}
	return c
}

// Runner executes probe runs.
type Runner struct {
	cfg Config
	log logx.Logger
}

// NewRunner constructs a Runner.
func NewRunner(cfg Config, log logx.Logger) *Runner {
	return &Runner{cfg: cfg.withDefaults(), log: log.With(logx.String("component", "speedtest"))}
}

// Run measures download, upload and latency against the lowest-latency nearby
// server. Candidates are ranked by distance, pinged concurrently, then the
// transfer tests run sequentially until one server completes both.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := r.cfg

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	start := time.Now()

	// Dedicated transport so connections can be torn down when the run ends.
	hc, tr := newHTTPClient(cfg)

	// Package-level speedtest-go helpers keep a shared DataManager that can
	// retain large snapshots across runs; a fresh client per run keeps them
	// collectable.
	stc := st.New(
		st.WithUserConfig(&st.UserConfig{MaxConnections: cfg.MaxConnections}),
		st.WithDoer(hc),
	)
	stc.SetNThread(cfg.MaxConnections)
	defer func() {
		stc.Snapshots().Clean()
		stc.Reset()
		tr.CloseIdleConnections()
	}()

	user, err := stc.FetchUserInfoContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	candidates := nearestServers(servers, cfg.Servers)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no servers available")
	}

	pinged := r.pingCandidates(ctx, candidates, cfg.PingConcurrency)
	if len(pinged) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("all latency tests failed")
	}
	sort.Slice(pinged, func(i, j int) bool { return pinged[i].Latency < pinged[j].Latency })

	// One bad server must not fail the probe; walk the ranked list until a
	// full download/upload pass succeeds.
	var chosen *st.Server
	var down, up float64
	for _, s := range pinged {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dl, ul, err := r.transferTest(ctx, stc, s)
		if err != nil {
			r.log.Warn("transfer test failed, trying next server",
				logx.String("server", s.Host), logx.Err(err))
			continue
		}
		chosen, down, up = s, dl, ul
		break
	}
	if chosen == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("transfer test failed for all servers")
	}

	return &Result{
		Timestamp:     time.Now(),
		DownloadMbps:  down,
		UploadMbps:    up,
		LatencyMs:     durToMs(chosen.Latency),
		ISP:           user.Isp,
		ServerName:    chosen.Sponsor,
		ServerCountry: chosen.Country,
		ServerHost:    chosen.Host,
		Duration:      time.Since(start),
		Candidates:    len(candidates),
	}, nil
}

// transferTest runs the download and upload tests on one server. Snapshots
// are dropped afterwards regardless of outcome.
func (r *Runner) transferTest(ctx context.Context, stc *st.Speedtest, s *st.Server) (dl, ul float64, err error) {
	defer func() {
		stc.Snapshots().Clean()
		stc.Reset()
	}()
	if err := s.DownloadTestContext(ctx); err != nil {
		return 0, 0, fmt.Errorf("download: %w", err)
	}
	dl = s.DLSpeed.Mbps()
	if err := s.UploadTestContext(ctx); err != nil {
		return 0, 0, fmt.Errorf("upload: %w", err)
	}
	return dl, s.ULSpeed.Mbps(), nil
}

// pingCandidates latency-tests the candidates with bounded concurrency and
// returns those that answered. PingTestContext sets s.Latency as a side effect.
func (r *Runner) pingCandidates(ctx context.Context, servers []*st.Server, maxConcurrent int) []*st.Server {
	sem := make(chan struct{}, maxConcurrent)
	out := make(chan *st.Server, len(servers))
	var wg sync.WaitGroup

	for _, s := range servers {
		wg.Add(1)
		go func(s *st.Server) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			if err := s.PingTestContext(ctx, nil); err != nil {
				r.log.Debug("ping test failed",
					logx.String("server", s.Host), logx.Err(err))
				return
			}
			if s.Latency > 0 {
				out <- s
			}
		}(s)
	}

	wg.Wait()
	close(out)

	pinged := make([]*st.Server, 0, len(servers))
	for s := range out {
		pinged = append(pinged, s)
	}
	return pinged
}

// nearestServers returns up to n servers ordered by reported distance.
// The input slice is not modified.
func nearestServers(servers st.Servers, n int) []*st.Server {
	sorted := make([]*st.Server, len(servers))
	copy(sorted, servers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Distance < sorted[j].Distance })
	if n > 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

func durToMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// dialTimeoutFor derives the TCP dial timeout from the run timeout so a slow
// dial cannot eat the whole run.
func dialTimeoutFor(runTimeout time.Duration) time.Duration {
	dialTimeout := 10 * time.Second
	if runTimeout > 0 {
		if half := runTimeout / 2; half < dialTimeout {
			dialTimeout = half
		}
		if dialTimeout < 2*time.Second {
			dialTimeout = 2 * time.Second
		}
	}
	return dialTimeout
}

func newHTTPClient(cfg Config) (*http.Client, *http.Transport) {
	perHost := cfg.MaxConnections
	if perHost < 2 {
		perHost = 2
	}

	d := &net.Dialer{Timeout: dialTimeoutFor(cfg.Timeout), KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   perHost,
		IdleConnTimeout:       10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}, tr
}
