// Package alert sends immediate threshold notifications between reports.
// Alerts are rate-limited twice: a per-kind cooldown and a global hourly cap,
// so a bad night produces a handful of mails instead of one per check.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"netmon/internal/storage"
	"netmon/pkg/logx"
)

// Kind keys the per-kind cooldown.
type Kind string

const (
	KindSlowDownload Kind = "slow_download"
	KindSlowUpload   Kind = "slow_upload"
	KindProbeFailed  Kind = "probe_failed"
	KindIPChanged    Kind = "ip_changed"
)

const timeLayout = "2006-01-02 15:04:05"

// Sender delivers one alert. Satisfied by any mailer.
type Sender interface {
	SendText(ctx context.Context, subject, body string) error
}

// Config controls alerting.
type Config struct {
	Enabled    bool
	Cooldown   time.Duration
	MaxPerHour int

	DownloadThresholdMbps float64
	UploadThresholdMbps   float64
}

// Alerter evaluates samples against the thresholds and notifies. Safe for
// use from a single goroutine; the mutex only guards the test clock races.
type Alerter struct {
	cfg    Config
	sender Sender
	log    logx.Logger
	clock  clockwork.Clock

	mu       sync.Mutex
	lastSent map[Kind]time.Time
	sent     []time.Time
}

// New constructs an Alerter. A nil sender disables it regardless of cfg.
func New(cfg Config, sender Sender, log logx.Logger) *Alerter {
	return &Alerter{
		cfg:      cfg,
		sender:   sender,
		log:      log.With(logx.String("component", "alert")),
		clock:    clockwork.NewRealClock(),
		lastSent: make(map[Kind]time.Time),
	}
}

func (a *Alerter) withClock(c clockwork.Clock) *Alerter {
	a.clock = c
	return a
}

func (a *Alerter) enabled() bool { return a.cfg.Enabled && a.sender != nil }

// ObserveSample inspects one recorded sample and fires any due alerts.
func (a *Alerter) ObserveSample(ctx context.Context, s storage.Sample) {
	if !a.enabled() {
		return
	}

	if !s.OK() {
		a.fire(ctx, KindProbeFailed, "Network Monitor Alert: Probe Failed", fmt.Sprintf(`Network Monitor Alert

Status: PROBE FAILED
Time: %s

The speed measurement did not complete; a failed sample was recorded.
`, s.Timestamp.Format(timeLayout)))
		return
	}

	if s.DownloadMbps < a.cfg.DownloadThresholdMbps {
		a.fire(ctx, KindSlowDownload, "Network Monitor Alert: Slow Download", fmt.Sprintf(`Network Monitor Alert

Status: SLOW DOWNLOAD
Time: %s
Download Speed: %.2f Mbps
Threshold: %.2f Mbps
`, s.Timestamp.Format(timeLayout), s.DownloadMbps, a.cfg.DownloadThresholdMbps))
	}
	if s.UploadMbps < a.cfg.UploadThresholdMbps {
		a.fire(ctx, KindSlowUpload, "Network Monitor Alert: Slow Upload", fmt.Sprintf(`Network Monitor Alert

Status: SLOW UPLOAD
Time: %s
Upload Speed: %.2f Mbps
Threshold: %.2f Mbps
`, s.Timestamp.Format(timeLayout), s.UploadMbps, a.cfg.UploadThresholdMbps))
	}
}

// ObserveIPChange fires when the public address moves. The first observation
// after startup has no previous address and is not alerted.
func (a *Alerter) ObserveIPChange(ctx context.Context, previous, current string) {
	if !a.enabled() || previous == "" {
		return
	}
	a.fire(ctx, KindIPChanged, "Network Monitor Alert: Public IP Changed", fmt.Sprintf(`Network Monitor Alert

Status: PUBLIC IP CHANGED
Time: %s
Previous Address: %s
Current Address: %s
`, a.clock.Now().Format(timeLayout), previous, current))
}

func (a *Alerter) fire(ctx context.Context, kind Kind, subject, body string) {
	if !a.allow(kind) {
		return
	}
	if err := a.sender.SendText(ctx, subject, body); err != nil {
		a.log.Warn("alert send failed", logx.String("kind", string(kind)), logx.Err(err))
		return
	}
	a.log.Info("alert sent", logx.String("kind", string(kind)))
}

// allow reserves a send slot: the kind must be out of cooldown and the
// rolling hour must have room. The slot is consumed even if the send then
// fails, which keeps a broken mail path from retrying every sample.
func (a *Alerter) allow(kind Kind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	if last, ok := a.lastSent[kind]; ok && a.cfg.Cooldown > 0 && now.Sub(last) < a.cfg.Cooldown {
		return false
	}

	hourAgo := now.Add(-time.Hour)
	valid := a.sent[:0]
	for _, t := range a.sent {
		if t.After(hourAgo) {
			valid = append(valid, t)
		}
	}
	a.sent = valid
	if a.cfg.MaxPerHour > 0 && len(a.sent) >= a.cfg.MaxPerHour {
		return false
	}

	a.lastSent[kind] = now
	a.sent = append(a.sent, now)
	return true
}
