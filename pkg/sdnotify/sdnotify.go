// Package sdnotify talks to the systemd service manager when the process
// runs as a Type=notify unit. Outside systemd every call is a no-op, so
// callers never need to know how the process was launched.
package sdnotify

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"netmon/pkg/logx"
)

// Ready reports that startup finished.
func Ready(log logx.Logger) { notify(log, daemon.SdNotifyReady) }

// Stopping reports that shutdown began.
func Stopping(log logx.Logger) { notify(log, daemon.SdNotifyStopping) }

func notify(log logx.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil && !log.IsZero() {
		log.Warn("sd_notify failed", logx.Err(err), logx.String("state", state))
	}
}

// Watchdog feeds the unit's watchdog at half its interval until ctx ends.
// It returns immediately when no watchdog is configured.
func Watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		if !log.IsZero() {
			log.Warn("watchdog probe failed", logx.Err(err))
		}
		return
	}
	if interval == 0 {
		return
	}

	t := time.NewTicker(interval / 2)
	defer t.Stop()
	if !log.IsZero() {
		log.Info("watchdog armed", logx.Duration("interval", interval))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			notify(log, daemon.SdNotifyWatchdog)
		}
	}
}
