// Package app wires configuration, logging, storage, the monitor loop and
// the auxiliary listeners into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"netmon/internal/alert"
	"netmon/internal/config"
	"netmon/internal/ipaddr"
	"netmon/internal/mailer"
	"netmon/internal/maintenance"
	"netmon/internal/metrics"
	"netmon/internal/monitor"
	"netmon/internal/notify"
	"netmon/internal/runtime/supervisor"
	"netmon/internal/storage"
	"netmon/pkg/logx"
	"netmon/pkg/sdnotify"
	"netmon/pkg/speedtest"
)

// App owns every long-lived component. Construct with NewApp, then either
// Start/Stop for the daemon or ReportNow/Close for one-shot commands.
type App struct {
	env      config.Config
	settings config.Settings

	logs *logx.Service
	log  logx.Logger

	store      storage.Store
	mon        *monitor.Monitor
	maint      *maintenance.Service
	metricsSrv *metrics.Server
	pprofSrv   *metrics.Server
	watcher    *config.Watcher

	sup *supervisor.Supervisor
}

// NewApp loads the environment and the settings file and constructs every
// component. Nothing is started yet; a returned App holds an open store and
// log service, so callers that do not Start must Close.
func NewApp(ctx context.Context, settingsPath string) (*App, error) {
	env, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}

	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}

	// The Telegram sender only exists to receive log lines; a broken token is
	// a startup error rather than a silently dark sink.
	var sender logx.Sender
	if settings.Logging.Telegram.Enabled {
		tg, err := notify.NewTelegram(notify.Config{
			Token:    settings.Telegram.Token,
			ChatID:   settings.Telegram.ChatID,
			ThreadID: settings.Telegram.ThreadID,
		})
		if err != nil {
			return nil, fmt.Errorf("telegram log sink: %w", err)
		}
		sender = tg
	}

	logs, log := logx.New(logx.Config{
		Level:   env.LogLevel,
		Console: settings.Logging.Console,
		File: logx.FileConfig{
			Enabled: strings.TrimSpace(env.LogFile) != "",
			Path:    env.LogFile,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    settings.Logging.Telegram.Enabled,
			MinLevel:   settings.Logging.Telegram.MinLevel,
			RatePerSec: settings.Logging.Telegram.RatePerSec,
		},
	}, sender)

	a, err := assemble(ctx, env, settings, settingsPath, logs, log)
	if err != nil {
		logs.Close()
		return nil, err
	}
	return a, nil
}

func assemble(ctx context.Context, env config.Config, settings config.Settings, settingsPath string, logs *logx.Service, log logx.Logger) (*App, error) {
	probeTimeout, err := config.ParseDurationOrDefault("probe.timeout", settings.Probe.Timeout, 2*time.Minute)
	if err != nil {
		return nil, err
	}
	ipTimeout, err := config.ParseDurationOrDefault("public_ip.timeout", settings.PublicIP.Timeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	cooldown, err := config.ParseDurationOrDefault("alerting.cooldown", settings.Alerting.Cooldown, 30*time.Minute)
	if err != nil {
		return nil, err
	}
	dailyHour, dailyMinute, err := config.ParseHHMM(env.DailyReportTime)
	if err != nil {
		return nil, fmt.Errorf("DAILY_REPORT_TIME: %w", err)
	}
	loc := settings.Location()

	mail, err := mailer.New(env.Mail, log)
	if err != nil {
		return nil, fmt.Errorf("mailer: %w", err)
	}

	runner := speedtest.NewRunner(speedtest.Config{
		Servers:         settings.Probe.Servers,
		PingConcurrency: settings.Probe.PingConcurrency,
		Timeout:         probeTimeout,
	}, log)

	resolver := ipaddr.NewResolver(ipaddr.Config{
		URL:         settings.PublicIP.URL,
		STUNServers: settings.PublicIP.STUNServers,
		Timeout:     ipTimeout,
	}, log)

	alerts := alert.New(alert.Config{
		Enabled:               settings.Alerting.Enabled,
		Cooldown:              cooldown,
		MaxPerHour:            settings.Alerting.MaxPerHour,
		DownloadThresholdMbps: env.DownloadThreshold,
		UploadThresholdMbps:   env.UploadThreshold,
	}, mail, log)

	store, err := storage.Open(ctx, storage.Config{
		Driver:   env.DB.Driver,
		Host:     env.DB.Host,
		Port:     env.DB.Port,
		Name:     env.DB.Name,
		User:     env.DB.User,
		Password: env.DB.Password,
		SSLMode:  env.DB.SSLMode,
		Path:     env.DB.Path,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	mon, err := monitor.New(monitor.Config{
		CheckInterval:         env.CheckInterval,
		SummaryInterval:       env.SummaryInterval,
		DailyHour:             dailyHour,
		DailyMinute:           dailyMinute,
		Location:              loc,
		DownloadThresholdMbps: env.DownloadThreshold,
		UploadThresholdMbps:   env.UploadThreshold,
	}, monitor.Deps{
		Store:    store,
		Prober:   runner,
		Resolver: resolver,
		Mailer:   mail,
		Alerts:   alerts,
		Log:      log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		env:      env,
		settings: settings,
		logs:     logs,
		log:      log.With(logx.String("component", "app")),
		store:    store,
		mon:      mon,
		maint: maintenance.New(maintenance.Config{
			Days:     settings.Retention.Days,
			At:       settings.Retention.At,
			Location: loc,
		}, store, log),
	}
	if settings.Metrics.Enabled {
		a.metricsSrv = metrics.NewMetricsServer(settings.Metrics.Addr, log)
	}
	if settings.Pprof.Enabled {
		a.pprofSrv = metrics.NewPprofServer(settings.Pprof.Addr, log)
	}
	if strings.TrimSpace(settingsPath) != "" {
		a.watcher = config.NewWatcher(settingsPath, log)
	}
	return a, nil
}

// Start launches the monitor loop and the auxiliary services under one
// supervisor. The debug listeners are best-effort: a failed bind is logged
// and the process keeps running without it.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	if a.metricsSrv != nil {
		if err := a.metricsSrv.Start(); err != nil {
			a.log.Warn("metrics listener not started", logx.Err(err))
			a.metricsSrv = nil
		}
	}
	if a.pprofSrv != nil {
		if err := a.pprofSrv.Start(); err != nil {
			a.log.Warn("pprof listener not started", logx.Err(err))
			a.pprofSrv = nil
		}
	}

	if err := a.maint.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}

	a.sup.Go("monitor.run", a.mon.Run)
	if a.watcher != nil {
		a.sup.Go("settings.watch", a.watcher.Watch)
	}
	a.sup.Go0("sd.watchdog", func(c context.Context) {
		sdnotify.Watchdog(c, a.log)
	})

	sdnotify.Ready(a.log)
	a.log.Info("app started",
		logx.String("db_driver", a.env.DB.Driver),
		logx.String("mail_provider", a.env.Mail.Provider),
	)
	return nil
}

// Done closes when the app should shut down: the parent context was
// cancelled or a supervised goroutine died.
func (a *App) Done() <-chan struct{} {
	return a.sup.Context().Done()
}

// Err reports the first supervised goroutine failure, nil on a clean stop.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// ReportNow builds and mails a report covering the trailing hours. It is the
// one-shot CLI path and does not require Start.
func (a *App) ReportNow(ctx context.Context, hours int) error {
	return a.mon.ReportNow(ctx, hours)
}

// Close releases the store and the log service without the full stop
// sequence, for one-shot commands that never called Start.
func (a *App) Close() error {
	err := a.store.Close()
	a.logs.Close()
	return err
}

// Stop shuts the app down in order: stop scheduling new work, wait for the
// loops, then close the store. Each step gets its own budget inside the
// caller's deadline; a stuck step is logged and abandoned so the rest of the
// sequence still runs.
func (a *App) Stop(ctx context.Context) error {
	sdnotify.Stopping(a.log)
	a.log.Info("app stopping")
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if dl, ok := ctx.Deadline(); ok {
			if remain := time.Until(dl); remain < max {
				max = remain
			}
		}
		if max <= 0 {
			a.log.Warn("shutdown budget exhausted", logx.String("step", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		start := time.Now()
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic: %v", r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			took := time.Since(start)
			if err != nil {
				a.log.Warn("shutdown step failed",
					logx.String("step", name), logx.Duration("took", took), logx.Err(err))
				return
			}
			if took >= 500*time.Millisecond {
				a.log.Info("shutdown step done", logx.String("step", name), logx.Duration("took", took))
			} else {
				a.log.Debug("shutdown step done", logx.String("step", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("shutdown step still running at deadline, abandoning",
				logx.String("step", name), logx.Duration("budget", max))
		}
	}

	step("maintenance", 2*time.Second, func(c context.Context) error {
		a.maint.Stop(c)
		return nil
	})
	step("pprof", time.Second, func(c context.Context) error {
		if a.pprofSrv != nil {
			a.pprofSrv.Stop(c)
		}
		return nil
	})
	step("metrics", time.Second, func(c context.Context) error {
		if a.metricsSrv != nil {
			a.metricsSrv.Stop(c)
		}
		return nil
	})
	step("supervisor", 10*time.Second, func(c context.Context) error {
		if a.sup == nil {
			return nil
		}
		// The first run error stays in Err; only a wait that outlives its
		// budget counts as a step failure.
		_ = a.sup.Wait(c)
		return c.Err()
	})
	step("storage", 2*time.Second, func(c context.Context) error {
		return a.store.Close()
	})

	a.log.Info("app stopped")
	a.logs.Close()
	return nil
}
