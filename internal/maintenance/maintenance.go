// Package maintenance prunes aged rows from the store on a daily cron.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"netmon/internal/config"
	"netmon/internal/storage"
	"netmon/pkg/logx"
)

// Config for the pruner. Days == 0 keeps every row forever.
type Config struct {
	Days int
	// At is the daily prune time (HH:MM) in Location.
	At       string
	Location *time.Location
}

// Service deletes samples and address observations older than the retention
// window once a day.
type Service struct {
	cfg   Config
	store storage.Store
	log   logx.Logger

	c *cron.Cron
}

func New(cfg Config, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		store: store,
		log:   log.With(logx.String("component", "maintenance")),
	}
}

// Start registers the daily prune job. With retention disabled it logs the
// fact and stays idle.
func (s *Service) Start(ctx context.Context) error {
	if s.cfg.Days <= 0 {
		s.log.Info("retention disabled, keeping all rows")
		return nil
	}
	hour, minute, err := config.ParseHHMM(s.cfg.At)
	if err != nil {
		return fmt.Errorf("retention time: %w", err)
	}
	loc := s.cfg.Location
	if loc == nil {
		loc = time.Local
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.c = cron.New(cron.WithParser(parser), cron.WithLocation(loc))

	spec := fmt.Sprintf("%d %d * * *", minute, hour)
	_, err = s.c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		s.pruneOnce(runCtx, time.Now())
	})
	if err != nil {
		return fmt.Errorf("register prune job: %w", err)
	}

	s.c.Start()
	s.log.Info("retention pruning scheduled",
		logx.Int("days", s.cfg.Days),
		logx.String("at", s.cfg.At),
		logx.String("tz", loc.String()),
	)
	return nil
}

// Stop halts the cron and waits for a running prune to finish, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	if s.c == nil {
		return
	}
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
	s.c = nil
}

func (s *Service) pruneOnce(ctx context.Context, now time.Time) {
	cutoff := now.Add(-time.Duration(s.cfg.Days) * 24 * time.Hour)
	pruned, err := s.store.Prune(ctx, cutoff)
	if err != nil {
		s.log.Error("prune failed", logx.Err(err))
		return
	}
	if pruned > 0 {
		s.log.Info("pruned aged rows", logx.Int64("rows", pruned), logx.Time("cutoff", cutoff))
	}
}
