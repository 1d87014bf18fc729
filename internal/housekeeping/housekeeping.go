// Package housekeeping prunes the archived delivery history on a cron schedule.
package housekeeping

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "mailqueue/pkg/logx"
)

const DefaultSchedule = "@hourly"

// Pruner is implemented by storage.Store.
type Pruner interface {
	PruneHistory(ctx context.Context, keep int, olderThan time.Time) (int, error)
}

type Config struct {
	Enabled  bool
	Schedule string
	// Keep is the number of newest rows kept; 0 disables the count limit.
	Keep int
	// Retention drops rows older than now-Retention; 0 disables it.
	Retention time.Duration
	Location  *time.Location
}

type Service struct {
	pruner Pruner
	log    logx.Logger
	now    func() time.Time
	parser cron.Parser

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron

	runMu   sync.Mutex
	lastRun time.Time
	lastErr error
}

func New(cfg Config, pruner Pruner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		pruner: pruner,
		log:    log,
		now:    time.Now,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cfg:    cfg,
	}
}

// Start registers the prune job. It is a no-op when disabled or without a pruner.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	return s.startLocked()
}

func (s *Service) startLocked() error {
	cfg := s.cfg
	if !cfg.Enabled || s.pruner == nil {
		s.log.Debug("housekeeping disabled")
		return nil
	}
	spec := strings.TrimSpace(cfg.Schedule)
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return err
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	c.Schedule(sched, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	}))
	c.Start()
	s.c = c
	s.log.Info("housekeeping started", logx.String("schedule", spec), logx.String("tz", loc.String()))
	return nil
}

// Stop waits for a running prune or ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply swaps the config and reschedules when running.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.c == nil {
		return nil
	}
	<-s.c.Stop().Done()
	s.c = nil
	return s.startLocked()
}

// RunOnce prunes immediately and returns the number of removed rows.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	if s.pruner == nil {
		return 0, nil
	}
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	var olderThan time.Time
	if cfg.Retention > 0 {
		olderThan = s.now().Add(-cfg.Retention)
	}
	start := s.now()
	n, err := s.pruner.PruneHistory(ctx, cfg.Keep, olderThan)

	s.runMu.Lock()
	s.lastRun, s.lastErr = start, err
	s.runMu.Unlock()

	if err != nil {
		s.log.Warn("history prune failed", logx.Err(err))
		return 0, err
	}
	if n > 0 {
		s.log.Info("history pruned", logx.Int("removed", n), logx.Int("keep", cfg.Keep), logx.Duration("retention", cfg.Retention))
	}
	return n, nil
}

// LastRun reports the start time and result of the most recent prune.
func (s *Service) LastRun() (time.Time, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.lastRun, s.lastErr
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
