package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/makobot/mako/internal/config"
	"github.com/makobot/mako/internal/memory"
	"github.com/makobot/mako/internal/notify"
)

// Source is the memory store view the scanner needs.
type Source interface {
	DueFollowups(ctx context.Context, now time.Time, limit int) ([]memory.Record, error)
	MarkDone(ctx context.Context, userID, memoryID string) (bool, error)
}

// Config holds scanner settings.
type Config struct {
	TickInterval time.Duration
	Cron         *CronExpr
	BatchLimit   int
	MaxDelivery  int
	LockPath     string
}

// DefaultConfig returns the scanner defaults: a one-minute tick firing every
// twenty minutes.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		TickInterval: time.Minute,
		Cron:         MustParseCron("*/20 * * * *"),
		BatchLimit:   20,
		MaxDelivery:  3,
		LockPath:     filepath.Join(home, ".mako", "followups.lock"),
	}
}

// ConfigFromProactive converts the proactive section of the app config.
func ConfigFromProactive(p config.ProactiveConfig) (Config, error) {
	cfg := DefaultConfig()
	expr := p.Cron
	if expr == "" && p.ScanMinutes > 0 {
		expr = fmt.Sprintf("*/%d * * * *", p.ScanMinutes)
	}
	if expr != "" {
		c, err := ParseCron(expr)
		if err != nil {
			return Config{}, err
		}
		cfg.Cron = c
	}
	if p.BatchLimit > 0 {
		cfg.BatchLimit = p.BatchLimit
	}
	if p.MaxDelivery > 0 {
		cfg.MaxDelivery = p.MaxDelivery
	}
	if p.LockPath != "" {
		cfg.LockPath = p.LockPath
	}
	return cfg, nil
}

// Report summarises one scan.
type Report struct {
	Due       int
	Delivered int
	Failed    int
	// Skipped counts follow-ups already marked done by someone else after
	// delivery.
	Skipped int
	// Locked is set when another process held the lock and nothing ran.
	Locked bool
}

// Scanner delivers due follow-ups.
type Scanner struct {
	cfg      Config
	source   Source
	notifier notify.Notifier
	sem      *Semaphore
	lock     *FileLock
	now      func() time.Time
}

// New creates a Scanner.
func New(cfg Config, source Source, notifier notify.Notifier) *Scanner {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.Cron == nil {
		cfg.Cron = def.Cron
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = def.BatchLimit
	}
	if cfg.MaxDelivery <= 0 {
		cfg.MaxDelivery = def.MaxDelivery
	}
	if cfg.LockPath == "" {
		cfg.LockPath = def.LockPath
	}
	return &Scanner{
		cfg:      cfg,
		source:   source,
		notifier: notifier,
		sem:      NewSemaphore(cfg.MaxDelivery),
		lock:     NewFileLock(cfg.LockPath),
		now:      time.Now,
	}
}

// SetClock replaces the clock used to decide what is due.
func (s *Scanner) SetClock(now func() time.Time) { s.now = now }

// Run starts the tick loop and scans whenever the cron window matches.
// It blocks until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	slog.Info("Follow-up scanner started", "tick", s.cfg.TickInterval, "cron", s.cfg.Cron.String())
	err := Every(ctx, s.cfg.TickInterval, s.cfg.Cron, func(ctx context.Context, _ time.Time) { s.scanLogged(ctx) })
	slog.Info("Follow-up scanner stopped")
	return err
}

func (s *Scanner) tick(ctx context.Context, t time.Time) {
	if s.cfg.Cron.Matches(t) {
		s.scanLogged(ctx)
	}
}

func (s *Scanner) scanLogged(ctx context.Context) {
	if _, err := s.Scan(ctx); err != nil {
		slog.Warn("Follow-up scan failed", "error", err)
	}
}

// Every ticks at interval and calls fn for each tick whose minute matches
// expr. It blocks until ctx is cancelled.
func Every(ctx context.Context, interval time.Duration, expr *CronExpr, fn func(ctx context.Context, t time.Time)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			if expr.Matches(t) {
				fn(ctx, t)
			}
		}
	}
}

// Scan delivers every currently due follow-up once. A follow-up is marked
// done only after the notifier accepted it, so failures are retried on the
// next scan.
func (s *Scanner) Scan(ctx context.Context) (Report, error) {
	acquired, err := s.lock.TryLock()
	if err != nil {
		return Report{}, fmt.Errorf("scheduler: lock: %w", err)
	}
	if !acquired {
		slog.Debug("Follow-up scan skipped: lock held by another process")
		return Report{Locked: true}, nil
	}
	defer s.lock.Unlock()

	due, err := s.source.DueFollowups(ctx, s.now(), s.cfg.BatchLimit)
	if err != nil {
		return Report{}, fmt.Errorf("scheduler: due follow-ups: %w", err)
	}
	report := Report{Due: len(due)}
	if len(due) == 0 {
		return report, nil
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, rec := range due {
		if err := s.sem.Acquire(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func(rec memory.Record) {
			defer wg.Done()
			defer s.sem.Release()
			outcome := s.deliver(ctx, rec)
			mu.Lock()
			switch outcome {
			case outcomeDelivered:
				report.Delivered++
			case outcomeSkipped:
				report.Skipped++
			default:
				report.Failed++
			}
			mu.Unlock()
		}(rec)
	}
	wg.Wait()

	slog.Info("Follow-up scan finished",
		"due", report.Due, "delivered", report.Delivered, "failed", report.Failed, "skipped", report.Skipped)
	return report, ctx.Err()
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeDelivered
	outcomeSkipped
)

func (s *Scanner) deliver(ctx context.Context, rec memory.Record) outcome {
	if err := s.notifier.Notify(ctx, notify.FromRecord(rec)); err != nil {
		slog.Warn("Follow-up not delivered", "user_id", rec.UserID, "memory_id", rec.ID, "error", err)
		return outcomeFailed
	}
	done, err := s.source.MarkDone(ctx, rec.UserID, rec.ID)
	if err != nil {
		slog.Error("Follow-up delivered but not marked done", "user_id", rec.UserID, "memory_id", rec.ID, "error", err)
		return outcomeFailed
	}
	if !done {
		return outcomeSkipped
	}
	slog.Debug("Follow-up delivered", "user_id", rec.UserID, "memory_id", rec.ID)
	return outcomeDelivered
}
