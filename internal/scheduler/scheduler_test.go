package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/makobot/mako/internal/config"
	"github.com/makobot/mako/internal/kv"
	"github.com/makobot/mako/internal/memory"
	"github.com/makobot/mako/internal/notify"
)

var base = time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu      sync.Mutex
	got     []notify.Followup
	failFor map[string]bool
	delay   time.Duration
	active  atomic.Int32
	peak    atomic.Int32
}

func (n *recordingNotifier) Notify(ctx context.Context, f notify.Followup) error {
	cur := n.active.Add(1)
	defer n.active.Add(-1)
	for {
		p := n.peak.Load()
		if cur <= p || n.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if n.delay > 0 {
		time.Sleep(n.delay)
	}
	if n.failFor[f.MemoryID] {
		return errors.New("transport down")
	}
	n.mu.Lock()
	n.got = append(n.got, f)
	n.mu.Unlock()
	return nil
}

func seed(t *testing.T, store *memory.Store, n int, due time.Time) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		d := due
		rec := &memory.Record{
			UserID:    "u1",
			Type:      memory.TypePromise,
			Content:   "提醒我喝水",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			DueAt:     &d,
		}
		if err := store.Add(context.Background(), rec); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
		ids[i] = rec.ID
	}
	return ids
}

func newScanner(t *testing.T, store *memory.Store, n notify.Notifier, maxDelivery int) *Scanner {
	t.Helper()
	s := New(Config{
		BatchLimit:  20,
		MaxDelivery: maxDelivery,
		LockPath:    filepath.Join(t.TempDir(), "followups.lock"),
	}, store, n)
	s.SetClock(func() time.Time { return base.Add(2 * time.Hour) })
	return s
}

func TestScanDeliversAndMarksDone(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(kv.NewLocalStore())
	ids := seed(t, store, 3, base.Add(time.Hour))
	seed(t, store, 1, base.Add(24*time.Hour)) // not yet due

	n := &recordingNotifier{failFor: map[string]bool{ids[1]: true}}
	s := newScanner(t, store, n, 2)

	report, err := s.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if report.Due != 3 || report.Delivered != 2 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	rec, _ := store.Get(ctx, "u1", ids[1])
	if rec.Status != memory.StatusActive {
		t.Errorf("failed delivery must stay active, got %s", rec.Status)
	}
	rec, _ = store.Get(ctx, "u1", ids[0])
	if rec.Status != memory.StatusDone {
		t.Errorf("delivered follow-up should be done, got %s", rec.Status)
	}

	// The failed one is retried on the next scan; delivered ones never return.
	delete(n.failFor, ids[1])
	report, err = s.Scan(ctx)
	if err != nil {
		t.Fatalf("second Scan() error: %v", err)
	}
	if report.Due != 1 || report.Delivered != 1 {
		t.Fatalf("unexpected retry report %+v", report)
	}
	if len(n.got) != 3 {
		t.Errorf("expected 3 deliveries in total, got %d", len(n.got))
	}
}

func TestScanBoundsConcurrency(t *testing.T) {
	store := memory.NewStore(kv.NewLocalStore())
	seed(t, store, 8, base)

	n := &recordingNotifier{delay: 20 * time.Millisecond}
	s := newScanner(t, store, n, 2)
	report, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if report.Delivered != 8 {
		t.Fatalf("expected 8 delivered, got %+v", report)
	}
	if peak := n.peak.Load(); peak > 2 {
		t.Errorf("delivery concurrency %d exceeded limit 2", peak)
	}
}

func TestScanBatchLimit(t *testing.T) {
	store := memory.NewStore(kv.NewLocalStore())
	seed(t, store, 5, base)

	n := &recordingNotifier{}
	s := newScanner(t, store, n, 3)
	s.cfg.BatchLimit = 2
	report, _ := s.Scan(context.Background())
	if report.Due != 2 || report.Delivered != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestScanSkipsWhenLocked(t *testing.T) {
	store := memory.NewStore(kv.NewLocalStore())
	seed(t, store, 1, base)
	lockPath := filepath.Join(t.TempDir(), "followups.lock")

	holder := NewFileLock(lockPath)
	ok, err := holder.TryLock()
	if err != nil || !ok {
		t.Fatalf("holder should acquire lock: %v", err)
	}

	n := &recordingNotifier{}
	s := New(Config{LockPath: lockPath}, store, n)
	s.SetClock(func() time.Time { return base.Add(time.Hour) })
	report, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if !report.Locked || len(n.got) != 0 {
		t.Fatalf("scan should be skipped while locked, got %+v", report)
	}

	holder.Unlock()
	report, _ = s.Scan(context.Background())
	if report.Locked || report.Delivered != 1 {
		t.Fatalf("scan should run after unlock, got %+v", report)
	}
}

func TestTickHonoursCronWindow(t *testing.T) {
	store := memory.NewStore(kv.NewLocalStore())
	seed(t, store, 1, base)

	n := &recordingNotifier{}
	s := newScanner(t, store, n, 1)
	s.cfg.Cron = MustParseCron("*/20 * * * *")

	s.tick(context.Background(), time.Date(2025, 7, 10, 11, 7, 0, 0, time.UTC))
	if len(n.got) != 0 {
		t.Fatal("tick outside the cron window should not scan")
	}
	s.tick(context.Background(), time.Date(2025, 7, 10, 11, 20, 0, 0, time.UTC))
	if len(n.got) != 1 {
		t.Fatalf("tick inside the cron window should deliver, got %d", len(n.got))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := memory.NewStore(kv.NewLocalStore())
	s := New(Config{TickInterval: 10 * time.Millisecond, LockPath: filepath.Join(t.TempDir(), "l")}, store, &recordingNotifier{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() = %v, want deadline exceeded", err)
	}
}

func TestEveryFiresOnMatchingTicks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	var fired atomic.Int32
	err := Every(ctx, 5*time.Millisecond, MustParseCron("* * * * *"), func(context.Context, time.Time) { fired.Add(1) })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Every() = %v, want deadline exceeded", err)
	}
	if fired.Load() == 0 {
		t.Fatal("expected at least one firing")
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel2()
	never := MustParseCron("0 0 30 2 *")
	_ = Every(ctx2, 5*time.Millisecond, never, func(context.Context, time.Time) { t.Error("unexpected firing") })
}

func TestConfigFromProactive(t *testing.T) {
	cfg, err := ConfigFromProactive(config.ProactiveConfig{ScanMinutes: 15, BatchLimit: 7, MaxDelivery: 4, LockPath: "/tmp/x.lock"})
	if err != nil {
		t.Fatalf("ConfigFromProactive() error: %v", err)
	}
	if cfg.Cron.String() != "*/15 * * * *" || cfg.BatchLimit != 7 || cfg.MaxDelivery != 4 || cfg.LockPath != "/tmp/x.lock" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if _, err := ConfigFromProactive(config.ProactiveConfig{Cron: "bogus"}); err == nil {
		t.Error("invalid cron should fail")
	}
}

func TestSemaphore(t *testing.T) {
	sem := NewSemaphore(2)
	if !sem.TryAcquire() || !sem.TryAcquire() {
		t.Fatal("first two acquires should succeed")
	}
	if sem.TryAcquire() {
		t.Error("third acquire should fail (cap=2)")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := sem.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("blocked Acquire should honour ctx, got %v", err)
	}
	sem.Release()
	if sem.Available() != 1 {
		t.Errorf("Available() = %d, want 1", sem.Available())
	}
}
