package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makobot/mako/internal/kv"
)

func stores(t *testing.T) map[string]*Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rs, err := kv.NewRedisStore(kv.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })
	return map[string]*Store{
		"local": NewStore(kv.NewLocalStore()),
		"redis": NewStore(rs),
	}
}

// steppingClock advances one minute per call.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Minute)
		return cur
	}
}

func at(h, m int) time.Time { return time.Date(2025, 4, 2, h, m, 0, 0, time.UTC) }

func TestAddAndList(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s.SetClock(steppingClock(at(8, 0)))
			for _, r := range []*Record{
				{UserID: "u1", Type: TypePreference, Content: "猫", Confidence: 0.85},
				{UserID: "u1", Type: TypeEvent, Content: "A: 今天加班"},
				{UserID: "u1", Type: TypePreference, Content: "火锅"},
				{UserID: "u2", Type: TypePreference, Content: "狗"},
			} {
				require.NoError(t, s.Add(ctx, r))
				assert.Len(t, r.ID, 12)
				assert.Equal(t, StatusActive, r.Status)
				assert.Equal(t, "chat", r.Source)
			}

			prefs, err := s.List(ctx, "u1", TypePreference, StatusActive, 10)
			require.NoError(t, err)
			require.Len(t, prefs, 2)
			assert.Equal(t, "火锅", prefs[0].Content, "newest first")
			assert.Equal(t, "猫", prefs[1].Content)

			all, err := s.List(ctx, "u1", "", "", 0)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			limited, err := s.List(ctx, "u1", "", StatusActive, 1)
			require.NoError(t, err)
			assert.Len(t, limited, 1)
		})
	}
}

func TestDueFollowupsOrdering(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s.SetClock(steppingClock(at(8, 0)))
			due := func(tm time.Time) *time.Time { return &tm }

			late := &Record{UserID: "u1", Type: TypePromise, Content: "first created, due last", DueAt: due(at(12, 0))}
			early := &Record{UserID: "u2", Type: TypePromise, Content: "second created, due first", DueAt: due(at(10, 0))}
			future := &Record{UserID: "u1", Type: TypePromise, Content: "not yet", DueAt: due(at(20, 0))}
			noDue := &Record{UserID: "u1", Type: TypePreference, Content: "no due"}
			for _, r := range []*Record{late, early, future, noDue} {
				require.NoError(t, s.Add(ctx, r))
			}

			got, err := s.DueFollowups(ctx, at(13, 0), 10)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, late.ID, got[0].ID, "ascending by creation time")
			assert.Equal(t, early.ID, got[1].ID)

			got, err = s.DueFollowups(ctx, at(13, 0), 1)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, late.ID, got[0].ID)

			got, err = s.DueFollowups(ctx, at(9, 0), 10)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestMarkDoneIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s.SetClock(steppingClock(at(8, 0)))
			dueAt := at(9, 0)
			rec := &Record{UserID: "u1", Type: TypePromise, Content: "提醒我交报告", DueAt: &dueAt}
			require.NoError(t, s.Add(ctx, rec))

			ok, err := s.MarkDone(ctx, "u1", rec.ID)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.MarkDone(ctx, "u1", rec.ID)
			require.NoError(t, err)
			assert.False(t, ok, "second mark is a no-op")

			ok, err = s.MarkDone(ctx, "u1", "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			got, err := s.DueFollowups(ctx, at(23, 0), 10)
			require.NoError(t, err)
			assert.Empty(t, got)

			stored, err := s.Get(ctx, "u1", rec.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusDone, stored.Status)
			require.NotNil(t, stored.LastUsedAt)

			n, err := s.Reindex(ctx, "u1")
			require.NoError(t, err)
			assert.Zero(t, n, "done records are not re-indexed")
		})
	}
}

func TestMarkDoneConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			dueAt := at(9, 0)
			rec := &Record{UserID: "u1", Type: TypePromise, Content: "跟进", DueAt: &dueAt}
			require.NoError(t, s.Add(ctx, rec))

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if ok, err := s.MarkDone(ctx, "u1", rec.ID); err == nil && ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestReindexRestoresIndex(t *testing.T) {
	ctx := context.Background()
	store := kv.NewLocalStore()
	s := NewStore(store)
	dueAt := at(9, 0)
	rec := &Record{UserID: "u1", Type: TypePromise, Content: "回头聊", DueAt: &dueAt}
	require.NoError(t, s.Add(ctx, rec))

	removed, err := store.ZRem(ctx, followupIndexKey, indexMember("u1", rec.ID))
	require.NoError(t, err)
	require.True(t, removed)

	n, err := s.Reindex(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.DueFollowups(ctx, at(10, 0), 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
}
