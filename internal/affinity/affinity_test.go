package affinity

import (
	"context"
	"testing"
	"time"

	"github.com/makobot/mako/internal/kv"
)

func TestAdjustRespectsDailyCapAndBounds(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewService(kv.NewLocalStore(), Config{Min: 0, Max: 100, Initial: 50, DailyCap: 5})
	s.SetClock(func() time.Time { return now })

	score, err := s.Score(ctx, "u1")
	if err != nil || score != 50 {
		t.Fatalf("expected initial 50, got %d (%v)", score, err)
	}
	if score, _ = s.Adjust(ctx, "u1", 3); score != 53 {
		t.Fatalf("expected 53, got %d", score)
	}
	// Only 2 of the cap remain today.
	if score, _ = s.Adjust(ctx, "u1", 10); score != 55 {
		t.Fatalf("expected cap to stop at 55, got %d", score)
	}
	if score, _ = s.Adjust(ctx, "u1", -4); score != 55 {
		t.Fatalf("expected no movement after cap, got %d", score)
	}

	now = now.Add(24 * time.Hour)
	if score, _ = s.Adjust(ctx, "u1", -5); score != 50 {
		t.Fatalf("expected fresh cap next day, got %d", score)
	}
}

func TestAdjustClampsToRange(t *testing.T) {
	ctx := context.Background()
	s := NewService(kv.NewLocalStore(), Config{Min: 0, Max: 100, Initial: 98, DailyCap: 20})
	if score, _ := s.Adjust(ctx, "u", 10); score != 100 {
		t.Fatalf("expected clamp at 100, got %d", score)
	}
}

func TestLevels(t *testing.T) {
	cases := map[int]string{90: "亲密", 70: "友好", 50: "普通", 30: "冷淡", 5: "警惕"}
	for score, want := range cases {
		if got := Level(score); got != want {
			t.Errorf("Level(%d) = %s, want %s", score, got, want)
		}
		if StyleHint(score) == "" {
			t.Errorf("empty style hint for %d", score)
		}
	}
}
