// Package affinity tracks a bounded per-user affinity score with a cap on how
// far it may move in one day.
package affinity

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/makobot/mako/internal/kv"
)

const dailyKeyTTL = 48 * time.Hour

// Config bounds the score.
type Config struct {
	Min      int
	Max      int
	Initial  int
	DailyCap int
}

// Service reads and adjusts affinity scores.
type Service struct {
	store kv.Store
	cfg   Config
	now   func() time.Time
	mu    sync.Mutex
}

// NewService creates a Service over store.
func NewService(store kv.Store, cfg Config) *Service {
	return &Service{store: store, cfg: cfg, now: time.Now}
}

// SetClock replaces the clock used for the daily cap window.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func scoreKey(userID string) string { return "affinity:" + userID }

func (s *Service) dailyKey(userID string) string {
	return fmt.Sprintf("affinity:daily:%s:%s", userID, s.now().Format("20060102"))
}

// Score returns the user's score, or the initial score for new users.
func (s *Service) Score(ctx context.Context, userID string) (int, error) {
	raw, ok, err := s.store.Get(ctx, scoreKey(userID))
	if err != nil {
		return 0, err
	}
	if !ok {
		return s.cfg.Initial, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return s.cfg.Initial, nil
	}
	return v, nil
}

// Adjust moves the score by delta, limited by what is left of today's cap
// and clamped to [Min, Max]. It returns the new score.
func (s *Service) Adjust(ctx context.Context, userID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dk := s.dailyKey(userID)
	consumed := 0
	if raw, ok, err := s.store.Get(ctx, dk); err != nil {
		return 0, err
	} else if ok {
		consumed, _ = strconv.Atoi(raw)
	}
	remain := max(0, s.cfg.DailyCap-consumed)
	effective := max(-remain, min(remain, delta))

	score, err := s.Score(ctx, userID)
	if err != nil {
		return 0, err
	}
	next := max(s.cfg.Min, min(s.cfg.Max, score+effective))
	used := consumed + abs(effective)

	err = s.store.Tx(ctx, func(p kv.Pipe) error {
		p.Set(scoreKey(userID), strconv.Itoa(next), 0)
		p.Set(dk, strconv.Itoa(used), dailyKeyTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("affinity: adjust: %w", err)
	}
	return next, nil
}

// Level names the relationship tier for score.
func Level(score int) string {
	switch {
	case score >= 85:
		return "亲密"
	case score >= 65:
		return "友好"
	case score >= 45:
		return "普通"
	case score >= 20:
		return "冷淡"
	}
	return "警惕"
}

// StyleHint is the tone instruction given to the reply generator.
func StyleHint(score int) string {
	switch Level(score) {
	case "亲密":
		return "语气更亲昵，主动关心，偶尔给专属称呼。"
	case "友好":
		return "语气温和活泼，愿意深入交流。"
	case "普通":
		return "保持自然礼貌与轻松互动。"
	case "冷淡":
		return "语气克制简洁，减少主动展开。"
	}
	return "语气谨慎，避免深入私人话题。"
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
