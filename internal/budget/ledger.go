// Package budget tracks daily tool and LLM spend at a global and a per-user
// scope and admits or refuses new spend against the configured caps.
package budget

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/makobot/mako/internal/config"
	"github.com/makobot/mako/internal/kv"
)

// Deny reasons.
const (
	ReasonGlobalExhausted = "global daily budget exhausted"
	ReasonUserExhausted   = "user daily budget exhausted"
)

// Cost keys outlive their day so late readers still see the total.
const dayKeyTTL = 48 * time.Hour

var defaultToolCosts = map[string]float64{
	"image.generate":       0.10,
	"image.describe":       0.02,
	"search.web":           0.02,
	"search.summarize_url": 0.02,
	"language.tts":         0.02,
	"language.stt":         0.02,
}

const fallbackToolCost = 0.005

// Decision is the admission result. Reason is set only when Allowed is false.
type Decision struct {
	Allowed bool
	Reason  string
}

// Usage is one day's consumption at both scopes.
type Usage struct {
	Day         string
	Global      float64
	GlobalLimit float64
	User        float64
	UserLimit   float64
}

// Ledger reads and commits spend in the KV store.
type Ledger struct {
	store kv.Store
	cfg   config.CostConfig
	costs map[string]float64
	loc   *time.Location
	now   func() time.Time
}

// NewLedger creates a Ledger over store.
func NewLedger(store kv.Store, cfg config.CostConfig) *Ledger {
	costs := make(map[string]float64, len(defaultToolCosts)+len(cfg.ToolOverrides))
	for k, v := range defaultToolCosts {
		costs[k] = v
	}
	for k, v := range cfg.ToolOverrides {
		costs[config.NormalizeName(k)] = v
	}
	return &Ledger{store: store, cfg: cfg, costs: costs, loc: cfg.Location(), now: time.Now}
}

// SetClock replaces the clock that selects the day key.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Enabled reports whether cost control is on.
func (l *Ledger) Enabled() bool { return l.cfg.Enabled }

func (l *Ledger) day() string {
	return l.now().In(l.loc).Format("20060102")
}

func globalKey(day string) string { return "cost:global:" + day }

func userKey(userID, day string) string { return "cost:user:" + userID + ":" + day }

// EstimateToolCost returns the configured cost of one call to tool.
func (l *Ledger) EstimateToolCost(tool string) float64 {
	if v, ok := l.costs[config.NormalizeName(tool)]; ok {
		return v
	}
	return fallbackToolCost
}

// EstimateLLMCost prices a reply by characters, input and output separately.
func (l *Ledger) EstimateLLMCost(inputChars, outputChars int) float64 {
	in := float64(max(0, inputChars)) / 1000 * l.cfg.LLMInputPer1K
	out := float64(max(0, outputChars)) / 1000 * l.cfg.LLMOutputPer1K
	return roundCost(in + out)
}

// CanConsume checks amount against both daily caps, the global cap first.
// Disabled cost control always allows.
func (l *Ledger) CanConsume(ctx context.Context, userID string, amount float64) (Decision, error) {
	if !l.cfg.Enabled {
		return Decision{Allowed: true}, nil
	}
	day := l.day()
	global, err := l.read(ctx, globalKey(day))
	if err != nil {
		return Decision{}, err
	}
	if global+amount > l.cfg.DailyLimitGlobal {
		return Decision{Reason: ReasonGlobalExhausted}, nil
	}
	user, err := l.read(ctx, userKey(userID, day))
	if err != nil {
		return Decision{}, err
	}
	if user+amount > l.cfg.DailyLimitUser {
		return Decision{Reason: ReasonUserExhausted}, nil
	}
	return Decision{Allowed: true}, nil
}

// Consume commits amount at both scopes. Call it once per completed
// chargeable action.
func (l *Ledger) Consume(ctx context.Context, userID string, amount float64) error {
	if !l.cfg.Enabled || amount <= 0 {
		return nil
	}
	day := l.day()
	gk, uk := globalKey(day), userKey(userID, day)
	err := l.store.Tx(ctx, func(p kv.Pipe) error {
		p.IncrByFloat(gk, amount)
		p.Expire(gk, dayKeyTTL)
		p.IncrByFloat(uk, amount)
		p.Expire(uk, dayKeyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("budget: consume: %w", err)
	}
	return nil
}

// Usage reports today's totals. userID may be empty.
func (l *Ledger) Usage(ctx context.Context, userID string) (Usage, error) {
	day := l.day()
	u := Usage{Day: day, GlobalLimit: l.cfg.DailyLimitGlobal, UserLimit: l.cfg.DailyLimitUser}
	var err error
	if u.Global, err = l.read(ctx, globalKey(day)); err != nil {
		return u, err
	}
	if userID != "" {
		if u.User, err = l.read(ctx, userKey(userID, day)); err != nil {
			return u, err
		}
	}
	return u, nil
}

func (l *Ledger) read(ctx context.Context, key string) (float64, error) {
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("budget: read %s: %w", key, err)
	}
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, nil
	}
	return v, nil
}

func roundCost(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
