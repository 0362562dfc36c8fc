// Package memory persists relationship memories per user and keeps the
// due-time index the follow-up scheduler scans.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/makobot/mako/internal/kv"
)

// Type is the memory category.
type Type string

const (
	TypeEvent      Type = "event"
	TypePreference Type = "preference"
	TypeTaboo      Type = "taboo"
	TypePromise    Type = "promise"
)

// Status is the memory lifecycle state. Records move active to done once.
type Status string

const (
	StatusActive Status = "active"
	StatusDone   Status = "done"
)

// Record is one relationship memory.
type Record struct {
	ID         string     `json:"memory_id"`
	UserID     string     `json:"user_id"`
	Type       Type       `json:"memory_type"`
	Content    string     `json:"content"`
	Source     string     `json:"source"`
	Status     Status     `json:"status"`
	Confidence float64    `json:"confidence"`
	CreatedAt  time.Time  `json:"created_at"`
	DueAt      *time.Time `json:"due_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

const (
	followupIndexKey = "relationship:followups"
	doneClaimTTL     = 24 * time.Hour
)

func recordsKey(userID string) string { return "relationship:" + userID }

func indexMember(userID, memoryID string) string { return userID + ":" + memoryID }

func doneClaimKey(userID, memoryID string) string {
	return "relationship:done:" + userID + ":" + memoryID
}

// NewID returns a short random memory id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Store is the only owner of relationship records. The due index is derived
// from them and can be rebuilt with Reindex.
type Store struct {
	kv  kv.Store
	now func() time.Time
}

// NewStore creates a Store over the KV backend.
func NewStore(store kv.Store) *Store {
	return &Store{kv: store, now: time.Now}
}

// SetClock replaces the clock used for created and last-used stamps.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Add persists rec, filling in the id, status, source and creation time
// when unset, and indexes its due time.
func (s *Store) Add(ctx context.Context, rec *Record) error {
	if rec.UserID == "" {
		return fmt.Errorf("memory: add: empty user id")
	}
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.Status == "" {
		rec.Status = StatusActive
	}
	if rec.Source == "" {
		rec.Source = "chat"
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	err = s.kv.Tx(ctx, func(p kv.Pipe) error {
		p.HSet(recordsKey(rec.UserID), rec.ID, string(raw))
		if rec.DueAt != nil && rec.Status == StatusActive {
			p.ZAdd(followupIndexKey, indexMember(rec.UserID, rec.ID), dueScore(*rec.DueAt))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("memory: add: %w", err)
	}
	return nil
}

// Get loads one record. It returns nil when the record does not exist.
func (s *Store) Get(ctx context.Context, userID, memoryID string) (*Record, error) {
	raw, ok, err := s.kv.HGet(ctx, recordsKey(userID), memoryID)
	if err != nil {
		return nil, fmt.Errorf("memory: get: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("memory: decode %s: %w", memoryID, err)
	}
	return &rec, nil
}

// List returns the user's records, newest first. Empty typ or status match
// everything; limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, userID string, typ Type, status Status, limit int) ([]Record, error) {
	vals, err := s.kv.HVals(ctx, recordsKey(userID))
	if err != nil {
		return nil, fmt.Errorf("memory: list: %w", err)
	}
	out := make([]Record, 0, len(vals))
	for _, raw := range vals {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			slog.Warn("Skipping undecodable memory", "user_id", userID, "error", err)
			continue
		}
		if typ != "" && rec.Type != typ {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkDone flips an active record to done and drops it from the due index
// in one transaction. Only the first caller for a record gets true.
func (s *Store) MarkDone(ctx context.Context, userID, memoryID string) (bool, error) {
	rec, err := s.Get(ctx, userID, memoryID)
	if err != nil || rec == nil || rec.Status != StatusActive {
		return false, err
	}
	claim := doneClaimKey(userID, memoryID)
	won, err := s.kv.SetNX(ctx, claim, "1", doneClaimTTL)
	if err != nil {
		return false, fmt.Errorf("memory: claim %s: %w", memoryID, err)
	}
	if !won {
		return false, nil
	}

	now := s.now()
	rec.Status = StatusDone
	rec.LastUsedAt = &now
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	err = s.kv.Tx(ctx, func(p kv.Pipe) error {
		p.HSet(recordsKey(userID), memoryID, string(raw))
		p.ZRem(followupIndexKey, indexMember(userID, memoryID))
		return nil
	})
	if err != nil {
		_ = s.kv.Del(ctx, claim)
		return false, fmt.Errorf("memory: mark done: %w", err)
	}
	return true, nil
}

// DueFollowups returns active records due at or before now, oldest created
// first, at most limit of them. Index entries whose record is gone or done
// are pruned on the way.
func (s *Store) DueFollowups(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	members, err := s.kv.ZRangeByScore(ctx, followupIndexKey, math.Inf(-1), dueScore(now), 0)
	if err != nil {
		return nil, fmt.Errorf("memory: due index: %w", err)
	}
	var out []Record
	for _, m := range members {
		i := strings.LastIndex(m, ":")
		if i <= 0 {
			continue
		}
		userID, memoryID := m[:i], m[i+1:]
		rec, err := s.Get(ctx, userID, memoryID)
		if err != nil {
			slog.Warn("Skipping unreadable follow-up", "member", m, "error", err)
			continue
		}
		if rec == nil || rec.Status != StatusActive {
			if _, err := s.kv.ZRem(ctx, followupIndexKey, m); err != nil {
				slog.Warn("Failed to prune follow-up index", "member", m, "error", err)
			}
			continue
		}
		out = append(out, *rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Reindex rebuilds the user's due index entries from the records.
func (s *Store) Reindex(ctx context.Context, userID string) (int, error) {
	recs, err := s.List(ctx, userID, "", StatusActive, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	err = s.kv.Tx(ctx, func(p kv.Pipe) error {
		for _, rec := range recs {
			if rec.DueAt == nil {
				continue
			}
			p.ZAdd(followupIndexKey, indexMember(userID, rec.ID), dueScore(*rec.DueAt))
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("memory: reindex: %w", err)
	}
	return n, nil
}

func dueScore(t time.Time) float64 { return float64(t.Unix()) }
