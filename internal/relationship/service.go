package relationship

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/makobot/mako/internal/config"
	"github.com/makobot/mako/internal/kv"
	"github.com/makobot/mako/internal/memory"
	"github.com/makobot/mako/internal/notes"
)

// Indexer adds text to long-term recall.
type Indexer interface {
	Add(ctx context.Context, text string) error
}

// NoteWriter mirrors memories into the user's notes.
type NoteWriter interface {
	Add(ctx context.Context, userID, title, content, category string) (*notes.Note, error)
}

// Profile is the per-user summary handed to the reply generator.
// ProfileText is rebuilt from active memories; Portrait is the free-form
// rewrite produced by the nightly precipitation and survives rebuilds.
type Profile struct {
	UserID      string    `json:"user_id"`
	Nickname    string    `json:"nickname"`
	ProfileText string    `json:"profile_text"`
	Portrait    string    `json:"portrait,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// Text renders the profile for a prompt or an operator.
func (p *Profile) Text() string {
	if p.Portrait == "" {
		return p.ProfileText
	}
	if p.ProfileText == "" {
		return p.Portrait
	}
	return p.ProfileText + "\n\n" + p.Portrait
}

var noteTitles = map[memory.Type]string{
	memory.TypePreference: "用户偏好",
	memory.TypeTaboo:      "用户禁忌",
	memory.TypeEvent:      "关系事件",
	memory.TypePromise:    "跟进承诺",
}

func profileKey(userID string) string { return "user_profile:" + userID }

// Service persists extracted memories and renders what is known about a user.
type Service struct {
	store  *memory.Store
	kv     kv.Store
	recall Indexer
	notes  NoteWriter
	due    DueConfig
	now    func() time.Time
}

// NewService wires the service. recall and notes may be nil.
func NewService(store *memory.Store, kvStore kv.Store, recall Indexer, notes NoteWriter, cfg config.ProactiveConfig) *Service {
	return &Service{
		store:  store,
		kv:     kvStore,
		recall: recall,
		notes:  notes,
		due:    DueConfig{DefaultHours: cfg.DefaultHours, TonightHour: cfg.TonightHour},
		now:    time.Now,
	}
}

// SetClock replaces the clock used for due times and profile stamps.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Absorb extracts and stores the memories in one user message. When anything
// was stored the profile is refreshed and each memory is mirrored as a note.
func (s *Service) Absorb(ctx context.Context, userID, nickname, text string) ([]memory.Record, error) {
	now := s.now()
	var created []memory.Record
	for _, rec := range Extract(userID, nickname, text, now, s.due) {
		rec.CreatedAt = now
		if err := s.store.Add(ctx, &rec); err != nil {
			return created, fmt.Errorf("relationship: absorb: %w", err)
		}
		if s.recall != nil {
			if err := s.recall.Add(ctx, fmt.Sprintf("[relation:%s:%s] %s", rec.Type, userID, rec.Content)); err != nil {
				slog.Warn("Failed to index relationship memory", "user_id", userID, "memory_id", rec.ID, "error", err)
			}
		}
		created = append(created, rec)
	}
	if len(created) == 0 {
		return nil, nil
	}

	if err := s.syncProfile(ctx, userID, nickname); err != nil {
		slog.Warn("Failed to refresh profile", "user_id", userID, "error", err)
	}
	if s.notes != nil {
		for _, rec := range created {
			title := noteTitles[rec.Type] + ":" + rec.ID
			if _, err := s.notes.Add(ctx, userID, title, rec.Content, "relationship"); err != nil {
				slog.Warn("Failed to mirror memory note", "user_id", userID, "memory_id", rec.ID, "error", err)
			}
		}
	}
	slog.Debug("Absorbed relationship memories", "user_id", userID, "count", len(created))
	return created, nil
}

// Brief renders the user's active memories for the reply prompt, up to
// limitEach per type.
func (s *Service) Brief(ctx context.Context, userID string, limitEach int) (string, error) {
	if limitEach <= 0 {
		limitEach = 3
	}
	sections := []struct {
		typ   memory.Type
		title string
	}{
		{memory.TypePreference, "偏好"},
		{memory.TypeTaboo, "禁忌"},
		{memory.TypeEvent, "近期事件"},
		{memory.TypePromise, "待跟进承诺"},
	}
	var chunks []string
	for _, sec := range sections {
		recs, err := s.store.List(ctx, userID, sec.typ, memory.StatusActive, limitEach)
		if err != nil {
			return "", err
		}
		if len(recs) == 0 {
			continue
		}
		var b strings.Builder
		b.WriteString(sec.title + ":")
		for _, r := range recs {
			b.WriteString("\n- " + r.Content)
		}
		chunks = append(chunks, b.String())
	}
	return strings.TrimSpace(strings.Join(chunks, "\n\n")), nil
}

// Profile returns the stored profile, or nil when none exists yet.
func (s *Service) Profile(ctx context.Context, userID string) (*Profile, error) {
	raw, ok, err := s.kv.Get(ctx, profileKey(userID))
	if err != nil || !ok {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("relationship: decode profile: %w", err)
	}
	return &p, nil
}

func (s *Service) syncProfile(ctx context.Context, userID, nickname string) error {
	contents := func(t memory.Type, limit int) ([]string, error) {
		recs, err := s.store.List(ctx, userID, t, memory.StatusActive, limit)
		if err != nil {
			return nil, err
		}
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = r.Content
		}
		return out, nil
	}

	prev, err := s.Profile(ctx, userID)
	if err != nil {
		slog.Warn("Discarding unreadable profile", "user_id", userID, "error", err)
		prev = nil
	}

	now := s.now()
	lines := []string{"称呼偏好: " + nickname}
	for _, part := range []struct {
		typ   memory.Type
		label string
		limit int
	}{
		{memory.TypePreference, "偏好", 3},
		{memory.TypeTaboo, "禁忌", 3},
		{memory.TypeEvent, "近期事件", 2},
	} {
		items, err := contents(part.typ, part.limit)
		if err != nil {
			return err
		}
		if len(items) > 0 {
			lines = append(lines, part.label+": "+strings.Join(items, "；"))
		}
	}
	lines = append(lines, "最后更新: "+now.Format("2006-01-02 15:04"))

	next := &Profile{
		UserID:      userID,
		Nickname:    nickname,
		ProfileText: strings.Join(lines, "\n"),
		LastUpdated: now,
	}
	if prev != nil {
		next.Portrait = prev.Portrait
	}
	return s.saveProfile(ctx, next)
}

// SetPortrait stores a rewritten portrait for the user, keeping the
// memory-derived part of the profile.
func (s *Service) SetPortrait(ctx context.Context, userID, nickname, portrait string) error {
	p, err := s.Profile(ctx, userID)
	if err != nil {
		return err
	}
	if p == nil {
		p = &Profile{UserID: userID, ProfileText: "称呼偏好: " + nickname}
	}
	if nickname != "" {
		p.Nickname = nickname
	}
	p.Portrait = strings.TrimSpace(portrait)
	p.LastUpdated = s.now()
	return s.saveProfile(ctx, p)
}

func (s *Service) saveProfile(ctx context.Context, p *Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, profileKey(p.UserID), string(raw), 0); err != nil {
		return fmt.Errorf("relationship: save profile: %w", err)
	}
	return nil
}
