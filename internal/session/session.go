// Package session keeps per-conversation chat history in the kv store.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/makobot/mako/internal/kv"
)

// Message represents a chat message in a session.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Key returns the session key for a conversation. Group conversations are
// keyed per member so each user keeps a separate thread.
func Key(groupID, userID string) string {
	if groupID != "" {
		return fmt.Sprintf("group_%s_user_%s", groupID, userID)
	}
	return "private_" + userID
}

func historyKey(key string) string { return "chat:history:" + key }

// Manager reads and appends session history. Appends to the same session
// are serialised; distinct sessions proceed independently.
type Manager struct {
	store    kv.Store
	maxTurns int
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is dropped from the map once no caller holds or waits on it.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a Manager that keeps at most maxTurns user/assistant
// exchanges per session.
func NewManager(store kv.Store, maxTurns int) *Manager {
	if maxTurns <= 0 {
		maxTurns = 50
	}
	return &Manager{store: store, maxTurns: maxTurns, now: time.Now, locks: make(map[string]*keyLock)}
}

// SetClock replaces the clock used to stamp messages.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// lock serialises writers of one session and returns the unlock function.
func (m *Manager) lock(key string) func() {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// History returns up to maxMessages of the most recent messages, oldest
// first. maxMessages <= 0 returns everything stored.
func (m *Manager) History(ctx context.Context, key string, maxMessages int) ([]Message, error) {
	msgs, err := m.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	return msgs, nil
}

// Append adds an exchange to the session, dropping the oldest messages past
// twice the turn limit.
func (m *Manager) Append(ctx context.Context, key string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	defer m.lock(key)()

	history, err := m.load(ctx, key)
	if err != nil {
		return err
	}
	now := m.now()
	for _, msg := range msgs {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
		history = append(history, msg)
	}
	if limit := 2 * m.maxTurns; len(history) > limit {
		history = history[len(history)-limit:]
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("session: encode history: %w", err)
	}
	if err := m.store.Set(ctx, historyKey(key), string(raw), 0); err != nil {
		return fmt.Errorf("session: save history: %w", err)
	}
	return nil
}

// Clear removes the session's history.
func (m *Manager) Clear(ctx context.Context, key string) error {
	defer m.lock(key)()
	return m.store.Del(ctx, historyKey(key))
}

func (m *Manager) load(ctx context.Context, key string) ([]Message, error) {
	raw, ok, err := m.store.Get(ctx, historyKey(key))
	if err != nil {
		return nil, fmt.Errorf("session: load history: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var msgs []Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("session: decode history: %w", err)
	}
	return msgs, nil
}
