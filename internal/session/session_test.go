package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/makobot/mako/internal/kv"
)

func TestKey(t *testing.T) {
	if got := Key("g1", "u1"); got != "group_g1_user_u1" {
		t.Errorf("group key = %q", got)
	}
	if got := Key("", "u1"); got != "private_u1" {
		t.Errorf("private key = %q", got)
	}
}

func TestAppendAndHistory(t *testing.T) {
	ctx := context.Background()
	m := NewManager(kv.NewLocalStore(), 2)
	stamp := time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return stamp })

	msgs, err := m.History(ctx, "private_u1", 0)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("empty history = %v, %v", msgs, err)
	}

	for i := 1; i <= 3; i++ {
		err := m.Append(ctx, "private_u1",
			Message{Role: "user", Content: fmt.Sprintf("q%d", i)},
			Message{Role: "assistant", Content: fmt.Sprintf("a%d", i)},
		)
		if err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	msgs, err = m.History(ctx, "private_u1", 0)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected history clipped to 4 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "q2" || msgs[3].Content != "a3" {
		t.Errorf("unexpected window %v", msgs)
	}
	if !msgs[0].Timestamp.Equal(stamp) {
		t.Errorf("expected timestamp to be stamped, got %v", msgs[0].Timestamp)
	}

	recent, _ := m.History(ctx, "private_u1", 2)
	if len(recent) != 2 || recent[0].Content != "q3" {
		t.Errorf("unexpected recent slice %v", recent)
	}

	other, _ := m.History(ctx, "group_g1_user_u1", 0)
	if len(other) != 0 {
		t.Errorf("sessions should be isolated, got %v", other)
	}

	if err := m.Clear(ctx, "private_u1"); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	msgs, _ = m.History(ctx, "private_u1", 0)
	if len(msgs) != 0 {
		t.Errorf("expected cleared history, got %v", msgs)
	}
}

func TestConcurrentAppendKeepsEveryMessage(t *testing.T) {
	ctx := context.Background()
	m := NewManager(kv.NewLocalStore(), 100)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := m.Append(ctx, "private_u1", Message{Role: "user", Content: fmt.Sprint(i)}); err != nil {
				t.Errorf("Append() error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	msgs, err := m.History(ctx, "private_u1", 0)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(msgs) != 20 {
		t.Errorf("expected 20 messages, got %d", len(msgs))
	}
}

func TestSessionLocksAreReleased(t *testing.T) {
	ctx := context.Background()
	m := NewManager(kv.NewLocalStore(), 10)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key("g1", fmt.Sprint(i%5))
			if err := m.Append(ctx, key, Message{Role: "user", Content: "hi"}); err != nil {
				t.Errorf("Append() error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if err := m.Clear(ctx, Key("g1", "0")); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.locks); n != 0 {
		t.Fatalf("expected no idle session locks, got %d", n)
	}
}
