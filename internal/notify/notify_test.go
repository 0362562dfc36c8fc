package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/makobot/mako/internal/config"
	"github.com/makobot/mako/internal/memory"
)

func sampleFollowup() Followup {
	due := time.Date(2025, 7, 11, 9, 0, 0, 0, time.UTC)
	return FromRecord(memory.Record{ID: "m1", UserID: "u1", Content: "明天提醒我交报告", DueAt: &due})
}

func TestFromRecord(t *testing.T) {
	f := sampleFollowup()
	if f.UserID != "u1" || f.MemoryID != "m1" {
		t.Fatalf("unexpected ids: %+v", f)
	}
	if !strings.Contains(f.Message, "「明天提醒我交报告」") {
		t.Errorf("message should quote the promise, got %q", f.Message)
	}
	if f.DueAt.IsZero() {
		t.Error("expected due time to be copied")
	}
}

type fakeNotifier struct {
	err   error
	calls int
}

func (f *fakeNotifier) Notify(context.Context, Followup) error {
	f.calls++
	return f.err
}

func TestMulti(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	ok, bad := &fakeNotifier{}, &fakeNotifier{err: boom}
	if err := (Multi{bad, ok}).Notify(ctx, sampleFollowup()); err != nil {
		t.Fatalf("one success should be enough, got %v", err)
	}
	if ok.calls != 1 || bad.calls != 1 {
		t.Errorf("every notifier should be tried: ok=%d bad=%d", ok.calls, bad.calls)
	}

	err := (Multi{&fakeNotifier{err: boom}, &fakeNotifier{err: boom}}).Notify(ctx, sampleFollowup())
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if err := (Multi{}).Notify(ctx, sampleFollowup()); err == nil {
		t.Fatal("empty chain should fail")
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaNotifier(t *testing.T) {
	w := &fakeWriter{}
	k := &KafkaNotifier{writer: w, topic: "mako.followups"}
	if err := k.Notify(context.Background(), sampleFollowup()); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "u1" {
		t.Errorf("message should be keyed by user id, got %q", w.msgs[0].Key)
	}
	var got Followup
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.MemoryID != "m1" || got.Message == "" {
		t.Errorf("unexpected payload %+v", got)
	}

	w.err = errors.New("leader not available")
	if err := k.Notify(context.Background(), sampleFollowup()); err == nil || !strings.Contains(err.Error(), "mako.followups") {
		t.Fatalf("expected wrapped kafka error, got %v", err)
	}
	k.Close()
	if !w.closed {
		t.Error("Close should close the writer")
	}
}

func TestNewKafkaNotifierValidates(t *testing.T) {
	if _, err := NewKafkaNotifier(nil, "t"); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewKafkaNotifier([]string{"localhost:9092"}, ""); err == nil {
		t.Error("expected error without topic")
	}
}

func TestSlackNotifier(t *testing.T) {
	var mu sync.Mutex
	var channel, text string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			http.NotFound(w, r)
			return
		}
		r.ParseForm()
		mu.Lock()
		channel, text = r.FormValue("channel"), r.FormValue("text")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000000.000100"}`))
	}))
	defer server.Close()

	s, err := NewSlackNotifier("xoxb-test", "C1", server.URL)
	if err != nil {
		t.Fatalf("NewSlackNotifier() error: %v", err)
	}
	if err := s.Notify(context.Background(), sampleFollowup()); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if channel != "C1" {
		t.Errorf("expected channel C1, got %q", channel)
	}
	if !strings.HasPrefix(text, "[u1] 提醒一下") {
		t.Errorf("unexpected text %q", text)
	}
}

func TestSlackNotifierAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer server.Close()

	s, _ := NewSlackNotifier("xoxb-test", "C404", server.URL)
	err := s.Notify(context.Background(), sampleFollowup())
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("expected channel_not_found, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	chain, closeAll, err := FromConfig(config.NotifyConfig{})
	if err != nil {
		t.Fatalf("FromConfig() error: %v", err)
	}
	if len(chain) != 1 {
		t.Fatalf("expected log notifier only, got %d", len(chain))
	}
	if err := closeAll(); err != nil {
		t.Errorf("close error: %v", err)
	}

	_, _, err = FromConfig(config.NotifyConfig{Slack: config.SlackNotifyConfig{Enabled: true}})
	if err == nil {
		t.Error("enabled slack without token should fail")
	}

	chain, closeAll, err = FromConfig(config.NotifyConfig{
		Kafka: config.KafkaNotifyConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "t"},
		Slack: config.SlackNotifyConfig{Enabled: true, BotToken: "x", ChannelID: "C1"},
	})
	if err != nil {
		t.Fatalf("FromConfig() error: %v", err)
	}
	if len(chain) != 3 {
		t.Errorf("expected 3 notifiers, got %d", len(chain))
	}
	closeAll()
}
