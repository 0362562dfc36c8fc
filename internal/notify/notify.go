// Package notify delivers due follow-ups to the outside world.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/makobot/mako/internal/memory"
)

// Followup is one due promise ready for delivery.
type Followup struct {
	UserID   string    `json:"user_id"`
	MemoryID string    `json:"memory_id"`
	Content  string    `json:"content"`
	DueAt    time.Time `json:"due_at"`
	Message  string    `json:"message"`
}

// FromRecord builds the follow-up for a due memory.
func FromRecord(rec memory.Record) Followup {
	f := Followup{
		UserID:   rec.UserID,
		MemoryID: rec.ID,
		Content:  rec.Content,
		Message:  fmt.Sprintf("提醒一下: 你之前说「%s」，现在怎么样了？", rec.Content),
	}
	if rec.DueAt != nil {
		f.DueAt = *rec.DueAt
	}
	return f
}

// Notifier delivers a follow-up. A nil error means the follow-up reached
// its destination and may be marked done.
type Notifier interface {
	Notify(ctx context.Context, f Followup) error
}

// LogNotifier writes follow-ups to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, f Followup) error {
	slog.Info("Follow-up due", "user_id", f.UserID, "memory_id", f.MemoryID, "due_at", f.DueAt, "message", f.Message)
	return nil
}

// Multi fans a follow-up out to every notifier. Delivery succeeds when at
// least one notifier succeeds; otherwise the joined errors are returned.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, f Followup) error {
	if len(m) == 0 {
		return errors.New("notify: no notifiers configured")
	}
	var errs []error
	delivered := false
	for _, n := range m {
		if err := n.Notify(ctx, f); err != nil {
			slog.Warn("Follow-up delivery failed", "user_id", f.UserID, "memory_id", f.MemoryID, "error", err)
			errs = append(errs, err)
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	return errors.Join(errs...)
}
