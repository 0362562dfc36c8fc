package dispatch

import (
	"fmt"
	"time"

	"github.com/makobot/mako/internal/intent"
	"github.com/makobot/mako/internal/tools"
)

// Status classifies how one intent ended.
type Status string

const (
	StatusOK            Status = "ok"
	StatusEmpty         Status = "empty" // ran without error but produced nothing usable
	StatusSkipped       Status = "skipped"
	StatusDenied        Status = "denied"
	StatusBudget        Status = "budget"
	StatusNotConfigured Status = "not_configured"
	StatusTimeout       Status = "timeout"
	StatusFailed        Status = "failed"
)

// Attempt is the typed result of one intent. It is collapsed into
// diagnostic text only when the Result is assembled.
type Attempt struct {
	Intent  intent.Descriptor
	Status  Status
	Reason  string
	Err     error
	Outcome tools.Outcome
	Cost    float64
	Elapsed time.Duration
	// Timeout is the limit that applied, for the timeout diagnostic.
	Timeout time.Duration
}

// Handled reports whether the attempt fully succeeded.
func (a Attempt) Handled() bool { return a.Status == StatusOK }

// Diagnostics renders the attempt's non-fact lines.
func (a Attempt) Diagnostics() []string {
	name := a.Intent.Name
	var lines []string
	switch a.Status {
	case StatusSkipped, StatusDenied, StatusBudget:
		lines = append(lines, fmt.Sprintf("[%s] skipped: %s.", name, a.Reason))
	case StatusNotConfigured:
		lines = append(lines, fmt.Sprintf("[%s] unavailable: %v", name, a.Err))
	case StatusTimeout:
		lines = append(lines, fmt.Sprintf("[%s] timeout after %.1fs", name, a.Timeout.Seconds()))
	case StatusFailed:
		lines = append(lines, fmt.Sprintf("[%s] failed: %v", name, a.Err))
	}
	return append(lines, a.Outcome.Diagnostics...)
}
