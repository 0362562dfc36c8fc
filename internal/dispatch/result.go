package dispatch

import (
	"strings"

	"github.com/makobot/mako/internal/tools"
)

// Result is the merged output of one Run.
type Result struct {
	Facts       []string
	SideEffects []tools.SideEffect
	Diagnostics []string
	Handled     bool
	Attempts    []Attempt
}

func (r *Result) add(a Attempt) {
	r.Attempts = append(r.Attempts, a)
	r.Diagnostics = append(r.Diagnostics, a.Diagnostics()...)
	if !a.Handled() {
		return
	}
	r.Facts = append(r.Facts, a.Outcome.Facts...)
	r.SideEffects = append(r.SideEffects, a.Outcome.SideEffects...)
	r.Handled = true
}

// ContextText is the tool context handed to the reply generator: the facts,
// or failing that the first two diagnostics.
func (r *Result) ContextText() string {
	if len(r.Facts) > 0 {
		return strings.TrimSpace(strings.Join(r.Facts, "\n"))
	}
	n := min(2, len(r.Diagnostics))
	return strings.TrimSpace(strings.Join(r.Diagnostics[:n], "\n"))
}
