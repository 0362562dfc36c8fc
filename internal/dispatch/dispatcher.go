// Package dispatch runs extracted intents against the tool registry under
// access, budget, concurrency and timeout control.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/makobot/mako/internal/budget"
	"github.com/makobot/mako/internal/config"
	"github.com/makobot/mako/internal/intent"
	"github.com/makobot/mako/internal/policy"
	"github.com/makobot/mako/internal/timeline"
	"github.com/makobot/mako/internal/tools"
)

const scopeName = "github.com/makobot/mako/internal/dispatch"

// Budget is the subset of budget.Ledger the dispatcher needs.
type Budget interface {
	EstimateToolCost(tool string) float64
	CanConsume(ctx context.Context, userID string, amount float64) (budget.Decision, error)
	Consume(ctx context.Context, userID string, amount float64) error
}

// AttemptRecorder persists attempts for audit. timeline.Service implements it.
type AttemptRecorder interface {
	RecordAttempt(rec *timeline.AttemptRecord) error
}

// Options tunes a Dispatcher.
type Options struct {
	Timeout        time.Duration
	MaxConcurrency int
	Enable         []string
	Disable        []string
}

// OptionsFromConfig maps the tools configuration.
func OptionsFromConfig(cfg config.ToolsConfig) Options {
	return Options{
		Timeout:        cfg.Timeout(),
		MaxConcurrency: cfg.MaxConcurrency,
		Enable:         cfg.Enable,
		Disable:        cfg.Disable,
	}
}

// Scene describes where the request came from.
type Scene struct {
	Kind    policy.Scene
	GroupID string
	IsAdmin bool
	TraceID string
}

// Request is one Run input.
type Request struct {
	Intents   []intent.Descriptor
	UserID    string
	Text      string
	ImageURLs []string
	AudioURLs []string
	FaceIDs   []int
	Scene     Scene
}

// Dispatcher owns no durable state. Its concurrency gate is shared by every
// Run on the same instance.
type Dispatcher struct {
	registry *tools.Registry
	policy   policy.Engine
	budget   Budget
	recorder AttemptRecorder

	timeout time.Duration
	enable  map[string]bool
	disable map[string]bool
	gate    *semaphore.Weighted

	tracer   trace.Tracer
	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a Dispatcher. pol and bud may be nil to skip those checks.
func New(registry *tools.Registry, pol policy.Engine, bud Budget, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 25 * time.Second
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 3
	}
	meter := otel.Meter(scopeName)
	calls, err := meter.Int64Counter("mako.tool.calls", metric.WithDescription("Tool attempts by status"))
	if err != nil {
		slog.Warn("Failed to create tool call counter", "error", err)
	}
	duration, err := meter.Float64Histogram("mako.tool.duration", metric.WithUnit("ms"))
	if err != nil {
		slog.Warn("Failed to create tool duration histogram", "error", err)
	}
	return &Dispatcher{
		registry: registry,
		policy:   pol,
		budget:   bud,
		timeout:  opts.Timeout,
		enable:   toSet(config.NormalizeNames(opts.Enable)),
		disable:  toSet(config.NormalizeNames(opts.Disable)),
		gate:     semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		tracer:   otel.Tracer(scopeName),
		calls:    calls,
		duration: duration,
	}
}

// SetRecorder installs an audit sink for attempts.
func (d *Dispatcher) SetRecorder(r AttemptRecorder) { d.recorder = r }

// Run executes the request's intents and merges their outcomes. It never
// fails: every problem is reported as a diagnostic.
func (d *Dispatcher) Run(ctx context.Context, req Request) *Result {
	ctx, span := d.tracer.Start(ctx, "dispatch.run", trace.WithAttributes(
		attribute.String("user.id", req.UserID),
		attribute.Int("intents", len(req.Intents)),
	))
	defer span.End()

	var safe, sequential []intent.Descriptor
	for _, in := range dedupe(req.Intents) {
		if t, ok := d.registry.Get(in.Name); ok && tools.IsConcurrencySafe(t) {
			safe = append(safe, in)
		} else {
			sequential = append(sequential, in)
		}
	}

	// Concurrent outcomes land at their own index so completion order
	// cannot reorder them.
	// pending is cost admitted in this Run but not yet committed, so the
	// concurrent partition cannot overrun a cap together.
	concurrent := make([]Attempt, len(safe))
	pending := 0.0
	var g errgroup.Group
	for i, in := range safe {
		a, ok := d.precheck(ctx, req, in, pending)
		if !ok {
			concurrent[i] = a
			continue
		}
		pending += a.Cost
		g.Go(func() error {
			concurrent[i] = d.execute(ctx, req, in)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{}
	for _, a := range concurrent {
		d.finish(ctx, req, a)
		res.add(a)
	}
	for _, in := range sequential {
		a, ok := d.precheck(ctx, req, in, 0)
		if ok {
			a = d.execute(ctx, req, in)
		}
		d.finish(ctx, req, a)
		res.add(a)
	}
	span.SetAttributes(attribute.Bool("handled", res.Handled))
	return res
}

func dedupe(in []intent.Descriptor) []intent.Descriptor {
	seen := make(map[string]bool, len(in))
	out := make([]intent.Descriptor, 0, len(in))
	for _, d := range in {
		if d.Name == "" {
			continue
		}
		k := d.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, d)
	}
	return out
}

func (d *Dispatcher) call(req Request, in intent.Descriptor) tools.Call {
	return tools.Call{
		Name:      in.Name,
		Args:      in.Args,
		UserID:    req.UserID,
		Text:      req.Text,
		ImageURLs: req.ImageURLs,
		AudioURLs: req.AudioURLs,
		FaceIDs:   req.FaceIDs,
	}
}

// precheck runs the enabled, registry, policy, requirement and budget gates
// in that order. ok is false when the intent must not run. pending is cost
// already admitted for this request and counted against the caps.
func (d *Dispatcher) precheck(ctx context.Context, req Request, in intent.Descriptor, pending float64) (Attempt, bool) {
	a := Attempt{Intent: in}
	name := config.NormalizeName(in.Name)

	if d.disable[name] || (len(d.enable) > 0 && !d.enable[name]) {
		a.Status, a.Reason = StatusSkipped, "disabled by config"
		return a, false
	}
	tool, ok := d.registry.Get(in.Name)
	if !ok {
		a.Status, a.Reason = StatusSkipped, "unsupported tool"
		return a, false
	}
	if d.policy != nil {
		dec := d.policy.Evaluate(ctx, policy.Request{
			Tool:         in.Name,
			UserID:       req.UserID,
			Scene:        req.Scene.Kind,
			GroupID:      req.Scene.GroupID,
			IsSceneAdmin: req.Scene.IsAdmin,
		})
		if !dec.Allowed {
			a.Status, a.Reason = StatusDenied, dec.Reason
			return a, false
		}
	}
	if reason := tools.Requirement(tool, d.call(req, in)); reason != "" {
		a.Status, a.Reason = StatusSkipped, reason
		return a, false
	}
	if d.budget != nil {
		a.Cost = d.budget.EstimateToolCost(in.Name)
		dec, err := d.budget.CanConsume(ctx, req.UserID, pending+a.Cost)
		if err != nil {
			a.Status, a.Reason = StatusBudget, "budget check failed"
			slog.Warn("Budget check failed", "tool", in.Name, "user_id", req.UserID, "error", err)
			return a, false
		}
		if !dec.Allowed {
			a.Status, a.Reason = StatusBudget, dec.Reason
			return a, false
		}
	}
	return a, true
}

// execute runs one admitted intent under the gate and the per-call timeout,
// then commits its cost on success.
func (d *Dispatcher) execute(ctx context.Context, req Request, in intent.Descriptor) Attempt {
	a := Attempt{Intent: in, Timeout: d.timeout}
	if d.budget != nil {
		a.Cost = d.budget.EstimateToolCost(in.Name)
	}
	ctx, span := d.tracer.Start(ctx, "tool.invoke", trace.WithAttributes(attribute.String("tool.name", in.Name)))
	defer span.End()

	if err := d.gate.Acquire(ctx, 1); err != nil {
		a.Status, a.Err = StatusFailed, err
		return a
	}
	start := time.Now()
	out, err := d.invoke(ctx, d.call(req, in), func() { d.gate.Release(1) })
	a.Elapsed = time.Since(start)
	a.Outcome = out

	switch {
	case err == nil && out.Handled():
		a.Status = StatusOK
	case err == nil:
		a.Status = StatusEmpty
	case errors.Is(err, tools.ErrNotConfigured):
		a.Status, a.Err = StatusNotConfigured, err
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		a.Status, a.Err = StatusTimeout, err
	default:
		a.Status, a.Err = StatusFailed, err
	}
	if a.Err != nil {
		span.RecordError(a.Err)
		span.SetStatus(codes.Error, string(a.Status))
	}
	span.SetAttributes(attribute.String("tool.status", string(a.Status)))

	if a.Status == StatusOK && d.budget != nil {
		if err := d.budget.Consume(ctx, req.UserID, a.Cost); err != nil {
			slog.Warn("Failed to commit tool cost", "tool", in.Name, "user_id", req.UserID, "error", err)
		}
	}
	return a
}

type invokeResult struct {
	out tools.Outcome
	err error
}

// invoke calls the registered tool with its own deadline. A tool that ignores ctx is
// abandoned when the deadline passes; its late result is dropped. release
// runs when the tool body returns, so an abandoned call keeps its gate slot.
func (d *Dispatcher) invoke(ctx context.Context, call tools.Call, release func()) (tools.Outcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ch := make(chan invokeResult, 1)
	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				ch <- invokeResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := d.registry.Invoke(callCtx, call)
		ch <- invokeResult{out: out, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			// The tool surfaced its deadline in its own words.
			return r.out, fmt.Errorf("%w: %v", context.DeadlineExceeded, r.err)
		}
		return r.out, r.err
	case <-callCtx.Done():
		return tools.Outcome{}, callCtx.Err()
	}
}

// finish logs, meters and records one attempt.
func (d *Dispatcher) finish(ctx context.Context, req Request, a Attempt) {
	attrs := metric.WithAttributes(
		attribute.String("tool.name", a.Intent.Name),
		attribute.String("status", string(a.Status)),
	)
	if d.calls != nil {
		d.calls.Add(ctx, 1, attrs)
	}
	if d.duration != nil && a.Elapsed > 0 {
		d.duration.Record(ctx, float64(a.Elapsed.Milliseconds()), attrs)
	}

	switch a.Status {
	case StatusOK, StatusEmpty:
		slog.Debug("Tool finished", "tool", a.Intent.Name, "status", a.Status, "elapsed_ms", a.Elapsed.Milliseconds())
	case StatusFailed:
		slog.Warn("Tool failed", "tool", a.Intent.Name, "user_id", req.UserID, "error", a.Err)
	default:
		slog.Info("Tool not run", "tool", a.Intent.Name, "status", a.Status, "reason", a.Reason, "error", a.Err)
	}

	if d.recorder == nil {
		return
	}
	reason := a.Reason
	if reason == "" && a.Err != nil {
		reason = a.Err.Error()
	}
	cost := 0.0
	if a.Status == StatusOK {
		cost = a.Cost
	}
	if err := d.recorder.RecordAttempt(&timeline.AttemptRecord{
		TraceID:    req.Scene.TraceID,
		Tool:       a.Intent.Name,
		UserID:     req.UserID,
		Scene:      string(req.Scene.Kind),
		GroupID:    req.Scene.GroupID,
		Status:     string(a.Status),
		Reason:     reason,
		Cost:       cost,
		DurationMs: a.Elapsed.Milliseconds(),
	}); err != nil {
		slog.Warn("Failed to record tool attempt", "tool", a.Intent.Name, "error", err)
	}
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}
