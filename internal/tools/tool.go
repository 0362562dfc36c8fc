// Package tools provides the tool capability registry and the tool
// implementations the dispatcher can invoke.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Tool names known to the intent extractor.
const (
	ImageDescribe      = "image.describe"
	ImageGenerate      = "image.generate"
	ImageProcess       = "image.process"
	LanguageTranslate  = "language.translate"
	LanguageDetect     = "language.detect"
	LanguageTTS        = "language.tts"
	LanguageSTT        = "language.stt"
	AffinityQuery      = "affinity.query"
	EmojiAnalyze       = "emoji.analyze"
	FoodPick           = "food.pick"
	NoteAdd            = "note.add"
	NoteQuery          = "note.query"
	NoteDelete         = "note.delete"
	NoteUpdate         = "note.update"
	MapQuery           = "map.query"
	WeatherQuery       = "weather.query"
	SearchWeb          = "search.web"
	SearchSummarizeURL = "search.summarize_url"
)

var (
	// ErrNotConfigured marks a tool whose external credentials are missing.
	ErrNotConfigured = errors.New("not configured")
	// ErrExternalService marks a non-2xx or malformed provider response.
	ErrExternalService = errors.New("external service failure")
	// ErrUnsupported is returned for names with no registered tool.
	ErrUnsupported = errors.New("unsupported tool")
	// ErrInvalidInput marks a call whose inputs cannot be processed.
	ErrInvalidInput = errors.New("invalid input")
)

// NotConfiguredError names the missing configuration.
type NotConfiguredError struct {
	What string
}

func (e *NotConfiguredError) Error() string { return e.What + " is not configured" }

// Is makes errors.Is(err, ErrNotConfigured) hold.
func (e *NotConfiguredError) Is(target error) bool { return target == ErrNotConfigured }

// Call is one tool invocation with the request context it may read.
type Call struct {
	Name      string
	Args      map[string]string
	UserID    string
	Text      string
	ImageURLs []string
	AudioURLs []string
	FaceIDs   []int
}

// Arg returns the named argument, or fallback when absent or empty.
func (c Call) Arg(name, fallback string) string {
	if v := c.Args[name]; v != "" {
		return v
	}
	return fallback
}

// SideEffect kinds.
const (
	SideEffectImage  = "image"
	SideEffectRecord = "record"
)

// SideEffect is a payload to attach to the reply, such as a generated image.
type SideEffect struct {
	Kind string
	Ref  string // URL or local file path
}

// Outcome is what a tool produced.
type Outcome struct {
	Facts       []string
	SideEffects []SideEffect
	Diagnostics []string
}

// Handled reports whether the outcome carries anything reply-usable.
func (o Outcome) Handled() bool {
	return len(o.Facts) > 0 || len(o.SideEffects) > 0
}

// Fact builds an outcome with a single fact line.
func Fact(format string, args ...any) Outcome {
	return Outcome{Facts: []string{fmt.Sprintf(format, args...)}}
}

// Tool is the interface that all tools must implement.
type Tool interface {
	// Name returns the registry key.
	Name() string
	// Invoke runs the tool. Implementations must honour ctx cancellation
	// on every network call.
	Invoke(ctx context.Context, call Call) (Outcome, error)
}

// ParallelTool is an optional interface for tools that are safe to run
// concurrently with other tools of the same request.
type ParallelTool interface {
	Tool
	ConcurrencySafe() bool
}

// RequirementTool is an optional interface for tools that need attachments
// or arguments. Require returns a short reason when the call cannot run.
type RequirementTool interface {
	Tool
	Require(call Call) string
}

// IsConcurrencySafe reports whether t may run in parallel. Tools that do not
// implement ParallelTool run sequentially.
func IsConcurrencySafe(t Tool) bool {
	if pt, ok := t.(ParallelTool); ok {
		return pt.ConcurrencySafe()
	}
	return false
}

// Requirement returns the unmet requirement for call, or "".
func Requirement(t Tool, call Call) string {
	if rt, ok := t.(RequirementTool); ok {
		return rt.Require(call)
	}
	return ""
}

// Registry manages tool registration and lookup.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry, replacing any tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Invoke runs the named tool. Unknown names yield a diagnostic outcome and
// ErrUnsupported.
func (r *Registry) Invoke(ctx context.Context, call Call) (Outcome, error) {
	tool, ok := r.tools[call.Name]
	if !ok {
		return Outcome{Diagnostics: []string{fmt.Sprintf("[%s] unsupported tool.", call.Name)}}, ErrUnsupported
	}
	return tool.Invoke(ctx, call)
}
