package tools

import (
	"github.com/makobot/mako/internal/affinity"
	"github.com/makobot/mako/internal/config"
)

// Deps carries the collaborators the default tool set needs. Any provider
// may be nil; the matching tool then reports NotConfigured when invoked.
type Deps struct {
	HTTP        *HTTPClient
	Affinity    *affinity.Service
	Notes       NoteStore
	Describer   Describer
	Generator   ImageGenerator
	Translator  Translator
	Speaker     Speaker
	Transcriber Transcriber
	Summarizer  Summarizer
	TempDir     string
}

// NewDefaultRegistry registers every tool known to the intent extractor.
func NewDefaultRegistry(cfg *config.Config, deps Deps) *Registry {
	hc := deps.HTTP
	if hc == nil {
		hc = NewHTTPClient(cfg.Tools.Timeout(), cfg.Tools.HTTPRateLimit)
	}
	p := cfg.Providers

	r := NewRegistry()
	r.Register(NewDescribeTool(deps.Describer))
	r.Register(NewGenerateTool(deps.Generator))
	r.Register(NewProcessTool(hc, deps.TempDir))
	r.Register(NewTranslateTool(deps.Translator))
	r.Register(DetectTool{})
	r.Register(NewTTSTool(deps.Speaker, deps.TempDir))
	r.Register(NewSTTTool(deps.Transcriber, hc))
	if deps.Affinity != nil {
		r.Register(NewAffinityTool(deps.Affinity))
		r.Register(NewEmojiTool(deps.Affinity))
	}
	r.Register(NewFoodTool(nil))
	for _, t := range NewNoteTools(deps.Notes) {
		r.Register(t)
	}
	r.Register(NewMapTool(p.Amap.BaseURL, p.Amap.Key, hc))
	r.Register(NewWeatherTool(p.QWeather.Host, p.QWeather.Key, hc))
	r.Register(NewSearchTool(p.Google.BaseURL, p.Google.APIKey, p.Google.CX, p.Google.ResultCount, hc))
	r.Register(NewSummarizeURLTool(hc, deps.Summarizer))
	return r
}
