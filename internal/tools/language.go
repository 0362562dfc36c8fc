package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Translator translates text into the target language code (EN, ZH, ...).
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Speaker synthesises speech and returns the encoded audio.
type Speaker interface {
	Speech(ctx context.Context, text string) ([]byte, error)
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// TranslateTool answers language.translate.
type TranslateTool struct {
	translator Translator
}

// NewTranslateTool creates the tool; translator may be nil.
func NewTranslateTool(tr Translator) *TranslateTool { return &TranslateTool{translator: tr} }

func (t *TranslateTool) Name() string { return LanguageTranslate }

func (t *TranslateTool) Invoke(ctx context.Context, call Call) (Outcome, error) {
	if t.translator == nil {
		return Outcome{}, &NotConfiguredError{What: "translation provider"}
	}
	out, err := t.translator.Translate(ctx, call.Arg("text", call.Text), strings.ToUpper(call.Arg("target_lang", "ZH")))
	if err != nil {
		return Outcome{}, err
	}
	return Fact("翻译结果: %s", out), nil
}

// DetectTool answers language.detect by counting characters per script.
type DetectTool struct{}

func (DetectTool) Name() string          { return LanguageDetect }
func (DetectTool) ConcurrencySafe() bool { return true }

func (DetectTool) Invoke(_ context.Context, call Call) (Outcome, error) {
	return Fact("语种识别结果: %s", DetectLanguage(call.Arg("text", call.Text))), nil
}

// DetectLanguage returns zh, en, ja, ko or unknown for the dominant script.
// Ties go to the earlier entry in that list.
func DetectLanguage(text string) string {
	var zh, en, ja, ko int
	for _, r := range text {
		switch {
		case r >= 0x4e00 && r <= 0x9fff:
			zh++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			en++
		case r >= 0x3040 && r <= 0x30ff:
			ja++
		case r >= 0xac00 && r <= 0xd7af:
			ko++
		}
	}
	best, lang := 0, "unknown"
	for _, c := range []struct {
		n    int
		code string
	}{{zh, "zh"}, {en, "en"}, {ja, "ja"}, {ko, "ko"}} {
		if c.n > best {
			best, lang = c.n, c.code
		}
	}
	return lang
}

// TTSTool answers language.tts and attaches the audio as a record.
type TTSTool struct {
	speaker Speaker
	tempDir string
}

// NewTTSTool creates the tool; speaker may be nil.
func NewTTSTool(s Speaker, tempDir string) *TTSTool { return &TTSTool{speaker: s, tempDir: tempDir} }

func (t *TTSTool) Name() string { return LanguageTTS }

func (t *TTSTool) Invoke(ctx context.Context, call Call) (Outcome, error) {
	if t.speaker == nil {
		return Outcome{}, &NotConfiguredError{What: "speech provider"}
	}
	audio, err := t.speaker.Speech(ctx, call.Arg("text", call.Text))
	if err != nil {
		return Outcome{}, err
	}
	path, err := writeTemp(t.tempDir, "mako-tts-*.mp3", audio)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Facts:       []string{"已将文本转换成语音。"},
		SideEffects: []SideEffect{{Kind: SideEffectRecord, Ref: path}},
	}, nil
}

// STTTool answers language.stt for the first audio attachment.
type STTTool struct {
	transcriber Transcriber
	http        *HTTPClient
}

// NewSTTTool creates the tool; transcriber may be nil.
func NewSTTTool(tr Transcriber, hc *HTTPClient) *STTTool {
	return &STTTool{transcriber: tr, http: hc}
}

func (t *STTTool) Name() string { return LanguageSTT }

func (t *STTTool) Require(call Call) string {
	if len(call.AudioURLs) == 0 {
		return "requires audio input"
	}
	return ""
}

func (t *STTTool) Invoke(ctx context.Context, call Call) (Outcome, error) {
	if t.transcriber == nil {
		return Outcome{}, &NotConfiguredError{What: "transcription provider"}
	}
	audio, _, err := t.http.Download(ctx, call.AudioURLs[0], 0)
	if err != nil {
		return Outcome{}, err
	}
	text, err := t.transcriber.Transcribe(ctx, audio, "audio.mp3")
	if err != nil {
		return Outcome{}, err
	}
	return Fact("语音识别结果: %s", text), nil
}

func writeTemp(dir, pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return f.Name(), nil
}
