// Package intent turns a user utterance into the list of tool calls it asks
// for. Extraction is keyword and pattern based; the first matching rule of
// each family produces at most one descriptor.
package intent

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/width"

	"github.com/makobot/mako/internal/tools"
)

// Descriptor names one tool call and its string arguments.
type Descriptor struct {
	Name string
	Args map[string]string
}

// Key identifies a descriptor by name plus sorted arguments. Two descriptors
// with the same key are duplicates.
func (d Descriptor) Key() string {
	keys := make([]string, 0, len(d.Args))
	for k := range d.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(d.Name)
	for _, k := range keys {
		b.WriteByte('\x1f')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(d.Args[k])
	}
	return b.String()
}

// Arg returns the named argument or fallback when it is empty.
func (d Descriptor) Arg(name, fallback string) string {
	if v := d.Args[name]; v != "" {
		return v
	}
	return fallback
}

// Input is everything the extractor looks at.
type Input struct {
	Text     string
	HasImage bool
	HasAudio bool
	FaceIDs  []int
}

var (
	urlPattern         = regexp.MustCompile(`https?://[^\s]+`)
	resizeValuePattern = regexp.MustCompile(`(\d{2,4}[xX*]\d{2,4}|\d{2,4})`)
	generatePrefix     = regexp.MustCompile(`^(请|帮我|给我)?(画图|生成图片|来一张图|画一张|生成一张图)[:：]?`)
	translateLead      = regexp.MustCompile(`.*(翻译|译成|翻成)\s*`)
	ttsLead            = regexp.MustCompile(`.*(念一下|读出来|语音播报|转语音)[:：]?`)
	noteAddPrefix      = regexp.MustCompile(`^(记笔记|记一下|帮我记住|备忘)[:：]?`)
	noteQueryPrefix    = regexp.MustCompile(`^(查笔记|看笔记|笔记列表|我记了什么)[:：]?`)
	noteDeletePrefix   = regexp.MustCompile(`^(删笔记|删除笔记)[:：]?`)
	noteUpdatePrefix   = regexp.MustCompile(`^(改笔记|修改笔记|更新笔记)[:：]?`)
	searchPrefix       = regexp.MustCompile(`^(搜索|查一下|google|最新|新闻)[:：]?`)
)

// Extract returns the tool calls requested by in, in rule order.
func Extract(in Input) []Descriptor {
	clean := strings.TrimSpace(in.Text)
	if clean == "" && !in.HasImage && !in.HasAudio {
		return nil
	}
	lower := strings.ToLower(clean)
	narrow := width.Narrow.String(clean)
	var out []Descriptor
	add := func(name string, args map[string]string) {
		if args == nil {
			args = map[string]string{}
		}
		out = append(out, Descriptor{Name: name, Args: args})
	}

	if in.HasImage && containsAny(clean, "看图", "图里", "这张图", "图片里", "识图") {
		add(tools.ImageDescribe, nil)
	}

	if in.HasImage && containsAny(lower, "灰度", "黑白", "模糊", "缩放", "resize") {
		op := "blur"
		if containsAny(clean, "灰度", "黑白") {
			op = "grayscale"
		}
		if containsAny(lower, "缩放", "resize") {
			op = "resize"
		}
		value := ""
		if m := resizeValuePattern.FindStringSubmatch(narrow); m != nil {
			value = m[1]
		}
		add(tools.ImageProcess, map[string]string{"operation": op, "value": value})
	}

	if containsAny(clean, "画图", "生成图片", "来一张图", "画一张", "生成一张图") {
		prompt := strings.TrimSpace(generatePrefix.ReplaceAllString(clean, ""))
		if prompt == "" {
			prompt = clean
		}
		add(tools.ImageGenerate, map[string]string{"prompt": prompt})
	}

	if containsAny(clean, "翻译", "译成", "翻成") {
		source := strings.TrimSpace(translateLead.ReplaceAllString(clean, ""))
		if source == "" {
			source = clean
		}
		add(tools.LanguageTranslate, map[string]string{"text": source, "target_lang": targetLanguage(clean)})
	}

	if containsAny(lower, "什么语言", "语种", "language detect", "识别语言") {
		add(tools.LanguageDetect, map[string]string{"text": clean})
	}

	if containsAny(clean, "念一下", "读出来", "语音播报", "转语音") {
		content := strings.TrimSpace(ttsLead.ReplaceAllString(clean, ""))
		if content == "" {
			content = clean
		}
		add(tools.LanguageTTS, map[string]string{"text": content})
	}

	if in.HasAudio && containsAny(clean, "转文字", "语音转文字", "听写") {
		add(tools.LanguageSTT, nil)
	}

	if containsAny(clean, "好感度", "亲密度") {
		add(tools.AffinityQuery, nil)
	}

	if len(in.FaceIDs) > 0 && containsAny(clean, "表情", "情绪", "啥意思") {
		add(tools.EmojiAnalyze, nil)
	}

	if containsAny(clean, "吃什么", "吃啥") {
		add(tools.FoodPick, nil)
	}

	if containsAny(clean, "记笔记", "记一下", "帮我记住", "备忘") && utf8.RuneCountInString(clean) > 4 {
		payload := strings.TrimSpace(noteAddPrefix.ReplaceAllString(clean, ""))
		title := "未命名笔记"
		if payload != "" {
			title = truncateRunes(payload, 16)
		} else {
			payload = clean
		}
		add(tools.NoteAdd, map[string]string{"title": title, "content": payload})
	}

	if containsAny(clean, "查笔记", "看笔记", "笔记列表", "我记了什么") {
		add(tools.NoteQuery, map[string]string{"keyword": strings.TrimSpace(noteQueryPrefix.ReplaceAllString(clean, ""))})
	}

	if containsAny(clean, "删笔记", "删除笔记") {
		add(tools.NoteDelete, map[string]string{"keyword": strings.TrimSpace(noteDeletePrefix.ReplaceAllString(clean, ""))})
	}

	if containsAny(clean, "改笔记", "修改笔记", "更新笔记") {
		payload := strings.TrimSpace(noteUpdatePrefix.ReplaceAllString(clean, ""))
		if left, right, ok := strings.Cut(payload, "->"); ok {
			add(tools.NoteUpdate, map[string]string{"keyword": strings.TrimSpace(left), "content": strings.TrimSpace(right)})
		}
	}

	located := false
	if containsAny(clean, "地图", "在哪", "周边", "路线", "怎么去", "高德") {
		add(tools.MapQuery, map[string]string{"text": clean})
		located = true
	}

	if containsAny(clean, "天气", "气温") {
		add(tools.WeatherQuery, map[string]string{"text": clean})
		located = true
	}

	urls := ExtractURLs(clean)
	switch {
	case len(urls) > 0 && containsAny(clean, "总结", "摘要", "链接内容", "这篇讲了什么"):
		add(tools.SearchSummarizeURL, map[string]string{"url": urls[0]})
	case containsAny(lower, "搜索", "google"),
		!located && containsAny(clean, "查一下", "最新", "新闻"):
		// Generic lookup phrases defer to the weather and map tools when
		// one of them already claimed the utterance.
		query := strings.TrimSpace(searchPrefix.ReplaceAllString(clean, ""))
		if query == "" {
			query = clean
		}
		add(tools.SearchWeb, map[string]string{"query": query})
	}

	return out
}

// ExtractURLs returns every http(s) URL in text with trailing punctuation
// removed.
func ExtractURLs(text string) []string {
	found := urlPattern.FindAllString(text, -1)
	out := found[:0]
	for _, u := range found {
		u = strings.TrimRight(u, ".,;:!?)]}>'\"，。；：！？）】》")
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}

func targetLanguage(text string) string {
	lower := strings.ToLower(text)
	switch {
	case containsAny(text, "英文", "英语") || strings.Contains(lower, "english"):
		return "EN"
	case containsAny(text, "日文", "日语") || strings.Contains(lower, "japanese"):
		return "JA"
	case containsAny(text, "韩文", "韩语") || strings.Contains(lower, "korean"):
		return "KO"
	}
	return "ZH"
}

func containsAny(s string, tokens ...string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
