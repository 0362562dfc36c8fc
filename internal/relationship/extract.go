// Package relationship extracts preference, taboo, promise and event
// memories from user messages and keeps the user's profile and memory brief.
package relationship

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/width"

	"github.com/makobot/mako/internal/memory"
)

// Extraction confidences per memory type.
const (
	preferenceConfidence = 0.85
	tabooConfidence      = 0.9
	promiseConfidence    = 0.95
	eventConfidence      = 0.7

	maxEventRunes = 180
)

// DueConfig anchors promise due times.
type DueConfig struct {
	DefaultHours int
	TonightHour  int
}

var (
	preferencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`我喜欢(.+)`),
		regexp.MustCompile(`我爱(.+)`),
		regexp.MustCompile(`我不喜欢(.+)`),
		regexp.MustCompile(`我讨厌(.+)`),
	}
	tabooPatterns = []*regexp.Regexp{
		regexp.MustCompile(`别再?(.+)`),
		regexp.MustCompile(`不要(.+)`),
		regexp.MustCompile(`不许(.+)`),
	}
	hourPattern = regexp.MustCompile(`(\d{1,2})\s*点`)

	promiseTokens = []string{"提醒我", "记得", "到时候", "跟进", "回头"}
	eventTokens   = []string{"今天", "刚刚", "最近", "我在", "我准备", "我打算"}
	eveningTokens = []string{"今晚", "晚上", "下午"}
)

const trimmable = "。!！?？ "

// Extract derives memories from one message without persisting them.
// Preference and taboo take the first matching pattern; promise and event
// fire independently.
func Extract(userID, nickname, text string, now time.Time, cfg DueConfig) []memory.Record {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []memory.Record
	mk := func(t memory.Type, content string, confidence float64) memory.Record {
		return memory.Record{UserID: userID, Type: t, Content: content, Confidence: confidence, Source: "chat"}
	}

	if detail := firstMatch(preferencePatterns, text); detail != "" {
		out = append(out, mk(memory.TypePreference, detail, preferenceConfidence))
	}
	if detail := firstMatch(tabooPatterns, text); detail != "" {
		out = append(out, mk(memory.TypeTaboo, detail, tabooConfidence))
	}
	if containsAny(text, promiseTokens...) {
		rec := mk(memory.TypePromise, strings.Trim(text, trimmable), promiseConfidence)
		due := DueTime(text, now, cfg)
		rec.DueAt = &due
		out = append(out, rec)
	}
	if utf8.RuneCountInString(text) <= maxEventRunes && containsAny(text, eventTokens...) {
		out = append(out, mk(memory.TypeEvent, nickname+": "+text, eventConfidence))
	}
	return out
}

func firstMatch(patterns []*regexp.Regexp, text string) string {
	for _, p := range patterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if detail := strings.Trim(m[len(m)-1], trimmable); detail != "" {
			return detail
		}
	}
	return ""
}

// DueTime resolves when a promise should be followed up. The default is
// DefaultHours from now; 明天, 后天 and 今晚 move it, and an explicit
// "N点" sets the hour, rolling to the next day once that hour has passed.
// With 今晚, 晚上 or 下午 a morning hour is read as afternoon.
func DueTime(text string, now time.Time, cfg DueConfig) time.Time {
	due := now.Add(time.Duration(cfg.DefaultHours) * time.Hour)
	switch {
	case strings.Contains(text, "明天"):
		due = now.AddDate(0, 0, 1)
	case strings.Contains(text, "后天"):
		due = now.AddDate(0, 0, 2)
	case strings.Contains(text, "今晚"):
		due = atHour(now, cfg.TonightHour)
		if !due.After(now) {
			due = due.AddDate(0, 0, 1)
		}
	}

	if m := hourPattern.FindStringSubmatch(width.Narrow.String(text)); m != nil {
		hour, _ := strconv.Atoi(m[1])
		if hour < 12 && containsAny(text, eveningTokens...) {
			hour += 12
		}
		hour = max(0, min(23, hour))
		due = atHour(due, hour)
		if !due.After(now) {
			due = due.AddDate(0, 0, 1)
		}
	}
	return due
}

func atHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}

func containsAny(text string, tokens ...string) bool {
	for _, tok := range tokens {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}
