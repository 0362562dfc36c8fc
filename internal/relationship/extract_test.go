package relationship

import (
	"testing"
	"time"

	"github.com/makobot/mako/internal/memory"
)

var testDue = DueConfig{DefaultHours: 24, TonightHour: 20}

func local(day, hour int) time.Time {
	return time.Date(2025, 7, day, hour, 0, 0, 0, time.Local)
}

func TestExtractCategories(t *testing.T) {
	now := local(10, 9)
	cases := []struct {
		text  string
		types []memory.Type
		first string
	}{
		{"我喜欢猫。", []memory.Type{memory.TypePreference}, "猫"},
		{"我爱吃火锅！", []memory.Type{memory.TypePreference}, "吃火锅"},
		{"我讨厌下雨", []memory.Type{memory.TypePreference}, "下雨"},
		{"别再叫我小名了", []memory.Type{memory.TypeTaboo}, "叫我小名了"},
		{"不要发语音", []memory.Type{memory.TypeTaboo}, "发语音"},
		{"提醒我交报告", []memory.Type{memory.TypePromise}, "提醒我交报告"},
		{"我今天升职了", []memory.Type{memory.TypeEvent}, "小明: 我今天升职了"},
		{"最近我喜欢跑步，记得提醒我", []memory.Type{memory.TypePreference, memory.TypePromise, memory.TypeEvent}, "跑步，记得提醒我"},
		{"你好", nil, ""},
		{"   ", nil, ""},
	}
	for _, tc := range cases {
		got := Extract("u1", "小明", tc.text, now, testDue)
		if len(got) != len(tc.types) {
			t.Fatalf("%q: got %d memories %+v, want %v", tc.text, len(got), got, tc.types)
		}
		for i, typ := range tc.types {
			if got[i].Type != typ {
				t.Errorf("%q: memory %d type %s, want %s", tc.text, i, got[i].Type, typ)
			}
		}
		if len(got) > 0 && got[0].Content != tc.first {
			t.Errorf("%q: content %q, want %q", tc.text, got[0].Content, tc.first)
		}
	}
}

func TestExtractConfidenceAndDue(t *testing.T) {
	got := Extract("u1", "n", "我喜欢茶，回头提醒我", local(10, 9), testDue)
	if len(got) != 2 {
		t.Fatalf("expected preference and promise, got %+v", got)
	}
	if got[0].Confidence != 0.85 || got[1].Confidence != 0.95 {
		t.Fatalf("unexpected confidences: %v %v", got[0].Confidence, got[1].Confidence)
	}
	if got[0].DueAt != nil || got[1].DueAt == nil {
		t.Fatal("only promises carry a due time")
	}
}

func TestEventLengthCap(t *testing.T) {
	long := "我今天"
	for i := 0; i < 180; i++ {
		long += "啊"
	}
	for _, m := range Extract("u1", "n", long, local(10, 9), testDue) {
		if m.Type == memory.TypeEvent {
			t.Fatal("over-long text must not produce an event")
		}
	}
}

func TestDueTime(t *testing.T) {
	cases := []struct {
		name string
		text string
		now  time.Time
		want time.Time
	}{
		{"default hours", "回头提醒我", local(10, 9), local(11, 9)},
		{"tomorrow", "明天提醒我", local(10, 9), local(11, 9)},
		{"day after tomorrow", "后天记得", local(10, 9), local(12, 9)},
		{"tonight before anchor", "今晚提醒我", local(10, 10), local(10, 20)},
		{"tonight after anchor rolls over", "今晚提醒我", local(10, 21), local(11, 20)},
		{"explicit hour at default day rolls to tomorrow", "15点提醒我", local(10, 9), local(11, 15)},
		{"tomorrow at hour", "明天8点提醒我", local(10, 9), local(11, 8)},
		{"explicit hour on default day", "提醒我 8 点开会", local(10, 9), local(11, 8)},
		{"full width digits", "明天１０点记得", local(10, 9), local(11, 10)},
		{"evening hour", "今晚9点提醒我", local(10, 10), local(10, 21)},
		{"afternoon hour", "明天下午3点跟进", local(10, 9), local(11, 15)},
		{"clamped hour", "明天99点提醒我", local(10, 9), local(11, 23)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DueTime(tc.text, tc.now, testDue)
			if !got.Equal(tc.want) {
				t.Fatalf("DueTime(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}
