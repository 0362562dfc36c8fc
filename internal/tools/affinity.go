package tools

import (
	"context"
	"strings"

	"github.com/makobot/mako/internal/affinity"
)

// AffinityTool answers affinity.query.
type AffinityTool struct {
	svc *affinity.Service
}

// NewAffinityTool creates the tool.
func NewAffinityTool(svc *affinity.Service) *AffinityTool { return &AffinityTool{svc: svc} }

func (t *AffinityTool) Name() string          { return AffinityQuery }
func (t *AffinityTool) ConcurrencySafe() bool { return true }

func (t *AffinityTool) Invoke(ctx context.Context, call Call) (Outcome, error) {
	score, err := t.svc.Score(ctx, call.UserID)
	if err != nil {
		return Outcome{}, err
	}
	return Fact("当前好感度: %d (%s)", score, affinity.Level(score)), nil
}

type emotion struct {
	label string
	delta int
}

var faceEmotions = map[int]emotion{
	1:  {"撇嘴", -1},
	2:  {"色", 1},
	4:  {"得意", 1},
	6:  {"害羞", 0},
	9:  {"流泪", -2},
	11: {"尴尬", -1},
	14: {"微笑", 1},
	21: {"可爱", 1},
	32: {"惊讶", 0},
	39: {"骂人", -3},
	50: {"大笑", 2},
	66: {"爱心", 2},
	74: {"太阳", 1},
	75: {"衰", -1},
}

// Checked in this order so labels come out deterministically.
var textEmotions = []struct {
	token string
	emotion
}{
	{"哈哈", emotion{"开心", 1}},
	{"嘻嘻", emotion{"开心", 1}},
	{"呜呜", emotion{"难过", -1}},
	{"生气", emotion{"愤怒", -2}},
	{"谢谢", emotion{"感谢", 1}},
	{"爱你", emotion{"亲密", 2}},
}

// EmojiAnalysis is the sentiment read from face ids and text tokens.
type EmojiAnalysis struct {
	Labels    []string
	Sentiment string
	Delta     int
}

// AnalyzeEmoji scores face ids and emotive text tokens.
func AnalyzeEmoji(faceIDs []int, text string) EmojiAnalysis {
	var a EmojiAnalysis
	for _, id := range faceIDs {
		if e, ok := faceEmotions[id]; ok {
			a.Labels = append(a.Labels, e.label)
			a.Delta += e.delta
		}
	}
	lower := strings.ToLower(text)
	for _, te := range textEmotions {
		if strings.Contains(lower, te.token) {
			a.Labels = append(a.Labels, te.label)
			a.Delta += te.delta
		}
	}
	switch {
	case a.Delta > 0:
		a.Sentiment = "positive"
	case a.Delta < 0:
		a.Sentiment = "negative"
	default:
		a.Sentiment = "neutral"
	}
	return a
}

// EmojiTool answers emoji.analyze and feeds the sentiment into affinity.
type EmojiTool struct {
	svc *affinity.Service
}

// NewEmojiTool creates the tool.
func NewEmojiTool(svc *affinity.Service) *EmojiTool { return &EmojiTool{svc: svc} }

func (t *EmojiTool) Name() string          { return EmojiAnalyze }
func (t *EmojiTool) ConcurrencySafe() bool { return true }

func (t *EmojiTool) Invoke(ctx context.Context, call Call) (Outcome, error) {
	a := AnalyzeEmoji(call.FaceIDs, call.Text)
	score, err := t.svc.Adjust(ctx, call.UserID, a.Delta)
	if err != nil {
		return Outcome{}, err
	}
	labels := "无明显特征"
	if len(a.Labels) > 0 {
		labels = strings.Join(a.Labels, "、")
	}
	return Fact("表情识别: %s，情绪=%s，好感度=%d", labels, a.Sentiment, score), nil
}
