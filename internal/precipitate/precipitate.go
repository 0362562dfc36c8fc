// Package precipitate condenses the recent chat feed into long-term recall
// points and rewrites each speaker's profile portrait.
package precipitate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/makobot/mako/internal/config"
	"github.com/makobot/mako/internal/provider"
	"github.com/makobot/mako/internal/relationship"
	"github.com/makobot/mako/internal/timeline"
)

// Feed reads the global chat record feed.
type Feed interface {
	RecentChats(since time.Time, limit int) ([]timeline.ChatRecord, error)
}

// Summarizer turns a prompt into text.
type Summarizer interface {
	Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// Indexer stores recall points.
type Indexer interface {
	Add(ctx context.Context, text string) error
}

// Profiles reads and rewrites user portraits.
type Profiles interface {
	Profile(ctx context.Context, userID string) (*relationship.Profile, error)
	SetPortrait(ctx context.Context, userID, nickname, portrait string) error
}

const (
	noPortrait = "暂无历史画像"
	pointTag   = "[knowledge] "
)

// Report summarises one run.
type Report struct {
	Lines    int
	Points   int
	Profiles int
	Failed   int
}

// Job runs the precipitation.
type Job struct {
	cfg      config.PrecipitationConfig
	feed     Feed
	llm      Summarizer
	recall   Indexer
	profiles Profiles
	now      func() time.Time
}

// New creates a Job. recall and profiles may be nil to skip that half.
func New(cfg config.PrecipitationConfig, feed Feed, llm Summarizer, recall Indexer, profiles Profiles) *Job {
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = 24
	}
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = 8
	}
	if cfg.UserLines <= 0 {
		cfg.UserLines = 50
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1200
	}
	return &Job{cfg: cfg, feed: feed, llm: llm, recall: recall, profiles: profiles, now: time.Now}
}

// SetClock replaces the clock that anchors the feed window.
func (j *Job) SetClock(now func() time.Time) { j.now = now }

type speaker struct {
	nickname string
	lines    []string
}

// Run summarises the feed window once. An empty window is not an error.
// Failures on individual profiles are counted and logged, not returned.
func (j *Job) Run(ctx context.Context) (Report, error) {
	since := j.now().Add(-time.Duration(j.cfg.WindowHours) * time.Hour)
	records, err := j.feed.RecentChats(since, 0)
	if err != nil {
		return Report{}, fmt.Errorf("precipitate: read feed: %w", err)
	}
	report := Report{Lines: len(records)}
	if len(records) == 0 {
		slog.Info("Precipitation skipped: no recent chat")
		return report, nil
	}

	corpus, speakers, order := collect(records)

	if j.recall != nil {
		n, err := j.precipitatePoints(ctx, corpus)
		report.Points = n
		if err != nil {
			return report, err
		}
	}

	if j.profiles != nil {
		for _, userID := range order {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if err := j.rewriteProfile(ctx, userID, speakers[userID]); err != nil {
				slog.Warn("Profile rewrite failed", "user_id", userID, "error", err)
				report.Failed++
				continue
			}
			report.Profiles++
		}
	}
	slog.Info("Precipitation finished", "lines", report.Lines, "points", report.Points, "profiles", report.Profiles, "failed", report.Failed)
	return report, nil
}

// collect renders the corpus and groups user lines by speaker in order of
// first appearance.
func collect(records []timeline.ChatRecord) (string, map[string]*speaker, []string) {
	var b strings.Builder
	speakers := make(map[string]*speaker)
	var order []string
	for _, r := range records {
		if r.Role != provider.RoleUser {
			fmt.Fprintf(&b, "[mako] %s\n", r.Content)
			continue
		}
		fmt.Fprintf(&b, "[%s_%s] %s\n", r.Nickname, r.UserID, r.Content)
		sp, ok := speakers[r.UserID]
		if !ok {
			name := r.Nickname
			if name == "" {
				name = r.UserID
			}
			sp = &speaker{nickname: name}
			speakers[r.UserID] = sp
			order = append(order, r.UserID)
		}
		sp.lines = append(sp.lines, r.Content)
	}
	return b.String(), speakers, order
}

func (j *Job) precipitatePoints(ctx context.Context, corpus string) (int, error) {
	prompt := fmt.Sprintf("请从以下聊天记录提炼 %d 条以内长期有价值的记忆点，每条一行，中文简洁，不要废话：\n%s", j.cfg.MaxPoints, corpus)
	summary, err := j.summarize(ctx, prompt)
	if err != nil {
		return 0, fmt.Errorf("precipitate: summarize: %w", err)
	}
	points := ParsePoints(summary, j.cfg.MaxPoints)
	stored := 0
	for _, p := range points {
		if err := j.recall.Add(ctx, pointTag+p); err != nil {
			return stored, fmt.Errorf("precipitate: store point: %w", err)
		}
		stored++
	}
	return stored, nil
}

func (j *Job) rewriteProfile(ctx context.Context, userID string, sp *speaker) error {
	lines := sp.lines
	if len(lines) > j.cfg.UserLines {
		lines = lines[len(lines)-j.cfg.UserLines:]
	}
	old := noPortrait
	if p, err := j.profiles.Profile(ctx, userID); err != nil {
		return err
	} else if p != nil && strings.TrimSpace(p.Text()) != "" {
		old = p.Text()
	}
	prompt := fmt.Sprintf("请基于历史画像与最新发言，更新用户画像。\n用户: %s(%s)\n历史画像:\n%s\n最近发言:\n%s\n输出格式:\n【核心特质】\n【行为模式】\n【关系定位】\n【茉子认知画像】",
		sp.nickname, userID, old, strings.Join(lines, "\n"))
	portrait, err := j.summarize(ctx, prompt)
	if err != nil {
		return err
	}
	if portrait == "" {
		return nil
	}
	return j.profiles.SetPortrait(ctx, userID, sp.nickname, portrait)
}

func (j *Job) summarize(ctx context.Context, prompt string) (string, error) {
	resp, err := j.llm.Chat(ctx, &provider.ChatRequest{
		Messages:    []provider.Message{{Role: provider.RoleUser, Content: prompt}},
		MaxTokens:   j.cfg.MaxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Content), nil
}

// ParsePoints splits a summary into at most limit points, dropping list
// markers and blank lines.
func ParsePoints(summary string, limit int) []string {
	var out []string
	for _, line := range strings.Split(summary, "\n") {
		p := strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "-*•· "))
		p = trimOrdinal(p)
		if p == "" {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// trimOrdinal drops a leading "1." or "2、" style number.
func trimOrdinal(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) {
		return s
	}
	rest := s[i:]
	for _, sep := range []string{".", "、", ")", "）"} {
		if strings.HasPrefix(rest, sep) {
			return strings.TrimSpace(rest[len(sep):])
		}
	}
	return s
}
