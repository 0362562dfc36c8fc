// Package agent runs one inbound chat message through the whole pipeline:
// access check, tool dispatch, memory extraction, prompt assembly, budget
// check and reply generation.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/makobot/mako/internal/budget"
	"github.com/makobot/mako/internal/config"
	"github.com/makobot/mako/internal/dispatch"
	"github.com/makobot/mako/internal/intent"
	"github.com/makobot/mako/internal/memory"
	"github.com/makobot/mako/internal/policy"
	"github.com/makobot/mako/internal/provider"
	"github.com/makobot/mako/internal/relationship"
	"github.com/makobot/mako/internal/session"
	"github.com/makobot/mako/internal/timeline"
	"github.com/makobot/mako/internal/tools"
)

// Canned replies.
const (
	ReplyBudgetExhausted = "今天聊得有点多啦，茉子大人先省点算力。你可以简短问我一个最关键的问题。"
	ReplyNoProvider      = "茉子大人现在有点迷糊，先把 API 配好再来聊天吧。"
	ReplyGenerationError = "茉子大人脑袋有点打结了，稍后再试试。"
	toolFallbackPrefix   = "茉子先把结果给你：\n"
	nonTextPlaceholder   = "（发送了非文本消息）"

	// Expected reply length used for the pre-call budget estimate.
	estimatedReplyChars = 300
	neutralAffinity     = 50
)

// Message is one inbound chat message.
type Message struct {
	UserID    string
	Nickname  string
	GroupID   string
	Scene     policy.Scene
	IsAdmin   bool
	Mentioned bool
	Text      string
	ImageURLs []string
	AudioURLs []string
	FaceIDs   []int
	TraceID   string
}

// Reply is the handler's answer. Text is empty when the message was
// ignored or blocked.
type Reply struct {
	Text        string
	SideEffects []tools.SideEffect
	Tools       *dispatch.Result
	Memories    []memory.Record
	// Ignored is set for undirected group messages that lost the reply roll.
	Ignored bool
	// Blocked carries the access denial reason when the sender is blacklisted.
	Blocked string
	// BudgetDenied is set when the reply generator was skipped for cost.
	BudgetDenied bool
}

// Gate is the pre-processing access check.
type Gate interface {
	CanChat(ctx context.Context, userID, groupID string) policy.Decision
}

// Dispatcher executes tool intents.
type Dispatcher interface {
	Run(ctx context.Context, req dispatch.Request) *dispatch.Result
}

// Budget prices and charges reply generation.
type Budget interface {
	EstimateLLMCost(inputChars, outputChars int) float64
	CanConsume(ctx context.Context, userID string, amount float64) (budget.Decision, error)
	Consume(ctx context.Context, userID string, amount float64) error
}

// Relationships extracts memories and renders what the bot knows about a user.
type Relationships interface {
	Absorb(ctx context.Context, userID, nickname, text string) ([]memory.Record, error)
	Brief(ctx context.Context, userID string, limitEach int) (string, error)
	Profile(ctx context.Context, userID string) (*relationship.Profile, error)
}

// Affinity reads and moves the per-user affinity score.
type Affinity interface {
	Score(ctx context.Context, userID string) (int, error)
	Adjust(ctx context.Context, userID string, delta int) (int, error)
}

// Recall searches long-term memory.
type Recall interface {
	Search(ctx context.Context, query string, topK int, threshold float64) ([]string, error)
}

// Replier generates the reply text.
type Replier interface {
	Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// Feed receives every generated exchange for the nightly precipitation.
type Feed interface {
	RecordChat(rec *timeline.ChatRecord) error
}

// Deps are the handler's collaborators. Relationships, Affinity, Recall,
// Replier and Feed may be nil.
type Deps struct {
	Gate          Gate
	Dispatcher    Dispatcher
	Budget        Budget
	Relationships Relationships
	Affinity      Affinity
	Recall        Recall
	Replier       Replier
	Sessions      *session.Manager
	Feed          Feed
}

// Handler processes inbound messages.
type Handler struct {
	deps   Deps
	chat   config.ChatConfig
	recall config.RecallConfig
	now    func() time.Time
	roll   func() float64
}

// NewHandler creates a Handler.
func NewHandler(deps Deps, chat config.ChatConfig, recall config.RecallConfig) *Handler {
	return &Handler{deps: deps, chat: chat, recall: recall, now: time.Now, roll: rand.Float64}
}

// SetClock replaces the clock shown in the prompt.
func (h *Handler) SetClock(now func() time.Time) { h.now = now }

// SetRoll replaces the random source deciding on undirected group replies.
func (h *Handler) SetRoll(roll func() float64) { h.roll = roll }

func (h *Handler) directed(msg Message) bool {
	if msg.Scene != policy.SceneGroup || msg.Mentioned {
		return true
	}
	lower := strings.ToLower(msg.Text)
	return strings.Contains(msg.Text, "茉子") || (h.chat.BotName != "" && strings.Contains(lower, strings.ToLower(h.chat.BotName)))
}

// Handle runs msg through the pipeline and returns the reply.
func (h *Handler) Handle(ctx context.Context, msg Message) (Reply, error) {
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" && len(msg.ImageURLs) == 0 && len(msg.AudioURLs) == 0 && len(msg.FaceIDs) == 0 {
		return Reply{Ignored: true}, nil
	}
	if d := h.deps.Gate.CanChat(ctx, msg.UserID, msg.GroupID); !d.Allowed {
		slog.Info("Message blocked", "user_id", msg.UserID, "group_id", msg.GroupID, "reason", d.Reason)
		return Reply{Blocked: d.Reason}, nil
	}
	directed := h.directed(msg)
	if !directed && h.roll() > h.chat.ReplyChance {
		return Reply{Ignored: true}, nil
	}

	intents := intent.Extract(intent.Input{
		Text:     msg.Text,
		HasImage: len(msg.ImageURLs) > 0,
		HasAudio: len(msg.AudioURLs) > 0,
		FaceIDs:  msg.FaceIDs,
	})
	result := h.deps.Dispatcher.Run(ctx, dispatch.Request{
		Intents:   intents,
		UserID:    msg.UserID,
		Text:      msg.Text,
		ImageURLs: msg.ImageURLs,
		AudioURLs: msg.AudioURLs,
		FaceIDs:   msg.FaceIDs,
		Scene: dispatch.Scene{
			Kind:    msg.Scene,
			GroupID: msg.GroupID,
			IsAdmin: msg.IsAdmin,
			TraceID: msg.TraceID,
		},
	})
	reply := Reply{Tools: result, SideEffects: result.SideEffects}

	toolContext := result.ContextText()
	if extra := h.emojiContext(ctx, msg, intents); extra != "" {
		toolContext = strings.TrimSpace(toolContext + "\n" + extra)
	}

	if h.deps.Relationships != nil && msg.Text != "" {
		created, err := h.deps.Relationships.Absorb(ctx, msg.UserID, msg.Nickname, msg.Text)
		if err != nil {
			slog.Warn("Relationship extraction failed", "user_id", msg.UserID, "error", err)
		}
		reply.Memories = created
	}

	text := msg.Text
	if text == "" {
		text = nonTextPlaceholder
	}
	pc := h.promptContext(ctx, msg, text, toolContext, !directed)
	key := session.Key(msg.GroupID, msg.UserID)
	history, err := h.deps.Sessions.History(ctx, key, 2*h.chat.MaxHistoryTurns)
	if err != nil {
		slog.Warn("Failed to load history", "session", key, "error", err)
	}
	userLine := UserLine(msg.Nickname, msg.UserID, text)
	messages := BuildMessages(pc.SystemPrompt(), history, userLine)

	if h.deps.Replier == nil {
		reply.Text = ReplyNoProvider
		return reply, nil
	}

	inputChars := promptChars(messages)
	estimate := h.deps.Budget.EstimateLLMCost(inputChars, estimatedReplyChars)
	decision, err := h.deps.Budget.CanConsume(ctx, msg.UserID, estimate)
	if err != nil {
		return reply, fmt.Errorf("agent: budget check: %w", err)
	}
	if !decision.Allowed {
		slog.Warn("LLM budget denied", "user_id", msg.UserID, "reason", decision.Reason)
		reply.Text = ReplyBudgetExhausted
		reply.BudgetDenied = true
		return reply, nil
	}

	resp, err := h.deps.Replier.Chat(ctx, &provider.ChatRequest{
		Messages:    messages,
		MaxTokens:   h.chat.MaxReplyTokens,
		Temperature: 0.3,
	})
	if err != nil || resp == nil || strings.TrimSpace(resp.Content) == "" {
		slog.Error("Reply generation failed", "user_id", msg.UserID, "error", err)
		if toolContext != "" {
			reply.Text = toolFallbackPrefix + toolContext
		} else {
			reply.Text = ReplyGenerationError
		}
		return reply, nil
	}
	reply.Text = resp.Content

	cost := h.deps.Budget.EstimateLLMCost(inputChars, len([]rune(reply.Text)))
	if err := h.deps.Budget.Consume(ctx, msg.UserID, cost); err != nil {
		slog.Warn("Failed to record LLM cost", "user_id", msg.UserID, "cost", cost, "error", err)
	}
	if err := h.deps.Sessions.Append(ctx, key,
		session.Message{Role: provider.RoleUser, Content: userLine},
		session.Message{Role: provider.RoleAssistant, Content: reply.Text},
	); err != nil {
		slog.Warn("Failed to save history", "session", key, "error", err)
	}
	h.recordFeed(msg, text, reply.Text)
	slog.Info("Reply generated", "user_id", msg.UserID, "tools", len(result.Attempts), "memories", len(reply.Memories), "cost", cost)
	return reply, nil
}

// emojiContext applies the emoji sentiment to affinity on every message and
// describes it for the prompt. It is skipped when the user explicitly asked
// for emoji analysis, since the tool already did both.
func (h *Handler) emojiContext(ctx context.Context, msg Message, intents []intent.Descriptor) string {
	for _, in := range intents {
		if in.Name == tools.EmojiAnalyze {
			return ""
		}
	}
	a := tools.AnalyzeEmoji(msg.FaceIDs, msg.Text)
	if a.Delta != 0 && h.deps.Affinity != nil {
		if _, err := h.deps.Affinity.Adjust(ctx, msg.UserID, a.Delta); err != nil {
			slog.Warn("Failed to adjust affinity", "user_id", msg.UserID, "error", err)
		}
	}
	if len(a.Labels) == 0 {
		return ""
	}
	return fmt.Sprintf("表情情绪识别: %s，sentiment=%s", strings.Join(a.Labels, "、"), a.Sentiment)
}

func (h *Handler) promptContext(ctx context.Context, msg Message, text, toolContext string, passing bool) PromptContext {
	pc := PromptContext{
		BotName:     h.chat.BotName,
		Now:         h.now(),
		Affinity:    neutralAffinity,
		ToolContext: toolContext,
		Passing:     passing,
	}
	if r := h.deps.Relationships; r != nil {
		if p, err := r.Profile(ctx, msg.UserID); err != nil {
			slog.Warn("Failed to load profile", "user_id", msg.UserID, "error", err)
		} else if p != nil {
			pc.Profile = p.Text()
		}
		if brief, err := r.Brief(ctx, msg.UserID, 3); err != nil {
			slog.Warn("Failed to build memory brief", "user_id", msg.UserID, "error", err)
		} else {
			pc.Brief = brief
		}
	}
	if a := h.deps.Affinity; a != nil {
		if score, err := a.Score(ctx, msg.UserID); err != nil {
			slog.Warn("Failed to read affinity", "user_id", msg.UserID, "error", err)
		} else {
			pc.Affinity = score
		}
	}
	if rc := h.deps.Recall; rc != nil {
		hits, err := rc.Search(ctx, text, h.recall.TopK, h.recall.ScoreThreshold)
		if err != nil {
			slog.Warn("Recall search failed", "user_id", msg.UserID, "error", err)
		}
		pc.Recall = hits
	}
	return pc
}

func (h *Handler) recordFeed(msg Message, text, answer string) {
	if h.deps.Feed == nil {
		return
	}
	now := h.now()
	for _, rec := range []timeline.ChatRecord{
		{UserID: msg.UserID, Nickname: msg.Nickname, GroupID: msg.GroupID, Role: provider.RoleUser, Content: text, CreatedAt: now},
		{UserID: msg.UserID, GroupID: msg.GroupID, Role: provider.RoleAssistant, Content: answer, CreatedAt: now},
	} {
		if err := h.deps.Feed.RecordChat(&rec); err != nil {
			slog.Warn("Failed to record chat feed", "user_id", msg.UserID, "error", err)
			return
		}
	}
}
